// Package wal implements the write-ahead log: an append-only, line-oriented
// text file that records every mutation before the memtable reflects it.
//
// Record format, one per line:
//
//	INSERT\t<key>\t<value>\n
//	DELETE\t<key>\n
//
// Keys and values are opaque bytes written verbatim; the caller is
// responsible for not embedding a literal tab or newline, since neither
// is escaped in this format.
package wal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arjunmenon/lsmkv/internal/storeerr"
)

const (
	tagInsert = "INSERT"
	tagDelete = "DELETE"

	sep byte = '\t'
	nl  byte = '\n'
)

// WAL is an append-only log file plus its path. Callers needing
// append-then-read atomicity across multiple calls serialize through the
// engine's own lock order (memtable, then WAL, then SSTable list); WAL
// itself only guarantees a single Append or Clear is atomic.
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
	log  *zap.Logger
}

// Open creates the file if absent and opens it for append.
func Open(path string, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal %s: %v", storeerr.ErrIoFailure, path, err)
	}
	return &WAL{path: path, file: f, log: log.With(zap.String("wal_path", path))}, nil
}

// Path returns the file path this WAL was opened with.
func (w *WAL) Path() string {
	return w.path
}

// Append writes b to the end of the file. b must already be a complete,
// newline-terminated record; Append performs no framing of its own.
func (w *WAL) Append(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("%w: wal is closed", storeerr.ErrIoFailure)
	}
	if _, err := w.file.Write(b); err != nil {
		return fmt.Errorf("%w: append to wal: %v", storeerr.ErrIoFailure, err)
	}
	return nil
}

// AppendInsert encodes and appends an INSERT record for key/value.
func (w *WAL) AppendInsert(key, value []byte) error {
	return w.Append(EncodeInsert(key, value))
}

// AppendDelete encodes and appends a DELETE record for key.
func (w *WAL) AppendDelete(key []byte) error {
	return w.Append(EncodeDelete(key))
}

// EncodeInsert renders an INSERT record line, including its trailing newline.
func EncodeInsert(key, value []byte) []byte {
	buf := make([]byte, 0, len(tagInsert)+1+len(key)+1+len(value)+1)
	buf = append(buf, tagInsert...)
	buf = append(buf, sep)
	buf = append(buf, key...)
	buf = append(buf, sep)
	buf = append(buf, value...)
	buf = append(buf, nl)
	return buf
}

// EncodeDelete renders a DELETE record line, including its trailing newline.
func EncodeDelete(key []byte) []byte {
	buf := make([]byte, 0, len(tagDelete)+1+len(key)+1)
	buf = append(buf, tagDelete...)
	buf = append(buf, sep)
	buf = append(buf, key...)
	buf = append(buf, nl)
	return buf
}

// Clear truncates the file to zero length and repositions to the start.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("%w: wal is closed", storeerr.ErrIoFailure)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate wal: %v", storeerr.ErrIoFailure, err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek wal: %v", storeerr.ErrIoFailure, err)
	}
	return nil
}

// Sync fsyncs the underlying file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("%w: wal is closed", storeerr.ErrIoFailure)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync wal: %v", storeerr.ErrIoFailure, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("%w: close wal: %v", storeerr.ErrIoFailure, err)
	}
	return nil
}

// Line is one decoded WAL record.
type Line struct {
	Tag   string
	Key   []byte
	Value []byte // nil for DELETE
}

// LineIterator produces a restartable, finite sequence of decoded lines. It
// reads the whole file under the WAL's lock at construction time, so a
// concurrent Append can't interleave with a partially-read line, then
// replays purely in memory. A final line with no trailing newline (a torn
// write from a crash or cancelled append) is discarded rather than
// surfaced, per the WAL's crash-recovery contract.
func (w *WAL) LineIterator() (*LineIterator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil, fmt.Errorf("%w: wal is closed", storeerr.ErrIoFailure)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek wal: %v", storeerr.ErrIoFailure, err)
	}
	data, err := io.ReadAll(w.file)
	if err != nil {
		return nil, fmt.Errorf("%w: read wal: %v", storeerr.ErrIoFailure, err)
	}
	// Leave the shared descriptor positioned at EOF; writes use O_APPEND
	// and ignore the current offset, but this keeps the handle's position
	// unsurprising for anything else that inspects it.
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("%w: seek wal: %v", storeerr.ErrIoFailure, err)
	}
	return &LineIterator{data: data}, nil
}

// LineIterator iterates the raw text lines of a WAL snapshot taken at
// construction time.
type LineIterator struct {
	data []byte
	pos  int
}

// Next returns the next line (without its trailing newline) and true, or
// ("", false) once the sequence is exhausted.
func (it *LineIterator) Next() (string, bool) {
	if it.pos >= len(it.data) {
		return "", false
	}
	rest := it.data[it.pos:]
	idx := bytes.IndexByte(rest, nl)
	if idx < 0 {
		it.pos = len(it.data)
		return "", false
	}
	line := string(rest[:idx])
	it.pos += idx + 1
	return line, true
}

// Decode parses a single line produced by Next into its tag/key/value.
// Returns storeerr.ErrCorruptLog for any tag other than INSERT or DELETE.
func Decode(line string) (Line, error) {
	tagEnd := strings.IndexByte(line, rune(sep))
	if tagEnd < 0 {
		return Line{}, fmt.Errorf("%w: missing field separator in %q", storeerr.ErrCorruptLog, line)
	}
	tag := line[:tagEnd]
	rest := line[tagEnd+1:]

	switch tag {
	case tagInsert:
		valueStart := strings.IndexByte(rest, rune(sep))
		if valueStart < 0 {
			return Line{}, fmt.Errorf("%w: malformed INSERT record %q", storeerr.ErrCorruptLog, line)
		}
		return Line{
			Tag:   tagInsert,
			Key:   []byte(rest[:valueStart]),
			Value: []byte(rest[valueStart+1:]),
		}, nil
	case tagDelete:
		return Line{Tag: tagDelete, Key: []byte(rest)}, nil
	default:
		return Line{}, fmt.Errorf("%w: unknown tag %q", storeerr.ErrCorruptLog, tag)
	}
}
