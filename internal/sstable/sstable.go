// Package sstable implements the immutable, sorted on-disk record files a
// memtable is flushed to and compaction merges.
//
// Record format, repeated to EOF:
//
//	[keyLen uint32 LE][valueLen uint32 LE][key][value]
//
// A Delete is stored as the literal value "TOMBSTONE"; there is no separate
// tombstone bit. A sparse, in-memory index records the offset of every Nth
// record (stride DefaultIndexEveryN by default), built by scanning the file
// once at Open.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/arjunmenon/lsmkv/internal/operation"
	"github.com/arjunmenon/lsmkv/internal/storeerr"
	"github.com/arjunmenon/lsmkv/internal/utils"
)

const (
	// TombstoneMarker is the literal value written to disk for a Delete.
	TombstoneMarker = "TOMBSTONE"

	// DefaultIndexEveryN is the sparse index stride.
	DefaultIndexEveryN = 10

	headerSize = 8
)

// SourceIterator is anything that can be drained, in ascending key order,
// into a new SSTable: a memtable's skiplist iterator and a compaction merge
// cursor both satisfy it.
type SourceIterator interface {
	Valid() bool
	Next()
	Key() []byte
	Operation() operation.Operation
}

// Writer creates a new, immutable SSTable file.
type Writer struct {
	file *os.File
	path string
}

// Create truncates (or creates) path and returns a Writer for it. SSTables
// are never appended to after creation, so Create always starts empty.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create sstable %s: %v", storeerr.ErrIoFailure, path, err)
	}
	return &Writer{file: f, path: path}, nil
}

func encodeValue(op operation.Operation) []byte {
	if op.IsDelete() {
		return []byte(TombstoneMarker)
	}
	return op.Value()
}

func encodeRecord(key []byte, op operation.Operation) []byte {
	value := encodeValue(op)
	buf := make([]byte, headerSize+len(key)+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[headerSize:], key)
	copy(buf[headerSize+len(key):], value)
	return buf
}

// WriteAll drains it in ascending key order, writing one record per entry,
// and returns the sparse index built along the way (an entry recorded
// every indexEveryN records, always including the first).
func (w *Writer) WriteAll(it SourceIterator, indexEveryN int) (*Index, error) {
	if indexEveryN <= 0 {
		indexEveryN = DefaultIndexEveryN
	}
	idx := &Index{}
	bw := bufio.NewWriter(w.file)
	var offset int64
	count := 0
	for it.Valid() {
		key := it.Key()
		record := encodeRecord(key, it.Operation())
		if count%indexEveryN == 0 {
			idx.add(key, offset)
		}
		if _, err := bw.Write(record); err != nil {
			return nil, fmt.Errorf("%w: write sstable record: %v", storeerr.ErrIoFailure, err)
		}
		offset += int64(len(record))
		count++
		it.Next()
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flush sstable: %v", storeerr.ErrIoFailure, err)
	}
	return idx, nil
}

// Sync fsyncs the underlying file.
func (w *Writer) Sync() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync sstable: %v", storeerr.ErrIoFailure, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("%w: close sstable %s: %v", storeerr.ErrIoFailure, w.path, err)
	}
	return nil
}

// Index is the sparse, in-memory offset index kept for one SSTable: every
// indexEveryNth key, in ascending order, mapped to its record's starting
// offset.
type Index struct {
	keys    [][]byte
	offsets []int64
}

func (idx *Index) add(key []byte, offset int64) {
	idx.keys = append(idx.keys, utils.CopyBytes(key))
	idx.offsets = append(idx.offsets, offset)
}

// findFloor returns the offset of the closest indexed key <= target, or 0
// if target is smaller than every indexed key (including when the index is
// empty), so the caller always has a valid offset to scan forward from.
func (idx *Index) findFloor(target []byte) int64 {
	n := len(idx.keys)
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(idx.keys[i], target) > 0
	})
	if i == 0 {
		return 0
	}
	return idx.offsets[i-1]
}

// Reader opens an existing, immutable SSTable file for point lookups and
// full scans.
type Reader struct {
	file     *os.File
	path     string
	fileSize int64
	index    *Index
}

// Open opens path, scanning it once to build its sparse index at the given
// stride (DefaultIndexEveryN if indexEveryN <= 0).
func Open(path string, indexEveryN int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sstable %s: %v", storeerr.ErrIoFailure, path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat sstable %s: %v", storeerr.ErrIoFailure, path, err)
	}

	r := &Reader{file: f, path: path, fileSize: stat.Size()}
	if indexEveryN <= 0 {
		indexEveryN = DefaultIndexEveryN
	}
	idx := &Index{}
	var offset int64
	count := 0
	for offset < r.fileSize {
		key, _, next, err := r.readItemAt(offset)
		if err != nil {
			f.Close()
			return nil, err
		}
		if count%indexEveryN == 0 {
			idx.add(key, offset)
		}
		offset = next
		count++
	}
	r.index = idx
	return r, nil
}

// Path returns the file path this Reader was opened with.
func (r *Reader) Path() string { return r.path }

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return fmt.Errorf("%w: close sstable %s: %v", storeerr.ErrIoFailure, r.path, err)
	}
	return nil
}

// readItemAt decodes the record starting at offset, returning its key,
// operation, and the offset immediately following it.
func (r *Reader) readItemAt(offset int64) ([]byte, operation.Operation, int64, error) {
	if offset+headerSize > r.fileSize {
		return nil, operation.Operation{}, 0, fmt.Errorf("%w: truncated record header at offset %d in %s", storeerr.ErrCorruptSSTable, offset, r.path)
	}
	header := make([]byte, headerSize)
	if _, err := r.file.ReadAt(header, offset); err != nil {
		return nil, operation.Operation{}, 0, fmt.Errorf("%w: read sstable header: %v", storeerr.ErrIoFailure, err)
	}
	klen := int64(binary.LittleEndian.Uint32(header[0:4]))
	vlen := int64(binary.LittleEndian.Uint32(header[4:8]))
	bodyEnd := offset + headerSize + klen + vlen
	if bodyEnd > r.fileSize {
		return nil, operation.Operation{}, 0, fmt.Errorf("%w: truncated record body at offset %d in %s", storeerr.ErrCorruptSSTable, offset, r.path)
	}
	body := make([]byte, klen+vlen)
	if _, err := r.file.ReadAt(body, offset+headerSize); err != nil && err != io.EOF {
		return nil, operation.Operation{}, 0, fmt.Errorf("%w: read sstable record: %v", storeerr.ErrIoFailure, err)
	}
	key := body[:klen]
	value := body[klen:]
	return key, decodeOperation(value), bodyEnd, nil
}

func decodeOperation(value []byte) operation.Operation {
	if bytes.Equal(value, []byte(TombstoneMarker)) {
		return operation.Delete()
	}
	return operation.Insert(utils.CopyBytes(value))
}

// Get looks up key using the sparse index to find a starting offset, then
// scans forward until it finds an exact match, passes key (the file is
// sorted, so nothing further on could match), or reaches EOF.
func (r *Reader) Get(key []byte) (operation.Operation, bool, error) {
	offset := r.index.findFloor(key)
	for offset < r.fileSize {
		recKey, op, next, err := r.readItemAt(offset)
		if err != nil {
			return operation.Operation{}, false, err
		}
		cmp := bytes.Compare(recKey, key)
		if cmp == 0 {
			return op, true, nil
		}
		if cmp > 0 {
			return operation.Operation{}, false, nil
		}
		offset = next
	}
	return operation.Operation{}, false, nil
}

// Record is one decoded entry returned by BatchRead or ReadAll.
type Record struct {
	Key       []byte
	Operation operation.Operation
}

// BatchRead reads up to n records starting at offset, returning them along
// with the offset to resume from. Compaction pulls entries forward in
// batches rather than one record at a time.
func (r *Reader) BatchRead(offset int64, n int) ([]Record, int64, error) {
	records := make([]Record, 0, n)
	for len(records) < n && offset < r.fileSize {
		key, op, next, err := r.readItemAt(offset)
		if err != nil {
			return records, offset, err
		}
		records = append(records, Record{Key: utils.CopyBytes(key), Operation: op})
		offset = next
	}
	return records, offset, nil
}

// Cursor sequentially walks every record in a Reader in ascending key
// order, satisfying SourceIterator so a Reader can itself feed another
// Writer.WriteAll.
type Cursor struct {
	r      *Reader
	offset int64
	key    []byte
	op     operation.Operation
	valid  bool
	err    error
}

// NewCursor returns a cursor positioned at the first record, if any.
func (r *Reader) NewCursor() *Cursor {
	c := &Cursor{r: r}
	c.Next()
	return c
}

// Next advances the cursor. Valid reports false once the file is
// exhausted or a corrupt record is encountered; check Err to distinguish.
func (c *Cursor) Next() {
	if c.offset >= c.r.fileSize {
		c.valid = false
		return
	}
	key, op, next, err := c.r.readItemAt(c.offset)
	if err != nil {
		c.valid = false
		c.err = err
		return
	}
	c.key, c.op, c.offset = key, op, next
	c.valid = true
}

func (c *Cursor) Valid() bool                    { return c.valid }
func (c *Cursor) Key() []byte                    { return c.key }
func (c *Cursor) Operation() operation.Operation { return c.op }
func (c *Cursor) Err() error                     { return c.err }

// ReadAll drains every record in key order. Used by tests and small
// diagnostics; the engine's own read path uses Get, and compaction uses
// batched cursors, to avoid loading a whole table into memory.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	c := r.NewCursor()
	for c.Valid() {
		out = append(out, Record{Key: utils.CopyBytes(c.Key()), Operation: c.Operation()})
		c.Next()
	}
	if c.Err() != nil {
		return nil, c.Err()
	}
	return out, nil
}
