// Package engine ties the write-ahead log, memtable, SSTable list, and
// compactor into the storage core's single entry point: Set, Delete, Get,
// and the explicit recovery and maintenance operations around them.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arjunmenon/lsmkv/internal/compaction"
	"github.com/arjunmenon/lsmkv/internal/memtable"
	"github.com/arjunmenon/lsmkv/internal/operation"
	"github.com/arjunmenon/lsmkv/internal/sstable"
	"github.com/arjunmenon/lsmkv/internal/storeerr"
	"github.com/arjunmenon/lsmkv/internal/utils"
	"github.com/arjunmenon/lsmkv/internal/wal"
)

// ErrClosed is returned by Set, Delete, and Get once Close has been called.
var ErrClosed = errors.New("engine: closed")

// Options configures a new Engine. Zero-value fields fall back to the
// documented defaults.
type Options struct {
	DataDir string

	// MemtableFlushThresholdBytes is the accumulated key-plus-value size at which
	// the active memtable is flushed to a new SSTable.
	MemtableFlushThresholdBytes int

	// SSTableIndexEveryN is the sparse index stride for SSTables this
	// engine writes.
	SSTableIndexEveryN int

	// CompactionThreshold is the SSTable count at or above which a flush
	// triggers a full compaction.
	CompactionThreshold int
}

const defaultCompactionThreshold = 10

func (o Options) withDefaults() Options {
	if o.MemtableFlushThresholdBytes <= 0 {
		o.MemtableFlushThresholdBytes = memtable.DefaultFlushThresholdBytes
	}
	if o.SSTableIndexEveryN <= 0 {
		o.SSTableIndexEveryN = sstable.DefaultIndexEveryN
	}
	if o.CompactionThreshold <= 0 {
		o.CompactionThreshold = defaultCompactionThreshold
	}
	return o
}

// sstableEntry pairs an open SSTable reader with the index it was assigned
// when created, newer SSTables being assigned larger indices. Compaction uses the
// index to decide which run wins on a key tie.
type sstableEntry struct {
	reader *sstable.Reader
	index  int
}

// Engine is the storage core: one write-ahead log, one active memtable,
// and an ordered list of immutable SSTables, newest first. Three mutexes
// guard it. Whenever two are held at once the memtable lock is the one
// taken first; the WAL and SSTable-list locks are never held together.
// The fixed order prevents deadlock between concurrent readers and
// writers. Get holds each lock only long enough to read the memtable entry
// or copy the SSTable list, so one slow SSTable scan does not block writes.
type Engine struct {
	dataDir string
	opts    Options
	log     *zap.Logger

	mtMu sync.Mutex
	mt   *memtable.Memtable

	walMu sync.Mutex
	w     *wal.WAL

	sstMu            sync.RWMutex
	sstables         []sstableEntry
	nextSSTableIndex int

	closed int32
}

// New creates a brand new engine rooted at opts.DataDir: a fresh
// write-ahead log, an empty memtable, and no SSTables. It never inspects
// dataDir for pre-existing state; a caller resuming from a previous run
// uses ReplayFromWAL explicitly after New returns.
func New(opts Options, log *zap.Logger) (*Engine, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir is required", storeerr.ErrUnsupported)
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir %s: %v", storeerr.ErrIoFailure, opts.DataDir, err)
	}

	walPath := filepath.Join(opts.DataDir, "wal_"+uuid.NewString())
	w, err := wal.Open(walPath, log)
	if err != nil {
		return nil, err
	}

	log.Info("engine opened", zap.String("data_dir", opts.DataDir), zap.String("wal_path", walPath))

	return &Engine{
		dataDir: opts.DataDir,
		opts:    opts,
		log:     log,
		mt:      memtable.NewWithThreshold(opts.MemtableFlushThresholdBytes),
		w:       w,
	}, nil
}

func (e *Engine) sstablePath(index int) string {
	return filepath.Join(e.dataDir, fmt.Sprintf("sstable_%d_%s", index, uuid.NewString()))
}

// Set inserts or overwrites the value stored against key.
func (e *Engine) Set(key, value []byte) error {
	return e.apply(key, operation.Insert(value))
}

// Delete marks key as removed with a tombstone.
func (e *Engine) Delete(key []byte) error {
	return e.apply(key, operation.Delete())
}

// apply writes op to the WAL, then to the memtable, then — if the memtable
// is now full — flushes it to an SSTable and, if that pushes the SSTable
// count to the compaction threshold, compacts. Both steps must complete
// (or fail) before apply returns, so no later call can observe a
// memtable/SSTable state that straddles an in-progress flush or compaction.
func (e *Engine) apply(key []byte, op operation.Operation) error {
	if atomic.LoadInt32(&e.closed) == 1 {
		return ErrClosed
	}

	e.mtMu.Lock()
	if err := e.appendWAL(key, op); err != nil {
		e.mtMu.Unlock()
		return err
	}
	e.mt.Put(key, op)
	full := e.mt.IsFull()
	e.mtMu.Unlock()

	if !full {
		return nil
	}

	if err := e.flushMemtableToSSTable(); err != nil {
		return err
	}

	e.sstMu.RLock()
	count := len(e.sstables)
	e.sstMu.RUnlock()

	if count >= e.opts.CompactionThreshold {
		if err := e.compactSSTables(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) appendWAL(key []byte, op operation.Operation) error {
	e.walMu.Lock()
	defer e.walMu.Unlock()
	if op.IsDelete() {
		return e.w.AppendDelete(key)
	}
	return e.w.AppendInsert(key, op.Value())
}

// Get looks the key up in the active memtable first, then the SSTable
// list newest to oldest, returning the first operation found.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if atomic.LoadInt32(&e.closed) == 1 {
		return nil, false, ErrClosed
	}

	e.mtMu.Lock()
	op, found := e.mt.Get(key)
	e.mtMu.Unlock()
	if found {
		return resolveOperation(op)
	}

	e.sstMu.RLock()
	entries := make([]sstableEntry, len(e.sstables))
	copy(entries, e.sstables)
	e.sstMu.RUnlock()

	for _, entry := range entries {
		op, found, err := entry.reader.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return resolveOperation(op)
		}
	}
	return nil, false, nil
}

func resolveOperation(op operation.Operation) ([]byte, bool, error) {
	if op.IsDelete() {
		return nil, false, nil
	}
	return utils.CopyBytes(op.Value()), true, nil
}

// flushMemtableToSSTable writes the current memtable's contents to a new
// SSTable, registers it as the newest entry, clears the WAL (now
// redundant since every record in it is durable in the SSTable), and
// installs a fresh empty memtable — all while holding the memtable lock,
// so a concurrent Set blocks until the flush either lands completely or
// fails.
func (e *Engine) flushMemtableToSSTable() error {
	e.mtMu.Lock()
	defer e.mtMu.Unlock()

	it := e.mt.NewIterator()
	if !it.Valid() {
		return nil
	}

	e.sstMu.Lock()
	index := e.nextSSTableIndex
	e.sstMu.Unlock()

	path := e.sstablePath(index)
	w, err := sstable.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteAll(it, e.opts.SSTableIndexEveryN); err != nil {
		w.Close()
		return err
	}
	if err := w.Sync(); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	reader, err := sstable.Open(path, e.opts.SSTableIndexEveryN)
	if err != nil {
		return err
	}

	e.sstMu.Lock()
	e.sstables = append([]sstableEntry{{reader: reader, index: index}}, e.sstables...)
	e.nextSSTableIndex++
	e.sstMu.Unlock()

	e.walMu.Lock()
	walErr := e.w.Clear()
	e.walMu.Unlock()
	if walErr != nil {
		return walErr
	}

	e.mt = memtable.NewWithThreshold(e.opts.MemtableFlushThresholdBytes)

	e.log.Info("flushed memtable", zap.String("sstable_path", path))
	return nil
}

// compactSSTables merges every SSTable the engine currently holds into a
// single new one. Tombstones are preserved rather than dropped: this
// engine has a single level, so a compaction can never prove a deleted
// key is absent from every run that might be reintroduced later (a
// replay, for instance), and dropping the tombstone here would silently
// resurrect the key.
func (e *Engine) compactSSTables() error {
	e.sstMu.Lock()
	entries := make([]sstableEntry, len(e.sstables))
	copy(entries, e.sstables)
	index := e.nextSSTableIndex
	e.sstMu.Unlock()

	if len(entries) < 2 {
		return nil
	}

	inputs := make([]compaction.Input, len(entries))
	for i, entry := range entries {
		inputs[i] = compaction.Input{Reader: entry.reader, Index: entry.index}
	}

	path := e.sstablePath(index)
	w, err := sstable.Create(path)
	if err != nil {
		return err
	}
	if _, err := compaction.Merge(inputs, w, e.opts.SSTableIndexEveryN, false); err != nil {
		w.Close()
		return err
	}
	if err := w.Sync(); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	reader, err := sstable.Open(path, e.opts.SSTableIndexEveryN)
	if err != nil {
		return err
	}

	e.sstMu.Lock()
	e.sstables = []sstableEntry{{reader: reader, index: index}}
	e.nextSSTableIndex = index + 1
	e.sstMu.Unlock()

	for _, entry := range entries {
		oldPath := entry.reader.Path()
		if err := entry.reader.Close(); err != nil {
			e.log.Warn("closing compacted sstable", zap.Error(err))
		}
		if err := os.Remove(oldPath); err != nil {
			e.log.Warn("removing compacted sstable", zap.String("path", oldPath), zap.Error(err))
		}
	}

	e.log.Info("compacted sstables", zap.Int("inputs", len(entries)), zap.String("output", path))
	return nil
}

// ReplayFromWAL applies every record in the WAL file at path to the
// current memtable, in order. It is a separate, explicit operation: New
// never calls it automatically, so a caller resuming a previous run must
// locate the old WAL itself and replay it before serving requests. A
// trailing line without a terminating newline (a torn write from a
// crash) is silently discarded, per the WAL's crash-recovery contract.
func (e *Engine) ReplayFromWAL(path string) error {
	src, err := wal.Open(path, e.log)
	if err != nil {
		return err
	}
	defer src.Close()

	it, err := src.LineIterator()
	if err != nil {
		return err
	}

	e.mtMu.Lock()
	defer e.mtMu.Unlock()

	for {
		line, ok := it.Next()
		if !ok {
			break
		}
		decoded, err := wal.Decode(line)
		if err != nil {
			return err
		}
		switch decoded.Tag {
		case "INSERT":
			e.mt.Put(decoded.Key, operation.Insert(decoded.Value))
		case "DELETE":
			e.mt.Put(decoded.Key, operation.Delete())
		}
	}
	return nil
}

// Close closes the write-ahead log and every open SSTable reader.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}

	var firstErr error

	e.walMu.Lock()
	if err := e.w.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.walMu.Unlock()

	e.sstMu.Lock()
	for _, entry := range e.sstables {
		if err := entry.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.sstables = nil
	e.sstMu.Unlock()

	return firstErr
}
