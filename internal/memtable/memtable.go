// Package memtable implements the in-memory ordered map that absorbs
// writes before they are flushed to an SSTable.
package memtable

import (
	"sync/atomic"

	"github.com/arjunmenon/lsmkv/internal/operation"
)

// DefaultFlushThresholdBytes is the accumulated key-plus-value size at which the
// engine flushes a memtable to an SSTable.
const DefaultFlushThresholdBytes = 1024

// Memtable is an ordered key/operation map with running size accounting.
// It has no notion of a WAL or of disk at all: the engine is responsible
// for writing to the WAL before calling Put, and for flushing this
// memtable's contents to an SSTable once IsFull reports true. This mirrors
// the fixed lock order (memtable, then WAL, then SSTable list) the engine
// enforces around every mutation.
type Memtable struct {
	sl                  *SkipList
	flushThresholdBytes int
	sizeBytes           int64
}

// New returns an empty memtable using the default flush threshold.
func New() *Memtable {
	return NewWithThreshold(DefaultFlushThresholdBytes)
}

// NewWithThreshold returns an empty memtable that reports full once its
// accumulated key-plus-value size reaches thresholdBytes.
func NewWithThreshold(thresholdBytes int) *Memtable {
	return &Memtable{
		sl:                  NewSkipList(),
		flushThresholdBytes: thresholdBytes,
	}
}

// Put records op against key, replacing whatever was stored there. The
// running total tracks len(key)+op.SizeBytes() summed over the memtable's
// live entries, so an overwrite adjusts the total by the signed delta
// between the new and previous operation rather than adding the new size
// outright: overwriting a key with a smaller value shrinks SizeBytes, and
// overwriting with an equal-sized value leaves it unchanged.
func (mt *Memtable) Put(key []byte, op operation.Operation) {
	prev, existed := mt.sl.Put(key, op)
	delta := int64(len(key) + op.SizeBytes())
	if existed {
		delta -= int64(len(key) + prev.SizeBytes())
	}
	atomic.AddInt64(&mt.sizeBytes, delta)
}

// Get returns the operation stored against key, if any.
func (mt *Memtable) Get(key []byte) (operation.Operation, bool) {
	return mt.sl.Get(key)
}

// SizeBytes returns the running total of key and value bytes absorbed by Put.
func (mt *Memtable) SizeBytes() int {
	return int(atomic.LoadInt64(&mt.sizeBytes))
}

// IsFull reports whether SizeBytes has reached the flush threshold.
func (mt *Memtable) IsFull() bool {
	return mt.SizeBytes() >= mt.flushThresholdBytes
}

// NewIterator returns an iterator over all entries in ascending key order.
func (mt *Memtable) NewIterator() *SLIterator {
	return mt.sl.NewIterator()
}
