// Package compaction implements the k-way merge that folds a set of
// SSTables into one, resolving duplicate keys by letting the entry from
// the newer run shadow the older one.
package compaction

import (
	"bytes"
	"container/heap"

	"github.com/arjunmenon/lsmkv/internal/operation"
	"github.com/arjunmenon/lsmkv/internal/sstable"
)

// batchSize is how many records each input run pulls forward at a time.
const batchSize = 10

// Input is one SSTable contributing to a merge, tagged with its position in
// the engine's SSTable list. Index is compared newest-wins on key ties:
// the run with the larger Index shadows the one with the smaller Index.
type Input struct {
	Reader *sstable.Reader
	Index  int
}

// run is one input's forward cursor, refilled in batches of batchSize
// rather than one record at a time.
type run struct {
	input   Input
	batch   []sstable.Record
	batchAt int64
	pos     int
	done    bool
}

func newRun(in Input) (*run, error) {
	r := &run{input: in}
	if err := r.fill(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *run) fill() error {
	if r.done {
		return nil
	}
	records, next, err := r.input.Reader.BatchRead(r.batchAt, batchSize)
	if err != nil {
		return err
	}
	r.batch, r.batchAt, r.pos = records, next, 0
	if len(records) == 0 {
		r.done = true
	}
	return nil
}

func (r *run) valid() bool                    { return r.pos < len(r.batch) }
func (r *run) key() []byte                    { return r.batch[r.pos].Key }
func (r *run) operation() operation.Operation { return r.batch[r.pos].Operation }

func (r *run) advance() error {
	r.pos++
	if r.pos >= len(r.batch) {
		return r.fill()
	}
	return nil
}

// mergeHeap orders runs by current key ascending; on a key tie the run
// with the larger Index (the newer SSTable) sorts first, so it is the one
// popped and kept.
type mergeHeap []*run

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	cmp := bytes.Compare(h[i].key(), h[j].key())
	if cmp != 0 {
		return cmp < 0
	}
	return h[i].input.Index > h[j].input.Index
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*run)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// mergeIterator drains the runs in ascending key order, one entry per
// distinct key, discarding shadowed duplicates from older runs. It
// satisfies sstable.SourceIterator.
type mergeIterator struct {
	h              *mergeHeap
	key            []byte
	op             operation.Operation
	valid          bool
	err            error
	dropTombstones bool
}

func newMergeIterator(inputs []Input, dropTombstones bool) (*mergeIterator, error) {
	h := &mergeHeap{}
	for _, in := range inputs {
		r, err := newRun(in)
		if err != nil {
			return nil, err
		}
		if r.valid() {
			heap.Push(h, r)
		}
	}
	it := &mergeIterator{h: h, dropTombstones: dropTombstones}
	if err := it.advance(); err != nil {
		return nil, err
	}
	return it, nil
}

// advance pops the run with the smallest (key, newest-index) pair, records
// it as the current entry, then drains and discards every other run
// currently sitting on the same key. When dropTombstones is set, a
// winning Delete is skipped entirely rather than re-emitted.
func (it *mergeIterator) advance() error {
	for {
		if it.h.Len() == 0 {
			it.valid = false
			return nil
		}

		winner := heap.Pop(it.h).(*run)
		key := append([]byte(nil), winner.key()...)
		op := winner.operation()

		if err := winner.advance(); err != nil {
			return err
		}
		if winner.valid() {
			heap.Push(it.h, winner)
		}

		for it.h.Len() > 0 && bytes.Equal((*it.h)[0].key(), key) {
			shadowed := heap.Pop(it.h).(*run)
			if err := shadowed.advance(); err != nil {
				return err
			}
			if shadowed.valid() {
				heap.Push(it.h, shadowed)
			}
		}

		if it.dropTombstones && op.IsDelete() {
			continue
		}

		it.key, it.op, it.valid = key, op, true
		return nil
	}
}

func (it *mergeIterator) Valid() bool                    { return it.valid }
func (it *mergeIterator) Key() []byte                    { return it.key }
func (it *mergeIterator) Operation() operation.Operation { return it.op }

func (it *mergeIterator) Next() {
	if err := it.advance(); err != nil {
		it.err = err
		it.valid = false
	}
}

// Merge performs a k-way merge of inputs and writes the surviving entries
// to w, using indexEveryN for the output's sparse index. When dropTombstones
// is true, a winning Delete is omitted from the output instead of being
// carried forward; callers that cannot prove a deleted key is absent from
// every other surviving run (the usual case for a single-level engine)
// should pass false.
func Merge(inputs []Input, w *sstable.Writer, indexEveryN int, dropTombstones bool) (*sstable.Index, error) {
	it, err := newMergeIterator(inputs, dropTombstones)
	if err != nil {
		return nil, err
	}
	idx, err := w.WriteAll(it, indexEveryN)
	if err != nil {
		return nil, err
	}
	if it.err != nil {
		return nil, it.err
	}
	return idx, nil
}
