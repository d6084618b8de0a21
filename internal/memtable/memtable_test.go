package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arjunmenon/lsmkv/internal/operation"
)

func TestPutGet(t *testing.T) {
	mt := New()

	testData := map[string]string{
		"key1": "value1",
		"key2": "value2",
		"key3": "value3",
	}

	for k, v := range testData {
		mt.Put([]byte(k), operation.Insert([]byte(v)))
	}

	for k, expectedV := range testData {
		op, found := mt.Get([]byte(k))
		require.True(t, found, "key %s not found", k)
		require.True(t, op.IsInsert())
		require.Equal(t, expectedV, string(op.Value()))
	}

	_, found := mt.Get([]byte("nonexistent"))
	require.False(t, found)
}

func TestDelete(t *testing.T) {
	mt := New()

	mt.Put([]byte("key1"), operation.Insert([]byte("value1")))

	op, found := mt.Get([]byte("key1"))
	require.True(t, found)
	require.Equal(t, "value1", string(op.Value()))

	mt.Put([]byte("key1"), operation.Delete())

	op, found = mt.Get([]byte("key1"))
	require.True(t, found)
	require.True(t, op.IsDelete())
}

func TestIsFull(t *testing.T) {
	mt := NewWithThreshold(10)

	require.False(t, mt.IsFull())

	mt.Put([]byte("key1"), operation.Insert([]byte("short")))
	require.False(t, mt.IsFull())

	mt.Put([]byte("key2"), operation.Insert([]byte("longer value")))
	require.True(t, mt.IsFull())
}

func TestSizeBytesReflectsDeltaOnOverwrite(t *testing.T) {
	mt := New()

	mt.Put([]byte("key1"), operation.Insert([]byte("aaaa")))
	require.Equal(t, len("key1")+4, mt.SizeBytes())

	// Overwriting with a shorter value must shrink the total, not add to
	// it: size_bytes tracks the sum over live entries, not every Put ever
	// made.
	mt.Put([]byte("key1"), operation.Insert([]byte("bb")))
	require.Equal(t, len("key1")+2, mt.SizeBytes())

	mt.Put([]byte("key1"), operation.Insert([]byte("cccccc")))
	require.Equal(t, len("key1")+6, mt.SizeBytes())
}

func TestSizeBytesSumsDistinctKeys(t *testing.T) {
	mt := New()

	mt.Put([]byte("key1"), operation.Insert([]byte("aaaa")))
	mt.Put([]byte("key2"), operation.Insert([]byte("bb")))
	require.Equal(t, len("key1")+4+len("key2")+2, mt.SizeBytes())
}

func TestSizeBytesCountsKeyLengthOnDelete(t *testing.T) {
	mt := New()

	mt.Put([]byte("key1"), operation.Delete())
	require.Equal(t, len("key1"), mt.SizeBytes())
}

func TestNewIteratorOrder(t *testing.T) {
	mt := New()
	mt.Put([]byte("c"), operation.Insert([]byte("3")))
	mt.Put([]byte("a"), operation.Insert([]byte("1")))
	mt.Put([]byte("b"), operation.Insert([]byte("2")))

	it := mt.NewIterator()
	var keys []string
	for it.Valid() {
		keys = append(keys, string(it.Key()))
		it.Next()
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}
