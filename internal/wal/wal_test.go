package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAppendAndIterate(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(walPath, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AppendInsert([]byte("key1"), []byte("value1")))
	require.NoError(t, w.AppendInsert([]byte("key2"), []byte("value2")))
	require.NoError(t, w.AppendDelete([]byte("key1")))
	require.NoError(t, w.Sync())

	it, err := w.LineIterator()
	require.NoError(t, err)

	var lines []Line
	for {
		raw, ok := it.Next()
		if !ok {
			break
		}
		line, err := Decode(raw)
		require.NoError(t, err)
		lines = append(lines, line)
	}

	require.Len(t, lines, 3)
	require.Equal(t, "INSERT", lines[0].Tag)
	require.Equal(t, "key1", string(lines[0].Key))
	require.Equal(t, "value1", string(lines[0].Value))
	require.Equal(t, "INSERT", lines[1].Tag)
	require.Equal(t, "key2", string(lines[1].Key))
	require.Equal(t, "DELETE", lines[2].Tag)
	require.Equal(t, "key1", string(lines[2].Key))
}

func TestClear(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(walPath, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AppendInsert([]byte("key1"), []byte("value1")))
	require.NoError(t, w.Clear())

	it, err := w.LineIterator()
	require.NoError(t, err)
	_, ok := it.Next()
	require.False(t, ok)
}

func TestReopenPreservesContent(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(walPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.AppendInsert([]byte("key1"), []byte("value1")))
	require.NoError(t, w.Close())

	w2, err := Open(walPath, zap.NewNop())
	require.NoError(t, err)
	defer w2.Close()

	it, err := w2.LineIterator()
	require.NoError(t, err)
	raw, ok := it.Next()
	require.True(t, ok)
	line, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "key1", string(line.Key))
}

func TestLoadEmptyFile(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "empty.wal")

	w, err := Open(walPath, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	it, err := w.LineIterator()
	require.NoError(t, err)
	_, ok := it.Next()
	require.False(t, ok)
}

func TestDecodeRejectsMalformedLine(t *testing.T) {
	_, err := Decode("GARBAGE\tfoo")
	require.Error(t, err)
}
