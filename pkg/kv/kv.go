// Package kv is a direct, in-process embedding of the storage engine, for
// callers that want the key-value store as a Go library rather than over
// the TCP protocol internal/server exposes.
package kv

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arjunmenon/lsmkv/internal/engine"
)

// ErrNotFound is returned when a key is not found.
var ErrNotFound = errors.New("kv: key not found")

// ErrClosed is returned when the DB is closed.
var ErrClosed = errors.New("kv: db is closed")

// DB is a key-value database backed by an embedded engine.Engine.
type DB struct {
	eng *engine.Engine
}

// Open opens a database rooted at path, creating it if absent.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("kv: path cannot be empty")
	}

	eng, err := engine.New(engine.Options{DataDir: path}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open database: %w", err)
	}

	return &DB{eng: eng}, nil
}

// Close closes the database and releases all resources.
func (db *DB) Close() error {
	if db.eng == nil {
		return ErrClosed
	}
	return db.eng.Close()
}

// Put stores a key-value pair in the database.
func (db *DB) Put(key, value string) error {
	if db.eng == nil {
		return ErrClosed
	}
	if err := db.eng.Set([]byte(key), []byte(value)); err != nil {
		if errors.Is(err, engine.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("kv: put failed: %w", err)
	}
	return nil
}

// Get retrieves the value for a given key. Returns ErrNotFound if the key
// doesn't exist.
func (db *DB) Get(key string) (string, error) {
	if db.eng == nil {
		return "", ErrClosed
	}

	val, found, err := db.eng.Get([]byte(key))
	if err != nil {
		if errors.Is(err, engine.ErrClosed) {
			return "", ErrClosed
		}
		return "", fmt.Errorf("kv: get failed: %w", err)
	}
	if !found {
		return "", ErrNotFound
	}

	return string(val), nil
}

// Delete removes a key from the database. If the key doesn't exist, it's
// a no-op (no error returned).
func (db *DB) Delete(key string) error {
	if db.eng == nil {
		return ErrClosed
	}
	if err := db.eng.Delete([]byte(key)); err != nil {
		if errors.Is(err, engine.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("kv: delete failed: %w", err)
	}
	return nil
}
