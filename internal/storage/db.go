// Package storage provides key-value stores for node-operational data.
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Supported backends.
const (
	BackendMemory  = "memory"
	BackendBadger  = "badger"
	BackendLevelDB = "leveldb"
)

// Open opens a store of the named backend rooted at path. The memory
// backend ignores path.
func Open(backend, path string) (DB, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendBadger, "":
		return NewBadger(path)
	case BackendLevelDB:
		return NewLevelDB(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
