package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when nothing is stored under the key.
var ErrNotFound = errors.New("object not found")

// ErrOutsideDirectory is returned by file storage for keys that resolve
// outside its directory.
var ErrOutsideDirectory = errors.New("key outside storage directory")

type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data stored under key, or under a URL returned by Put
	Get(ctx context.Context, key string) ([]byte, error)
}
