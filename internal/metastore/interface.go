// Package metastore provides the persistent key to bytes map that holds
// serialized bucket and object records.
package metastore

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("metastore closed")

// Store is a durable key to bytes map.
//
// Implementations are safe for concurrent use. There are no cross-key
// transactions: a Get followed by a Put on a different key is not atomic.
type Store interface {
	// Get returns the stored value. A missing key yields (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put upserts value under key.
	Put(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Scan calls fn for every key starting with prefix. Returning an error
	// from fn stops the scan and returns that error.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Close releases resources.
	Close() error
}
