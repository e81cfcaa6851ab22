// Package kv persists whole-collection snapshots under a string key.
//
// Each store (delivery points, route) owns exactly one key and rewrites the
// full blob after every mutation, so backends only need get/put/delete of an
// opaque value. A missing key is reported as ErrNotFound, which callers treat
// as "nothing persisted yet" rather than a failure.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written or was deleted.
var ErrNotFound = errors.New("kv: key not found")

// Store is implemented by the SQLite and Redis backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}
