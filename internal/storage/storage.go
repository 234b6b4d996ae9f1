// Package storage holds the persistent key/value stores a session can be
// restored from: in-process memory, a JSON file on disk, redis and postgres.
//
// All stores share the same contract: Get reports a missing key with
// found=false and a nil error, Set overwrites, and Remove of a missing key
// is not an error.
package storage

import (
	"context"
	"errors"
)

var ErrEmptyKey = errors.New("storage: empty key")

// KeyValueStore is implemented by every store in this package.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

var (
	_ KeyValueStore = (*MemoryStore)(nil)
	_ KeyValueStore = (*FileStore)(nil)
	_ KeyValueStore = (*RedisStore)(nil)
	_ KeyValueStore = (*PostgresStore)(nil)
)
