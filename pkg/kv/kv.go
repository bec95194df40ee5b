// Package kv defines the key-value store shared by the embedding cache, the
// semantic response cache and the session store.
//
// Implementations live in sub-packages (redis, badger) plus the in-memory
// Store in this package, used for tests and single-process deployments.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is missing or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key-value store with per-key TTL and bounded lists.
//
// A ttl of zero means the key never expires. Keys matches glob patterns
// ('*', '?', character classes) against the full key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// AppendList appends values to the list at key in one atomic step, keeps
	// only the newest maxLen items (maxLen <= 0 disables trimming) and
	// resets the list TTL.
	AppendList(ctx context.Context, key string, maxLen int, ttl time.Duration, values ...[]byte) error
	// List returns every item of the list at key, oldest first. A missing
	// list yields an empty slice.
	List(ctx context.Context, key string) ([][]byte, error)

	Ping(ctx context.Context) error
	Close() error
}
