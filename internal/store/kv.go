// Package store persists batch jobs in a key-value backend with expiry and
// per-owner index sets.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by KV reads for a missing or expired key.
var ErrNotFound = errors.New("store: key not found")

// NoExpiry is the TTL reported for a key that exists without an expiry.
const NoExpiry time.Duration = -1

// KV is the storage contract the job store is built on. Values are replaced
// whole; a ttl <= 0 stores the key without expiry.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error

	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	// CompareAndExpire resets the expiry of key only while it still holds value.
	CompareAndExpire(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// SAdd adds member to the set at key and renews the set expiry.
	SAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Scan lists keys matching a glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
	// TTL returns the remaining lifetime, NoExpiry, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Expire sets a lifetime on an existing key; false when the key is gone.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Close() error
}
