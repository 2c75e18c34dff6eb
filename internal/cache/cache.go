// Package cache provides the shared, atomically-mutable key-value store the
// async query engine sits on top of. Every write that depends on existing
// state goes through Mutate, never a separate Get-then-Set, because the
// store is the one piece of cross-process shared mutable state in the
// system (spec §5) and naive read-modify-write races with concurrent
// facet-batch appends.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get (as the bool) conceptually, but by Mutate
// when exists=false matters to the caller's contract (e.g. appending to a
// query that was already reaped by TTL).
var ErrNotFound = errors.New("cache: key not found")

// MutateFunc computes the next value for a key given its current value and
// whether it existed. Returning (nil, 0, false, nil) leaves the entry
// untouched. MemoryStore calls it exactly once under its per-key lock;
// RedisStore calls it again each time a concurrent write aborts its
// WATCH transaction, so fn must not have side effects.
type MutateFunc func(current []byte, exists bool) (next []byte, ttl time.Duration, write bool, err error)

// Store is the atomic key-value abstraction the async query store and
// rate-limit-adjacent components depend on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Mutate atomically reads, transforms, and conditionally writes key.
	Mutate(ctx context.Context, key string, fn MutateFunc) error
}
