// Package kv provides the shared key/value store abstraction used by
// the Key Registry, Saves Store, Stats Accumulator, and Room Actor
// snapshot persistence. All four namespaces share one store instance
// and are kept disjoint purely by key-prefix discipline (see the
// storage layout in spec.md §6).
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Delete-adjacent lookups when the
// key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal surface every component in this repo needs:
// point lookups, point writes with optional TTL, deletes, and a
// prefix scan for the saves List operation.
type Store interface {
	// Get returns the raw bytes stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. It is idempotent: deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns every key with the given prefix. Implementations
	// must not use blocking full-keyspace scans (e.g. Redis KEYS);
	// see the Redis implementation's use of SCAN/MATCH.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Incr atomically increments the integer stored at key by delta
	// (creating it at 0 first if absent) and returns the new value.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// DecrClamped atomically decrements the integer stored at key by
	// delta, clamping the result at a minimum of zero, and returns the
	// new value.
	DecrClamped(ctx context.Context, key string, delta int64) (int64, error)

	// SAdd adds member to the set at key and returns the number of
	// members actually added (0 if member was already present).
	SAdd(ctx context.Context, key string, member string) (int64, error)

	// SCard returns the cardinality of the set at key.
	SCard(ctx context.Context, key string) (int64, error)

	// Expire sets an absolute expiry time on key. A no-op if key is
	// absent.
	Expire(ctx context.Context, key string, at time.Time) error

	// WatchUpdate performs an optimistic read-modify-write of the
	// value at key: it reads the current bytes (nil if absent), passes
	// them to fn, and writes back fn's result, retrying if key changed
	// concurrently. Grounded on Redis's WATCH/MULTI/EXEC pattern.
	WatchUpdate(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error

	// Close releases underlying resources.
	Close() error
}
