// Package cache provides the two-tier read-through caches for tenants,
// tokens, and the process-wide worker configuration.
//
// The cache is a performance optimization, not a correctness dependency:
// every entry is re-derivable from the remote authority. The typed
// wrappers therefore swallow all store errors and report them as misses,
// so a broken cache backend degrades to extra coordinator lookups, never
// to a pipeline failure. Writes are last-writer-wins upserts keyed by
// tenant id; a lost update merely causes one extra remote lookup.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent. A miss is the
// only error callers are expected to branch on; all others are treated
// identically to a miss by the typed wrappers.
var ErrMiss = errors.New("cache miss")

// Store is a single keyspace of serialized entities with a TTL. Each
// keyspace (tenant, token, worker-config) gets its own Store instance.
type Store interface {
	// Get returns the serialized entity, or ErrMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set upserts: implementations check existence first and branch
	// between update-in-place and insert. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Delete removes the key if present; absence is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes the entire keyspace.
	Clear(ctx context.Context) error
}

// Default expiries. Worker configuration never expires.
const (
	DefaultTenantTTL = 3600 * time.Second
	DefaultTokenTTL  = 3600 * time.Second
)

// workerConfigKey is the singleton key for the worker-config keyspace.
const workerConfigKey = "worker_configuration"
