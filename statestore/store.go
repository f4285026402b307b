// Package statestore implements the State Store (C3): keyed, typed,
// TTL-bearing state with versioning, behind one contract with two
// interchangeable backends.
package statestore

import (
	"context"
	"time"
)

// Category tags the kind of data an entry holds, mirroring the
// partitioning used by callers (spec.md §3).
type Category string

const (
	CategoryWorkflow Category = "workflow"
	CategoryAgent    Category = "agent"
	CategorySession  Category = "session"
	CategoryCache    Category = "cache"
)

// Entry is a keyed record: a typed value, its category, creation/update
// timestamps, an optional absolute expiry, and a monotonically increasing
// version bumped on every write.
type Entry struct {
	Key       string
	Value     interface{}
	Category  Category
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
	Version   int64
}

// Expired reports whether the entry's absolute expiry has passed as of now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Store is the contract shared by the in-memory and Redis-backed
// implementations (spec.md §4.2). Reads never return expired entries;
// writes bump the version counter; Increment is atomic against concurrent
// writers and creates the key at zero if absent.
type Store interface {
	// Set stores value under key with category, bumping the version
	// counter. ttl of zero means no expiry.
	Set(ctx context.Context, key string, value interface{}, category Category, ttl time.Duration) error

	// Get returns the entry for key, or (nil, false) if it is absent or
	// expired.
	Get(ctx context.Context, key string) (*Entry, bool)

	// Delete removes key unconditionally.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) bool

	// GetAll returns every unexpired entry whose key matches a glob
	// pattern (as accepted by path.Match).
	GetAll(ctx context.Context, pattern string) ([]*Entry, error)

	// Increment atomically adds delta to the numeric value at key,
	// creating it at zero first if absent, and returns the new value.
	Increment(ctx context.Context, key string, delta int64, category Category) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}
