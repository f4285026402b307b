package statestore

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
)

// InMemoryStore is the default Store: a mutex-guarded map, with lazy
// expiry on read and an optional periodic Sweep for proactive reclamation
// (spec.md §4.2, "a read observing an expired entry discards it in
// place").
type InMemoryStore struct {
	mu    sync.Mutex
	data  map[string]*Entry
	clock core.Clock
}

// NewInMemoryStore constructs an InMemoryStore.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		data:  make(map[string]*Entry),
		clock: core.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InMemoryOption configures an InMemoryStore at construction time.
type InMemoryOption func(*InMemoryStore)

// WithStoreClock overrides the store's notion of "now", for deterministic
// TTL tests.
func WithStoreClock(c core.Clock) InMemoryOption {
	return func(s *InMemoryStore) { s.clock = c }
}

func (s *InMemoryStore) Set(_ context.Context, key string, value interface{}, category Category, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	existing, ok := s.data[key]
	entry := &Entry{
		Key:       key,
		Value:     value,
		Category:  category,
		UpdatedAt: now,
	}
	if ok && !existing.Expired(now) {
		entry.CreatedAt = existing.CreatedAt
		entry.Version = existing.Version + 1
	} else {
		entry.CreatedAt = now
		entry.Version = 1
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		entry.ExpiresAt = &exp
	}
	s.data[key] = entry
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if entry.Expired(s.clock.Now()) {
		delete(s.data, key)
		return nil, false
	}
	clone := *entry
	return &clone, true
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *InMemoryStore) Exists(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

func (s *InMemoryStore) GetAll(_ context.Context, pattern string) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []*Entry
	for key, entry := range s.data {
		if entry.Expired(now) {
			delete(s.data, key)
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if matched {
			clone := *entry
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Increment(_ context.Context, key string, delta int64, category Category) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	existing, ok := s.data[key]
	var current int64
	createdAt := now
	version := int64(0)
	if ok && !existing.Expired(now) {
		n, isInt := existing.Value.(int64)
		if !isInt {
			return 0, fmt.Errorf("value at key %q is not an integer", key)
		}
		current = n
		createdAt = existing.CreatedAt
		version = existing.Version
	}

	newVal := current + delta
	s.data[key] = &Entry{
		Key:       key,
		Value:     newVal,
		Category:  category,
		CreatedAt: createdAt,
		UpdatedAt: now,
		ExpiresAt: entryExpiryOrNil(existing, now),
		Version:   version + 1,
	}
	return newVal, nil
}

func entryExpiryOrNil(existing *Entry, now time.Time) *time.Time {
	if existing == nil || existing.Expired(now) || existing.ExpiresAt == nil {
		return nil
	}
	exp := *existing.ExpiresAt
	return &exp
}

func (s *InMemoryStore) Close() error { return nil }

// Sweep removes every expired entry as of now and returns the count
// reclaimed, for the periodic sweeper (spec.md §4.2: "at least once per
// minute").
func (s *InMemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for key, entry := range s.data {
		if entry.Expired(now) {
			delete(s.data, key)
			reclaimed++
		}
	}
	return reclaimed
}
