package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestSetGetRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", "hello", CategoryCache, 0))
	entry, ok := s.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "hello", entry.Value)
	assert.Equal(t, CategoryCache, entry.Category)
	assert.Equal(t, int64(1), entry.Version)
}

func TestSetBumpsVersion(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", "v1", CategoryCache, 0))
	require.NoError(t, s.Set(ctx, "k1", "v2", CategoryCache, 0))

	entry, ok := s.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "v2", entry.Value)
	assert.Equal(t, int64(2), entry.Version)
}

func TestExpiredEntryInvisible(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewInMemoryStore(WithStoreClock(clock))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", "v1", CategoryCache, time.Second))
	clock.now = clock.now.Add(2 * time.Second)

	_, ok := s.Get(ctx, "k1")
	assert.False(t, ok)
	assert.False(t, s.Exists(ctx, "k1"))
}

func TestGetAllGlobMatch(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "workflow:1", "a", CategoryWorkflow, 0))
	require.NoError(t, s.Set(ctx, "workflow:2", "b", CategoryWorkflow, 0))
	require.NoError(t, s.Set(ctx, "agent:1", "c", CategoryAgent, 0))

	entries, err := s.GetAll(ctx, "workflow:*")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestIncrementCreatesAtZero(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	v, err := s.Increment(ctx, "counter", 5, CategoryCache)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = s.Increment(ctx, "counter", -2, CategoryCache)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestIncrementConcurrent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	const n = 100
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			_, _ = s.Increment(ctx, "counter", 1, CategoryCache)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	entry, ok := s.Get(ctx, "counter")
	require.True(t, ok)
	assert.Equal(t, int64(n), entry.Value)
}

func TestSweepReclaimsExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewInMemoryStore(WithStoreClock(clock))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", "v1", CategoryCache, time.Second))
	require.NoError(t, s.Set(ctx, "k2", "v2", CategoryCache, 0))

	n := s.Sweep(clock.now)
	assert.Equal(t, 0, n)

	n = s.Sweep(clock.now.Add(2 * time.Second))
	assert.Equal(t, 1, n)
	assert.Len(t, s.data, 1)
}

func TestDelete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", "v1", CategoryCache, 0))
	require.NoError(t, s.Delete(ctx, "k1"))
	assert.False(t, s.Exists(ctx, "k1"))
}
