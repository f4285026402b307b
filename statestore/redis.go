package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/industrial-rfp/workflow-core/core"
)

// incrementScript atomically reads, adds, and rewrites the numeric value
// held at a key's "value_json" hash field without disturbing the key's
// existing TTL (HSET never resets TTL), matching the in-memory backend's
// atomicity guarantee for Increment.
const incrementScript = `
local key = KEYS[1]
local delta = tonumber(ARGV[1])
local category = ARGV[2]
local now = ARGV[3]

local current = 0
local created = now
local version = 0
if redis.call('EXISTS', key) == 1 then
  local v = redis.call('HGET', key, 'value_json')
  if v then current = tonumber(v) or 0 end
  local c = redis.call('HGET', key, 'created_at')
  if c then created = c end
  local ver = redis.call('HGET', key, 'version')
  if ver then version = tonumber(ver) or 0 end
end

local newval = current + delta
redis.call('HSET', key, 'value_json', tostring(newval), 'category', category, 'created_at', created, 'updated_at', now, 'version', tostring(version + 1))
return tostring(newval)
`

// RedisStore is the durable Store backend: one Redis hash per key holding
// the entry's fields, with TTL enforced natively by Redis (spec.md §4.2).
// It does not implement Sweepable — Redis reclaims expired keys itself, so
// a separate sweeper would be redundant.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
	clock     core.Clock
}

// RedisStoreOption configures a RedisStore at construction time.
type RedisStoreOption func(*RedisStore)

// WithRedisStoreLogger attaches a logger.
func WithRedisStoreLogger(l core.Logger) RedisStoreOption {
	return func(s *RedisStore) { s.logger = l }
}

// WithRedisStoreClock overrides the store's clock, for deterministic tests.
func WithRedisStoreClock(c core.Clock) RedisStoreOption {
	return func(s *RedisStore) { s.clock = c }
}

// NewRedisStore wraps an existing go-redis client. namespace prefixes
// every key so it can share a Redis instance with the broker.
func NewRedisStore(client *redis.Client, namespace string, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		namespace: namespace,
		logger:    core.NoOpLogger{},
		clock:     core.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) redisKey(key string) string {
	return s.namespace + ":state:" + key
}

func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, category Category, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serialize state value: %w", err)
	}
	rk := s.redisKey(key)
	now := s.clock.Now()

	existing, found := s.Get(ctx, key)
	createdAt := now
	version := int64(1)
	if found {
		createdAt = existing.CreatedAt
		version = existing.Version + 1
	}

	fields := map[string]interface{}{
		"value_json": string(data),
		"category":   string(category),
		"created_at": createdAt.Format(time.RFC3339Nano),
		"updated_at": now.Format(time.RFC3339Nano),
		"version":    version,
	}
	if err := s.client.HSet(ctx, rk, fields).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if ttl > 0 {
		s.client.PExpire(ctx, rk, ttl)
	} else {
		s.client.Persist(ctx, rk)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool) {
	rk := s.redisKey(key)
	all, err := s.client.HGetAll(ctx, rk).Result()
	if err != nil || len(all) == 0 {
		return nil, false
	}
	return s.decodeEntry(ctx, key, rk, all)
}

func (s *RedisStore) decodeEntry(ctx context.Context, key, redisKey string, fields map[string]string) (*Entry, bool) {
	var value interface{}
	if raw, ok := fields["value_json"]; ok {
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			s.logger.Error("failed to decode state value", map[string]interface{}{"key": key, "error": err.Error()})
			return nil, false
		}
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	var version int64
	fmt.Sscanf(fields["version"], "%d", &version)

	entry := &Entry{
		Key:       key,
		Value:     value,
		Category:  Category(fields["category"]),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Version:   version,
	}
	if ttl, err := s.client.PTTL(ctx, redisKey).Result(); err == nil && ttl > 0 {
		exp := s.clock.Now().Add(ttl)
		entry.ExpiresAt = &exp
	}
	return entry, true
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.redisKey(key)).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	n, err := s.client.Exists(ctx, s.redisKey(key)).Result()
	return err == nil && n > 0
}

func (s *RedisStore) GetAll(ctx context.Context, pattern string) ([]*Entry, error) {
	prefix := s.namespace + ":state:"
	var out []*Entry
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, rk := range keys {
			all, err := s.client.HGetAll(ctx, rk).Result()
			if err != nil || len(all) == 0 {
				continue
			}
			key := rk[len(prefix):]
			if entry, ok := s.decodeEntry(ctx, key, rk, all); ok {
				out = append(out, entry)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, delta int64, category Category) (int64, error) {
	rk := s.redisKey(key)
	now := s.clock.Now().Format(time.RFC3339Nano)

	res, err := s.client.Eval(ctx, incrementScript, []string{rk}, delta, string(category), now).Result()
	if err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}
	var newVal int64
	if s2, ok := res.(string); ok {
		fmt.Sscanf(s2, "%d", &newVal)
	}
	return newVal, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
