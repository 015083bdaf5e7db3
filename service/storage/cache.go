// Package storage provides the TTL cache the app keeps around the chat
// core: key -> {data, timestamp, ttl} JSON entries over a pluggable
// key-value store.
package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	rds "MaterniChat/service/storage/redis"
)

// KV is the minimal store surface the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// entry is the persisted shape; expiry is also checked client-side so
// stores without native TTL (the in-memory one) behave the same.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix millis at write
	TTL       int64           `json:"ttl"`       // millis
}

type Cache struct {
	kv     KV
	prefix string
	clock  func() time.Time
}

func NewCache(kv KV, prefix string) *Cache {
	return &Cache{kv: kv, prefix: prefix, clock: time.Now}
}

// WithClock is for tests.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Set stores v under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal cache value")
	}
	e := entry{Data: data, Timestamp: c.clock().UnixMilli(), TTL: ttl.Milliseconds()}
	raw, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal cache entry")
	}
	return c.kv.Set(ctx, c.key(key), raw, ttl)
}

// Get loads key into out; the bool reports a fresh hit. Expired entries are
// dropped eagerly.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := c.kv.Get(ctx, c.key(key))
	if err != nil || !ok {
		return false, err
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return false, errors.Wrap(err, "unmarshal cache entry")
	}
	if e.TTL > 0 && c.clock().UnixMilli()-e.Timestamp > e.TTL {
		_ = c.kv.Del(ctx, c.key(key))
		return false, nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return false, errors.Wrap(err, "unmarshal cache value")
	}
	return true, nil
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.kv.Del(ctx, c.key(key))
}

// ===== redis-backed KV =====

type redisKV struct{}

// NewRedisKV returns a KV over the shared redis client (redis.Init first).
func NewRedisKV() KV { return redisKV{} }

func (redisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := rds.Client().Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (redisKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.Wrap(rds.Client().Set(ctx, key, val, ttl).Err(), "redis set")
}

func (redisKV) Del(ctx context.Context, key string) error {
	return errors.Wrap(rds.Client().Del(ctx, key).Err(), "redis del")
}

// ===== in-memory KV =====

type memEntry struct {
	val []byte
}

type MemoryKV struct {
	mu sync.RWMutex
	m  map[string]memEntry
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]memEntry)}
}

func (s *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	return e.val, true, nil
}

func (s *MemoryKV) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	s.mu.Lock()
	s.m[key] = memEntry{val: val}
	s.mu.Unlock()
	return nil
}

func (s *MemoryKV) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}
