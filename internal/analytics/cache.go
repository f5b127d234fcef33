package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores serialized reports.  Keys embed a data version; Bump moves
// every reader to a fresh key space so stale entries simply age out.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Version(ctx context.Context) (uint64, error)
	Bump(ctx context.Context) error
}

// RedisCache keeps reports in Redis so every instance shares them.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a cache under the given key prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read report cache: %w", err)
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write report cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Version(ctx context.Context) (uint64, error) {
	s, err := c.client.Get(ctx, c.prefix+"version").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache version: %w", err)
	}
	return strconv.ParseUint(s, 10, 64)
}

func (c *RedisCache) Bump(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.prefix+"version").Err(); err != nil {
		return fmt.Errorf("failed to bump cache version: %w", err)
	}
	return nil
}

type memoryEntry struct {
	val     []byte
	expires time.Time
}

// MemoryCache is the single-process fallback used without Redis.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	version uint64
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{val: val, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Version(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, nil
}

// Bump also drops every entry; nothing can read the old keys anyway.
func (c *MemoryCache) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.entries = make(map[string]memoryEntry)
	return nil
}
