package coverage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores computed scores. Keys embed the graph version and asOf, so
// entries never need invalidation; the TTL only bounds memory.
type Cache interface {
	Get(ctx context.Context, key string) (Score, bool, error)
	Set(ctx context.Context, key string, score Score) error
	Backend() string
}

func cacheKey(id string, version int64, asOf time.Time) string {
	return fmt.Sprintf("%s@%d@%d", id, version, asOf.UnixNano())
}

const defaultMemoryEntries = 4096

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	max     int
	now     func() time.Time
}

type memoryEntry struct {
	score   Score
	expires time.Time
}

// NewMemoryCache returns a cache holding up to 4096 scores for ttl each.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		max:     defaultMemoryEntries,
		now:     time.Now,
	}
}

func (c *MemoryCache) Backend() string { return "memory" }

func (c *MemoryCache) Get(_ context.Context, key string) (Score, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Score{}, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return Score{}, false, nil
	}
	return e.score, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, score Score) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= c.max {
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	for k := range c.entries {
		if len(c.entries) < c.max {
			break
		}
		delete(c.entries, k)
	}
	c.entries[key] = memoryEntry{score: score, expires: now.Add(c.ttl)}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares scores between processes through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to a Redis server. The connection is lazy; errors
// surface on first use.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheWithClient(client, ttl)
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "tracegraph:score:"}
}

func (c *RedisCache) Backend() string { return "redis" }

func (c *RedisCache) Get(ctx context.Context, key string) (Score, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Score{}, false, nil
	}
	if err != nil {
		return Score{}, false, fmt.Errorf("redis get: %w", err)
	}
	var s Score
	if err := json.Unmarshal(data, &s); err != nil {
		return Score{}, false, fmt.Errorf("decoding cached score: %w", err)
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, score Score) error {
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("encoding score: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (c *RedisCache) Close() error { return c.client.Close() }
