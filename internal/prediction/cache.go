package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps computed predictions until their slot ends.
type Cache interface {
	Get(ctx context.Context, key string) (Prediction, bool, error)
	Set(ctx context.Context, key string, p Prediction, ttl time.Duration) error
}

// =============================================================================
// In-memory cache
// =============================================================================

type memoryEntry struct {
	prediction Prediction
	expires    time.Time
}

// MemoryCache is a process local TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (Prediction, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Prediction{}, false, nil
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return Prediction{}, false, nil
	}
	return e.prediction, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, p Prediction, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{prediction: p, expires: c.now().Add(ttl)}
	return nil
}

// =============================================================================
// Redis cache
// =============================================================================

// KeyPrefix namespaces prediction keys in Redis.
const KeyPrefix = "checkengine:prediction:"

// RedisCache shares predictions between engine processes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a cache on top of an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (Prediction, bool, error) {
	raw, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Prediction{}, false, nil // Cache miss
		}
		return Prediction{}, false, fmt.Errorf("failed to get cached prediction: %w", err)
	}
	var p Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return Prediction{}, false, fmt.Errorf("failed to decode cached prediction: %w", err)
	}
	return p, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, p Prediction, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}
	if err := c.client.Set(ctx, KeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache prediction: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
