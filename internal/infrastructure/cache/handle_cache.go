package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/redis/go-redis/v9"
)

const defaultHandlePrefix = "split:recipient:"

type handleEntry struct {
	code      string
	expiresAt time.Time // zero means no expiry
}

// MemoryHandleCache keeps gateway recipient codes in process memory
type MemoryHandleCache struct {
	mu      sync.RWMutex
	entries map[transfer.RecipientType]handleEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryHandleCache creates an in-memory handle cache; ttl <= 0 keeps entries forever
func NewMemoryHandleCache(ttl time.Duration) *MemoryHandleCache {
	return &MemoryHandleCache{
		entries: make(map[transfer.RecipientType]handleEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached code for a recipient type
func (c *MemoryHandleCache) Get(_ context.Context, recipientType transfer.RecipientType) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[recipientType]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.code, true, nil
}

// Set stores the code for a recipient type
func (c *MemoryHandleCache) Set(_ context.Context, recipientType transfer.RecipientType, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := handleEntry{code: code}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[recipientType] = e
	return nil
}

// Delete removes the code for a recipient type
func (c *MemoryHandleCache) Delete(_ context.Context, recipientType transfer.RecipientType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, recipientType)
	return nil
}

// RedisHandleCache shares recipient codes between instances
type RedisHandleCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisHandleCache creates a Redis-backed handle cache; ttl <= 0 keeps keys forever
func NewRedisHandleCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisHandleCache {
	if keyPrefix == "" {
		keyPrefix = defaultHandlePrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisHandleCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Get returns the cached code for a recipient type
func (c *RedisHandleCache) Get(ctx context.Context, recipientType transfer.RecipientType) (string, bool, error) {
	code, err := c.client.Get(ctx, c.key(recipientType)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read recipient handle: %w", err)
	}
	return code, true, nil
}

// Set stores the code for a recipient type
func (c *RedisHandleCache) Set(ctx context.Context, recipientType transfer.RecipientType, code string) error {
	if err := c.client.Set(ctx, c.key(recipientType), code, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store recipient handle: %w", err)
	}
	return nil
}

// Delete removes the code for a recipient type
func (c *RedisHandleCache) Delete(ctx context.Context, recipientType transfer.RecipientType) error {
	if err := c.client.Del(ctx, c.key(recipientType)).Err(); err != nil {
		return fmt.Errorf("failed to delete recipient handle: %w", err)
	}
	return nil
}

func (c *RedisHandleCache) key(recipientType transfer.RecipientType) string {
	return c.keyPrefix + string(recipientType)
}

var (
	_ transfer.RecipientHandleCache = (*MemoryHandleCache)(nil)
	_ transfer.RecipientHandleCache = (*RedisHandleCache)(nil)
)
