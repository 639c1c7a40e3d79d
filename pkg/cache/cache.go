package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheService caches confirmations and idempotent receipts. A nil
// *CacheService is valid and behaves as an always-missing cache, which is how
// the service runs when redis is unreachable.
type CacheService struct {
	client *redis.Client
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCacheServiceFromClient(client *redis.Client, logger *zap.Logger) *CacheService {
	return &CacheService{
		client: client,
		logger: logger,
	}
}

// ===============================
// Keys
// ===============================

func ConfirmationKey(number string) string {
	return fmt.Sprintf("confirmation:v1:%s", number)
}

func IdempotencyKey(ownerID, key string) string {
	return fmt.Sprintf("idem:v1:%s:%s", ownerID, key)
}

// ===============================
// Confirmations
// ===============================

// GetConfirmation returns nil, nil on a miss.
func (c *CacheService) GetConfirmation(ctx context.Context, number string) ([]byte, error) {
	return c.get(ctx, ConfirmationKey(number))
}

func (c *CacheService) SetConfirmation(ctx context.Context, number string, data []byte, ttl time.Duration) error {
	return c.set(ctx, ConfirmationKey(number), data, ttl)
}

func (c *CacheService) DeleteConfirmation(ctx context.Context, number string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, ConfirmationKey(number)).Err()
}

// ===============================
// Idempotent receipts
// ===============================

// GetReceipt returns the cached outcome of an earlier submission with the
// same owner and idempotency key, or nil, nil.
func (c *CacheService) GetReceipt(ctx context.Context, ownerID, key string) ([]byte, error) {
	return c.get(ctx, IdempotencyKey(ownerID, key))
}

func (c *CacheService) SetReceipt(ctx context.Context, ownerID, key string, data []byte, ttl time.Duration) error {
	return c.set(ctx, IdempotencyKey(ownerID, key), data, ttl)
}

// ===============================
// Helpers
// ===============================

func (c *CacheService) get(ctx context.Context, key string) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	c.hits.Add(1)
	return data, nil
}

func (c *CacheService) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Stats returns hit/miss counters since start.
func (c *CacheService) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}
