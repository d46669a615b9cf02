package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuantityCache is a read-through projection of ledger quantities. The ledger
// sum stays the source of truth: entries are invalidated on every movement
// write and expire on their own, so a stale or missing entry only costs a
// recompute.
type QuantityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQuantityCache constructs the cache.
func NewQuantityCache(client *redis.Client, ttl time.Duration) *QuantityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QuantityCache{client: client, ttl: ttl}
}

func quantityKey(productID int64) string {
	return fmt.Sprintf("stock:qty:%d", productID)
}

// Get returns the cached quantity and whether it was present.
func (c *QuantityCache) Get(ctx context.Context, productID int64) (int64, bool, error) {
	if c == nil || c.client == nil {
		return 0, false, nil
	}
	val, err := c.client.Get(ctx, quantityKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	qty, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return qty, true, nil
}

// Set stores the quantity with the configured TTL.
func (c *QuantityCache) Set(ctx context.Context, productID, qty int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, quantityKey(productID), strconv.FormatInt(qty, 10), c.ttl).Err()
}

// Invalidate drops cached quantities after a movement write.
func (c *QuantityCache) Invalidate(ctx context.Context, productIDs ...int64) error {
	if c == nil || c.client == nil || len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = quantityKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
