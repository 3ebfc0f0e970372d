package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// StockCache keeps short-lived on-hand snapshots in Redis. Concurrent misses
// for the same product collapse into one database read via singleflight. A nil
// cache (or nil client) falls through to the loader.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewStockCache instantiates the cache helper.
func NewStockCache(client *redis.Client, ttl time.Duration) *StockCache {
	return &StockCache{client: client, ttl: ttl}
}

func stockKey(productID int64) string {
	return fmt.Sprintf("catalog:stock:%d", productID)
}

// Snapshot returns the cached snapshot or populates it using the loader.
func (c *StockCache) Snapshot(ctx context.Context, productID int64, loader func(context.Context) (StockSnapshot, error)) (StockSnapshot, error) {
	if loader == nil {
		return StockSnapshot{}, errors.New("catalog: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := stockKey(productID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var snap StockSnapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			return snap, nil
		}
		// Unreadable payload, fall through and rebuild.
	} else if !errors.Is(err, redis.Nil) {
		return StockSnapshot{}, err
	}

	resultChan := c.group.DoChan(key, func() (any, error) {
		snap, err := loader(ctx)
		if err != nil {
			return StockSnapshot{}, err
		}
		raw, err := json.Marshal(snap)
		if err != nil {
			return StockSnapshot{}, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return StockSnapshot{}, err
		}
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return StockSnapshot{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return StockSnapshot{}, res.Err
		}
		return res.Val.(StockSnapshot), nil
	}
}

// Invalidate drops the snapshot after a stock mutation.
func (c *StockCache) Invalidate(ctx context.Context, productID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, stockKey(productID)).Err()
}
