package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*StockCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStockCache(client, time.Minute), mr
}

func TestSnapshotCachesLoaderResult(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var calls int32
	loader := func(ctx context.Context) (StockSnapshot, error) {
		atomic.AddInt32(&calls, 1)
		return StockSnapshot{ProductID: 7, SKU: "WID-7", OnHandQty: 13}, nil
	}

	snap, err := cache.Snapshot(ctx, 7, loader)
	require.NoError(t, err)
	require.Equal(t, int64(13), snap.OnHandQty)

	snap, err = cache.Snapshot(ctx, 7, loader)
	require.NoError(t, err)
	require.Equal(t, int64(13), snap.OnHandQty)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvalidateForcesReload(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	qty := int64(5)
	loader := func(ctx context.Context) (StockSnapshot, error) {
		return StockSnapshot{ProductID: 7, OnHandQty: qty}, nil
	}

	snap, err := cache.Snapshot(ctx, 7, loader)
	require.NoError(t, err)
	require.Equal(t, int64(5), snap.OnHandQty)

	qty = 9
	cache.Invalidate(ctx, 7)

	snap, err = cache.Snapshot(ctx, 7, loader)
	require.NoError(t, err)
	require.Equal(t, int64(9), snap.OnHandQty)
}

func TestSnapshotExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	qty := int64(1)
	loader := func(ctx context.Context) (StockSnapshot, error) {
		return StockSnapshot{ProductID: 3, OnHandQty: qty}, nil
	}

	_, err := cache.Snapshot(ctx, 3, loader)
	require.NoError(t, err)

	qty = 2
	mr.FastForward(2 * time.Minute)

	snap, err := cache.Snapshot(ctx, 3, loader)
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.OnHandQty)
}
