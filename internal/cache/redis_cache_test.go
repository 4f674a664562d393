package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartpos/internal/domain"
)

func newTestCache(t *testing.T) (*RedisStatsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisStatsCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisStatsCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, DashboardStatsKey)
	require.NoError(t, err)
	assert.False(t, ok)

	want := &domain.DashboardStats{
		TotalRevenue:    decimal.RequireFromString("1234.56"),
		VouchersIssued:  12,
		NewCustomers:    3,
		ProductsInStock: 480,
	}
	require.NoError(t, c.Set(ctx, DashboardStatsKey, want, 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL(DashboardStatsKey))

	got, ok, err := c.Get(ctx, DashboardStatsKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, want.TotalRevenue.Equal(got.TotalRevenue))
	assert.Equal(t, 12, got.VouchersIssued)
	assert.Equal(t, 480, got.ProductsInStock)
}

func TestRedisStatsCacheExpiresAndInvalidates(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	stats := &domain.DashboardStats{VouchersIssued: 1}

	require.NoError(t, c.Set(ctx, DashboardStatsKey, stats, time.Second))
	mr.FastForward(2 * time.Second)
	_, ok, err := c.Get(ctx, DashboardStatsKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, DashboardStatsKey, stats, time.Minute))
	require.NoError(t, c.Invalidate(ctx, DashboardStatsKey))
	assert.False(t, mr.Exists(DashboardStatsKey))

	require.NoError(t, c.Set(ctx, DashboardStatsKey, nil, time.Minute))
	assert.False(t, mr.Exists(DashboardStatsKey))
}

func TestRedisStatsCacheReportsCorruptPayload(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set(DashboardStatsKey, "{not json"))

	_, ok, err := c.Get(context.Background(), DashboardStatsKey)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNoopStatsCache(t *testing.T) {
	var c StatsCache = NoopStatsCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, DashboardStatsKey, &domain.DashboardStats{}, time.Minute))
	_, ok, err := c.Get(ctx, DashboardStatsKey)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx, DashboardStatsKey))
}
