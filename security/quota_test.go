package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdb/vortex-gateway/models"
)

func TestTierLimits(t *testing.T) {
	assert.Equal(t, int64(10_000), TierLimit(models.TierFree))
	assert.Equal(t, int64(1_000_000), TierLimit(models.TierPro))
	assert.Equal(t, UnlimitedQuota, TierLimit(models.TierEnterprise))
	assert.Equal(t, UnlimitedQuota, TierLimit(models.TierAdmin))
	assert.Equal(t, int64(10_000), TierLimit(models.QuotaTier("mystery")))
}

func TestQuotaMemoryCapBoundary(t *testing.T) {
	qm := NewQuotaManager(nil)
	ctx := context.Background()

	ok, err := qm.Consume(ctx, "u1", models.TierFree, 9_999)
	require.NoError(t, err)
	assert.True(t, ok)

	// Landing exactly on the cap is still inside it.
	ok, err = qm.Consume(ctx, "u1", models.TierFree, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = qm.Consume(ctx, "u1", models.TierFree, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuotaNonPositiveAmountCountsAsOne(t *testing.T) {
	qm := NewQuotaManager(nil)
	ctx := context.Background()

	ok, err := qm.Consume(ctx, "u1", models.TierFree, -5)
	require.NoError(t, err)
	assert.True(t, ok)

	used, err := qm.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
}

func TestQuotaUnlimitedTiersSkipCounting(t *testing.T) {
	qm := NewQuotaManager(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := qm.Consume(ctx, "svc", models.TierEnterprise, 1_000_000_000)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	used, err := qm.Usage(ctx, "svc")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestQuotaCountersRollOverAtMidnight(t *testing.T) {
	qm := NewQuotaManager(nil)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 24, 23, 50, 0, 0, time.UTC)
	qm.now = func() time.Time { return day1 }

	ok, err := qm.Consume(ctx, "u1", models.TierFree, 10_000)
	require.NoError(t, err)
	require.True(t, ok)

	qm.now = func() time.Time { return day1.Add(time.Hour) }

	used, err := qm.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, used)

	ok, err = qm.Consume(ctx, "u1", models.TierFree, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQuotaRedisPath(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	qm := NewQuotaManager(client)
	ctx := context.Background()

	ok, err := qm.Consume(ctx, "u1", models.TierFree, 10_000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = qm.Consume(ctx, "u1", models.TierFree, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// The denied attempt was still recorded against the counter.
	used, err := qm.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_001), used)
}

func TestQuotaFailsOpenWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	qm := NewQuotaManager(client)
	ctx := context.Background()

	ok, err := qm.Consume(ctx, "u1", models.TierFree, 50_000)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = qm.Usage(ctx, "u1")
	assert.Error(t, err)
}

func TestQuotaUsageUnknownUser(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	qm := NewQuotaManager(client)

	used, err := qm.Usage(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, used)
}
