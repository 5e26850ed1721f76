package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
	"github.com/vortexdb/vortex-gateway/models"
)

const quotaKeyPrefix = "quota"

// UnlimitedQuota marks tiers with no daily cap.
const UnlimitedQuota int64 = -1

var tierLimits = map[models.QuotaTier]int64{
	models.TierFree:       10_000,
	models.TierPro:        1_000_000,
	models.TierEnterprise: UnlimitedQuota,
	models.TierAdmin:      UnlimitedQuota,
}

// TierLimit returns the daily cap for the tier; unknown tiers get the free cap.
func TierLimit(tier models.QuotaTier) int64 {
	if limit, ok := tierLimits[tier]; ok {
		return limit
	}
	return tierLimits[models.TierFree]
}

// QuotaManager tracks per-user daily consumption counters in Redis, with an
// in-process fallback mirroring the same keying.
type QuotaManager struct {
	redis *redis.Client

	mu  sync.Mutex
	mem map[string]int64

	now func() time.Time
	log zerolog.Logger
}

// NewQuotaManager creates a manager. A nil client selects the in-memory path.
func NewQuotaManager(redisClient *redis.Client) *QuotaManager {
	return &QuotaManager{
		redis: redisClient,
		mem:   make(map[string]int64),
		now:   time.Now,
		log:   logging.WithComponent("quota"),
	}
}

// Consume adds amount to the user's daily counter and reports whether the
// tier cap still holds. The counter is advanced even on the denied attempt's
// preceding consumption, never beyond it.
func (q *QuotaManager) Consume(ctx context.Context, userID string, tier models.QuotaTier, amount int64) (bool, error) {
	limit := TierLimit(tier)
	if limit == UnlimitedQuota {
		return true, nil
	}
	if amount <= 0 {
		amount = 1
	}

	key := q.dayKey(userID)

	if q.redis != nil {
		total, err := q.consumeRedis(ctx, key, amount)
		if err != nil {
			// Same fail-open stance as the rate limiter.
			q.log.Warn().Err(err).Str("user_id", userID).Msg("quota store unreachable, allowing request")
			return true, nil
		}
		if total > limit {
			metrics.QuotaDenials.Inc()
			return false, nil
		}
		return true, nil
	}

	q.mu.Lock()
	q.mem[key] += amount
	total := q.mem[key]
	q.mu.Unlock()

	if total > limit {
		metrics.QuotaDenials.Inc()
		return false, nil
	}
	return true, nil
}

// Usage returns the user's consumption for the current day.
func (q *QuotaManager) Usage(ctx context.Context, userID string) (int64, error) {
	key := q.dayKey(userID)

	if q.redis != nil {
		val, err := q.redis.Get(ctx, key).Int64()
		if err == redis.Nil {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mem[key], nil
}

func (q *QuotaManager) consumeRedis(ctx context.Context, key string, amount int64) (int64, error) {
	pipe := q.redis.Pipeline()
	incr := pipe.IncrBy(ctx, key, amount)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (q *QuotaManager) dayKey(userID string) string {
	return fmt.Sprintf("%s:%s:%s", quotaKeyPrefix, userID, q.now().UTC().Format("2006-01-02"))
}
