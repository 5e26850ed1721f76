package security

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
)

const rateLimitKeyPrefix = "ratelimit"

// RateLimiter implements a sliding-window request log over Redis with an
// in-process fallback. When the store is unreachable it fails open.
type RateLimiter struct {
	redis *redis.Client

	mu  sync.Mutex
	mem map[string][]int64

	seq atomic.Uint64
	log zerolog.Logger
}

// NewRateLimiter creates a limiter. A nil client selects the in-memory path.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis: redisClient,
		mem:   make(map[string][]int64),
		log:   logging.WithComponent("ratelimit"),
	}
}

// IsAllowed records the request attempt and reports whether it fits within
// max requests per window for the given key.
func (r *RateLimiter) IsAllowed(ctx context.Context, key string, max int, window time.Duration) bool {
	if max <= 0 {
		return true
	}

	if r.redis != nil {
		allowed, err := r.isAllowedRedis(ctx, key, max, window)
		if err == nil {
			if !allowed {
				metrics.RateLimitDenials.Inc()
			}
			return allowed
		}
		// Fail open: availability beats precision for a gateway.
		r.log.Warn().Err(err).Str("key", key).Msg("rate limit store unreachable, allowing request")
		return true
	}

	allowed := r.isAllowedMemory(key, max, window)
	if !allowed {
		metrics.RateLimitDenials.Inc()
	}
	return allowed
}

func (r *RateLimiter) isAllowedRedis(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()
	member := fmt.Sprintf("%d:%d", now.UnixNano(), r.seq.Add(1))

	fullKey := fmt.Sprintf("%s:%s", rateLimitKeyPrefix, key)

	pipe := r.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "0", strconv.FormatInt(windowStart, 10))
	card := pipe.ZCard(ctx, fullKey)
	pipe.ZAdd(ctx, fullKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, fullKey, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return card.Val() < int64(max), nil
}

func (r *RateLimiter) isAllowedMemory(key string, max int, window time.Duration) bool {
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	r.mu.Lock()
	defer r.mu.Unlock()

	stamps := r.mem[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > windowStart {
			kept = append(kept, ts)
		}
	}

	allowed := len(kept) < max
	kept = append(kept, now)
	r.mem[key] = kept

	return allowed
}
