package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// RateLimiter enforces RateLimitSpec, backed by an in-process token bucket per
// key for RateLimitLocal and a Redis-counted fixed window for RateLimitGlobal.
type RateLimiter struct {
	redis *redis.Client

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient, buckets: map[string]*rate.Limiter{}}
}

// Allow reports whether a request keyed by key is permitted under spec,
// consuming one token/slot if so.
func (r *RateLimiter) Allow(ctx context.Context, spec *config.RateLimitSpec, key string) (bool, error) {
	switch spec.Kind {
	case config.RateLimitGlobal:
		return r.allowGlobal(ctx, spec, key)
	default:
		return r.allowLocal(spec, key), nil
	}
}

func (r *RateLimiter) allowLocal(spec *config.RateLimitSpec, key string) bool {
	limiter := r.bucketFor(spec, key)
	return limiter.Allow()
}

func (r *RateLimiter) bucketFor(spec *config.RateLimitSpec, key string) *rate.Limiter {
	unit := spec.Unit
	if unit <= 0 {
		unit = time.Second
	}
	perSecond := rate.Limit(float64(spec.RequestsPerUnit) / unit.Seconds())
	burst := spec.BurstSize
	if burst <= 0 {
		burst = spec.RequestsPerUnit
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cacheKey := fmt.Sprintf("%s|%g|%d", key, float64(perSecond), burst)
	if l, ok := r.buckets[cacheKey]; ok {
		return l
	}
	l := rate.NewLimiter(perSecond, burst)
	r.buckets[cacheKey] = l
	return l
}

// allowGlobal implements a Redis-backed fixed-window counter shared across
// every gateway replica, trading precision for O(1) coordination cost.
func (r *RateLimiter) allowGlobal(ctx context.Context, spec *config.RateLimitSpec, key string) (bool, error) {
	if r.redis == nil {
		return false, fmt.Errorf("global rate limit configured but no redis client available")
	}
	unit := spec.Unit
	if unit <= 0 {
		unit = time.Second
	}
	window := time.Now().Truncate(unit).Unix()
	redisKey := fmt.Sprintf("agentgateway:ratelimit:%s:%d", key, window)

	count, err := r.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		r.redis.Expire(ctx, redisKey, unit)
	}
	return int(count) <= spec.RequestsPerUnit, nil
}
