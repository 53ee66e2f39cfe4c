package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLimiter is a sliding-window limiter backed by Redis so rate
// limits hold across multiple gateway replicas instead of being
// per-process. It uses a sorted set per key (score = unix nanos), the
// standard Redis sliding-window-log pattern: one transaction pipeline
// trims everything older than the window and counts what's left, and a
// second one adds the current request when it is allowed and recorded.
// The count and the add are separate round trips, so concurrent requests
// for the same key can all pass the count before any of them is added.
type DistributedLimiter struct {
	rdb    *redis.Client
	rpm    uint32
	window time.Duration
	prefix string
}

// NewDistributedLimiter builds a limiter against an existing redis
// client. Callers wanting an in-memory fake for tests should point rdb
// at a github.com/alicebob/miniredis/v2 server instead of a real Redis.
func NewDistributedLimiter(rdb *redis.Client, rpm uint32, window time.Duration, prefix string) *DistributedLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if prefix == "" {
		prefix = "llmgateway:ratelimit:"
	}
	return &DistributedLimiter{rdb: rdb, rpm: rpm, window: window, prefix: prefix}
}

func (d *DistributedLimiter) redisKey(key string) string {
	return d.prefix + key
}

// CheckAndRecord evaluates key's sliding window budget and, if allowed,
// records the current request in the same pipeline.
func (d *DistributedLimiter) CheckAndRecord(ctx context.Context, key string) (Result, error) {
	return d.checkAndMaybeRecord(ctx, key, true)
}

// Check evaluates without recording.
func (d *DistributedLimiter) Check(ctx context.Context, key string) (Result, error) {
	return d.checkAndMaybeRecord(ctx, key, false)
}

func (d *DistributedLimiter) checkAndMaybeRecord(ctx context.Context, key string, record bool) (Result, error) {
	rk := d.redisKey(key)
	now := time.Now()
	windowStart := now.Add(-d.window)

	pipe := d.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rk, "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: trimming window: %w", err)
	}

	currentCount := uint32(countCmd.Val())
	allowed := currentCount < d.rpm
	remaining := saturatingSub(d.rpm, currentCount)

	result := Result{
		Allowed: allowed, CurrentCount: currentCount, Limit: d.rpm,
		Remaining: remaining, ResetAfter: d.window,
	}

	if !allowed {
		// Oldest member's score tells us when the window will next admit
		// a request.
		oldest, err := d.rdb.ZRangeWithScores(ctx, rk, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			result.ResetAfter = maxDuration(d.window-now.Sub(oldestAt), 0)
		}
		result.RetryAfter = maxDuration(result.ResetAfter, time.Second)
		return result, nil
	}

	if record {
		member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond())
		addPipe := d.rdb.TxPipeline()
		addPipe.ZAdd(ctx, rk, redis.Z{Score: float64(now.UnixNano()), Member: member})
		addPipe.Expire(ctx, rk, d.window+time.Second)
		if _, err := addPipe.Exec(ctx); err != nil {
			return Result{}, fmt.Errorf("ratelimit: recording request: %w", err)
		}
		result.Remaining = saturatingSub(remaining, 1)
	}

	return result, nil
}
