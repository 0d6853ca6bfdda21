package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPauseKey = "sentinela:hubsoft:ratelimit:until"

// rateLimitPaused reports whether another worker (in this process or a
// sibling one, since the window lives in Redis) has already observed a 429
// and the reset window hasn't elapsed. Without Redis this always reports
// unpaused — the per-client token bucket in internal/hubsoft still throttles
// locally.
func (e *Engine) rateLimitPaused(ctx context.Context) bool {
	if e.rdb == nil {
		return false
	}
	val, err := e.rdb.Get(ctx, rateLimitPauseKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.logger.Warn("reading rate limit pause window", "error", err)
		}
		return false
	}
	untilUnix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false
	}
	return time.Now().Before(time.Unix(untilUnix, 0))
}

// pauseRateLimit stores the reset deadline in Redis so every worker across
// every Engine process honors the same pause window.
func (e *Engine) pauseRateLimit(ctx context.Context, resetAfter time.Duration) {
	if e.rdb == nil {
		return
	}
	if resetAfter <= 0 {
		resetAfter = 60 * time.Second
	}
	until := time.Now().Add(resetAfter)
	if err := e.rdb.Set(ctx, rateLimitPauseKey, strconv.FormatInt(until.Unix(), 10), resetAfter).Err(); err != nil {
		e.logger.Warn("setting rate limit pause window", "error", err)
	}
}
