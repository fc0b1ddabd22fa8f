// Package ratelimit bounds per-key request rates with a Redis sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow returns 1 when admitted, otherwise the negative wait in ms.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(tonumber(oldest[2]) + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter admits at most limit requests per key within window.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
	seq    atomic.Uint64
}

func NewSlidingWindowLimiter(client *redis.Client, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		prefix: "ratelimit",
		now:    time.Now,
	}
}

// Allow reports whether the request may proceed. When it may not, the
// returned duration is how long until the oldest request leaves the window.
// Redis failures admit the request.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.redis == nil || l.limit <= 0 {
		return true, 0, nil
	}

	now := l.now()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), l.seq.Add(1))

	result, err := slidingWindow.Run(ctx, l.redis, []string{l.key(key)},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
		member,
	).Int64()
	if err != nil {
		return true, 0, fmt.Errorf("rate limit check: %w", err)
	}

	switch {
	case result == 1:
		return true, 0, nil
	case result < 0:
		return false, time.Duration(-result) * time.Millisecond, nil
	default:
		return false, l.window, nil
	}
}

// Reset forgets all recorded requests for key.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Del(ctx, l.key(key)).Err()
}

func (l *SlidingWindowLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}
