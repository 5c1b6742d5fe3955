package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var windowCounter = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// WindowCount increments the counter for key in the fixed window containing
// now and returns the new count. The counter expires with its window.
func WindowCount(ctx context.Context, client redis.UniversalClient, key string, window time.Duration, now time.Time) (int64, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return 0, errors.New("window must be at least 1ms")
	}
	slot := now.UTC().UnixMilli() / windowMs
	return windowCounter.Run(ctx, client, []string{fmt.Sprintf("%s:%d", key, slot)}, windowMs).Int64()
}

// FixedWindowLimiter allows limit requests per key and window. Counters live
// in Redis so all API replicas share a quota.
type FixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
}

func NewFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "formpilot:ratelimit"
	}
	return &FixedWindowLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}, nil
}

// Window is the quota period, reported to clients as Retry-After.
func (l *FixedWindowLimiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.window
}

// Allow reports whether key is still within quota. Redis errors deny the request.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return false
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "unknown"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := WindowCount(ctx, l.client, l.prefix+":"+key, l.window, time.Now())
	if err != nil {
		return false
	}
	return count <= l.limit
}
