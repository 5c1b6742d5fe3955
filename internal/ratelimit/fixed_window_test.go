package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return limiter, srv
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	limiter, _ := newLimiter(t, 2)
	ctx := context.Background()
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow(ctx, "ip-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow(ctx, "ip-2") {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	limiter, srv := newLimiter(t, 1)
	srv.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewFixedWindowLimiter(nil, "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for nil redis client")
	}
}

func TestFixedWindowLimiterNilIsClosed(t *testing.T) {
	var limiter *FixedWindowLimiter
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("nil limiter must not allow")
	}
}

func TestWindowCountSlots(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{start, start.Add(30 * time.Second), start.Add(59 * time.Second)} {
		n, err := WindowCount(ctx, client, "test:count", time.Minute, at)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != int64(i+1) {
			t.Fatalf("count %d in same window = %d", i, n)
		}
	}
	n, err := WindowCount(ctx, client, "test:count", time.Minute, start.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("next window should restart, got %d %v", n, err)
	}
	for _, key := range srv.Keys() {
		if ttl := srv.TTL(key); ttl <= 0 || ttl > time.Minute {
			t.Fatalf("%s ttl %v", key, ttl)
		}
	}
	if _, err := WindowCount(ctx, client, "test:count", 0, start); err == nil {
		t.Fatal("expected error for zero window")
	}
}
