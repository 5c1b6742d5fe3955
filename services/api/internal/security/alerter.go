// Package security counts security events per client and flags bursts.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"formpilot/internal/ratelimit"
)

const defaultPrefix = "formpilot:api:alerts"

// Result is the outcome of observing one event.
type Result struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Alerter keeps fixed-window counters of security events in Redis.
type Alerter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewAlerter returns nil when client is nil; a nil Alerter observes nothing.
func NewAlerter(client redis.UniversalClient, prefix string) *Alerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Alerter{client: client, prefix: prefix, now: time.Now}
}

// Observe counts the event for ip and reports whether its rule threshold is reached.
// Events without a rule are ignored.
func (a *Alerter) Observe(ctx context.Context, event, outcome, ip string) (Result, error) {
	if a == nil {
		return Result{}, nil
	}
	threshold, window, ok := rule(event, outcome)
	if !ok {
		return Result{}, nil
	}
	key := fmt.Sprintf("%s:%s:%s:%s", a.prefix, segment(event), segment(outcome), segment(ip))
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := ratelimit.WindowCount(ctx, a.client, key, window, a.now())
	if err != nil {
		return Result{}, err
	}
	return Result{
		Triggered: count >= threshold,
		Count:     count,
		Threshold: threshold,
		Window:    window,
	}, nil
}

func rule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	outcome = strings.TrimSpace(outcome)
	if outcome == "rate_limited" {
		return 20, time.Minute, true
	}
	if outcome != "failure" && outcome != "denied" {
		return 0, 0, false
	}
	switch strings.TrimSpace(event) {
	case "oauth_callback":
		return 10, 10 * time.Minute, true
	case "tally_connect":
		return 5, 10 * time.Minute, true
	case "user_mismatch", "token_rejected":
		return 5, 5 * time.Minute, true
	}
	return 0, 0, false
}

func segment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
