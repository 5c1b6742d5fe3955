package storage

import (
	"context"
	"testing"
	"time"
)

func TestExportKey(t *testing.T) {
	if got := ExportKey("form-1", "job-2"); got != "exports/form-1/job-2.csv" {
		t.Fatalf("ExportKey = %q", got)
	}
}

func TestNewMinioStoreRequiresBucket(t *testing.T) {
	if _, err := NewMinioStore(context.Background(), MinioConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

func TestExportLifecycleRoundsUpToDays(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		days int
	}{
		{time.Hour, 1},
		{24 * time.Hour, 1},
		{25 * time.Hour, 2},
		{72 * time.Hour, 3},
	}
	for _, tc := range cases {
		cfg := exportLifecycle(tc.ttl)
		if len(cfg.Rules) != 1 {
			t.Fatalf("rules = %d", len(cfg.Rules))
		}
		rule := cfg.Rules[0]
		if rule.Status != "Enabled" || rule.RuleFilter.Prefix != "exports/" {
			t.Fatalf("unexpected rule: %+v", rule)
		}
		if got := int(rule.Expiration.Days); got != tc.days {
			t.Errorf("ttl %s: days = %d, want %d", tc.ttl, got, tc.days)
		}
	}
}
