package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "reuses well-formed id", incoming: "edge-7f3a:1", keep: true},
		{name: "mints when missing", incoming: ""},
		{name: "replaces oversized id", incoming: strings.Repeat("a", maxRequestIDLen+1)},
		{name: "replaces id with control characters", incoming: "abc\ninjected=1"},
		{name: "replaces id with spaces", incoming: "two words"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var inCtx string
			h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				inCtx = RequestIDFromContext(r.Context())
				if LoggerFromContext(r.Context()) == nil {
					t.Fatal("expected request logger in context")
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/forms", nil)
			if tc.incoming != "" {
				req.Header[requestIDHeader] = []string{tc.incoming}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(requestIDHeader)
			if got == "" || got != inCtx {
				t.Fatalf("header %q and context %q should carry the same id", got, inCtx)
			}
			if (got == tc.incoming) != tc.keep {
				t.Fatalf("incoming %q, got %q, keep=%v", tc.incoming, got, tc.keep)
			}
		})
	}
}
