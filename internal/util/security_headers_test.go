package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithSecurityHeaders(t *testing.T, handler http.HandlerFunc, req *http.Request) http.Header {
	t.Helper()
	rec := httptest.NewRecorder()
	WithSecurityHeaders(handler).ServeHTTP(rec, req)
	return rec.Header()
}

func TestWithSecurityHeadersDefaults(t *testing.T) {
	noContent := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	h := serveWithSecurityHeaders(t, noContent, httptest.NewRequest(http.MethodGet, "/api/forms", nil))
	for _, kv := range apiHeaders {
		if got := h.Get(kv[0]); got != kv[1] {
			t.Fatalf("%s = %q, want %q", kv[0], got, kv[1])
		}
	}
	if got := h.Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("plain http request got HSTS %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/forms", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	if got := serveWithSecurityHeaders(t, noContent, req).Get("Strict-Transport-Security"); got == "" {
		t.Fatal("expected HSTS behind a TLS-terminating proxy")
	}
}

func TestWithSecurityHeadersHandlerOverride(t *testing.T) {
	const csp = "default-src 'none'; script-src 'nonce-abc'"
	callback := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Security-Policy", csp)
		w.Header().Set("Cross-Origin-Opener-Policy", "unsafe-none")
		w.WriteHeader(http.StatusOK)
	}
	h := serveWithSecurityHeaders(t, callback, httptest.NewRequest(http.MethodGet, "/api/auth/google/callback", nil))
	if got := h.Get("Content-Security-Policy"); got != csp {
		t.Fatalf("handler CSP should win, got %q", got)
	}
	if got := h.Get("Cross-Origin-Opener-Policy"); got != "unsafe-none" {
		t.Fatalf("handler opener policy should win, got %q", got)
	}
}
