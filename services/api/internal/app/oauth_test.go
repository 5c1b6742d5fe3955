package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"formpilot/pkg/domain"
)

func TestAuthorizeURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.app.AuthorizeURL(ctx, domain.ProviderTally, "user-1"); !errors.Is(err, ErrProviderUnsupported) {
		t.Fatalf("expected ErrProviderUnsupported for tally, got %v", err)
	}
	if _, err := env.app.AuthorizeURL(ctx, domain.ProviderGoogle, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	raw, err := env.app.AuthorizeURL(ctx, domain.ProviderGoogle, "user-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-user-1-google" || q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Fatalf("unexpected authorize query: %v", q)
	}
}

func TestAuthorizeUnconfiguredProvider(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.TypeformOAuth = nil })
	if _, err := env.app.AuthorizeURL(context.Background(), domain.ProviderTypeform, "user-1"); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestCompleteAuthorizationStoresToken(t *testing.T) {
	srv := tokenServer(t, "tf-access", http.StatusOK)
	env := newTestEnv(t, func(c *Config) { c.TypeformOAuth.Endpoint.TokenURL = srv.URL })
	ctx := context.Background()

	if _, err := env.app.AuthorizeURL(ctx, domain.ProviderTypeform, "user-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	userID, err := env.app.CompleteAuthorization(ctx, domain.ProviderTypeform, "code-1", "state-user-1-typeform", "")
	if err != nil || userID != "user-1" {
		t.Fatalf("complete: %q %v", userID, err)
	}
	cred, err := env.app.loadCredential(ctx, "user-1", domain.ProviderTypeform)
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if cred.accessToken != "tf-access" || cred.refreshToken != "refresh-2" || cred.record.Scope != "forms:write" {
		t.Fatalf("unexpected stored credential: %+v", cred)
	}

	_, err = env.app.CompleteAuthorization(ctx, domain.ProviderTypeform, "code-1", "state-user-1-typeform", "")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected replayed state to fail, got %v", err)
	}
}

func TestCompleteAuthorizationErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.app.CompleteAuthorization(ctx, domain.ProviderGoogle, "", "", "access_denied"); !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected ErrAuthorizationDenied, got %v", err)
	}
	if _, err := env.app.CompleteAuthorization(ctx, domain.ProviderGoogle, "", "s", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.app.CompleteAuthorization(ctx, domain.ProviderGoogle, "c", "forged", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
