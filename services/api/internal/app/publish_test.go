package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"formpilot/pkg/domain"
)

func TestPublishRequiresConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := PublishInput{UserID: "user-1", Definition: sampleDefinition()}
	_, err := env.app.PublishTally(ctx, in)
	if !errors.Is(err, ErrNotConnected) || err.Error() != "tally not connected" {
		t.Fatalf("expected tally not connected, got %v", err)
	}
	if _, err := env.app.PublishTypeform(ctx, in); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected typeform not connected, got %v", err)
	}
	if _, err := env.app.PublishGoogleForm(ctx, in); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected google not connected, got %v", err)
	}
	if _, err := env.app.PublishTally(ctx, PublishInput{Definition: sampleDefinition()}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing userId rejected, got %v", err)
	}
	if _, err := env.app.PublishTally(ctx, PublishInput{UserID: "user-1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty definition rejected, got %v", err)
	}
}

func TestPublishTallyRecordsForm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.app.ConnectTally(ctx, "user-1", "tly_good"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	res, err := env.app.PublishTally(ctx, PublishInput{UserID: "user-1", Definition: sampleDefinition()})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Published.ExternalID != "tly1" || res.Form.Tool != domain.ToolTally || res.Form.EditLink == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	forms, _ := env.app.ListForms(ctx, "user-1")
	if len(forms) != 1 || forms[0].ExternalID != "tly1" {
		t.Fatalf("published form not recorded: %+v", forms)
	}
}

func TestPublishTallyRevokedKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.storeToken(t, "user-1", domain.ProviderTally, "tly_revoked", "", time.Time{})
	if _, err := env.app.PublishTally(ctx, PublishInput{UserID: "user-1", Definition: sampleDefinition()}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected rejected key to map to not connected, got %v", err)
	}
}

func TestPublishTypeformRefreshFallsBack(t *testing.T) {
	srv := tokenServer(t, "", http.StatusBadRequest)
	env := newTestEnv(t, func(c *Config) { c.TypeformOAuth.Endpoint.TokenURL = srv.URL })
	ctx := context.Background()
	env.storeToken(t, "user-1", domain.ProviderTypeform, "stale-access", "refresh-1", testNow.Add(-time.Hour))

	if _, err := env.app.PublishTypeform(ctx, PublishInput{UserID: "user-1", Definition: sampleDefinition()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(env.typeform.usedTokens) != 1 || env.typeform.usedTokens[0] != "stale-access" {
		t.Fatalf("expected fallback to stored token, used %v", env.typeform.usedTokens)
	}
}

func TestPublishTypeformRefreshesExpiredToken(t *testing.T) {
	srv := tokenServer(t, "fresh-access", http.StatusOK)
	env := newTestEnv(t, func(c *Config) { c.TypeformOAuth.Endpoint.TokenURL = srv.URL })
	ctx := context.Background()
	env.storeToken(t, "user-1", domain.ProviderTypeform, "stale-access", "refresh-1", testNow.Add(-time.Hour))

	if _, err := env.app.PublishTypeform(ctx, PublishInput{UserID: "user-1", Definition: sampleDefinition()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if env.typeform.usedTokens[0] != "fresh-access" {
		t.Fatalf("expected refreshed token, used %v", env.typeform.usedTokens)
	}
	cred, err := env.app.loadCredential(ctx, "user-1", domain.ProviderTypeform)
	if err != nil || cred.accessToken != "fresh-access" || cred.refreshToken != "refresh-2" {
		t.Fatalf("refreshed token not persisted: %+v %v", cred, err)
	}
}

func TestPublishGooglePersistsRefreshedToken(t *testing.T) {
	srv := tokenServer(t, "g-fresh", http.StatusOK)
	env := newTestEnv(t, func(c *Config) { c.GoogleOAuth.Endpoint.TokenURL = srv.URL })
	ctx := context.Background()
	env.storeToken(t, "user-1", domain.ProviderGoogle, "g-stale", "g-refresh", time.Now().Add(-time.Hour))

	res, err := env.app.PublishGoogleForm(ctx, PublishInput{UserID: "user-1", Definition: sampleDefinition()})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Published.EditURL == "" || res.Form.Tool != domain.ToolGoogleForms {
		t.Fatalf("unexpected result: %+v", res)
	}
	if env.google.usedTokens[0] != "g-fresh" {
		t.Fatalf("expected refreshed token, used %v", env.google.usedTokens)
	}
	cred, _ := env.app.loadCredential(ctx, "user-1", domain.ProviderGoogle)
	if cred.accessToken != "g-fresh" {
		t.Fatalf("refreshed google token not persisted: %q", cred.accessToken)
	}
}

func TestPublishGoogleValidTokenNotRefreshed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.storeToken(t, "user-1", domain.ProviderGoogle, "g-valid", "", time.Now().Add(time.Hour))
	if _, err := env.app.PublishGoogleForm(ctx, PublishInput{UserID: "user-1", Definition: sampleDefinition()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if env.google.usedTokens[0] != "g-valid" {
		t.Fatalf("unexpected token: %v", env.google.usedTokens)
	}
}
