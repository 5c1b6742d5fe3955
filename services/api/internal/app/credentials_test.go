package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"formpilot/pkg/domain"
)

func TestConnectTallyAndStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.app.ConnectTally(ctx, "user-1", "tly_bad"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
	if err := env.app.ConnectTally(ctx, "user-1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := env.app.ConnectTally(ctx, "user-1", "tly_good"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	cred, ok, _ := env.store.GetCredential(ctx, "user-1", domain.ProviderTally)
	if !ok || cred.AccessToken.Ciphertext == "" || cred.AccessToken.Ciphertext == "tly_good" {
		t.Fatalf("api key not sealed: %+v", cred.AccessToken)
	}
	if !cred.ExpiresAt.IsZero() {
		t.Fatalf("api keys must not expire, got %v", cred.ExpiresAt)
	}
	connected, err := env.app.IsConnected(ctx, "user-1", domain.ProviderTally)
	if err != nil || !connected {
		t.Fatalf("expected connected: %v %v", connected, err)
	}
}

func TestExpiredAndUndecryptableCredentialsAreDisconnected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.storeToken(t, "user-1", domain.ProviderGoogle, "access", "refresh", testNow.Add(-time.Minute))
	if ok, _ := env.app.IsConnected(ctx, "user-1", domain.ProviderGoogle); ok {
		t.Fatalf("expired token must report disconnected")
	}

	env.storeToken(t, "user-1", domain.ProviderTypeform, "access", "", testNow.Add(time.Hour))
	cred, _, _ := env.store.GetCredential(ctx, "user-1", domain.ProviderTypeform)
	cred.AccessToken.Tag = strings.Repeat("0", 32)
	if err := env.store.SaveCredential(ctx, cred); err != nil {
		t.Fatalf("save tampered credential: %v", err)
	}
	ok, err := env.app.IsConnected(ctx, "user-1", domain.ProviderTypeform)
	if err != nil || ok {
		t.Fatalf("undecryptable credential must report disconnected: %v %v", ok, err)
	}
}

func TestDisconnectAndConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.storeToken(t, "user-1", domain.ProviderGoogle, "g-access", "g-refresh", testNow.Add(time.Hour))
	if err := env.app.ConnectTally(ctx, "user-1", "tly_good"); err != nil {
		t.Fatalf("connect tally: %v", err)
	}
	got, err := env.app.Connections(ctx, "user-1")
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	if !got[domain.ProviderGoogle] || got[domain.ProviderTypeform] || !got[domain.ProviderTally] {
		t.Fatalf("unexpected connections: %v", got)
	}
	if err := env.app.Disconnect(ctx, "user-1", domain.ProviderGoogle); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if ok, _ := env.app.IsConnected(ctx, "user-1", domain.ProviderGoogle); ok {
		t.Fatalf("expected disconnected after disconnect")
	}
	if _, err := env.app.Connections(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
