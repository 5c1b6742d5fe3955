package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"formpilot/internal/util"
	"formpilot/pkg/domain"
	"formpilot/pkg/providers"
)

// openedCredential is a stored credential with its secrets decrypted.
type openedCredential struct {
	record       domain.ProviderCredential
	accessToken  string
	refreshToken string
}

func (c openedCredential) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.accessToken,
		RefreshToken: c.refreshToken,
		TokenType:    c.record.TokenType,
		Expiry:       c.record.ExpiresAt,
	}
}

// saveToken seals an OAuth token (or, for Tally, an API key in AccessToken).
func (a *App) saveToken(ctx context.Context, userID string, provider domain.Provider, tok *oauth2.Token) error {
	access, err := a.cipher.Seal(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := a.cipher.Seal(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	scope, _ := tok.Extra("scope").(string)
	now := a.now()
	cred := domain.ProviderCredential{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry.UTC(),
		Scope:        scope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("save %s credential: %w", provider, err)
	}
	return nil
}

// loadCredential returns the decrypted credential or an error wrapping
// ErrNotConnected when there is none or it cannot be decrypted.
func (a *App) loadCredential(ctx context.Context, userID string, provider domain.Provider) (openedCredential, error) {
	cred, ok, err := a.store.GetCredential(ctx, userID, provider)
	if err != nil {
		return openedCredential{}, fmt.Errorf("get %s credential: %w", provider, err)
	}
	if !ok {
		return openedCredential{}, notConnected(string(provider))
	}
	access, err := a.cipher.Open(cred.AccessToken)
	if err != nil || access == "" {
		util.LoggerFromContext(ctx).Warn("credential decrypt failed", "provider", provider, "userId", userID, "err", err)
		return openedCredential{}, notConnected(string(provider))
	}
	refresh, err := a.cipher.Open(cred.RefreshToken)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("refresh token decrypt failed", "provider", provider, "userId", userID, "err", err)
		refresh = ""
	}
	return openedCredential{record: cred, accessToken: access, refreshToken: refresh}, nil
}

// IsConnected reports whether the user holds a usable, unexpired credential.
func (a *App) IsConnected(ctx context.Context, userID string, provider domain.Provider) (bool, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return false, err
	}
	cred, err := a.loadCredential(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return false, nil
		}
		return false, err
	}
	return !cred.record.Expired(a.now()), nil
}

// Disconnect forgets the user's credential for provider.
func (a *App) Disconnect(ctx context.Context, userID string, provider domain.Provider) error {
	userID, err := requireUser(userID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteCredential(ctx, userID, provider); err != nil {
		return fmt.Errorf("delete %s credential: %w", provider, err)
	}
	util.LoggerFromContext(ctx).Info("security_event", "event", "provider_disconnected", "provider", provider, "userId", userID)
	return nil
}

// Connections resolves the connection status of every provider concurrently.
func (a *App) Connections(ctx context.Context, userID string) (map[domain.Provider]bool, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	results := make([]bool, len(domain.Providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range domain.Providers {
		i, p := i, p
		g.Go(func() error {
			ok, err := a.IsConnected(gctx, userID, p)
			if err != nil {
				return err
			}
			results[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[domain.Provider]bool, len(results))
	for i, p := range domain.Providers {
		out[p] = results[i]
	}
	return out, nil
}

// ConnectTally validates an API key against Tally and stores it sealed.
func (a *App) ConnectTally(ctx context.Context, userID, apiKey string) error {
	userID, err := requireUser(userID)
	if err != nil {
		return err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return invalid("apiKey is required")
	}
	if a.tally == nil {
		return fmt.Errorf("tally: %w", ErrProviderNotConfigured)
	}
	if err := a.tally.VerifyKey(ctx, apiKey); err != nil {
		if providers.IsUnauthorized(err) {
			return ErrInvalidAPIKey
		}
		return fmt.Errorf("verify tally key: %w", err)
	}
	if err := a.saveToken(ctx, userID, domain.ProviderTally, &oauth2.Token{AccessToken: apiKey, TokenType: "api_key"}); err != nil {
		return err
	}
	util.LoggerFromContext(ctx).Info("security_event", "event", "provider_connected", "provider", domain.ProviderTally, "userId", userID)
	return nil
}
