package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"formpilot/internal/util"
	"formpilot/pkg/domain"
)

func (a *App) oauthConfig(provider domain.Provider) (*oauth2.Config, error) {
	if provider == domain.ProviderTally {
		return nil, ErrProviderUnsupported
	}
	cfg, ok := a.oauth[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, ErrProviderNotConfigured)
	}
	return cfg, nil
}

// AuthorizeURL starts the authorization-code flow for userID.
func (a *App) AuthorizeURL(ctx context.Context, provider domain.Provider, userID string) (string, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return "", err
	}
	cfg, err := a.oauthConfig(provider)
	if err != nil {
		return "", err
	}
	state, err := a.states.Issue(ctx, userID, string(provider))
	if err != nil {
		return "", fmt.Errorf("issue oauth state: %w", err)
	}
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if provider == domain.ProviderGoogle {
		// Google only returns a refresh token on the consent screen.
		opts = append(opts, oauth2.ApprovalForce)
	}
	util.LoggerFromContext(ctx).Info("security_event", "event", "oauth_authorize", "provider", provider, "userId", userID)
	return cfg.AuthCodeURL(state, opts...), nil
}

// CompleteAuthorization handles the provider redirect: it redeems the state,
// exchanges the code and stores the sealed token. It returns the user id the
// flow was started for.
func (a *App) CompleteAuthorization(ctx context.Context, provider domain.Provider, code, state, providerErr string) (string, error) {
	logger := util.LoggerFromContext(ctx)
	cfg, err := a.oauthConfig(provider)
	if err != nil {
		return "", err
	}
	if providerErr = strings.TrimSpace(providerErr); providerErr != "" {
		logger.Warn("security_event", "event", "oauth_denied", "provider", provider, "reason", providerErr)
		return "", fmt.Errorf("%w: %s", ErrAuthorizationDenied, providerErr)
	}
	code = strings.TrimSpace(code)
	if code == "" || strings.TrimSpace(state) == "" {
		return "", invalid("code and state are required")
	}
	userID, err := a.states.Consume(ctx, state, string(provider))
	if err != nil {
		logger.Warn("security_event", "event", "oauth_state_rejected", "provider", provider, "err", err)
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			logger.Warn("oauth code exchange rejected", "provider", provider, "code", retrieveErr.ErrorCode, "description", retrieveErr.ErrorDescription)
		}
		return userID, fmt.Errorf("exchange %s code: %w", provider, err)
	}
	if err := a.saveToken(ctx, userID, provider, tok); err != nil {
		return userID, err
	}
	logger.Info("security_event", "event", "provider_connected", "provider", provider, "userId", userID)
	return userID, nil
}
