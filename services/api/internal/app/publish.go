package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"formpilot/internal/util"
	"formpilot/pkg/domain"
	"formpilot/pkg/providers"
)

type PublishInput struct {
	UserID     string
	Definition domain.FormDefinition
}

// PublishResult is the provider's answer plus the form record kept for the user.
type PublishResult struct {
	Published providers.Published
	Form      domain.Form
}

// PublishGoogleForm creates the form in the user's Google account.
func (a *App) PublishGoogleForm(ctx context.Context, in PublishInput) (PublishResult, error) {
	userID, def, err := publishArgs(in)
	if err != nil {
		return PublishResult{}, err
	}
	cfg, ok := a.oauth[domain.ProviderGoogle]
	if !ok || a.googleForms == nil {
		return PublishResult{}, fmt.Errorf("google: %w", ErrProviderNotConfigured)
	}
	cred, err := a.loadCredential(ctx, userID, domain.ProviderGoogle)
	if err != nil {
		return PublishResult{}, err
	}
	tok := cred.token()
	if !tok.Valid() && tok.RefreshToken == "" {
		return PublishResult{}, notConnected(string(domain.ProviderGoogle))
	}
	ts := cfg.TokenSource(ctx, tok)
	pub, err := a.googleForms.CreateForm(ctx, ts, def)
	a.persistRefreshed(ctx, userID, domain.ProviderGoogle, tok, ts)
	if err != nil {
		return PublishResult{}, publishError(domain.ProviderGoogle, err)
	}
	return a.recordPublished(ctx, userID, domain.ToolGoogleForms, def, pub), nil
}

// persistRefreshed stores the token source's current token when it rotated.
func (a *App) persistRefreshed(ctx context.Context, userID string, provider domain.Provider, old *oauth2.Token, ts oauth2.TokenSource) {
	fresh, err := ts.Token()
	if err != nil || fresh.AccessToken == old.AccessToken {
		return
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = old.RefreshToken
	}
	if err := a.saveToken(ctx, userID, provider, fresh); err != nil {
		util.LoggerFromContext(ctx).Warn("persist refreshed token failed", "provider", provider, "err", err)
	}
}

// PublishTypeform creates the form in the user's Typeform workspace. An
// expired token is refreshed first; a failed refresh falls back to the
// stored token.
func (a *App) PublishTypeform(ctx context.Context, in PublishInput) (PublishResult, error) {
	userID, def, err := publishArgs(in)
	if err != nil {
		return PublishResult{}, err
	}
	if a.typeform == nil {
		return PublishResult{}, fmt.Errorf("typeform: %w", ErrProviderNotConfigured)
	}
	cred, err := a.loadCredential(ctx, userID, domain.ProviderTypeform)
	if err != nil {
		return PublishResult{}, err
	}
	accessToken := cred.accessToken
	if cfg, ok := a.oauth[domain.ProviderTypeform]; ok && cred.record.Expired(a.now()) && cred.refreshToken != "" {
		fresh, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.refreshToken}).Token()
		if err != nil {
			util.LoggerFromContext(ctx).Warn("typeform token refresh failed, using stored token", "userId", userID, "err", err)
		} else {
			if fresh.RefreshToken == "" {
				fresh.RefreshToken = cred.refreshToken
			}
			if err := a.saveToken(ctx, userID, domain.ProviderTypeform, fresh); err != nil {
				util.LoggerFromContext(ctx).Warn("persist refreshed token failed", "provider", domain.ProviderTypeform, "err", err)
			}
			accessToken = fresh.AccessToken
		}
	}
	pub, err := a.typeform.CreateForm(ctx, accessToken, def)
	if err != nil {
		return PublishResult{}, publishError(domain.ProviderTypeform, err)
	}
	return a.recordPublished(ctx, userID, domain.ToolTypeform, def, pub), nil
}

// PublishTally creates the form with the user's Tally API key.
func (a *App) PublishTally(ctx context.Context, in PublishInput) (PublishResult, error) {
	userID, def, err := publishArgs(in)
	if err != nil {
		return PublishResult{}, err
	}
	if a.tally == nil {
		return PublishResult{}, fmt.Errorf("tally: %w", ErrProviderNotConfigured)
	}
	cred, err := a.loadCredential(ctx, userID, domain.ProviderTally)
	if err != nil {
		return PublishResult{}, err
	}
	pub, err := a.tally.CreateForm(ctx, cred.accessToken, def)
	if err != nil {
		return PublishResult{}, publishError(domain.ProviderTally, err)
	}
	return a.recordPublished(ctx, userID, domain.ToolTally, def, pub), nil
}

func publishArgs(in PublishInput) (string, domain.FormDefinition, error) {
	userID, err := requireUser(in.UserID)
	if err != nil {
		return "", domain.FormDefinition{}, err
	}
	def, err := prepareDefinition(in.Definition, "", "")
	if err != nil {
		return "", domain.FormDefinition{}, err
	}
	return userID, def, nil
}

// publishError turns a rejected credential into a not-connected error.
func publishError(provider domain.Provider, err error) error {
	if providers.IsUnauthorized(err) {
		return notConnected(string(provider))
	}
	return fmt.Errorf("publish to %s: %w", provider, err)
}

// recordPublished keeps a form record for an externally hosted form. The
// external form already exists, so a failure here is logged, not returned.
func (a *App) recordPublished(ctx context.Context, userID string, tool domain.Tool, def domain.FormDefinition, pub providers.Published) PublishResult {
	now := a.now()
	form := domain.Form{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         def.Title,
		Description:   def.Description,
		Definition:    def,
		ShareableLink: pub.URL,
		Tool:          tool,
		ExternalID:    pub.ExternalID,
		EditLink:      pub.EditURL,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if strings.TrimSpace(pub.URL) != "" {
		form.ShortLink = a.shorten(ctx, pub.URL)
	}
	if err := a.store.SaveForm(ctx, form); err != nil {
		util.LoggerFromContext(ctx).Error("record published form failed", "tool", tool, "externalId", pub.ExternalID, "err", err)
	}
	return PublishResult{Published: pub, Form: form}
}
