package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"formpilot/internal/credcrypt"
	"formpilot/pkg/ai"
	"formpilot/pkg/domain"
	"formpilot/pkg/providers"
	"formpilot/pkg/shortlink"
	"formpilot/pkg/store"
)

const defaultExportURLExpiry = 15 * time.Minute

// StateIssuer issues and redeems OAuth state values.
type StateIssuer interface {
	Issue(ctx context.Context, userID, provider string) (string, error)
	Consume(ctx context.Context, state, provider string) (string, error)
}

// ExportQueue persists export jobs and their status.
type ExportQueue interface {
	Enqueue(ctx context.Context, formID, userID string) (domain.ExportJob, error)
	GetJob(ctx context.Context, jobID string) (domain.ExportJob, bool, error)
}

// ObjectStore holds export files.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type TallyClient interface {
	VerifyKey(ctx context.Context, apiKey string) error
	CreateForm(ctx context.Context, apiKey string, def domain.FormDefinition) (providers.Published, error)
}

type TypeformClient interface {
	CreateForm(ctx context.Context, accessToken string, def domain.FormDefinition) (providers.Published, error)
}

type GoogleFormsClient interface {
	CreateForm(ctx context.Context, ts oauth2.TokenSource, def domain.FormDefinition) (providers.Published, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store     store.Store
	Generator ai.Generator
	Cipher    *credcrypt.Cipher
	States    StateIssuer

	PublicBaseURL string
	// Shortener is optional; without it the short link equals the shareable link.
	Shortener shortlink.Shortener

	// Exports and Objects are optional together; without them exports are disabled.
	Exports         ExportQueue
	Objects         ObjectStore
	ExportURLExpiry time.Duration

	GoogleOAuth   *oauth2.Config
	TypeformOAuth *oauth2.Config
	GoogleForms   GoogleFormsClient
	Typeform      TypeformClient
	Tally         TallyClient

	Now func() time.Time
}

// App implements form hosting, provider publishing and form generation.
type App struct {
	store         store.Store
	generator     ai.Generator
	cipher        *credcrypt.Cipher
	states        StateIssuer
	publicBaseURL string
	shortener     shortlink.Shortener
	exports       ExportQueue
	objects       ObjectStore
	exportExpiry  time.Duration
	oauth         map[domain.Provider]*oauth2.Config
	googleForms   GoogleFormsClient
	typeform      TypeformClient
	tally         TallyClient
	now           func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator required")
	}
	if cfg.Cipher == nil {
		return nil, errors.New("credential cipher required")
	}
	if cfg.States == nil {
		return nil, errors.New("oauth state issuer required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		return nil, errors.New("public base url required")
	}
	if (cfg.Exports == nil) != (cfg.Objects == nil) {
		return nil, errors.New("exports require both a queue and an object store")
	}
	expiry := cfg.ExportURLExpiry
	if expiry <= 0 {
		expiry = defaultExportURLExpiry
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	oauth := map[domain.Provider]*oauth2.Config{}
	if cfg.GoogleOAuth != nil {
		oauth[domain.ProviderGoogle] = cfg.GoogleOAuth
	}
	if cfg.TypeformOAuth != nil {
		oauth[domain.ProviderTypeform] = cfg.TypeformOAuth
	}
	return &App{
		store:         cfg.Store,
		generator:     cfg.Generator,
		cipher:        cfg.Cipher,
		states:        cfg.States,
		publicBaseURL: base,
		shortener:     cfg.Shortener,
		exports:       cfg.Exports,
		objects:       cfg.Objects,
		exportExpiry:  expiry,
		oauth:         oauth,
		googleForms:   cfg.GoogleForms,
		typeform:      cfg.Typeform,
		tally:         cfg.Tally,
		now:           now,
	}, nil
}

func requireUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", invalid("userId is required")
	}
	return userID, nil
}
