package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"formpilot/pkg/domain"
)

// Store defines persistence for forms, submissions, provider credentials
// and conversations.
type Store interface {
	// forms
	SaveForm(ctx context.Context, form domain.Form) error
	GetForm(ctx context.Context, id string) (domain.Form, bool, error)
	ListFormsByUser(ctx context.Context, userID string) ([]domain.Form, error)
	SetFormActive(ctx context.Context, id string, active bool) error

	// submissions; AddSubmission also increments the form's counter
	AddSubmission(ctx context.Context, sub domain.Submission) error
	ListSubmissions(ctx context.Context, formID string) ([]domain.Submission, error)

	// provider credentials, one per (user, provider)
	SaveCredential(ctx context.Context, cred domain.ProviderCredential) error
	GetCredential(ctx context.Context, userID string, provider domain.Provider) (domain.ProviderCredential, bool, error)
	DeleteCredential(ctx context.Context, userID string, provider domain.Provider) error

	// conversations
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)
	ListConversationsByUser(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)
	AppendConversationMessages(ctx context.Context, id string, msgs ...domain.Message) error
	DeleteConversation(ctx context.Context, id string) error

	Close() error
}

// Open selects a backend from the URL scheme: mongodb:// or mongodb+srv://
// selects MongoDB, anything else is treated as a Postgres DSN.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if strings.HasPrefix(databaseURL, "mongodb://") || strings.HasPrefix(databaseURL, "mongodb+srv://") {
		s, err := NewMongoStore(ctx, databaseURL, "")
		if err != nil {
			return nil, fmt.Errorf("init mongo store: %w", err)
		}
		return s, nil
	}
	s, err := NewGormStore(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	return s, nil
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MongoStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

const defaultConversationLimit = 50

func conversationLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return defaultConversationLimit
	}
	return limit
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
