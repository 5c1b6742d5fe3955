package store

import (
	"context"
	"sort"
	"sync"

	"formpilot/pkg/domain"
)

type credentialKey struct {
	userID   string
	provider domain.Provider
}

// MemoryStore keeps everything in-process. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	forms         map[string]domain.Form
	submissions   map[string][]domain.Submission
	credentials   map[credentialKey]domain.ProviderCredential
	conversations map[string]domain.Conversation
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forms:         make(map[string]domain.Form),
		submissions:   make(map[string][]domain.Submission),
		credentials:   make(map[credentialKey]domain.ProviderCredential),
		conversations: make(map[string]domain.Conversation),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SaveForm(_ context.Context, form domain.Form) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.forms[form.ID]; ok {
		form.SubmissionCount = existing.SubmissionCount
		form.CreatedAt = existing.CreatedAt
	}
	m.forms[form.ID] = form
	return nil
}

func (m *MemoryStore) GetForm(_ context.Context, id string) (domain.Form, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	form, ok := m.forms[id]
	return form, ok, nil
}

func (m *MemoryStore) ListFormsByUser(_ context.Context, userID string) ([]domain.Form, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Form, 0)
	for _, f := range m.forms {
		if f.UserID == userID {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) SetFormActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	form, ok := m.forms[id]
	if !ok {
		return nil
	}
	form.IsActive = active
	form.UpdatedAt = nowUTC()
	m.forms[id] = form
	return nil
}

func (m *MemoryStore) AddSubmission(_ context.Context, sub domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[sub.FormID] = append(m.submissions[sub.FormID], sub)
	if form, ok := m.forms[sub.FormID]; ok {
		form.SubmissionCount++
		m.forms[sub.FormID] = form
	}
	return nil
}

func (m *MemoryStore) ListSubmissions(_ context.Context, formID string) ([]domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := m.submissions[formID]
	res := make([]domain.Submission, len(subs))
	copy(res, subs)
	return res, nil
}

func (m *MemoryStore) SaveCredential(_ context.Context, cred domain.ProviderCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := credentialKey{cred.UserID, cred.Provider}
	if existing, ok := m.credentials[key]; ok && !existing.CreatedAt.IsZero() {
		cred.CreatedAt = existing.CreatedAt
	}
	m.credentials[key] = cred
	return nil
}

func (m *MemoryStore) GetCredential(_ context.Context, userID string, provider domain.Provider) (domain.ProviderCredential, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.credentials[credentialKey{userID, provider}]
	return cred, ok, nil
}

func (m *MemoryStore) DeleteCredential(_ context.Context, userID string, provider domain.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, credentialKey{userID, provider})
	return nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, conv domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv.Messages = append([]domain.Message(nil), conv.Messages...)
	m.conversations[conv.ID] = conv
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok {
		return domain.Conversation{}, false, nil
	}
	conv.Messages = append([]domain.Message(nil), conv.Messages...)
	return conv, true, nil
}

func (m *MemoryStore) ListConversationsByUser(_ context.Context, userID string, limit int) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.UserID == userID {
			c.Messages = nil
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	if limit = conversationLimit(limit); len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) AppendConversationMessages(_ context.Context, id string, msgs ...domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil
	}
	conv.Messages = append(conv.Messages, msgs...)
	conv.UpdatedAt = nowUTC()
	m.conversations[id] = conv
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	return nil
}
