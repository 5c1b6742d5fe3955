package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"formpilot/internal/credcrypt"
	"formpilot/pkg/ai"
	"formpilot/pkg/domain"
	"formpilot/pkg/providers"
	"formpilot/pkg/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []ai.Prompt
	respond func(ai.Prompt) (string, error)
}

func (g *fakeGenerator) GenerateText(_ context.Context, p ai.Prompt) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()
	return g.respond(p)
}

func (g *fakeGenerator) StreamText(ctx context.Context, p ai.Prompt, fn ai.StreamFunc) (string, error) {
	text, err := g.GenerateText(ctx, p)
	if err != nil {
		return "", err
	}
	for i := 0; i < len(text); i += 16 {
		end := min(i+16, len(text))
		if err := fn(text[i:end]); err != nil {
			return "", err
		}
	}
	return text, nil
}

// byPrompt answers intent prompts with intent and form prompts with form.
func byPrompt(intent, form, chat string) func(ai.Prompt) (string, error) {
	return func(p ai.Prompt) (string, error) {
		switch p.System {
		case intentSystemPrompt:
			return `{"intent":"` + intent + `"}`, nil
		case formSystemPrompt:
			return form, nil
		default:
			return chat, nil
		}
	}
}

type fakeStates struct {
	mu     sync.Mutex
	issued map[string][2]string
}

func (s *fakeStates) Issue(_ context.Context, userID, provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issued == nil {
		s.issued = map[string][2]string{}
	}
	state := "state-" + userID + "-" + provider
	s.issued[state] = [2]string{userID, provider}
	return state, nil
}

func (s *fakeStates) Consume(_ context.Context, state, provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.issued[state]
	if !ok || v[1] != provider {
		return "", errors.New("unknown state")
	}
	delete(s.issued, state)
	return v[0], nil
}

type fakeTally struct {
	validKey  string
	published []string
}

func (f *fakeTally) VerifyKey(_ context.Context, apiKey string) error {
	if apiKey != f.validKey {
		return &providers.APIError{Provider: "tally", Status: http.StatusUnauthorized}
	}
	return nil
}

func (f *fakeTally) CreateForm(_ context.Context, apiKey string, def domain.FormDefinition) (providers.Published, error) {
	if apiKey != f.validKey {
		return providers.Published{}, &providers.APIError{Provider: "tally", Status: http.StatusUnauthorized}
	}
	f.published = append(f.published, def.Title)
	return providers.Published{ExternalID: "tly1", URL: "https://tally.so/r/tly1", EditURL: "https://tally.so/forms/tly1/edit"}, nil
}

type fakeTypeform struct{ usedTokens []string }

func (f *fakeTypeform) CreateForm(_ context.Context, accessToken string, _ domain.FormDefinition) (providers.Published, error) {
	f.usedTokens = append(f.usedTokens, accessToken)
	return providers.Published{ExternalID: "tf1", URL: "https://form.typeform.com/to/tf1"}, nil
}

type fakeGoogleForms struct{ usedTokens []string }

func (f *fakeGoogleForms) CreateForm(_ context.Context, ts oauth2.TokenSource, _ domain.FormDefinition) (providers.Published, error) {
	tok, err := ts.Token()
	if err != nil {
		return providers.Published{}, err
	}
	f.usedTokens = append(f.usedTokens, tok.AccessToken)
	return providers.Published{
		ExternalID: "gf1",
		URL:        "https://docs.google.com/forms/d/e/gf1/viewform",
		EditURL:    "https://docs.google.com/forms/d/gf1/edit",
	}, nil
}

type fakeShortener struct{ err error }

func (f fakeShortener) Shorten(_ context.Context, longURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://bit.ly/" + longURL[strings.LastIndex(longURL, "/")+1:], nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs map[string]domain.ExportJob
}

func (q *fakeQueue) Enqueue(_ context.Context, formID, userID string) (domain.ExportJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs == nil {
		q.jobs = map[string]domain.ExportJob{}
	}
	job := domain.ExportJob{ID: "job-" + formID, FormID: formID, UserID: userID, Status: domain.ExportQueued}
	q.jobs[job.ID] = job
	return job, nil
}

func (q *fakeQueue) GetJob(_ context.Context, jobID string) (domain.ExportJob, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

func (q *fakeQueue) finish(jobID, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.jobs[jobID]
	job.Status = domain.ExportDone
	job.ObjectKey = key
	q.jobs[jobID] = job
}

type fakeObjects struct {
	objects map[string][]byte
}

func (o *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	if o.objects == nil {
		o.objects = map[string][]byte{}
	}
	o.objects[key] = buf.Bytes()
	return nil
}

func (o *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://minio.local/" + key + "?sig=1", nil
}

type testEnv struct {
	app       *App
	store     *store.MemoryStore
	cipher    *credcrypt.Cipher
	generator *fakeGenerator
	tally     *fakeTally
	typeform  *fakeTypeform
	google    *fakeGoogleForms
	queue     *fakeQueue
	objects   *fakeObjects
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cipher, err := credcrypt.New("test-credential-secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	env := &testEnv{
		store:     store.NewMemoryStore(),
		cipher:    cipher,
		generator: &fakeGenerator{respond: byPrompt("chat", "{}", "hello")},
		tally:     &fakeTally{validKey: "tly_good"},
		typeform:  &fakeTypeform{},
		google:    &fakeGoogleForms{},
		queue:     &fakeQueue{},
		objects:   &fakeObjects{},
	}
	cfg := Config{
		Store:         env.store,
		Generator:     env.generator,
		Cipher:        cipher,
		States:        &fakeStates{},
		PublicBaseURL: "https://forms.example.com/",
		Exports:       env.queue,
		Objects:       env.objects,
		GoogleOAuth:   &oauth2.Config{ClientID: "g", Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: "https://accounts.example.com/token"}},
		TypeformOAuth: &oauth2.Config{ClientID: "t", Endpoint: oauth2.Endpoint{AuthURL: "https://api.typeform.example/oauth/authorize", TokenURL: "https://api.typeform.example/oauth/token"}},
		GoogleForms:   env.google,
		Typeform:      env.typeform,
		Tally:         env.tally,
		Now:           func() time.Time { return testNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

// tokenServer is an OAuth token endpoint that always issues accessToken.
func tokenServer(t *testing.T, accessToken string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"` + accessToken + `","refresh_token":"refresh-2","token_type":"bearer","expires_in":3600,"scope":"forms:write"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// storeToken seals and saves a credential directly.
func (e *testEnv) storeToken(t *testing.T, userID string, provider domain.Provider, access, refresh string, expiry time.Time) {
	t.Helper()
	if err := e.app.saveToken(context.Background(), userID, provider, &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry}); err != nil {
		t.Fatalf("store token: %v", err)
	}
}

func sampleDefinition() domain.FormDefinition {
	return domain.FormDefinition{
		Title: "Event RSVP",
		Fields: []domain.Field{
			{ID: "name", Type: domain.FieldText, Label: "Name", Required: true},
			{ID: "attending", Type: domain.FieldRadio, Label: "Attending?", Options: []string{"Yes", "No"}},
			{ID: "diet", Type: domain.FieldCheckbox, Label: "Diet"},
		},
	}
}
