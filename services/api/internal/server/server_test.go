package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"formpilot/internal/credcrypt"
	"formpilot/internal/oauthstate"
	"formpilot/internal/usertoken"
	"formpilot/pkg/ai"
	"formpilot/pkg/domain"
	"formpilot/pkg/providers"
	"formpilot/pkg/store"
	"formpilot/services/api/internal/app"
)

const streamedForm = `{"title":"Bug report","fields":[{"type":"textarea","label":"What happened?","required":true},{"type":"radio","label":"Severity"}]}`

type stubGenerator struct{}

func (stubGenerator) GenerateText(_ context.Context, p ai.Prompt) (string, error) {
	if p.JSON && strings.Contains(p.System, "intent") {
		return `{"intent":"create_form"}`, nil
	}
	return streamedForm, nil
}

func (g stubGenerator) StreamText(ctx context.Context, p ai.Prompt, fn ai.StreamFunc) (string, error) {
	text, _ := g.GenerateText(ctx, p)
	half := len(text) / 2
	for _, part := range []string{text[:half], text[half:]} {
		if err := fn(part); err != nil {
			return "", err
		}
	}
	return text, nil
}

type stubTally struct{}

func (stubTally) VerifyKey(_ context.Context, apiKey string) error {
	if apiKey != "tly_good" {
		return &providers.APIError{Provider: "tally", Status: http.StatusUnauthorized}
	}
	return nil
}

func (stubTally) CreateForm(_ context.Context, _ string, _ domain.FormDefinition) (providers.Published, error) {
	return providers.Published{ExternalID: "t1", URL: "https://tally.so/r/t1", EditURL: "https://tally.so/forms/t1/edit"}, nil
}

type testServer struct {
	*httptest.Server
	redis *miniredis.Miniredis
}

type serverOption func(*Config, *app.Config)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cipher, err := credcrypt.New("server-test-credential-secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	states, err := oauthstate.NewManager("server-test-state-secret", client, time.Minute)
	if err != nil {
		t.Fatalf("states: %v", err)
	}
	appCfg := app.Config{
		Store:         store.NewMemoryStore(),
		Generator:     stubGenerator{},
		Cipher:        cipher,
		States:        states,
		PublicBaseURL: "https://forms.example.com",
		GoogleOAuth: &oauth2.Config{
			ClientID: "google-client",
			Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: "https://accounts.example.com/token"},
		},
		Tally: stubTally{},
	}
	srvCfg := Config{
		PublicBaseURL: "https://forms.example.com/app",
		Redis:         client,
	}
	for _, opt := range opts {
		opt(&srvCfg, &appCfg)
	}
	core, err := app.New(appCfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srvCfg.App = core
	srv, err := New(srvCfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, redis: mr}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func sampleForm() domain.FormDefinition {
	return domain.FormDefinition{
		Title: "Signup",
		Fields: []domain.Field{
			{ID: "email", Type: domain.FieldEmail, Label: "Email", Required: true},
			{ID: "plan", Type: domain.FieldSelect, Label: "Plan", Options: []string{"Free", "Pro"}},
		},
	}
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}
}

func TestFormLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/forms/create", map[string]any{"formDefinition": domain.FormDefinition{Title: "Empty"}})
	if resp.StatusCode != http.StatusBadRequest || decode[map[string]string](t, body)["error"] == "" {
		t.Fatalf("empty form: %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/forms/create", map[string]any{"formDefinition": sampleForm(), "userId": "owner"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	created := decode[map[string]string](t, body)
	formID := created["formId"]
	if created["shareableLink"] != "https://forms.example.com/forms/"+formID || created["shortLink"] == "" {
		t.Fatalf("unexpected links: %v", created)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/forms/"+formID, nil)
	if resp.StatusCode != http.StatusOK || strings.Contains(string(body), "owner") {
		t.Fatalf("public form: %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/forms/"+formID+"/submit", map[string]any{"formData": map[string]any{"plan": "Pro"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing required field: %d %s", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPost, "/api/forms/"+formID+"/submit", map[string]any{"formData": map[string]any{"email": "a@b.c"}})
	if resp.StatusCode != http.StatusCreated || decode[map[string]string](t, body)["submissionId"] == "" {
		t.Fatalf("submit: %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/forms/"+formID+"/submissions?userId=owner", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "a@b.c") {
		t.Fatalf("submissions: %d %s", resp.StatusCode, body)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/forms/"+formID+"/submissions?userId=other", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign submissions: %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/api/forms/"+formID+"?userId=owner", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: %d", resp.StatusCode)
	}
	resp, body = ts.do(t, http.MethodPost, "/api/forms/"+formID+"/submit", map[string]any{"formData": map[string]any{"email": "a@b.c"}})
	if resp.StatusCode != http.StatusNotFound || decode[map[string]string](t, body)["error"] != "form not found" {
		t.Fatalf("submit to deactivated: %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/forms?userId=owner", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), formID) {
		t.Fatalf("list forms: %d %s", resp.StatusCode, body)
	}
}

func TestExportsDisabledIsServerError(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do(t, http.MethodPost, "/api/forms/create", map[string]any{"formDefinition": sampleForm(), "userId": "owner"})
	formID := decode[map[string]string](t, body)["formId"]
	resp, body := ts.do(t, http.MethodPost, "/api/forms/"+formID+"/exports", map[string]string{"userId": "owner"})
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(string(body), "not configured") {
		t.Fatalf("exports disabled: %d %s", resp.StatusCode, body)
	}
}

func TestTallyConnectionFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/tally/create", map[string]any{"formDefinition": sampleForm(), "userId": "u1"})
	if resp.StatusCode != http.StatusUnauthorized || decode[map[string]string](t, body)["error"] != "tally not connected" {
		t.Fatalf("publish unconnected: %d %s", resp.StatusCode, body)
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/tally/create", map[string]any{"formDefinition": sampleForm()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("publish without user: %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/tally/connect", map[string]string{"userId": "u1", "apiKey": "nope"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad key: %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/auth/tally/connect", map[string]string{"userId": "u1", "apiKey": "tly_good"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d", resp.StatusCode)
	}
	_, body = ts.do(t, http.MethodGet, "/api/auth/tally/status?userId=u1", nil)
	if !decode[map[string]bool](t, body)["isConnected"] {
		t.Fatalf("expected connected: %s", body)
	}
	_, body = ts.do(t, http.MethodGet, "/api/auth/connections?userId=u1", nil)
	conns := decode[map[string]bool](t, body)
	if !conns["tally"] || conns["google"] || conns["typeform"] {
		t.Fatalf("connections: %v", conns)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/tally/create", map[string]any{"formDefinition": sampleForm(), "userId": "u1"})
	if resp.StatusCode != http.StatusOK || decode[map[string]string](t, body)["editUrl"] == "" {
		t.Fatalf("publish: %d %s", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/tally/disconnect", map[string]string{"userId": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect: %d", resp.StatusCode)
	}
	_, body = ts.do(t, http.MethodGet, "/api/auth/tally/status?userId=u1", nil)
	if decode[map[string]bool](t, body)["isConnected"] {
		t.Fatalf("expected disconnected: %s", body)
	}
}

func TestOAuthAuthorizeAndCallback(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"g-access","refresh_token":"g-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()
	ts := newTestServer(t, func(_ *Config, a *app.Config) { a.GoogleOAuth.Endpoint.TokenURL = tokenSrv.URL })

	resp, _ := ts.do(t, http.MethodPost, "/api/auth/tally/authorize", map[string]string{"userId": "u1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("tally authorize: %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/auth/dropbox/authorize", map[string]string{"userId": "u1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown provider: %d", resp.StatusCode)
	}

	resp, body := ts.do(t, http.MethodPost, "/api/auth/google/authorize", map[string]string{"userId": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authorize: %d %s", resp.StatusCode, body)
	}
	authURL, err := url.Parse(decode[map[string]string](t, body)["authUrl"])
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := authURL.Query().Get("state")
	if state == "" {
		t.Fatalf("auth url carries no state: %s", authURL)
	}

	callback := "/api/auth/google/callback?code=abc&state=" + url.QueryEscape(state)
	resp, body = ts.do(t, http.MethodGet, callback, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "google-auth-success") {
		t.Fatalf("callback: %d %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "forms.example.com") || strings.Contains(string(body), "/app") {
		t.Fatalf("callback should target the front-end origin: %s", body)
	}
	csp := resp.Header.Get("Content-Security-Policy")
	if !strings.Contains(csp, "script-src 'nonce-") || !strings.Contains(string(body), "nonce=") {
		t.Fatalf("unexpected csp %q", csp)
	}
	_, body = ts.do(t, http.MethodGet, "/api/auth/google/status?userId=u1", nil)
	if !decode[map[string]bool](t, body)["isConnected"] {
		t.Fatalf("expected google connected after callback: %s", body)
	}

	resp, body = ts.do(t, http.MethodGet, callback, nil)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "google-auth-error") {
		t.Fatalf("replayed callback: %d %s", resp.StatusCode, body)
	}
	var counted bool
	for _, key := range ts.redis.Keys() {
		counted = counted || strings.HasPrefix(key, "formpilot:api:alerts:oauth_callback:failure:")
	}
	if !counted {
		t.Fatalf("failed callback was not counted: %v", ts.redis.Keys())
	}
}

func TestChatAndStream(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "bug report form"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: %d %s", resp.StatusCode, body)
	}
	reply := decode[chatResponse](t, body)
	if reply.Intent != app.IntentCreateForm || reply.FormDefinition == nil || len(reply.FormDefinition.Fields[1].Options) < 2 {
		t.Fatalf("unexpected chat reply: %+v", reply)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/generate-form-stream", map[string]any{"message": "bug report form"})
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("stream: %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	text := string(body)
	if strings.Count(text, "event: chunk\n") != 2 || !strings.Contains(text, "event: form\n") {
		t.Fatalf("unexpected stream:\n%s", text)
	}

	resp, _ = ts.do(t, http.MethodPost, "/api/generate-form-stream", map[string]any{"message": " "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty stream message: %d", resp.StatusCode)
	}
}

func TestConversationEndpoints(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/api/conversation", map[string]string{"userId": "u1", "message": "bug report form"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("converse: %d %s", resp.StatusCode, body)
	}
	id := decode[chatResponse](t, body).ConversationID
	if id == "" {
		t.Fatalf("missing conversation id: %s", body)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/conversation/"+id+"?userId=u2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign conversation: %d", resp.StatusCode)
	}
	_, body = ts.do(t, http.MethodGet, "/api/conversation?userId=u1", nil)
	if !strings.Contains(string(body), id) {
		t.Fatalf("list: %s", body)
	}
	resp, _ = ts.do(t, http.MethodDelete, "/api/conversation/"+id+"?userId=u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
}

func TestSubmitRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config, _ *app.Config) { c.SubmitRateLimitPerMinute = 1 })
	_, body := ts.do(t, http.MethodPost, "/api/forms/create", map[string]any{"formDefinition": sampleForm()})
	formID := decode[map[string]string](t, body)["formId"]
	payload := map[string]any{"formData": map[string]any{"email": "a@b.c"}}

	resp, _ := ts.do(t, http.MethodPost, "/api/forms/"+formID+"/submit", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first submit: %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/forms/"+formID+"/submit", payload)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("second submit: %d", resp.StatusCode)
	}
}

func TestBearerTokenBindsUser(t *testing.T) {
	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: "bearer-secret"})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	ts := newTestServer(t, func(c *Config, _ *app.Config) { c.TokenVerifier = verifier })
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "formpilot-auth",
		Audience:  jwt.ClaimStrings{"formpilot-api"},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("bearer-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth := "Bearer " + signed

	resp, _ := ts.do(t, http.MethodGet, "/api/forms?userId=u1", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/forms?userId=u2", nil, "Authorization", auth)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("mismatched user: %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/forms", nil, "Authorization", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token subject as user: %d", resp.StatusCode)
	}
}
