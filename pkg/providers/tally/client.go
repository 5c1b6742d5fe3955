package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"formpilot/pkg/domain"
	"formpilot/pkg/providers"
)

const (
	defaultAPIBaseURL  = "https://api.tally.so"
	defaultFormBaseURL = "https://tally.so"
)

// Client calls the Tally REST API with a user's API key.
type Client struct {
	apiBaseURL  string
	formBaseURL string
	httpClient  *http.Client
}

// NewClient builds a client. Empty URLs select the public endpoints.
func NewClient(apiBaseURL, formBaseURL string) *Client {
	apiBaseURL = strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	formBaseURL = strings.TrimRight(strings.TrimSpace(formBaseURL), "/")
	if formBaseURL == "" {
		formBaseURL = defaultFormBaseURL
	}
	return &Client{
		apiBaseURL:  apiBaseURL,
		formBaseURL: formBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// VerifyKey checks an API key against the account endpoint.
func (c *Client) VerifyKey(ctx context.Context, apiKey string) error {
	return c.do(ctx, http.MethodGet, "/users/me", apiKey, nil, nil)
}

// CreateForm publishes def and returns its public and edit links.
func (c *Client) CreateForm(ctx context.Context, apiKey string, def domain.FormDefinition) (providers.Published, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/forms", apiKey, BuildRequest(def), &resp); err != nil {
		return providers.Published{}, err
	}
	if resp.ID == "" {
		return providers.Published{}, fmt.Errorf("tally response missing form id")
	}
	return providers.Published{
		ExternalID: resp.ID,
		URL:        fmt.Sprintf("%s/r/%s", c.formBaseURL, resp.ID),
		EditURL:    fmt.Sprintf("%s/forms/%s/edit", c.formBaseURL, resp.ID),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tally request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		return &providers.APIError{Provider: "tally", Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tally decode: %w", err)
	}
	return nil
}
