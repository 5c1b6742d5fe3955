// Package shortlink shortens shareable form links through Bitly.
package shortlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBitlyBaseURL = "https://api-ssl.bitly.com/v4"

// Shortener turns a long URL into a short one.
type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

// BitlyClient calls the Bitly v4 API.
type BitlyClient struct {
	token      string
	domain     string
	baseURL    string
	httpClient *http.Client
}

// NewBitlyClient builds a client; domain may be empty for the account default.
func NewBitlyClient(token, domain, baseURL string) (*BitlyClient, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("bitly token required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBitlyBaseURL
	}
	return &BitlyClient{
		token:      token,
		domain:     strings.TrimSpace(domain),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Shorten implements Shortener.
func (c *BitlyClient) Shorten(ctx context.Context, longURL string) (string, error) {
	body, err := json.Marshal(shortenRequest{LongURL: longURL, Domain: c.domain})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shorten", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bitly request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Description != "" {
			return "", fmt.Errorf("bitly api error: %s", errResp.Description)
		}
		if errResp.Message != "" {
			return "", fmt.Errorf("bitly api error: %s", errResp.Message)
		}
		return "", fmt.Errorf("bitly api error: %s", resp.Status)
	}
	var out shortenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("bitly decode: %w", err)
	}
	if out.Link == "" {
		return "", errors.New("bitly response missing link")
	}
	return out.Link, nil
}

type shortenRequest struct {
	LongURL string `json:"long_url"`
	Domain  string `json:"domain,omitempty"`
}

type shortenResponse struct {
	Link string `json:"link"`
}

type errorResponse struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}
