package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient constructs a client with the provided API key.
// An empty baseURL selects the public endpoint.
func NewGeminiClient(apiKey, baseURL string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// GenerateText returns the generated response for a prompt.
func (c *GeminiClient) GenerateText(ctx context.Context, model string, prompt Prompt) (string, error) {
	var resp generateResponse
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, normalizeModel(model), url.QueryEscape(c.apiKey))
	httpResp, err := c.post(ctx, endpoint, buildGenerateRequest(prompt))
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("gemini decode: %w", err)
	}
	text := resp.text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}

// StreamText streams a response via streamGenerateContent with alt=sse.
func (c *GeminiClient) StreamText(ctx context.Context, model string, prompt Prompt, fn StreamFunc) (string, error) {
	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, normalizeModel(model), url.QueryEscape(c.apiKey))
	httpResp, err := c.post(ctx, endpoint, buildGenerateRequest(prompt))
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()
	out := &collector{fn: fn}
	err = readSSE(httpResp.Body, func(data string) error {
		var event generateResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("gemini stream decode: %w", err)
		}
		return out.add(event.text())
	})
	if err != nil {
		return out.text(), err
	}
	if strings.TrimSpace(out.text()) == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return out.text(), nil
}

func buildGenerateRequest(prompt Prompt) generateRequest {
	req := generateRequest{}
	for _, m := range chatMessages(prompt) {
		switch m.Role {
		case "system":
			req.SystemInstruction = &content{Parts: []part{{Text: m.Content}}}
		case "assistant":
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if prompt.JSON {
		req.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}
	return req
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func (c *GeminiClient) post(ctx context.Context, endpoint string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("gemini api error: %s", resp.Status)
	}
	return resp, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
