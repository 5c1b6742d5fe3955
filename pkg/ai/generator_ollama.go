package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OllamaGenerator wraps OllamaClient with a fixed model for text generation
// using the Ollama /api/chat endpoint.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

// NewOllamaGenerator builds an Ollama-based Generator.
func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model}
}

func (g *OllamaGenerator) request(prompt Prompt, stream bool) (ollamaChatRequest, error) {
	model := strings.TrimSpace(g.model)
	if model == "" {
		return ollamaChatRequest{}, fmt.Errorf("ollama generation model required")
	}
	req := ollamaChatRequest{
		Model:    model,
		Messages: chatMessages(prompt),
		Stream:   stream,
	}
	if prompt.JSON {
		req.Format = "json"
	}
	return req, nil
}

// GenerateText implements TextGenerator using Ollama /api/chat.
func (g *OllamaGenerator) GenerateText(ctx context.Context, prompt Prompt) (string, error) {
	reqBody, err := g.request(prompt, false)
	if err != nil {
		return "", err
	}
	var resp ollamaChatResponse
	if err := g.client.doJSON(ctx, "/api/chat", reqBody, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return resp.Message.Content, nil
}

// StreamText implements Generator. Ollama streams newline-delimited JSON objects.
func (g *OllamaGenerator) StreamText(ctx context.Context, prompt Prompt, fn StreamFunc) (string, error) {
	reqBody, err := g.request(prompt, true)
	if err != nil {
		return "", err
	}
	resp, err := g.client.post(ctx, "/api/chat", reqBody)
	if err != nil {
		return "", fmt.Errorf("ollama stream: %w", err)
	}
	defer resp.Body.Close()
	out := &collector{fn: fn}
	err = readLines(resp.Body, func(line string) error {
		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return fmt.Errorf("ollama stream decode: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama api error: %s", chunk.Error)
		}
		return out.add(chunk.Message.Content)
	})
	if err != nil {
		return out.text(), err
	}
	if strings.TrimSpace(out.text()) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return out.text(), nil
}

// Ollama /api/chat request/response types.

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}
