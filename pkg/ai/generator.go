package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is one turn of a chat history sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a provider-neutral generation request.
type Prompt struct {
	System   string
	Messages []Message
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// TextGenerator generates text for a prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt Prompt) (string, error)
}

// StreamFunc receives incremental text. Returning an error aborts the stream.
type StreamFunc func(chunk string) error

// Generator can also stream its output as it is produced.
type Generator interface {
	TextGenerator
	StreamText(ctx context.Context, prompt Prompt, fn StreamFunc) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// New builds the generator named by cfg.Provider (gemini, ollama, openai).
func New(cfg Config) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "gemini"
	}
	switch provider {
	case "gemini":
		client, err := NewGeminiClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Timeout > 0 {
			client.httpClient.Timeout = cfg.Timeout
		}
		return NewGeminiGenerator(client, cfg.Model), nil
	case "ollama":
		client := NewOllamaClient(cfg.BaseURL)
		if cfg.Timeout > 0 {
			client.httpClient.Timeout = cfg.Timeout
		}
		return NewOllamaGenerator(client, cfg.Model), nil
	case "openai", "openai-compat":
		g := NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model)
		if cfg.Timeout > 0 {
			g.httpClient.Timeout = cfg.Timeout
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

func chatMessages(prompt Prompt) []Message {
	messages := make([]Message, 0, len(prompt.Messages)+1)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, Message{Role: "system", Content: prompt.System})
	}
	for _, m := range prompt.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, Message{Role: role, Content: m.Content})
	}
	return messages
}
