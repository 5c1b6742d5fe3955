package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model for text generation.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based Generator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiGenerator{client: client, model: model}
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt Prompt) (string, error) {
	return g.client.GenerateText(ctx, g.model, prompt)
}

// StreamText implements Generator using Gemini server-sent events.
func (g *GeminiGenerator) StreamText(ctx context.Context, prompt Prompt, fn StreamFunc) (string, error) {
	return g.client.StreamText(ctx, g.model, prompt, fn)
}
