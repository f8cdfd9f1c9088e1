package core

import "context"

// JSONRequest describes one JSON-mode chat completion.
type JSONRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// LLMProvider is a single chat-completion backend answering in JSON mode.
// It returns the raw response text; parsing happens in the facade.
type LLMProvider interface {
	Name() string
	GenerateJSON(ctx context.Context, req JSONRequest) (string, error)
}

// JSONGenerator produces a decoded JSON object for a prompt pair.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, req JSONRequest) (map[string]any, error)
}

// EmbeddingProvider turns texts into vectors, aligned with input order.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Tokenizer maps text to model token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}
