package llm

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/insightai/internal/core"
)

// OpenAILLM is the primary JSON-mode chat provider.
type OpenAILLM struct {
	client    *openai.Client
	modelName string
}

var _ core.LLMProvider = (*OpenAILLM)(nil)

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func NewOpenAILLM(apiKey, baseURL, modelName string) *OpenAILLM {
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	return &OpenAILLM{client: newOpenAIClient(apiKey, baseURL), modelName: modelName}
}

func (o *OpenAILLM) Name() string { return "openai" }

// GenerateJSON runs one chat completion in JSON-object mode and returns the raw text.
func (o *OpenAILLM) GenerateJSON(ctx context.Context, req core.JSONRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = o.modelName
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder embeds one batch per call; batching and retries live in the Facade.
type OpenAIEmbedder struct {
	client    *openai.Client
	modelName string
}

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(apiKey, baseURL, modelName string) *OpenAIEmbedder {
	if modelName == "" {
		modelName = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: newOpenAIClient(apiKey, baseURL), modelName: modelName}
}

func (o *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(o.modelName),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: "openai",
			Class:    ClassTransient,
			Err:      fmt.Errorf("embeddings returned %d vectors for %d inputs", len(resp.Data), len(texts)),
		}
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}
