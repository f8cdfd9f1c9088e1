package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/insightai/internal/core"
)

// geminiMaxBatch is the request limit of BatchEmbedContents.
const geminiMaxBatch = 100

// GeminiEmbedder serves EMBED_PROVIDER=gemini. Chunk texts are embedded
// with the retrieval-document task type.
type GeminiEmbedder struct {
	client   *genai.Client
	maxBatch int
	embed    func(ctx context.Context, texts []string) ([][]float32, error)
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if modelName == "" {
		modelName = "gemini-embedding-001"
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	em := cl.EmbeddingModel(modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	return &GeminiEmbedder{
		client:   cl,
		maxBatch: geminiMaxBatch,
		embed: func(ctx context.Context, texts []string) ([][]float32, error) {
			batch := em.NewBatch()
			for _, t := range texts {
				batch.AddContent(genai.Text(t))
			}
			resp, err := em.BatchEmbedContents(ctx, batch)
			if err != nil {
				return nil, err
			}
			out := make([][]float32, len(resp.Embeddings))
			for i, e := range resp.Embeddings {
				if e != nil {
					out[i] = e.Values
				}
			}
			return out, nil
		},
	}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts splits texts into requests the API accepts and keeps input
// order. Failures carry the class Classify assigns them.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := g.maxBatch
	if size <= 0 {
		size = geminiMaxBatch
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		part := texts[start:min(start+size, len(texts))]
		vecs, err := g.embed(ctx, part)
		if err != nil {
			return nil, &ProviderError{Provider: "gemini", Class: Classify(err), Err: fmt.Errorf("batch embed: %w", err)}
		}
		if len(vecs) != len(part) {
			return nil, &ProviderError{
				Provider: "gemini",
				Class:    ClassTransient,
				Err:      fmt.Errorf("batch embed returned %d vectors for %d inputs", len(vecs), len(part)),
			}
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, &ProviderError{
					Provider: "gemini",
					Class:    ClassTransient,
					Err:      fmt.Errorf("empty vector for input %d", start+i),
				}
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}
