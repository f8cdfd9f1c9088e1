package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/insightai/internal/core"
)

type scriptedProvider struct {
	name string

	mu     sync.Mutex
	script []result
	calls  []core.JSONRequest
}

type result struct {
	text string
	err  error
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) GenerateJSON(_ context.Context, req core.JSONRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if len(p.script) == 0 {
		return `{}`, nil
	}
	r := p.script[0]
	p.script = p.script[1:]
	return r.text, r.err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func rateLimited() error {
	return &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
}

func transient() error {
	return &openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
}

func badRequest() error {
	return &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad"}
}

func newTestFacade(t *testing.T, primary, secondary core.LLMProvider) *Facade {
	t.Helper()
	f, err := NewFacade(FacadeConfig{
		Routes: DefaultRoutes(primary, secondary, "gemini-2.5-flash", time.Millisecond),
	}, nil)
	require.NoError(t, err)
	return f
}

func TestFacade_GenerateJSON_Routing(t *testing.T) {
	req := core.JSONRequest{Model: "gpt-4o-mini", SystemPrompt: "sys", UserPrompt: "user", Temperature: 0.2}

	t.Run("primary success", func(t *testing.T) {
		primary := &scriptedProvider{name: "openai", script: []result{{text: `{"a":1}`}}}
		secondary := &scriptedProvider{name: "gemini"}
		out, err := newTestFacade(t, primary, secondary).GenerateJSON(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, float64(1), out["a"])
		assert.Equal(t, 0, secondary.callCount())
	})

	t.Run("rate limit fails over without retry", func(t *testing.T) {
		primary := &scriptedProvider{name: "openai", script: []result{{err: rateLimited()}}}
		secondary := &scriptedProvider{name: "gemini", script: []result{{text: `{"from":"gemini"}`}}}
		out, err := newTestFacade(t, primary, secondary).GenerateJSON(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "gemini", out["from"])
		assert.Equal(t, 1, primary.callCount())
		require.Equal(t, 1, secondary.callCount())
		assert.Equal(t, "gemini-2.5-flash", secondary.calls[0].Model)
		assert.Equal(t, "user", secondary.calls[0].UserPrompt)
	})

	t.Run("transient retried once then succeeds", func(t *testing.T) {
		primary := &scriptedProvider{name: "openai", script: []result{{err: transient()}, {text: `{"ok":true}`}}}
		secondary := &scriptedProvider{name: "gemini"}
		out, err := newTestFacade(t, primary, secondary).GenerateJSON(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, true, out["ok"])
		assert.Equal(t, 2, primary.callCount())
		assert.Equal(t, 0, secondary.callCount())
	})

	t.Run("transient retry failure fails over", func(t *testing.T) {
		primary := &scriptedProvider{name: "openai", script: []result{{err: transient()}, {err: badRequest()}}}
		secondary := &scriptedProvider{name: "gemini", script: []result{{text: `{"from":"gemini"}`}}}
		out, err := newTestFacade(t, primary, secondary).GenerateJSON(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "gemini", out["from"])
		assert.Equal(t, 2, primary.callCount())
	})

	t.Run("other errors propagate", func(t *testing.T) {
		primary := &scriptedProvider{name: "openai", script: []result{{err: badRequest()}}}
		secondary := &scriptedProvider{name: "gemini"}
		_, err := newTestFacade(t, primary, secondary).GenerateJSON(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, 0, secondary.callCount())
	})

	t.Run("secondary failure propagates", func(t *testing.T) {
		primary := &scriptedProvider{name: "openai", script: []result{{err: rateLimited()}}}
		secondary := &scriptedProvider{name: "gemini", script: []result{{err: errors.New("boom")}}}
		_, err := newTestFacade(t, primary, secondary).GenerateJSON(context.Background(), req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("malformed output", func(t *testing.T) {
		primary := &scriptedProvider{name: "openai", script: []result{{text: "not json at all"}}}
		_, err := newTestFacade(t, primary, nil).GenerateJSON(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrMalformedResponse)
	})

	t.Run("empty output is an empty object", func(t *testing.T) {
		primary := &scriptedProvider{name: "gemini", script: []result{{text: "  "}}}
		out, err := newTestFacade(t, primary, nil).GenerateJSON(context.Background(), req)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestDecodeJSONObject(t *testing.T) {
	out, err := DecodeJSONObject("```json\n{\"title\": \"x\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "x", out["title"])

	out, err = DecodeJSONObject("Here you go: {\"n\": 2} thanks")
	require.NoError(t, err)
	assert.Equal(t, float64(2), out["n"])

	_, err = DecodeJSONObject("[1,2,3]")
	assert.ErrorIs(t, err, core.ErrMalformedResponse)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassRateLimit, Classify(rateLimited()))
	assert.Equal(t, ClassTransient, Classify(transient()))
	assert.Equal(t, ClassTransient, Classify(&openai.RequestError{Err: errors.New("dial tcp: refused")}))
	assert.Equal(t, ClassOther, Classify(badRequest()))
	assert.Equal(t, ClassOther, Classify(context.Canceled))
	assert.Equal(t, ClassRateLimit, Classify(&ProviderError{Provider: "x", Class: ClassRateLimit, Err: errors.New("x")}))
}

type flakyEmbedder struct {
	mu       sync.Mutex
	failures []error
	calls    int
	batches  [][]string
}

func (e *flakyEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.failures) > 0 {
		err := e.failures[0]
		e.failures = e.failures[1:]
		return nil, err
	}
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func newEmbedFacade(t *testing.T, e core.EmbeddingProvider, fallback core.EmbeddingProvider) *Facade {
	t.Helper()
	f, err := NewFacade(FacadeConfig{
		Routes:            DefaultRoutes(&scriptedProvider{name: "openai"}, nil, "", 0),
		Embedder:          e,
		EmbedFallback:     fallback,
		EmbedBatchSize:    2,
		EmbedInitialDelay: time.Millisecond,
		EmbedAttempts:     3,
	}, nil)
	require.NoError(t, err)
	return f
}

func TestFacade_EmbedTexts(t *testing.T) {
	t.Run("batches and preserves order", func(t *testing.T) {
		e := &flakyEmbedder{}
		vecs, err := newEmbedFacade(t, e, nil).EmbedTexts(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
		require.NoError(t, err)
		require.Len(t, vecs, 5)
		assert.Equal(t, float32(3), vecs[2][0])
		assert.Len(t, e.batches, 3)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		e := &flakyEmbedder{failures: []error{rateLimited(), transient()}}
		vecs, err := newEmbedFacade(t, e, nil).EmbedTexts(context.Background(), []string{"a"})
		require.NoError(t, err)
		assert.Len(t, vecs, 1)
		assert.Equal(t, 3, e.calls)
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		e := &flakyEmbedder{failures: []error{transient(), transient(), transient(), transient()}}
		_, err := newEmbedFacade(t, e, nil).EmbedTexts(context.Background(), []string{"a"})
		require.Error(t, err)
		assert.Equal(t, 3, e.calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		e := &flakyEmbedder{failures: []error{badRequest()}}
		_, err := newEmbedFacade(t, e, nil).EmbedTexts(context.Background(), []string{"a"})
		require.Error(t, err)
		assert.Equal(t, 1, e.calls)
	})

	t.Run("optional fallback embedder", func(t *testing.T) {
		e := &flakyEmbedder{failures: []error{badRequest()}}
		fb := &flakyEmbedder{}
		vecs, err := newEmbedFacade(t, e, fb).EmbedTexts(context.Background(), []string{"a"})
		require.NoError(t, err)
		assert.Len(t, vecs, 1)
		assert.Equal(t, 1, fb.calls)
	})
}
