package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/platform/logger"
)

// Rule says what a route does when a call fails with Class: retry up to
// Retries times after Delay, then fail over to the next route.
type Rule struct {
	Class   ErrorClass
	Retries int
	Delay   time.Duration
}

// Route is one link in the provider chain. Model, when set, replaces the
// request model for this provider. Errors whose class has no rule propagate.
type Route struct {
	Provider core.LLMProvider
	Model    string
	Rules    []Rule
}

func (r Route) rule(class ErrorClass) (Rule, bool) {
	for _, rl := range r.Rules {
		if rl.Class == class {
			return rl, true
		}
	}
	return Rule{}, false
}

// DefaultRoutes builds primary -> secondary: rate limits fail over at once,
// transient errors get one retry after delay. secondary may be nil.
func DefaultRoutes(primary, secondary core.LLMProvider, secondaryModel string, delay time.Duration) []Route {
	if secondary == nil {
		return []Route{{
			Provider: primary,
			Rules:    []Rule{{Class: ClassTransient, Retries: 1, Delay: delay}},
		}}
	}
	return []Route{
		{
			Provider: primary,
			Rules: []Rule{
				{Class: ClassRateLimit, Retries: 0},
				{Class: ClassTransient, Retries: 1, Delay: delay},
			},
		},
		{Provider: secondary, Model: secondaryModel},
	}
}

type FacadeConfig struct {
	Routes   []Route
	Embedder core.EmbeddingProvider
	// EmbedFallback is tried once the primary embedder exhausts its retries. Nil disables it.
	EmbedFallback     core.EmbeddingProvider
	EmbedBatchSize    int
	EmbedInitialDelay time.Duration
	EmbedAttempts     int
}

// Facade implements core.JSONGenerator and core.EmbeddingProvider on top of
// a provider chain and a single embedder.
type Facade struct {
	routes            []Route
	embedder          core.EmbeddingProvider
	embedFallback     core.EmbeddingProvider
	embedBatchSize    int
	embedInitialDelay time.Duration
	embedAttempts     uint
	log               *logger.Logger
}

var (
	_ core.JSONGenerator     = (*Facade)(nil)
	_ core.EmbeddingProvider = (*Facade)(nil)
)

func NewFacade(cfg FacadeConfig, log *logger.Logger) (*Facade, error) {
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("llm facade: no provider routes")
	}
	for i, r := range cfg.Routes {
		if r.Provider == nil {
			return nil, fmt.Errorf("llm facade: route %d has no provider", i)
		}
	}
	if log == nil {
		log = logger.Nop()
	}
	f := &Facade{
		routes:            cfg.Routes,
		embedder:          cfg.Embedder,
		embedFallback:     cfg.EmbedFallback,
		embedBatchSize:    cfg.EmbedBatchSize,
		embedInitialDelay: cfg.EmbedInitialDelay,
		embedAttempts:     uint(cfg.EmbedAttempts),
		log:               log,
	}
	if f.embedBatchSize <= 0 {
		f.embedBatchSize = 64
	}
	if f.embedInitialDelay <= 0 {
		f.embedInitialDelay = time.Second
	}
	if f.embedAttempts == 0 {
		f.embedAttempts = 3
	}
	return f, nil
}

// GenerateJSON walks the route chain and decodes the winning response as a
// JSON object. Empty output decodes to an empty object.
func (f *Facade) GenerateJSON(ctx context.Context, req core.JSONRequest) (map[string]any, error) {
	raw, err := f.generateRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeJSONObject(raw)
}

func (f *Facade) generateRaw(ctx context.Context, req core.JSONRequest) (string, error) {
	var lastErr error
	for i, route := range f.routes {
		routeReq := req
		if route.Model != "" {
			routeReq.Model = route.Model
		}

		failover := false
		retried := false
		attempts := make(map[ErrorClass]int)
		for !failover {
			text, err := f.call(ctx, route.Provider, routeReq)
			if err == nil {
				return text, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return "", err
			}

			class := Classify(err)
			rule, ok := route.rule(class)
			switch {
			case ok && attempts[class] < rule.Retries:
				attempts[class]++
				retried = true
				f.log.Warn("LLM call failed, retrying",
					"provider", route.Provider.Name(),
					"class", class.String(),
					"delay", rule.Delay.String(),
					"error", err,
				)
				if err := sleepCtx(ctx, rule.Delay); err != nil {
					return "", err
				}
			case ok || retried:
				failover = true
			default:
				return "", err
			}
		}

		if i == len(f.routes)-1 {
			break
		}
		f.log.Warn("LLM provider failed, falling back",
			"provider", route.Provider.Name(),
			"next", f.routes[i+1].Provider.Name(),
			"class", Classify(lastErr).String(),
		)
	}
	return "", fmt.Errorf("all llm providers failed: %w", lastErr)
}

func (f *Facade) call(ctx context.Context, p core.LLMProvider, req core.JSONRequest) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", p.Name()),
		attribute.String("llm.model", req.Model),
	}
	attrs = append(attrs, textAttrs("llm.system_prompt", req.SystemPrompt)...)
	attrs = append(attrs, textAttrs("llm.user_prompt", req.UserPrompt)...)
	spanCtx, span := startSpan(ctx, "llm.generate_json", attrs...)

	text, err := p.GenerateJSON(spanCtx, req)
	endSpan(span, err, textAttrs("llm.output", text)...)
	return text, err
}

// EmbedTexts embeds in batches. Each batch is retried with exponential
// backoff on rate-limit and transient errors; exhaustion fails the call.
func (f *Facade) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embedder == nil {
		return nil, fmt.Errorf("llm facade: no embedder configured")
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += f.embedBatchSize {
		end := min(start+f.embedBatchSize, len(texts))
		batch := texts[start:end]

		vecs, err := f.embedWithRetry(ctx, f.embedder, batch)
		if err != nil && f.embedFallback != nil && ctx.Err() == nil {
			f.log.Warn("embedding provider exhausted, using fallback", "batch_start", start, "error", err)
			vecs, err = f.embedWithRetry(ctx, f.embedFallback, batch)
		}
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (f *Facade) embedWithRetry(ctx context.Context, e core.EmbeddingProvider, batch []string) ([][]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.embedInitialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * f.embedInitialDelay

	op := func() ([][]float32, error) {
		spanCtx, span := startSpan(ctx, "llm.embed_texts", attribute.Int("llm.embed.batch_size", len(batch)))
		vecs, err := e.EmbedTexts(spanCtx, batch)
		endSpan(span, err)
		if err == nil {
			return vecs, nil
		}
		switch Classify(err) {
		case ClassRateLimit, ClassTransient:
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}
	notify := func(err error, d time.Duration) {
		f.log.Warn("embedding batch failed, backing off", "size", len(batch), "delay", d.String(), "error", err)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.embedAttempts),
		backoff.WithNotify(notify),
	)
}

// DecodeJSONObject parses model output as a JSON object, tolerating
// markdown code fences and surrounding prose.
func DecodeJSONObject(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err == nil && out != nil {
		return out, nil
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		if err := json.Unmarshal([]byte(s[i:j+1]), &out); err == nil && out != nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: not a JSON object (%d bytes)", core.ErrMalformedResponse, len(raw))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
