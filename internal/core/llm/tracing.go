package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/markdave123-py/insightai/llm"

// Spans carry hashes and lengths of prompts and outputs, never the text.

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func textAttrs(prefix, s string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(prefix+".sha256", hashText(s)),
		attribute.Int(prefix+".len", len(s)),
	}
}

// startSpan never fails the caller; a panicking tracer yields a no-op span.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (outCtx context.Context, span trace.Span) {
	defer func() {
		if recover() != nil {
			outCtx, span = ctx, trace.SpanFromContext(context.Background())
		}
	}()
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	defer func() { _ = recover() }()
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, Classify(err).String())
	}
	span.End()
}
