package ingestion_engine

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocconvExtractor_PlainText(t *testing.T) {
	e := NewDocconvExtractor(false)

	t.Run("invalid bytes are dropped", func(t *testing.T) {
		got, err := e.ExtractText(context.Background(), []byte("Ums\xffatz \xc3 2023"), "text/plain; charset=utf-8")
		require.NoError(t, err)
		assert.True(t, utf8.ValidString(got.Text))
		assert.Equal(t, "Umsatz  2023", got.Text)
		assert.NotContains(t, got.Text, "\uFFFD")
	})

	t.Run("byte order mark is stripped", func(t *testing.T) {
		got, err := e.ExtractText(context.Background(), []byte("\ufeffhello"), "")
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Text)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.ExtractText(ctx, []byte("x"), "text/plain")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
