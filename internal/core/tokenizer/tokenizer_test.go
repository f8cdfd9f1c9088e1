package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWords_EncodeDecode(t *testing.T) {
	w := NewWords()
	ids := w.Encode("alpha beta  alpha\ngamma")
	require.Len(t, ids, 4)
	assert.Equal(t, ids[0], ids[2])
	assert.Equal(t, "alpha beta alpha gamma", w.Decode(ids))
	assert.Equal(t, "beta alpha", w.Decode(ids[1:3]))
}

func TestWords_Empty(t *testing.T) {
	w := NewWords()
	assert.Empty(t, w.Encode("   \n\t"))
	assert.Equal(t, "", w.Decode(nil))
}

func TestLoad_Words(t *testing.T) {
	tok, err := Load("WORDS")
	require.NoError(t, err)
	assert.IsType(t, &Words{}, tok)
}

func TestTiktoken_Offline(t *testing.T) {
	for _, name := range []string{"o200k_base", "cl100k_base", "gpt-4o-mini"} {
		t.Run(name, func(t *testing.T) {
			tok, err := New(name)
			require.NoError(t, err)

			text := "Umsatz größer als 株式会社 🚀 2023"
			ids := tok.Encode(text)
			require.NotEmpty(t, ids)
			assert.Equal(t, text, tok.Decode(ids))
			assert.Equal(t, ids, tok.Encode(tok.Decode(ids)))
		})
	}
}

func TestLoad_UnknownEncoding(t *testing.T) {
	_, err := Load("no-such-encoding")
	assert.Error(t, err)
}
