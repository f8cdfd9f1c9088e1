// Package tokenizer adapts BPE encoders to core.Tokenizer.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/markdave123-py/insightai/internal/core"
)

// Tiktoken wraps a tiktoken encoding. Decode(Encode(s)) == s for any s.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

var _ core.Tokenizer = (*Tiktoken)(nil)

// BPE ranks ship embedded in the binary; nothing is fetched at startup.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// New loads the named encoding ("o200k_base", "cl100k_base", ...). A model
// name such as "gpt-4o-mini" is accepted as well.
func New(name string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		var modelErr error
		enc, modelErr = tiktoken.EncodingForModel(name)
		if modelErr != nil {
			return nil, fmt.Errorf("load encoding %q: %w", name, err)
		}
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Words is a whitespace tokenizer. Each token is one space-separated word,
// so Decode rejoins words with single spaces. It needs no encoding files
// and is used for TOKENIZER_ENCODING=words and in tests.
type Words struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

var _ core.Tokenizer = (*Words)(nil)

func NewWords() *Words {
	return &Words{ids: make(map[string]int)}
}

func (w *Words) Encode(text string) []int {
	fields := strings.Fields(text)
	out := make([]int, 0, len(fields))
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range fields {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.ids[f] = id
			w.words = append(w.words, f)
		}
		out = append(out, id)
	}
	return out
}

func (w *Words) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(w.words) {
			parts = append(parts, w.words[id])
		}
	}
	return strings.Join(parts, " ")
}

// Load picks the tokenizer for an encoding name.
func Load(name string) (core.Tokenizer, error) {
	if strings.EqualFold(name, "words") {
		return NewWords(), nil
	}
	return New(name)
}
