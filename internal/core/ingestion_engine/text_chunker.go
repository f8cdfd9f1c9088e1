package ingestion_engine

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
)

// ChunkMeta is copied onto every chunk produced from one piece of text.
type ChunkMeta struct {
	ParseID      *string
	SectionTitle *string
	SectionLevel *int
	PageStart    *int
	PageEnd      *int
}

// TextChunker slices text into token windows.
type TextChunker struct {
	tok core.Tokenizer
}

func NewTextChunker(tok core.Tokenizer) *TextChunker {
	return &TextChunker{tok: tok}
}

// Chunk encodes text and cuts windows of at most maxTokens tokens, each
// sharing overlap tokens with the one before. overlap 0 gives consecutive
// non-overlapping windows. Window edges never split a character, and
// TokenCount is the encoded length of the stored text.
// Chunk indexes start at startIndex; the next free index is returned.
// Blank text yields no chunks.
func (c *TextChunker) Chunk(documentID, text string, maxTokens, overlap, startIndex int, meta ChunkMeta) ([]models.DocumentChunk, int) {
	if strings.TrimSpace(text) == "" || maxTokens <= 0 {
		return nil, startIndex
	}
	tokens := c.tok.Encode(text)
	if len(tokens) == 0 {
		return nil, startIndex
	}
	if overlap >= maxTokens {
		overlap = 0
	}

	now := time.Now().UTC()
	next := startIndex
	var out []models.DocumentChunk
	for start := 0; start < len(tokens); {
		body, used, count := fitTokens(c.tok, tokens[start:], maxTokens)
		end := start + used
		if strings.TrimSpace(body) != "" {
			out = append(out, models.DocumentChunk{
				ID:           uuid.NewString(),
				DocumentID:   documentID,
				ParseID:      meta.ParseID,
				ChunkIndex:   next,
				SectionTitle: meta.SectionTitle,
				SectionLevel: meta.SectionLevel,
				PageStart:    meta.PageStart,
				PageEnd:      meta.PageEnd,
				Text:         body,
				TokenCount:   count,
				CreatedAt:    now,
			})
			next++
		}
		if end >= len(tokens) {
			break
		}
		start = c.nextStart(tokens, start, end, overlap)
	}
	return out, next
}

// nextStart steps back overlap ids from end, then forward until the ids up
// to end decode cleanly, so the next window opens on a character boundary.
func (c *TextChunker) nextStart(tokens []int, start, end, overlap int) int {
	if overlap <= 0 {
		return end
	}
	for s := max(end-overlap, start+1); s < end; s++ {
		if utf8.ValidString(c.tok.Decode(tokens[s:end])) {
			return s
		}
	}
	return end
}

// fitTokens decodes the longest prefix of tokens, at most limit ids, whose
// text is valid UTF-8 and re-encodes to at most limit tokens. It returns the
// text, the ids consumed and the re-encoded length.
func fitTokens(tok core.Tokenizer, tokens []int, limit int) (string, int, int) {
	end := min(len(tokens), limit)
	for e := end; e > 0; e-- {
		body := tok.Decode(tokens[:e])
		if !utf8.ValidString(body) {
			continue
		}
		if n := len(tok.Encode(body)); n <= limit {
			return body, e, n
		}
	}
	body := strings.ToValidUTF8(tok.Decode(tokens[:end]), "")
	return body, end, len(tok.Encode(body))
}
