package ingestion_engine

import (
	"strings"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
)

// StructuralChunk is one heading-delimited section of a parsed PDF.
type StructuralChunk struct {
	Headings  []string
	Level     int
	Text      string
	PageStart int
	PageEnd   int
}

// SectionTitle joins the heading path, outermost first.
func (s StructuralChunk) SectionTitle() string {
	return strings.Join(s.Headings, " > ")
}

// Contextualize prefixes the body with its heading path so every window
// of the chunk keeps its section context.
func (s StructuralChunk) Contextualize() string {
	if len(s.Headings) == 0 {
		return s.Text
	}
	return strings.Join(s.Headings, "\n") + "\n" + s.Text
}

// headingLevel returns the markdown heading depth of line, or 0.
func headingLevel(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level == len(trimmed) || trimmed[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(trimmed[level:])
}

// SplitStructure walks the pages in order and starts a new chunk at every
// heading. Body text before the first heading forms its own chunk.
func SplitStructure(doc *core.StructuredDocument) []StructuralChunk {
	var (
		out   []StructuralChunk
		stack []string
		cur   *StructuralChunk
		body  []string
	)

	closeCur := func() {
		if cur == nil {
			return
		}
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" {
			cur.Text = text
			out = append(out, *cur)
		}
		cur = nil
		body = body[:0]
	}

	for _, page := range doc.Pages {
		for _, line := range strings.Split(page.Text, "\n") {
			if lvl, title := headingLevel(line); lvl > 0 {
				closeCur()
				if lvl-1 < len(stack) {
					stack = stack[:lvl-1]
				}
				for len(stack) < lvl-1 {
					stack = append(stack, "")
				}
				stack = append(stack, title)
				cur = &StructuralChunk{
					Headings:  compactHeadings(stack),
					Level:     lvl,
					PageStart: page.Number,
					PageEnd:   page.Number,
				}
				continue
			}
			if strings.TrimSpace(line) == "" && len(body) == 0 {
				continue
			}
			if cur == nil {
				cur = &StructuralChunk{Headings: compactHeadings(stack), PageStart: page.Number, PageEnd: page.Number}
			}
			cur.PageEnd = page.Number
			body = append(body, line)
		}
	}
	closeCur()
	return out
}

func compactHeadings(stack []string) []string {
	out := make([]string, 0, len(stack))
	for _, h := range stack {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// ChunkStructured re-tokenizes every structural chunk with overlap and
// numbers the results with one global index starting at startIndex.
func (c *TextChunker) ChunkStructured(documentID string, parseID *string, sections []StructuralChunk, maxTokens, overlap, startIndex int) ([]models.DocumentChunk, int) {
	next := startIndex
	var out []models.DocumentChunk
	for _, s := range sections {
		meta := ChunkMeta{ParseID: parseID}
		if title := s.SectionTitle(); title != "" {
			meta.SectionTitle = &title
		}
		if s.Level > 0 {
			lvl := s.Level
			meta.SectionLevel = &lvl
		}
		if s.PageStart > 0 {
			ps, pe := s.PageStart, s.PageEnd
			meta.PageStart, meta.PageEnd = &ps, &pe
		}
		var chunks []models.DocumentChunk
		chunks, next = c.Chunk(documentID, s.Contextualize(), maxTokens, overlap, next, meta)
		out = append(out, chunks...)
	}
	return out, next
}
