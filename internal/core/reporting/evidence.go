package reporting

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
)

const snippetSeparator = "\n\n---\n\n"

type evidence struct {
	text    string
	sources []models.SourceRecord
}

type snippet struct {
	source models.SourceRecord
	text   string
}

// gatherEvidence retrieves the closest chunks for the section. Without
// vector hits it falls back to the first blocks of the document.
func (g *Generator) gatherEvidence(ctx context.Context, documentID string, sec Section) evidence {
	query := sec.Heading + ". " + sec.Instruction

	var snippets []snippet
	hits, err := g.vectors.QuerySimilar(ctx, documentID, query, g.cfg.TopK)
	if err != nil {
		g.log.Warn("vector query failed, falling back to blocks", "document_id", documentID, "section", sec.Heading, "error", err)
		hits = nil
	}
	for _, h := range hits {
		id := h.ChunkID
		if id == "" {
			id = h.ID
		}
		snippets = append(snippets, snippet{
			source: models.SourceRecord{ChunkID: id, PageStart: h.PageStart, PageEnd: h.PageEnd, SectionTitle: h.SectionTitle},
			text:   h.Text,
		})
	}

	if len(snippets) == 0 {
		blocks, err := g.db.ListBlocks(ctx, documentID, core.AnyParse(), g.cfg.FallbackBlocks)
		if err != nil {
			g.log.Warn("block fallback failed", "document_id", documentID, "error", err)
		}
		for _, b := range blocks {
			title := b.Title
			if title == nil {
				title = b.SemanticLabel
			}
			snippets = append(snippets, snippet{
				source: models.SourceRecord{ChunkID: "block_" + b.ID, SectionTitle: title},
				text:   b.Content,
			})
		}
	}

	parts := make([]string, 0, len(snippets))
	sources := make([]models.SourceRecord, 0, len(snippets))
	for _, s := range snippets {
		parts = append(parts, fmt.Sprintf("[%s] (p%s–%s, section=%s)\n%s",
			s.source.ChunkID,
			optInt(s.source.PageStart),
			optInt(s.source.PageEnd),
			optString(s.source.SectionTitle),
			strings.TrimSpace(s.text),
		))
		sources = append(sources, s.source)
	}
	return evidence{
		text:    core.Prefix(strings.Join(parts, snippetSeparator), g.cfg.EvidenceChars),
		sources: sources,
	}
}

func optInt(v *int) string {
	if v == nil {
		return "?"
	}
	return strconv.Itoa(*v)
}

func optString(v *string) string {
	if v == nil {
		return "none"
	}
	return *v
}
