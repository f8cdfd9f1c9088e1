package vectorstore

import "github.com/markdave123-py/insightai/internal/models"

// chunkPayload is what every backend stores next to a chunk vector.
type chunkPayload struct {
	DocumentID   string   `json:"document_id"`
	ChunkDBID    string   `json:"chunk_db_id"`
	Text         string   `json:"_text"`
	ChunkIndex   *int     `json:"chunk_index"`
	PageStart    *int     `json:"page_start"`
	PageEnd      *int     `json:"page_end"`
	SectionTitle *string  `json:"section_title"`
	Keywords     []string `json:"keywords"`
}

func newChunkPayload(ch models.DocumentChunk) chunkPayload {
	idx := ch.ChunkIndex
	keywords := ch.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return chunkPayload{
		DocumentID:   ch.DocumentID,
		ChunkDBID:    ch.ID,
		Text:         ch.Text,
		ChunkIndex:   &idx,
		PageStart:    ch.PageStart,
		PageEnd:      ch.PageEnd,
		SectionTitle: ch.SectionTitle,
		Keywords:     keywords,
	}
}

func (p chunkPayload) hit(id string, score *float64) models.ChunkHit {
	return models.ChunkHit{
		ID:           id,
		ChunkID:      p.ChunkDBID,
		ChunkIndex:   p.ChunkIndex,
		Text:         p.Text,
		PageStart:    p.PageStart,
		PageEnd:      p.PageEnd,
		SectionTitle: p.SectionTitle,
		Score:        score,
	}
}
