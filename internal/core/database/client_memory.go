package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
)

// MemoryClient is a process-local DbClient for DB_DRIVER=memory and tests.
// Every call holds the lock for its whole duration, which gives each call
// the same all-or-nothing visibility as the transactional Postgres client.
type MemoryClient struct {
	mu        sync.RWMutex
	documents map[string]models.Document
	parses    map[string]models.DocumentParse
	chunks    map[string][]models.DocumentChunk
	blocks    map[string][]models.DocumentBlock
	reports   map[string][]models.Report
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		documents: make(map[string]models.Document),
		parses:    make(map[string]models.DocumentParse),
		chunks:    make(map[string][]models.DocumentChunk),
		blocks:    make(map[string][]models.DocumentBlock),
		reports:   make(map[string][]models.Report),
	}
}

var _ core.DbClient = (*MemoryClient)(nil)
var _ core.DbClient = (*DatabaseClient)(nil)

func (m *MemoryClient) Close() error { return nil }

func (m *MemoryClient) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	d := *doc
	d.CreatedAt = orNow(d.CreatedAt)
	d.UpdatedAt = orNow(d.UpdatedAt)
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryClient) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return &d, nil
}

func (m *MemoryClient) ListDocuments(_ context.Context, workspaceID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Document
	for _, d := range m.documents {
		if workspaceID == "" || d.WorkspaceID == workspaceID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryClient) UpdateDocumentStatus(_ context.Context, id string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryClient) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	delete(m.documents, id)
	delete(m.chunks, id)
	delete(m.blocks, id)
	delete(m.reports, id)
	for pid, p := range m.parses {
		if p.DocumentID == id {
			delete(m.parses, pid)
		}
	}
	return nil
}

func (m *MemoryClient) CreateParse(_ context.Context, p *models.DocumentParse) error {
	if p == nil {
		return errors.New("nil parse")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[p.DocumentID]; !ok {
		return fmt.Errorf("document %s: %w", p.DocumentID, core.ErrNotFound)
	}
	cp := *p
	cp.CreatedAt = orNow(cp.CreatedAt)
	m.parses[cp.ID] = cp
	return nil
}

// Parse returns a stored parse; used by tests.
func (m *MemoryClient) Parse(id string) (models.DocumentParse, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parses[id]
	return p, ok
}

func (m *MemoryClient) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	taken := map[string]map[int]bool{}
	for _, ch := range chunks {
		if _, ok := m.documents[ch.DocumentID]; !ok {
			return fmt.Errorf("document %s: %w", ch.DocumentID, core.ErrNotFound)
		}
		idx, ok := taken[ch.DocumentID]
		if !ok {
			idx = map[int]bool{}
			for _, have := range m.chunks[ch.DocumentID] {
				idx[have.ChunkIndex] = true
			}
			taken[ch.DocumentID] = idx
		}
		if idx[ch.ChunkIndex] {
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, core.ErrDuplicateChunk)
		}
		idx[ch.ChunkIndex] = true
	}
	for _, ch := range chunks {
		ch.CreatedAt = orNow(ch.CreatedAt)
		m.chunks[ch.DocumentID] = append(m.chunks[ch.DocumentID], ch)
	}
	return nil
}

func (m *MemoryClient) GetChunksByDocument(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.DocumentChunk(nil), m.chunks[documentID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *MemoryClient) DeleteChunksByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, documentID)
	return nil
}

func (m *MemoryClient) InsertDocumentBlocks(_ context.Context, blocks []models.DocumentBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range blocks {
		if _, ok := m.documents[b.DocumentID]; !ok {
			return fmt.Errorf("document %s: %w", b.DocumentID, core.ErrNotFound)
		}
	}
	for _, b := range blocks {
		b.CreatedAt = orNow(b.CreatedAt)
		m.blocks[b.DocumentID] = append(m.blocks[b.DocumentID], b)
	}
	return nil
}

func (m *MemoryClient) ListBlocks(_ context.Context, documentID string, filter core.ParseFilter, limit int) ([]models.DocumentBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DocumentBlock
	for _, b := range m.blocks[documentID] {
		if filter.Matches(b.ParseID) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BlockIndex < out[j].BlockIndex })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryClient) ApplyBlockStructures(_ context.Context, structures []models.BlockStructure) error {
	if len(structures) == 0 {
		return nil
	}
	byID := make(map[string]models.BlockStructure, len(structures))
	for _, s := range structures {
		byID[s.BlockID] = s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for docID, blocks := range m.blocks {
		for i := range blocks {
			s, ok := byID[blocks[i].ID]
			if !ok {
				continue
			}
			label := s.SectionType
			blocks[i].SemanticLabel = &label
			blocks[i].Title = s.Title
			blocks[i].Summary = s.Summary
		}
		m.blocks[docID] = blocks
	}
	return nil
}

func (m *MemoryClient) DeleteBlocksByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, documentID)
	return nil
}

func (m *MemoryClient) CreateReport(_ context.Context, r *models.Report) error {
	if r == nil {
		return errors.New("nil report")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[r.DocumentID]; !ok {
		return fmt.Errorf("document %s: %w", r.DocumentID, core.ErrNotFound)
	}
	cp := *r
	cp.CreatedAt = orNow(cp.CreatedAt)
	m.reports[cp.DocumentID] = append(m.reports[cp.DocumentID], cp)
	return nil
}

func (m *MemoryClient) GetLatestReport(_ context.Context, documentID string) (*models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reports := m.reports[documentID]
	if len(reports) == 0 {
		return nil, fmt.Errorf("report for %s: %w", documentID, core.ErrNotFound)
	}
	latest := reports[0]
	for _, r := range reports[1:] {
		if !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	return &latest, nil
}
