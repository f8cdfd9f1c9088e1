package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
)

type memoryPoint struct {
	id      string
	vector  []float32
	payload chunkPayload
}

// MemoryStore keeps points in process and ranks them by cosine similarity.
// It backs VECTOR_BACKEND=memory and tests.
type MemoryStore struct {
	embedder core.EmbeddingProvider

	mu     sync.RWMutex
	points map[string]map[string]memoryPoint
}

var _ core.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore(embedder core.EmbeddingProvider) *MemoryStore {
	return &MemoryStore{embedder: embedder, points: make(map[string]map[string]memoryPoint)}
}

func (m *MemoryStore) Upsert(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	if err := m.Delete(ctx, documentID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := m.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return opErr("upsert", OperationErrorEmbedFailed, "embed chunks failed", err)
	}
	if len(vectors) != len(chunks) {
		return opErr("upsert", OperationErrorValidation, fmt.Sprintf("embedding count mismatch: chunks=%d vectors=%d", len(chunks), len(vectors)), nil)
	}

	pts := make(map[string]memoryPoint, len(chunks))
	for i, ch := range chunks {
		id := PointID(documentID, ch.ID)
		pts[id] = memoryPoint{id: id, vector: vectors[i], payload: newChunkPayload(ch)}
	}
	m.mu.Lock()
	m.points[documentID] = pts
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) QuerySimilar(ctx context.Context, documentID, query string, k int) ([]models.ChunkHit, error) {
	m.mu.RLock()
	n := len(m.points[documentID])
	m.mu.RUnlock()
	if n == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}

	vectors, err := m.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, opErr("query", OperationErrorEmbedFailed, "embed query failed", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	q := vectors[0]

	m.mu.RLock()
	hits := make([]models.ChunkHit, 0, len(m.points[documentID]))
	for _, p := range m.points[documentID] {
		score := cosine(q, p.vector)
		hits = append(hits, p.payload.hit(p.id, &score))
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if *hits[i].Score == *hits[j].Score {
			return hits[i].ChunkID < hits[j].ChunkID
		}
		return *hits[i].Score > *hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryStore) Delete(_ context.Context, documentID string) error {
	m.mu.Lock()
	delete(m.points, documentID)
	m.mu.Unlock()
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
