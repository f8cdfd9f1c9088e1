package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/insightai/internal/models"
)

// bagEmbedder gives every distinct word its own dimension, so texts
// without shared words are orthogonal.
type bagEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
}

const bagDims = 32

func (e *bagEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vocab == nil {
		e.vocab = map[string]int{}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, bagDims)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			idx, ok := e.vocab[w]
			if !ok {
				idx = len(e.vocab) % bagDims
				e.vocab[w] = idx
			}
			v[idx]++
		}
		out[i] = v
	}
	return out, nil
}

func chunk(id, doc, text string, idx int) models.DocumentChunk {
	return models.DocumentChunk{ID: id, DocumentID: doc, Text: text, ChunkIndex: idx}
}

func hitChunkIDs(hits []models.ChunkHit) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ChunkID)
	}
	sort.Strings(ids)
	return ids
}

// fakeQdrant keeps points per collection and understands the handful of
// endpoints the store uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string]qdrantPoint
	created     int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]int{}, points: map[string]qdrantPoint{}}
}

func (f *fakeQdrant) reply(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func (f *fakeQdrant) filterDoc(body map[string]any) string {
	flt, _ := body["filter"].(map[string]any)
	must, _ := flt["must"].([]any)
	if len(must) == 0 {
		return ""
	}
	cond, _ := must[0].(map[string]any)
	match, _ := cond["match"].(map[string]any)
	v, _ := match["value"].(string)
	return v
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/collections/insightai_chunks"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path == r.URL.Path {
		f.reply(w, http.StatusNotFound, nil)
		return
	}
	_, exists := f.collections["insightai_chunks"]

	switch {
	case path == "" && r.Method == http.MethodGet:
		if !exists {
			f.reply(w, http.StatusNotFound, nil)
			return
		}
		f.reply(w, http.StatusOK, map[string]any{"status": "green"})
	case path == "" && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.collections["insightai_chunks"] = body.Vectors.Size
		f.created++
		f.reply(w, http.StatusOK, true)
	case !exists:
		f.reply(w, http.StatusNotFound, nil)
	case path == "/points" && r.Method == http.MethodPut:
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		f.reply(w, http.StatusOK, map[string]any{"status": "completed"})
	case path == "/points/delete":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		doc := f.filterDoc(body)
		for id, p := range f.points {
			if p.Payload.DocumentID == doc {
				delete(f.points, id)
			}
		}
		f.reply(w, http.StatusOK, map[string]any{"status": "completed"})
	case path == "/points/search":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		doc := f.filterDoc(body)
		var res []map[string]any
		for id, p := range f.points {
			if p.Payload.DocumentID == doc {
				res = append(res, map[string]any{"id": id, "score": 0.5, "payload": p.Payload})
			}
		}
		f.reply(w, http.StatusOK, res)
	default:
		f.reply(w, http.StatusBadRequest, nil)
	}
}

func newTestQdrant(t *testing.T) (*QdrantStore, *fakeQdrant) {
	t.Helper()
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := NewQdrantStore(QdrantConfig{URL: srv.URL, BatchSize: 2}, &bagEmbedder{}, nil)
	require.NoError(t, err)
	return s, fake
}

func TestQdrantStore_EmptyBeforeCollectionExists(t *testing.T) {
	s, fake := newTestQdrant(t)
	ctx := context.Background()

	hits, err := s.QuerySimilar(ctx, "doc", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	require.NoError(t, s.Delete(ctx, "doc"))
	assert.Zero(t, fake.created)
}

func TestQdrantStore_ReplaceOnWrite(t *testing.T) {
	s, fake := newTestQdrant(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "D", []models.DocumentChunk{
		chunk("c1", "D", "revenue grew strongly", 0),
		chunk("c2", "D", "costs fell", 1),
		chunk("c3", "D", "outlook positive", 2),
	}))
	require.NoError(t, s.Upsert(ctx, "other", []models.DocumentChunk{chunk("x1", "other", "unrelated", 0)}))
	assert.Equal(t, bagDims, fake.collections["insightai_chunks"])

	require.NoError(t, s.Upsert(ctx, "D", []models.DocumentChunk{
		chunk("c4", "D", "new revenue figures", 0),
		chunk("c5", "D", "new risks", 1),
	}))

	hits, err := s.QuerySimilar(ctx, "D", "revenue", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c4", "c5"}, hitChunkIDs(hits))
	assert.Equal(t, 1, fake.created)

	for _, h := range hits {
		assert.Equal(t, PointID("D", h.ChunkID), h.ID)
		require.NotNil(t, h.ChunkIndex)
	}

	other, err := s.QuerySimilar(ctx, "other", "unrelated", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"x1"}, hitChunkIDs(other))
}

func TestQdrantStore_DeleteDocument(t *testing.T) {
	s, _ := newTestQdrant(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "D", []models.DocumentChunk{chunk("c1", "D", "text", 0)}))
	require.NoError(t, s.Delete(ctx, "D"))

	hits, err := s.QuerySimilar(ctx, "D", "text", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestPointID_Stable(t *testing.T) {
	assert.Equal(t, PointID("1", "2"), PointID("1", "2"))
	assert.NotEqual(t, PointID("1", "2"), PointID("1", "3"))
	assert.NotEqual(t, PointID("12", "3"), PointID("1", "23"))
}

func TestMemoryStore_ReplaceOnWriteAndRanking(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(&bagEmbedder{})

	hits, err := m.QuerySimilar(ctx, "D", "q", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, m.Upsert(ctx, "D", []models.DocumentChunk{chunk("a", "D", "alpha beta", 0)}))
	require.NoError(t, m.Upsert(ctx, "D", []models.DocumentChunk{
		chunk("b", "D", "gamma delta", 0),
		chunk("c", "D", "revenue revenue revenue", 1),
	}))

	hits, err = m.QuerySimilar(ctx, "D", "revenue", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].ChunkID)
	assert.InDelta(t, 1.0, *hits[0].Score, 1e-9)

	all, err := m.QuerySimilar(ctx, "D", "revenue", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, hitChunkIDs(all))
}
