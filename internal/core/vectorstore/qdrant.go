package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/platform/logger"
)

const (
	defaultCollection = "insightai_chunks"
	defaultBatchSize  = 512
	maxErrorBodyBytes = 1024
)

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	BatchSize  int
	Timeout    time.Duration
}

// QdrantStore talks to Qdrant over its REST API. The collection is created
// on the first upsert, sized to the embeddings actually returned.
type QdrantStore struct {
	log      *logger.Logger
	cfg      QdrantConfig
	baseURL  string
	http     *http.Client
	embedder core.EmbeddingProvider

	mu    sync.Mutex
	ready bool
}

var _ core.VectorStore = (*QdrantStore)(nil)

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantPoint struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload chunkPayload `json:"payload"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload chunkPayload    `json:"payload"`
}

func NewQdrantStore(cfg QdrantConfig, embedder core.EmbeddingProvider, log *logger.Logger) (*QdrantStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant url required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &QdrantStore{
		log:      log.With("service", "QdrantVectorStore"),
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout},
		embedder: embedder,
	}, nil
}

// Upsert replaces every point of documentID with the given chunks.
func (s *QdrantStore) Upsert(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	const op = "upsert"
	if err := s.Delete(ctx, documentID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return opErr(op, OperationErrorEmbedFailed, "embed chunks failed", err)
	}
	if len(vectors) != len(chunks) {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("embedding count mismatch: chunks=%d vectors=%d", len(chunks), len(vectors)), nil)
	}
	if len(vectors[0]) == 0 {
		return nil
	}

	if _, err := s.ensureCollection(ctx, len(vectors[0]), true); err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))
		points := make([]qdrantPoint, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, qdrantPoint{
				ID:      PointID(documentID, chunks[i].ID),
				Vector:  vectors[i],
				Payload: newChunkPayload(chunks[i]),
			})
		}
		req := map[string]any{"points": points}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil); err != nil {
			return err
		}
	}
	s.log.Debug("qdrant points upserted", "document_id", documentID, "points", len(chunks))
	return nil
}

// QuerySimilar returns the k nearest chunks of documentID. A missing
// collection yields no hits.
func (s *QdrantStore) QuerySimilar(ctx context.Context, documentID, query string, k int) ([]models.ChunkHit, error) {
	const op = "query"
	exists, err := s.ensureCollection(ctx, 0, false)
	if err != nil || !exists {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}

	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, opErr(op, OperationErrorEmbedFailed, "embed query failed", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, nil
	}

	req := map[string]any{
		"vector":       vectors[0],
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
		"filter":       documentFilter(documentID),
	}
	var raw []qdrantSearchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &raw); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}

	hits := make([]models.ChunkHit, 0, len(raw))
	for _, item := range raw {
		score := item.Score
		hits = append(hits, item.Payload.hit(pointIDString(item.ID), &score))
	}
	return hits, nil
}

// Delete removes every point of documentID. It is a no-op before the
// collection exists.
func (s *QdrantStore) Delete(ctx context.Context, documentID string) error {
	const op = "delete"
	exists, err := s.ensureCollection(ctx, 0, false)
	if err != nil || !exists {
		return err
	}
	req := map[string]any{"filter": documentFilter(documentID)}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			s.resetReady()
			return nil
		}
		return err
	}
	return nil
}

// ensureCollection reports whether the collection exists, creating it with
// dim dimensions when create is set. Concurrent creators are harmless since
// a lost race just finds the collection on the re-check.
func (s *QdrantStore) ensureCollection(ctx context.Context, dim int, create bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return true, nil
	}

	err := s.doJSON(ctx, "collection_get", http.MethodGet, s.collectionPath(""), nil, nil)
	switch {
	case err == nil:
		s.ready = true
		return true, nil
	case !isStatus(err, http.StatusNotFound):
		return false, err
	case !create:
		return false, nil
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := s.doJSON(ctx, "collection_create", http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		if recheck := s.doJSON(ctx, "collection_get", http.MethodGet, s.collectionPath(""), nil, nil); recheck != nil {
			return false, err
		}
	}
	s.log.Info("qdrant collection ready", "collection", s.cfg.Collection, "vector_dim", dim)
	s.ready = true
	return true, nil
}

func (s *QdrantStore) resetReady() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   "document_id",
				"match": map[string]any{"value": documentID},
			},
		},
	}
}

// PointID is stable per (document, chunk) so repeated upserts overwrite.
func PointID(documentID, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("doc%s_chunk%s", documentID, chunkID))).String()
}

func pointIDString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (s *QdrantStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, core.Prefix(string(raw), maxErrorBodyBytes)),
		}
	}
	if out == nil {
		return nil
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func isStatus(err error, code int) bool {
	var oe *OperationError
	return errors.As(err, &oe) && oe.StatusCode == code
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}
