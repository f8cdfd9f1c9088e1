package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/platform/logger"
)

// PgVectorStore keeps chunk vectors in a Postgres table next to the
// relational data. The table is created on first upsert with the vector
// width of the first embedding batch.
type PgVectorStore struct {
	db       *sql.DB
	embedder core.EmbeddingProvider
	log      *logger.Logger

	mu    sync.Mutex
	ready bool
}

var _ core.VectorStore = (*PgVectorStore)(nil)

func NewPgVectorStore(db *sql.DB, embedder core.EmbeddingProvider, log *logger.Logger) *PgVectorStore {
	if log == nil {
		log = logger.Nop()
	}
	return &PgVectorStore{db: db, embedder: embedder, log: log.With("service", "PgVectorStore")}
}

func (s *PgVectorStore) ensureTable(ctx context.Context, dim int, create bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT to_regclass('public.chunk_vectors') IS NOT NULL`).Scan(&exists); err != nil {
		return false, fmt.Errorf("check chunk_vectors: %w", err)
	}
	if exists {
		s.ready = true
		return true, nil
	}
	if !create {
		return false, nil
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunk_vectors (
			point_id      UUID PRIMARY KEY,
			document_id   TEXT NOT NULL,
			chunk_db_id   TEXT NOT NULL,
			chunk_index   INT,
			page_start    INT,
			page_end      INT,
			section_title TEXT,
			text          TEXT NOT NULL,
			embedding     vector(%d) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunk_vectors_document ON chunk_vectors(document_id);
	`, dim)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return false, fmt.Errorf("create chunk_vectors: %w", err)
	}
	s.log.Info("pgvector table ready", "vector_dim", dim)
	s.ready = true
	return true, nil
}

// Upsert replaces the document's vectors in a single transaction.
func (s *PgVectorStore) Upsert(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return s.Delete(ctx, documentID)
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return opErr("upsert", OperationErrorEmbedFailed, "embed chunks failed", err)
	}
	if len(vectors) != len(chunks) || len(vectors[0]) == 0 {
		return opErr("upsert", OperationErrorValidation, "embedding count mismatch", nil)
	}
	if _, err := s.ensureTable(ctx, len(vectors[0]), true); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO chunk_vectors
			(point_id, document_id, chunk_db_id, chunk_index, page_start, page_end, section_title, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (point_id) DO UPDATE SET
			chunk_index = EXCLUDED.chunk_index,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, ch := range chunks {
		if _, err := stmt.ExecContext(ctx,
			PointID(documentID, ch.ID), documentID, ch.ID, ch.ChunkIndex,
			ch.PageStart, ch.PageEnd, ch.SectionTitle, ch.Text, pgvector.NewVector(vectors[i]),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// QuerySimilar ranks by cosine distance; score is 1 - distance.
func (s *PgVectorStore) QuerySimilar(ctx context.Context, documentID, query string, k int) ([]models.ChunkHit, error) {
	exists, err := s.ensureTable(ctx, 0, false)
	if err != nil || !exists {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, opErr("query", OperationErrorEmbedFailed, "embed query failed", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, nil
	}

	const q = `
		SELECT point_id, chunk_db_id, chunk_index, page_start, page_end, section_title, text,
		       1 - (embedding <=> $2) AS score
		FROM chunk_vectors
		WHERE document_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, documentID, pgvector.NewVector(vectors[0]), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []models.ChunkHit
	for rows.Next() {
		var (
			h               models.ChunkHit
			idx, start, end sql.NullInt64
			title           sql.NullString
			score           float64
		)
		if err := rows.Scan(&h.ID, &h.ChunkID, &idx, &start, &end, &title, &h.Text, &score); err != nil {
			return nil, err
		}
		h.ChunkIndex = nullInt(idx)
		h.PageStart = nullInt(start)
		h.PageEnd = nullInt(end)
		if title.Valid {
			h.SectionTitle = &title.String
		}
		h.Score = &score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PgVectorStore) Delete(ctx context.Context, documentID string) error {
	exists, err := s.ensureTable(ctx, 0, false)
	if err != nil || !exists {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID)
	return err
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
