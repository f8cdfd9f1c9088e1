package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/insightai/internal/config"
	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
)

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

type DatabaseClient struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, types: pgtype.NewMap()}, nil
}

// DB exposes the pool so the pgvector store can share it.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, file_name, content_type, storage_key, storage_url, status, language, workspace_id, uploader_id, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.FileName, doc.ContentType, doc.StorageKey, doc.StorageURL, doc.Status, doc.Language,
		doc.WorkspaceID, doc.UploaderID, orNow(doc.CreatedAt), orNow(doc.UpdatedAt))
	return err
}

const documentColumns = `id, file_name, content_type, storage_key, storage_url, status, language, workspace_id, uploader_id, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.FileName, &d.ContentType, &d.StorageKey, &d.StorageURL, &d.Status, &d.Language,
		&d.WorkspaceID, &d.UploaderID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return d, err
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, workspaceID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE ($1 = '' OR workspace_id = $1) ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE documents
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeleteDocument relies on ON DELETE CASCADE for parses, chunks, blocks and reports.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Parses

func (c *DatabaseClient) CreateParse(ctx context.Context, p *models.DocumentParse) error {
	if p == nil {
		return errors.New("nil parse")
	}
	const q = `
		INSERT INTO document_parses (id, document_id, success, full_text, page_count, used_ocr, warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := c.db.ExecContext(ctx, q,
		p.ID, p.DocumentID, p.Success, p.FullText, p.PageCount, p.UsedOCR, p.Warnings, orNow(p.CreatedAt))
	return err
}

// Chunks

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, parse_id, chunk_index, section_title, section_level, page_start, page_end,
			 text, token_count, summary, keywords, topics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.ParseID, ch.ChunkIndex, ch.SectionTitle, ch.SectionLevel, ch.PageStart, ch.PageEnd,
			ch.Text, ch.TokenCount, ch.Summary, ch.Keywords, ch.Topics, orNow(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, core.ErrDuplicateChunk)
			}
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, parse_id, chunk_index, section_title, section_level, page_start, page_end,
		       text, token_count, summary, keywords, topics, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch                        models.DocumentChunk
			parseID, title, summary   sql.NullString
			level, pageStart, pageEnd sql.NullInt64
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &parseID, &ch.ChunkIndex, &title, &level, &pageStart, &pageEnd,
			&ch.Text, &ch.TokenCount, &summary,
			c.types.SQLScanner(&ch.Keywords), c.types.SQLScanner(&ch.Topics), &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.ParseID = nullString(parseID)
		ch.SectionTitle = nullString(title)
		ch.Summary = nullString(summary)
		ch.SectionLevel = nullInt(level)
		ch.PageStart = nullInt(pageStart)
		ch.PageEnd = nullInt(pageEnd)
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

// Blocks

func (c *DatabaseClient) InsertDocumentBlocks(ctx context.Context, blocks []models.DocumentBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_blocks
			(id, document_id, parse_id, block_index, block_type, semantic_label, title, content, summary, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range blocks {
		b := &blocks[i]
		if _, err := stmt.ExecContext(ctx,
			b.ID, b.DocumentID, b.ParseID, b.BlockIndex, b.BlockType, b.SemanticLabel, b.Title,
			b.Content, b.Summary, b.Confidence, orNow(b.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert block %d: %w", b.BlockIndex, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) ListBlocks(ctx context.Context, documentID string, filter core.ParseFilter, limit int) ([]models.DocumentBlock, error) {
	var (
		sb   strings.Builder
		args = []any{documentID}
	)
	sb.WriteString(`
		SELECT id, document_id, parse_id, block_index, block_type, semantic_label, title, content, summary, confidence, created_at
		FROM document_blocks
		WHERE document_id = $1`)
	if id, ok := filter.ID(); ok {
		args = append(args, id)
		fmt.Fprintf(&sb, " AND parse_id = $%d", len(args))
	} else if filter.IsNone() {
		sb.WriteString(" AND parse_id IS NULL")
	}
	sb.WriteString(" ORDER BY block_index ASC")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentBlock
	for rows.Next() {
		var (
			b                     models.DocumentBlock
			parseID, label, title sql.NullString
			confidence            sql.NullFloat64
		)
		if err := rows.Scan(
			&b.ID, &b.DocumentID, &parseID, &b.BlockIndex, &b.BlockType, &label, &title,
			&b.Content, &b.Summary, &confidence, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		b.ParseID = nullString(parseID)
		b.SemanticLabel = nullString(label)
		b.Title = nullString(title)
		if confidence.Valid {
			v := confidence.Float64
			b.Confidence = &v
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ApplyBlockStructures updates label, title and summary only. Content is never touched.
func (c *DatabaseClient) ApplyBlockStructures(ctx context.Context, structures []models.BlockStructure) error {
	if len(structures) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	const q = `
		UPDATE document_blocks
		SET semantic_label = $2, title = $3, summary = $4
		WHERE id = $1
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range structures {
		if _, err := stmt.ExecContext(ctx, s.BlockID, s.SectionType, s.Title, s.Summary); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update block %s: %w", s.BlockID, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteBlocksByDocument(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM document_blocks WHERE document_id = $1`, documentID)
	return err
}

// Reports

func (c *DatabaseClient) CreateReport(ctx context.Context, r *models.Report) error {
	if r == nil {
		return errors.New("nil report")
	}
	body, err := json.Marshal(r.Content)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO reports (id, document_id, content, created_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.DocumentID, body, orNow(r.CreatedAt))
	return err
}

func (c *DatabaseClient) GetLatestReport(ctx context.Context, documentID string) (*models.Report, error) {
	const q = `
		SELECT id, document_id, content, created_at
		FROM reports
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var (
		r    models.Report
		body []byte
	)
	err := c.db.QueryRowContext(ctx, q, documentID).Scan(&r.ID, &r.DocumentID, &body, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report for %s: %w", documentID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &r.Content); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
