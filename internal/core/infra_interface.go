package core

import (
	"context"
	"io"

	"github.com/markdave123-py/insightai/internal/models"
)

type parseFilterMode int

const (
	parseAny parseFilterMode = iota
	parseNone
	parseExact
)

// ParseFilter selects blocks by parse id. "No parse" (CSV and plain-text
// paths) is a distinct value from "any parse".
type ParseFilter struct {
	mode parseFilterMode
	id   string
}

// AnyParse matches every block of a document.
func AnyParse() ParseFilter { return ParseFilter{mode: parseAny} }

// NoParse matches blocks that were created without a parse.
func NoParse() ParseFilter { return ParseFilter{mode: parseNone} }

// ParseID matches blocks of one parse.
func ParseID(id string) ParseFilter { return ParseFilter{mode: parseExact, id: id} }

func (f ParseFilter) IsAny() bool  { return f.mode == parseAny }
func (f ParseFilter) IsNone() bool { return f.mode == parseNone }

// ID returns the parse id for an exact filter.
func (f ParseFilter) ID() (string, bool) {
	return f.id, f.mode == parseExact
}

// Matches reports whether a block with the given parse id passes the filter.
func (f ParseFilter) Matches(parseID *string) bool {
	switch f.mode {
	case parseNone:
		return parseID == nil
	case parseExact:
		return parseID != nil && *parseID == f.id
	default:
		return true
	}
}

// DbClient defines all persistence operations the pipeline needs.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, workspaceID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	// DeleteDocument removes the document and everything it owns.
	DeleteDocument(ctx context.Context, id string) error

	CreateParse(ctx context.Context, parse *models.DocumentParse) error

	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	InsertDocumentBlocks(ctx context.Context, blocks []models.DocumentBlock) error
	// ListBlocks returns blocks ordered by block_index; limit <= 0 means all.
	ListBlocks(ctx context.Context, documentID string, filter ParseFilter, limit int) ([]models.DocumentBlock, error)
	// ApplyBlockStructures writes label/title/summary for every entry in one commit.
	ApplyBlockStructures(ctx context.Context, structures []models.BlockStructure) error
	DeleteBlocksByDocument(ctx context.Context, documentID string) error

	CreateReport(ctx context.Context, report *models.Report) error
	GetLatestReport(ctx context.Context, documentID string) (*models.Report, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// VectorStore keeps a rebuildable projection of chunks for similarity search.
type VectorStore interface {
	// Upsert replaces every vector of the document with the given chunks.
	Upsert(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	QuerySimilar(ctx context.Context, documentID, query string, k int) ([]models.ChunkHit, error)
	Delete(ctx context.Context, documentID string) error
}
