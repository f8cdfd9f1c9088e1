package ingestion_engine

import (
	"context"
	"time"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/platform/logger"
)

// IngestConfig tunes the pipeline.
//
// ChunkMaxTokens:     hard token cap per text/PDF chunk (e.g., 1000).
// ChunkOverlapTokens: tokens shared by consecutive windows inside one PDF structural chunk.
// CSVMaxTokens:       token budget per CSV chunk (e.g., 1200).
// CSVOverlapRows:     rows carried from the end of one CSV chunk into the next.
// ChunksPerBlock:     chunks grouped into one section block.
// RowsPerBlock:       CSV rows grouped into one table block.
// ProcessTimeout:     upper bound for one ProcessOne run; 0 disables it.
type IngestConfig struct {
	ChunkMaxTokens     int
	ChunkOverlapTokens int
	CSVMaxTokens       int
	CSVOverlapRows     int
	ChunksPerBlock     int
	RowsPerBlock       int
	ProcessTimeout     time.Duration
}

// DefaultIngestConfig mirrors the production defaults.
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		ChunkMaxTokens:     1000,
		ChunkOverlapTokens: 300,
		CSVMaxTokens:       1200,
		CSVOverlapRows:     5,
		ChunksPerBlock:     5,
		RowsPerBlock:       300,
		ProcessTimeout:     30 * time.Minute,
	}
}

// Structurer assigns semantic labels to a document's blocks.
type Structurer interface {
	StructureBlocks(ctx context.Context, documentID string, filter core.ParseFilter) error
}

// ReportBuilder drafts and persists a report for a processed document.
type ReportBuilder interface {
	GenerateAndStore(ctx context.Context, doc *models.Document) (*models.Report, error)
}

// DocumentIngestor orchestrates the background processing pipeline:
//
// db:         persistence for documents, parses, chunks, blocks and reports.
// obj:        object storage holding the uploaded files.
// vectors:    derived chunk index, rebuilt on every run.
// tok:        tokenizer shared by every chunker.
// extractor:  plain text extraction for TXT/DOCX and friends.
// pdf:        structural PDF parser.
// structurer: LLM block classification.
// reports:    report generation.
// jobs:       in-memory queue of document IDs to process.
type DocumentIngestor struct {
	db         core.DbClient
	obj        core.ObjectClient
	vectors    core.VectorStore
	tok        core.Tokenizer
	extractor  core.DocumentExtractor
	pdf        core.PDFParser
	structurer Structurer
	reports    ReportBuilder
	cfg        *IngestConfig
	log        *logger.Logger
	jobs       chan string
}

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}
