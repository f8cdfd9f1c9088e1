package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/google/uuid"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/platform/logger"
)

const (
	kindPDF  = "pdf"
	kindCSV  = "csv"
	kindText = "text"

	csvInsertBatch = 64
)

// IngestorDeps are the collaborators the pipeline drives.
type IngestorDeps struct {
	DB         core.DbClient
	Objects    core.ObjectClient
	Vectors    core.VectorStore
	Tokenizer  core.Tokenizer
	Extractor  core.DocumentExtractor
	PDF        core.PDFParser
	Structurer Structurer
	Reports    ReportBuilder
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue (64).
func NewDocumentIngestor(deps IngestorDeps, cfg *IngestConfig, log *logger.Logger) *DocumentIngestor {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentIngestor{
		db:         deps.DB,
		obj:        deps.Objects,
		vectors:    deps.Vectors,
		tok:        deps.Tokenizer,
		extractor:  deps.Extractor,
		pdf:        deps.PDF,
		structurer: deps.Structurer,
		reports:    deps.Reports,
		cfg:        cfg,
		log:        log,
		jobs:       make(chan string, 64),
	}
}

// Start runs numWorkers goroutines reading from the jobs channel.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.log.Debug("ingest worker shutting down", "worker", w)
					return
				case docID := <-i.jobs:
					i.log.Info("processing document", "document_id", docID, "worker", w)
					if err := i.ProcessOne(ctx, docID); err != nil {
						i.log.Error("document processing failed", "document_id", docID, "worker", w, "error", err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document ID for processing. It reports false when
// the queue is full.
func (i *DocumentIngestor) Enqueue(docID string) bool {
	select {
	case i.jobs <- docID:
		return true
	default:
		return false
	}
}

// ProcessOne runs the whole pipeline for one document:
// processing -> {parsed_empty | chunked_*} -> reporting -> completed.
// Any stage error leaves the document failed (report_failed for the
// report stage) and is returned; nothing is retried.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) error {
	if i.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.ProcessTimeout)
		defer cancel()
	}
	log := i.log.With("document_id", docID)

	doc, err := i.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return err
	}

	fail := func(status string, err error) error {
		statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if uerr := i.db.UpdateDocumentStatus(statusCtx, docID, status); uerr != nil {
			log.Error("failed to record failure status", "status", status, "error", uerr)
		}
		log.Error("document pipeline failed", "status", status, "error", err)
		return err
	}

	if err := i.db.UpdateDocumentStatus(ctx, docID, models.StatusProcessing); err != nil {
		return fail(models.StatusFailed, err)
	}
	if err := i.reset(ctx, docID); err != nil {
		return fail(models.StatusFailed, fmt.Errorf("reset previous output: %w", err))
	}

	filter, err := i.chunkAndBlock(ctx, doc)
	if errors.Is(err, core.ErrEmptyContent) {
		log.Info("document has no usable text")
		if uerr := i.db.UpdateDocumentStatus(ctx, docID, models.StatusParsedEmpty); uerr != nil {
			return fail(models.StatusFailed, uerr)
		}
		return nil
	}
	if err != nil {
		return fail(models.StatusFailed, err)
	}

	if err := i.vectorize(ctx, docID); err != nil {
		return fail(models.StatusFailed, fmt.Errorf("vectorize: %w", err))
	}

	if err := i.structurer.StructureBlocks(ctx, docID, filter); err != nil {
		return fail(models.StatusFailed, fmt.Errorf("structure blocks: %w", err))
	}

	if err := i.db.UpdateDocumentStatus(ctx, docID, models.StatusReporting); err != nil {
		return fail(models.StatusFailed, err)
	}
	report, err := i.reports.GenerateAndStore(ctx, doc)
	if err != nil {
		return fail(models.StatusReportFail, fmt.Errorf("generate report: %w", err))
	}

	if err := i.db.UpdateDocumentStatus(ctx, docID, models.StatusCompleted); err != nil {
		return fail(models.StatusFailed, err)
	}
	log.Info("document completed", "report_id", report.ID, "sections", len(report.Content.Sections))
	return nil
}

// reset drops chunks, blocks and vectors from an earlier run.
func (i *DocumentIngestor) reset(ctx context.Context, docID string) error {
	if err := i.db.DeleteChunksByDocument(ctx, docID); err != nil {
		return err
	}
	if err := i.db.DeleteBlocksByDocument(ctx, docID); err != nil {
		return err
	}
	return i.vectors.Delete(ctx, docID)
}

func documentKind(doc *models.Document) string {
	ext := strings.ToLower(filepath.Ext(doc.FileName))
	ct := strings.ToLower(doc.ContentType)
	switch {
	case ext == ".pdf" || strings.HasPrefix(ct, "application/pdf"):
		return kindPDF
	case ext == ".csv" || strings.HasPrefix(ct, "text/csv"):
		return kindCSV
	default:
		return kindText
	}
}

// chunkAndBlock dispatches on file type and returns the block filter the
// structurer should use.
func (i *DocumentIngestor) chunkAndBlock(ctx context.Context, doc *models.Document) (core.ParseFilter, error) {
	rc, err := i.obj.GetObjectReader(ctx, doc.StorageKey)
	if err != nil {
		return core.ParseFilter{}, fmt.Errorf("%w: open upload: %v", core.ErrParseFailure, err)
	}
	defer rc.Close()

	switch documentKind(doc) {
	case kindPDF:
		return i.processPDF(ctx, doc, rc)
	case kindCSV:
		return core.NoParse(), i.processCSV(ctx, doc, rc)
	default:
		return core.NoParse(), i.processText(ctx, doc, rc)
	}
}

func (i *DocumentIngestor) processText(ctx context.Context, doc *models.Document, rc io.Reader) error {
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("%w: read upload: %v", core.ErrParseFailure, err)
	}
	contentType := doc.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = docconv.MimeTypeByExtension(doc.FileName)
	}
	extracted, err := i.extractor.ExtractText(ctx, data, contentType)
	if err != nil {
		return err
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return core.ErrEmptyContent
	}

	chunks, _ := NewTextChunker(i.tok).Chunk(doc.ID, extracted.Text, i.cfg.ChunkMaxTokens, 0, 0, ChunkMeta{})
	if len(chunks) == 0 {
		return core.ErrEmptyContent
	}
	if err := i.db.InsertDocumentChunks(ctx, chunks); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	blocks := BuildTextBlocks(doc.ID, nil, chunks, i.cfg.ChunksPerBlock, 0)
	if err := i.db.InsertDocumentBlocks(ctx, blocks); err != nil {
		return fmt.Errorf("insert blocks: %w", err)
	}
	i.log.Info("text document chunked", "document_id", doc.ID, "chunks", len(chunks), "blocks", len(blocks))
	return i.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusChunkedText)
}

func (i *DocumentIngestor) processPDF(ctx context.Context, doc *models.Document, rc io.Reader) (core.ParseFilter, error) {
	tmp, err := os.CreateTemp("", "insightai-*.pdf")
	if err != nil {
		return core.ParseFilter{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, rc); err != nil {
		_ = tmp.Close()
		return core.ParseFilter{}, fmt.Errorf("%w: buffer upload: %v", core.ErrParseFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return core.ParseFilter{}, err
	}

	parseID, count, err := i.ChunkPDF(ctx, doc.ID, tmp.Name())
	if err != nil {
		return core.ParseFilter{}, err
	}
	if count == 0 {
		return core.ParseFilter{}, core.ErrEmptyContent
	}

	chunks, err := i.db.GetChunksByDocument(ctx, doc.ID)
	if err != nil {
		return core.ParseFilter{}, err
	}
	blocks := BuildTextBlocks(doc.ID, &parseID, chunks, i.cfg.ChunksPerBlock, 0)
	if err := i.db.InsertDocumentBlocks(ctx, blocks); err != nil {
		return core.ParseFilter{}, fmt.Errorf("insert blocks: %w", err)
	}
	i.log.Info("pdf document chunked", "document_id", doc.ID, "parse_id", parseID, "chunks", count, "blocks", len(blocks))
	if err := i.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusChunkedPDF); err != nil {
		return core.ParseFilter{}, err
	}
	return core.ParseID(parseID), nil
}

// ChunkPDF parses the file, records the parse, and stores overlap-windowed
// chunks of every structural section. Parse errors surface as ErrParseFailure.
func (i *DocumentIngestor) ChunkPDF(ctx context.Context, docID, path string) (string, int, error) {
	structured, err := i.pdf.Parse(ctx, path)
	if err != nil {
		if !errors.Is(err, core.ErrParseFailure) {
			err = fmt.Errorf("%w: %v", core.ErrParseFailure, err)
		}
		return "", 0, err
	}

	fullText := FullText(structured)
	parse := &models.DocumentParse{
		ID:         uuid.NewString(),
		DocumentID: docID,
		Success:    true,
		FullText:   fullText,
		PageCount:  structured.PageCount,
		UsedOCR:    structured.UsedOCR,
		CreatedAt:  time.Now().UTC(),
	}
	if len(structured.Warnings) > 0 {
		w := strings.Join(structured.Warnings, "\n")
		parse.Warnings = &w
	}
	if err := i.db.CreateParse(ctx, parse); err != nil {
		return "", 0, fmt.Errorf("store parse: %w", err)
	}
	if strings.TrimSpace(fullText) == "" {
		return parse.ID, 0, nil
	}

	sections := SplitStructure(structured)
	chunks, next := NewTextChunker(i.tok).ChunkStructured(docID, &parse.ID, sections, i.cfg.ChunkMaxTokens, i.cfg.ChunkOverlapTokens, 0)
	if err := i.db.InsertDocumentChunks(ctx, chunks); err != nil {
		return "", 0, fmt.Errorf("insert chunks: %w", err)
	}
	return parse.ID, next, nil
}

// processCSV streams rows once, feeding the chunker and the table block
// aggregator side by side.
func (i *DocumentIngestor) processCSV(ctx context.Context, doc *models.Document, rc io.Reader) error {
	rows, err := NewCSVRowReader(rc)
	if err != nil {
		return err
	}

	sectionTitle := "CSV"
	var (
		pending    []models.DocumentChunk
		chunkCount int
	)
	flushChunks := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := i.db.InsertDocumentChunks(ctx, pending); err != nil {
			return fmt.Errorf("insert csv chunks: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	emit := func(c CSVChunk) error {
		pending = append(pending, models.DocumentChunk{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			ChunkIndex:   chunkCount,
			SectionTitle: &sectionTitle,
			Text:         c.Text,
			TokenCount:   c.TokenCount,
			CreatedAt:    time.Now().UTC(),
		})
		chunkCount++
		if len(pending) >= csvInsertBatch {
			return flushChunks()
		}
		return nil
	}
	blocks := NewCSVBlockAggregator(doc.ID, rows.Headers(), i.cfg.RowsPerBlock, func(b models.DocumentBlock) error {
		return i.db.InsertDocumentBlocks(ctx, []models.DocumentBlock{b})
	})
	addRow := func(row CSVRow) error {
		if err := blocks.Add(row); err != nil {
			return fmt.Errorf("insert csv block: %w", err)
		}
		return nil
	}

	if err := ChunkCSV(ctx, rows, i.tok, i.cfg.CSVMaxTokens, i.cfg.CSVOverlapRows, emit, addRow); err != nil {
		return err
	}
	if err := flushChunks(); err != nil {
		return err
	}
	if err := blocks.Close(); err != nil {
		return fmt.Errorf("insert csv block: %w", err)
	}
	if chunkCount == 0 {
		return core.ErrEmptyContent
	}
	i.log.Info("csv document chunked", "document_id", doc.ID, "chunks", chunkCount, "blocks", blocks.Count())
	return i.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusChunkedCSV)
}

// vectorize rebuilds the document's vectors from its stored chunks.
func (i *DocumentIngestor) vectorize(ctx context.Context, docID string) error {
	chunks, err := i.db.GetChunksByDocument(ctx, docID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return i.vectors.Upsert(ctx, docID, chunks)
}
