package models

import (
	"time"
)

// Document statuses. Only the ingestion pipeline moves a document between them.
const (
	StatusUploaded    = "uploaded"
	StatusProcessing  = "processing"
	StatusParsedEmpty = "parsed_empty"
	StatusChunkedPDF  = "chunked_pdf"
	StatusChunkedText = "chunked_text"
	StatusChunkedCSV  = "chunked_csv"
	StatusReporting   = "reporting"
	StatusCompleted   = "completed"
	StatusReportFail  = "report_failed"
	StatusFailed      = "failed"
)

// Block types produced by the aggregators.
const (
	BlockTypeSection = "section"
	BlockTypeTable   = "table"
)

// Document represents an uploaded file and its processing state.
type Document struct {
	ID          string    `db:"id" json:"id"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	StorageKey  string    `db:"storage_key" json:"storage_key"`
	StorageURL  string    `db:"storage_url" json:"storage_url"` // S3 URL or local path
	Status      string    `db:"status" json:"status"`
	Language    string    `db:"language" json:"language"`
	WorkspaceID string    `db:"workspace_id" json:"workspace_id,omitempty"`
	UploaderID  string    `db:"uploader_id" json:"uploader_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentParse is the outcome of parsing a PDF into structured text.
type DocumentParse struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Success    bool      `db:"success" json:"success"`
	FullText   string    `db:"full_text" json:"full_text"`
	PageCount  int       `db:"page_count" json:"page_count"`
	UsedOCR    bool      `db:"used_ocr" json:"used_ocr"`
	Warnings   *string   `db:"warnings" json:"warnings,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DocumentChunk represents one token-bounded slice of a document.
type DocumentChunk struct {
	ID           string    `db:"id" json:"id"`
	DocumentID   string    `db:"document_id" json:"document_id"`
	ParseID      *string   `db:"parse_id" json:"parse_id,omitempty"`
	ChunkIndex   int       `db:"chunk_index" json:"chunk_index"`
	SectionTitle *string   `db:"section_title" json:"section_title,omitempty"`
	SectionLevel *int      `db:"section_level" json:"section_level,omitempty"`
	PageStart    *int      `db:"page_start" json:"page_start,omitempty"`
	PageEnd      *int      `db:"page_end" json:"page_end,omitempty"`
	Text         string    `db:"text" json:"text"`
	TokenCount   int       `db:"token_count" json:"token_count"`
	Summary      *string   `db:"summary" json:"summary,omitempty"`
	Keywords     []string  `db:"keywords" json:"keywords,omitempty"`
	Topics       []string  `db:"topics" json:"topics,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// DocumentBlock groups consecutive chunks (or CSV rows) into a section.
// Content never changes after creation; the structurer only touches
// SemanticLabel, Title and Summary.
type DocumentBlock struct {
	ID            string    `db:"id" json:"id"`
	DocumentID    string    `db:"document_id" json:"document_id"`
	ParseID       *string   `db:"parse_id" json:"parse_id,omitempty"`
	BlockIndex    int       `db:"block_index" json:"block_index"`
	BlockType     string    `db:"block_type" json:"block_type"`
	SemanticLabel *string   `db:"semantic_label" json:"semantic_label,omitempty"`
	Title         *string   `db:"title" json:"title,omitempty"`
	Content       string    `db:"content" json:"content"`
	Summary       string    `db:"summary" json:"summary"`
	Confidence    *float64  `db:"confidence" json:"confidence,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// BlockStructure is the LLM-assigned classification of one block.
type BlockStructure struct {
	BlockID     string  `json:"block_id"`
	SectionType string  `json:"section_type"`
	Title       *string `json:"title"`
	Summary     string  `json:"summary"`
}

// Report is one generated analytical report. The newest CreatedAt wins.
type Report struct {
	ID         string        `db:"id" json:"id"`
	DocumentID string        `db:"document_id" json:"document_id"`
	Content    ReportContent `db:"content" json:"content"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// ReportContent is the JSON body persisted with a report.
type ReportContent struct {
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	Sections   []ReportSection `json:"sections"`
	KeyFigures []KeyFigure     `json:"key_figures"`
	Conclusion string          `json:"conclusion"`
}

// ReportSection is one drafted section with the evidence it cites.
type ReportSection struct {
	Heading string         `json:"heading"`
	Content string         `json:"content"`
	Sources []SourceRecord `json:"sources"`
}

// SourceRecord points back at the chunk or block a section was drafted from.
type SourceRecord struct {
	ChunkID      string  `json:"chunk_id"`
	PageStart    *int    `json:"page_start"`
	PageEnd      *int    `json:"page_end"`
	SectionTitle *string `json:"section_title"`
}

// KeyFigure is an extracted numeric fact, embedded in report content.
type KeyFigure struct {
	Name    string `json:"name" validate:"required"`
	Value   string `json:"value" validate:"required"`
	Unit    string `json:"unit"`
	Context string `json:"context"`
}

// ChunkHit is one ranked result of a vector similarity query.
type ChunkHit struct {
	ID           string   `json:"id"`
	ChunkID      string   `json:"chunk_id"`
	ChunkIndex   *int     `json:"chunk_index,omitempty"`
	Text         string   `json:"text"`
	PageStart    *int     `json:"page_start,omitempty"`
	PageEnd      *int     `json:"page_end,omitempty"`
	SectionTitle *string  `json:"section_title,omitempty"`
	Score        *float64 `json:"score,omitempty"`
}
