package core

import (
	"context"
)

// ExtractedText represents the result of text extraction, potentially with metadata.
type ExtractedText struct {
	Text     string
	Metadata map[string]string
}

// DocumentExtractor defines the interface for extracting plain text from DOCX and TXT uploads.
// The `contentType` hint helps the extractor choose the right parsing strategy.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (*ExtractedText, error)
}

// PDFPage is the text of one PDF page, 1-based.
type PDFPage struct {
	Number int
	Text   string
}

// StructuredDocument is a parsed PDF: markdown-ish text per page plus parse metadata.
// Headings are lines starting with '#'.
type StructuredDocument struct {
	Pages     []PDFPage
	PageCount int
	UsedOCR   bool
	Warnings  []string
}

// PDFParser turns a PDF file on disk into a structured document.
type PDFParser interface {
	Parse(ctx context.Context, path string) (*StructuredDocument, error)
}
