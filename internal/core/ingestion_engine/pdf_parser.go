package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/markdave123-py/insightai/internal/core"
)

const pageBreakPlaceholder = "<!-- page-break -->"

type doclingResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
	Status string   `json:"status"`
	Errors []any    `json:"errors"`
	Timing *float64 `json:"processing_time"`
}

// DoclingParser converts PDFs to page-delimited markdown through a
// docling-serve instance.
type DoclingParser struct {
	baseURL string
	ocr     bool
	client  *http.Client
}

var _ core.PDFParser = (*DoclingParser)(nil)

func NewDoclingParser(baseURL string, ocr bool, client *http.Client) *DoclingParser {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &DoclingParser{baseURL: strings.TrimRight(baseURL, "/"), ocr: ocr, client: client}
}

func (d *DoclingParser) Parse(ctx context.Context, path string) (*core.StructuredDocument, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParseFailure, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("%w: read pdf: %v", core.ErrParseFailure, err)
	}
	_ = writer.WriteField("to_formats", "md")
	_ = writer.WriteField("md_page_break_placeholder", pageBreakPlaceholder)
	_ = writer.WriteField("do_ocr", fmt.Sprintf("%t", d.ocr))
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/convert/file", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: docling request: %v", core.ErrParseFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: docling response: %v", core.ErrParseFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: docling http %d: %s", core.ErrParseFailure, resp.StatusCode, core.Prefix(string(body), 300))
	}

	var dr doclingResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("%w: decode docling response: %v", core.ErrParseFailure, err)
	}
	if dr.Status == "failure" {
		return nil, fmt.Errorf("%w: docling conversion failed: %v", core.ErrParseFailure, dr.Errors)
	}

	doc := &core.StructuredDocument{UsedOCR: d.ocr}
	for i, text := range strings.Split(dr.Document.MdContent, pageBreakPlaceholder) {
		doc.Pages = append(doc.Pages, core.PDFPage{Number: i + 1, Text: strings.TrimSpace(text)})
	}
	if dr.Status == "partial_success" {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("docling partial success: %v", dr.Errors))
	}

	doc.PageCount = len(doc.Pages)
	if n, err := api.PageCountFile(path); err == nil {
		doc.PageCount = n
	} else {
		doc.Warnings = append(doc.Warnings, "page count unavailable: "+err.Error())
	}
	return doc, nil
}

// LocalPDFParser extracts plain text per page in-process. It sees no
// headings, so every page lands in one untitled structural chunk.
type LocalPDFParser struct{}

var _ core.PDFParser = LocalPDFParser{}

func (LocalPDFParser) Parse(ctx context.Context, path string) (*core.StructuredDocument, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParseFailure, err)
	}
	defer file.Close()

	doc := &core.StructuredDocument{PageCount: reader.NumPage()}
	for i := 1; i <= doc.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		doc.Pages = append(doc.Pages, core.PDFPage{Number: i, Text: text})
	}
	return doc, nil
}

// FullText joins page texts with blank lines.
func FullText(doc *core.StructuredDocument) string {
	parts := make([]string, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
