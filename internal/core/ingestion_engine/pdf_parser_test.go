package ingestion_engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/insightai/internal/core"
	db "github.com/markdave123-py/insightai/internal/core/database"
	"github.com/markdave123-py/insightai/internal/core/tokenizer"
	"github.com/markdave123-py/insightai/internal/models"
)

func writeTempPDF(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 not really a pdf"), 0o644))
	return p
}

func TestDoclingParser_Parse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/convert/file", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "md", r.FormValue("to_formats"))
		assert.Equal(t, pageBreakPlaceholder, r.FormValue("md_page_break_placeholder"))
		assert.Equal(t, "false", r.FormValue("do_ocr"))
		if f, _, err := r.FormFile("files"); assert.NoError(t, err) {
			body, _ := io.ReadAll(f)
			assert.Contains(t, string(body), "%PDF-1.4")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"success","document":{"md_content":"# Intro\nFirst page\n<!-- page-break -->\nSecond page"}}`)
	}))
	defer srv.Close()

	doc, err := NewDoclingParser(srv.URL+"/", false, srv.Client()).Parse(context.Background(), writeTempPDF(t))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, "# Intro\nFirst page", doc.Pages[0].Text)
	assert.Equal(t, 2, doc.Pages[1].Number)
	assert.Equal(t, "Second page", doc.Pages[1].Text)
	assert.Equal(t, 2, doc.PageCount)
	assert.False(t, doc.UsedOCR)
}

func TestDoclingParser_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusInternalServerError, "boom"},
		{"conversion failure", http.StatusOK, `{"status":"failure","errors":["bad pdf"]}`},
		{"garbage body", http.StatusOK, "not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewDoclingParser(srv.URL, true, srv.Client()).Parse(context.Background(), writeTempPDF(t))
			assert.ErrorIs(t, err, core.ErrParseFailure)
		})
	}
}

func TestLocalPDFParser_RejectsGarbage(t *testing.T) {
	_, err := LocalPDFParser{}.Parse(context.Background(), writeTempPDF(t))
	assert.ErrorIs(t, err, core.ErrParseFailure)
}

type fixedPDF struct{ doc *core.StructuredDocument }

func (p fixedPDF) Parse(context.Context, string) (*core.StructuredDocument, error) { return p.doc, nil }

func TestChunkPDF_RecordsParseAndChunks(t *testing.T) {
	mem := db.NewMemoryClient()
	ctx := context.Background()
	require.NoError(t, mem.CreateDocument(ctx, &models.Document{ID: "p1", FileName: "r.pdf"}))

	cfg := DefaultIngestConfig()
	cfg.ChunkMaxTokens = 8
	cfg.ChunkOverlapTokens = 2
	ing := NewDocumentIngestor(IngestorDeps{
		DB:        mem,
		Tokenizer: tokenizer.NewWords(),
		PDF: fixedPDF{doc: &core.StructuredDocument{
			PageCount: 2,
			Pages: []core.PDFPage{
				{Number: 1, Text: "# Intro\n" + words(12, "a")},
				{Number: 2, Text: "# Results\n" + words(4, "b")},
			},
		}},
	}, cfg, nil)

	parseID, count, err := ing.ChunkPDF(ctx, "p1", "ignored.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, parseID)

	parse, ok := mem.Parse(parseID)
	require.True(t, ok)
	assert.True(t, parse.Success)
	assert.Equal(t, 2, parse.PageCount)

	chunks, err := mem.GetChunksByDocument(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, chunks, count)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		require.NotNil(t, ch.ParseID)
		assert.Equal(t, parseID, *ch.ParseID)
		assert.LessOrEqual(t, ch.TokenCount, 8)
	}
}

func TestChunkPDF_EmptyText(t *testing.T) {
	mem := db.NewMemoryClient()
	require.NoError(t, mem.CreateDocument(context.Background(), &models.Document{ID: "p1", FileName: "r.pdf"}))
	ing := NewDocumentIngestor(IngestorDeps{
		DB:        mem,
		Tokenizer: tokenizer.NewWords(),
		PDF:       fixedPDF{doc: &core.StructuredDocument{PageCount: 1, Pages: []core.PDFPage{{Number: 1, Text: "  "}}}},
	}, nil, nil)

	parseID, count, err := ing.ChunkPDF(context.Background(), "p1", "ignored.pdf")
	require.NoError(t, err)
	assert.NotEmpty(t, parseID)
	assert.Zero(t, count)
}
