package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	db "github.com/markdave123-py/insightai/internal/core/database"
	objectclient "github.com/markdave123-py/insightai/internal/core/object-client"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/services"
)

type recordingQueue struct {
	ids  []string
	full bool
}

func (q *recordingQueue) Enqueue(id string) bool {
	if q.full {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

type noVectors struct{}

func (noVectors) Upsert(context.Context, string, []models.DocumentChunk) error { return nil }
func (noVectors) Delete(context.Context, string) error                         { return nil }
func (noVectors) QuerySimilar(context.Context, string, string, int) ([]models.ChunkHit, error) {
	return nil, nil
}

type fixture struct {
	router http.Handler
	db     *db.MemoryClient
	queue  *recordingQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := objectclient.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	mem := db.NewMemoryClient()
	q := &recordingQueue{}
	svc := services.NewDocumentService(mem, store, noVectors{}, q, nil)

	r := chi.NewRouter()
	r.Get("/healthz", Health)
	r.Route("/api", NewDocumentHandler(svc, nil).Routes)
	return &fixture{router: r, db: mem, queue: q}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("language", "en"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestDocumentHandler_UploadAndRead(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, uploadRequest(t, "notes.txt", "Revenue grew by ten percent."))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Document)
	assert.True(t, resp.Queued)
	assert.Equal(t, "notes.txt", resp.Document.FileName)
	assert.Equal(t, "en", resp.Document.Language)
	assert.Equal(t, models.StatusUploaded, resp.Document.Status)
	assert.Equal(t, []string{resp.Document.ID}, f.queue.ids)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+resp.Document.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var docs []models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+resp.Document.ID+"/structured-text", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+resp.Document.ID+"/reports/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/documents/"+resp.Document.ID+"/process", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, f.queue.ids, 2)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/documents/"+resp.Document.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+resp.Document.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentHandler_QueueFull(t *testing.T) {
	f := newFixture(t)
	f.queue.full = true

	rec := f.do(t, uploadRequest(t, "notes.txt", "text"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Queued)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/documents/"+resp.Document.ID+"/process", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocumentHandler_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/documents", bytes.NewBufferString("nope")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/documents/missing/process", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
