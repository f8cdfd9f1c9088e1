package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/platform/logger"
	"github.com/markdave123-py/insightai/internal/services"
)

const maxUploadBytes = 64 << 20

// DocumentService is what the handler needs from the service layer.
type DocumentService interface {
	Upload(ctx context.Context, in services.UploadInput) (*models.Document, bool, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, workspaceID string) ([]models.Document, error)
	Process(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	StructuredText(ctx context.Context, id string) ([]string, error)
	LatestReport(ctx context.Context, id string) (*models.Report, error)
}

type DocumentHandler struct {
	svc DocumentService
	log *logger.Logger
}

func NewDocumentHandler(svc DocumentService, log *logger.Logger) *DocumentHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentHandler{svc: svc, log: log.With("service", "DocumentHandler")}
}

// Routes mounts the document endpoints under the given router.
func (h *DocumentHandler) Routes(r chi.Router) {
	r.Post("/documents", h.UploadDocument)
	r.Get("/documents", h.ListDocuments)
	r.Route("/documents/{id}", func(r chi.Router) {
		r.Get("/", h.GetDocument)
		r.Delete("/", h.DeleteDocument)
		r.Post("/process", h.ProcessDocument)
		r.Get("/structured-text", h.StructuredText)
		r.Get("/reports/latest", h.LatestReport)
	})
}

type uploadResponse struct {
	Document *models.Document `json:"document"`
	Queued   bool             `json:"queued"`
}

// UploadDocument stores the file and schedules background processing.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	doc, queued, err := h.svc.Upload(uploadCtx, services.UploadInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Language:    r.FormValue("language"),
		WorkspaceID: r.FormValue("workspace_id"),
		UploaderID:  r.Header.Get("X-User-ID"),
		Body:        file,
	})
	if err != nil {
		h.fail(w, "upload failed", err)
		return
	}

	status := http.StatusCreated
	if !queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, uploadResponse{Document: doc, Queued: queued})
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.List(r.Context(), r.URL.Query().Get("workspace_id"))
	if err != nil {
		h.fail(w, "list documents failed", err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get document failed", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete document failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Process(r.Context(), id); err != nil {
		h.fail(w, "schedule processing failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id, "status": "queued"})
}

func (h *DocumentHandler) StructuredText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	blocks, err := h.svc.StructuredText(r.Context(), id)
	if err != nil {
		h.fail(w, "structured text failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "blocks": blocks})
}

func (h *DocumentHandler) LatestReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.LatestReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "latest report failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *DocumentHandler) fail(w http.ResponseWriter, msg string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, verrs.Error())
	case errors.Is(err, services.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
