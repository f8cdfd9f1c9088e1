package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/platform/logger"
)

// ErrQueueFull is returned when the processing queue cannot take another job.
var ErrQueueFull = errors.New("processing queue is full")

// Enqueuer schedules background processing of a document.
type Enqueuer interface {
	Enqueue(docID string) bool
}

// UploadInput describes one uploaded file.
type UploadInput struct {
	FileName    string `validate:"required,max=255"`
	ContentType string `validate:"max=255"`
	Language    string `validate:"omitempty,min=2,max=32"`
	WorkspaceID string `validate:"omitempty,max=128"`
	UploaderID  string `validate:"omitempty,max=128"`
	Body        io.Reader
}

type DocumentService struct {
	db       core.DbClient
	storage  core.ObjectClient
	vectors  core.VectorStore
	queue    Enqueuer
	validate *validator.Validate
	log      *logger.Logger
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, vectors core.VectorStore, queue Enqueuer, log *logger.Logger) *DocumentService {
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentService{
		db:       db,
		storage:  storage,
		vectors:  vectors,
		queue:    queue,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With("service", "DocumentService"),
	}
}

// Upload stores the file, records the document and schedules processing.
// The returned bool reports whether the job was queued; a full queue leaves
// the document in "uploaded" for a later explicit Process call.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*models.Document, bool, error) {
	in.FileName = filepath.Base(strings.TrimSpace(in.FileName))
	if in.FileName == "." || in.FileName == string(filepath.Separator) {
		in.FileName = ""
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, false, err
	}
	if in.Body == nil {
		return nil, false, fmt.Errorf("empty upload body")
	}
	if in.ContentType == "" {
		in.ContentType = "application/octet-stream"
	}

	docID := uuid.NewString()
	key := objectKey(docID, in.FileName)

	url, err := s.storage.UploadFile(ctx, key, in.Body, in.ContentType)
	if err != nil {
		return nil, false, fmt.Errorf("upload file: %w", err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:          docID,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		StorageKey:  key,
		StorageURL:  url,
		Status:      models.StatusUploaded,
		Language:    in.Language,
		WorkspaceID: in.WorkspaceID,
		UploaderID:  in.UploaderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.DeleteFile(context.WithoutCancel(ctx), key); derr != nil {
			s.log.Warn("orphaned upload", "storage_key", key, "error", derr)
		}
		return nil, false, fmt.Errorf("store document: %w", err)
	}

	queued := s.queue.Enqueue(doc.ID)
	if !queued {
		s.log.Warn("processing queue full, document left uploaded", "document_id", doc.ID)
	}
	s.log.Info("document uploaded", "document_id", doc.ID, "uploader_id", in.UploaderID, "queued", queued)
	return doc, queued, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, id)
}

func (s *DocumentService) List(ctx context.Context, workspaceID string) ([]models.Document, error) {
	return s.db.ListDocuments(ctx, workspaceID)
}

// Process schedules a (re)run of the pipeline for an existing document.
func (s *DocumentService) Process(ctx context.Context, id string) error {
	if _, err := s.db.GetDocumentByID(ctx, id); err != nil {
		return err
	}
	if !s.queue.Enqueue(id) {
		return ErrQueueFull
	}
	return nil
}

// Delete removes vectors, the stored file and the document with all
// derived rows.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.vectors.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if doc.StorageKey != "" {
		if err := s.storage.DeleteFile(ctx, doc.StorageKey); err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("delete file: %w", err)
		}
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.log.Info("document deleted", "document_id", id)
	return nil
}

// StructuredText returns block contents in block order.
func (s *DocumentService) StructuredText(ctx context.Context, id string) ([]string, error) {
	if _, err := s.db.GetDocumentByID(ctx, id); err != nil {
		return nil, err
	}
	blocks, err := s.db.ListBlocks(ctx, id, core.AnyParse(), 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, b.Content)
	}
	return out, nil
}

func (s *DocumentService) LatestReport(ctx context.Context, id string) (*models.Report, error) {
	return s.db.GetLatestReport(ctx, id)
}

// objectKey creates a consistent storage key layout.
func objectKey(docID, filename string) string {
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("documents", docID, filename)
}
