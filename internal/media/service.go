package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/GyroZepelix/mithril-engine/internal/audit"
)

// maxUploadSize caps a single upload at 10 MiB.
const maxUploadSize = 10 << 20

// sniffLen is how much of an upload http.DetectContentType looks at.
const sniffLen = 512

// Auditor receives audit events.
type Auditor interface {
	Log(ctx context.Context, event audit.Event)
}

// Service owns the file records and their bytes on disk. The content
// loader resolves file fields through GetByID.
type Service struct {
	repo        *Repository
	storage     *LocalStorage
	transformer *Transformer
	auditor     Auditor
	logger      *slog.Logger
}

// NewService wires a Service. transformer and auditor are optional.
func NewService(repo *Repository, storage *LocalStorage, transformer *Transformer, auditor Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, storage: storage, transformer: transformer, auditor: auditor, logger: logger}
}

// UploadError is a rejected upload; Message is safe to show the client.
type UploadError struct {
	Message string
}

func (e *UploadError) Error() string { return e.Message }

func rejectUpload(format string, args ...any) error {
	return &UploadError{Message: fmt.Sprintf(format, args...)}
}

// ErrUpload reports whether err is an *UploadError.
func ErrUpload(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue)
}

func (s *Service) record(ctx context.Context, action, actorID, id string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Log(ctx, audit.Event{Action: action, ActorID: actorID, Resource: "files", ResourceID: id})
}

// Upload reads a multipart file and hands it to Store.
func (s *Service) Upload(ctx context.Context, fh *multipart.FileHeader, uploadedBy string) (*File, error) {
	if fh.Size > maxUploadSize {
		return nil, rejectUpload("file size %d exceeds maximum of %d bytes", fh.Size, maxUploadSize)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("media: open upload: %w", err)
	}
	defer src.Close()

	// One byte over the cap lets Store see an oversized body.
	data, err := io.ReadAll(io.LimitReader(src, maxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("media: read upload: %w", err)
	}
	return s.Store(ctx, fh.Filename, fh.Header.Get("Content-Type"), data, uploadedBy)
}

// Store validates data, writes it under a fresh UUID name and inserts the
// record. headerMIME is what the client claimed; see resolveMIME.
func (s *Service) Store(ctx context.Context, originalName, headerMIME string, data []byte, uploadedBy string) (*File, error) {
	switch {
	case len(data) == 0:
		return nil, rejectUpload("file is empty")
	case len(data) > maxUploadSize:
		return nil, rejectUpload("file size exceeds maximum of %d bytes", maxUploadSize)
	}

	mimeType := resolveMIME(http.DetectContentType(data[:min(sniffLen, len(data))]), headerMIME)
	if !AllowedMIMEType(mimeType) {
		return nil, rejectUpload("MIME type '%s' is not allowed", mimeType)
	}

	f := newFile(originalName, mimeType, int64(len(data)), uploadedBy)
	if IsImageMIME(mimeType) {
		w, h, ok := imageDimensions(data)
		if ok {
			f.Width, f.Height = &w, &h
		} else {
			s.logger.Warn("image dimensions unreadable", "filename", f.Filename, "mime_type", mimeType)
		}
	}

	if err := s.storage.Save(f.Filename, data); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, f); err != nil {
		// Don't leave an orphan on disk.
		if rmErr := s.storage.Delete(f.Filename); rmErr != nil {
			s.logger.Warn("orphaned media file", "filename", f.Filename, "error", rmErr)
		}
		return nil, fmt.Errorf("media: insert record: %w", err)
	}

	s.record(ctx, "media.upload", uploadedBy, f.ID)
	return f, nil
}

func newFile(originalName, mimeType string, size int64, uploadedBy string) *File {
	id := uuid.NewString()
	f := &File{
		ID:           id,
		Filename:     id + extensionFromMIME(mimeType),
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         size,
	}
	if uploadedBy != "" {
		f.UploadedBy = &uploadedBy
	}
	return f
}

// Delete drops the record first, then the bytes and any cached variants.
// Failures after the record is gone are logged, not returned.
func (s *Service) Delete(ctx context.Context, id, actorID string) error {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.storage.Delete(f.Filename); err != nil {
		s.logger.Warn("media file removal failed", "filename", f.Filename, "error", err)
	}
	if s.transformer != nil {
		s.transformer.Invalidate(ctx, f.Filename)
	}

	s.record(ctx, "media.delete", actorID, id)
	return nil
}

// GetByID returns the record for id, or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*File, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByFilename returns the record stored under filename, or ErrNotFound.
func (s *Service) GetByFilename(ctx context.Context, filename string) (*File, error) {
	return s.repo.GetByFilename(ctx, filename)
}

func (s *Service) List(ctx context.Context, page, perPage int) ([]*File, int, error) {
	return s.repo.List(ctx, page, perPage)
}

// UpdateAlt replaces the default alternative text of a file.
func (s *Service) UpdateAlt(ctx context.Context, id, alt, actorID string) error {
	if err := s.repo.UpdateAlt(ctx, id, alt); err != nil {
		return err
	}
	s.record(ctx, "media.update", actorID, id)
	return nil
}
