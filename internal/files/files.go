// Package files manages activity attachments: blob content on disk and
// metadata rows in the relational store.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/youthcenter/internal/domain"
)

// ErrUploadNotAllowed rejects uploads to activities whose status does not
// admit documentation yet.
var ErrUploadNotAllowed = errors.New("uploads are allowed only for in-progress or completed activities")

// BlobStore holds attachment content addressed by a relative path.
type BlobStore interface {
	Write(ctx context.Context, relPath string, content io.Reader) (int64, error)
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)
	Remove(ctx context.Context, relPath string) error
	RemoveAll(ctx context.Context, relDir string) error
}

// MetadataStore is the slice of the relational store holding file rows.
type MetadataStore interface {
	ListFilesByActivity(ctx context.Context, activityID string) ([]domain.ActivityFile, error)
	GetFile(ctx context.Context, id string) (domain.ActivityFile, error)
	InsertFile(ctx context.Context, f domain.ActivityFile) error
	DeleteFile(ctx context.Context, id string) error
	DeleteFilesByActivity(ctx context.Context, activityID string) error
}

// ActivityLookup resolves an activity so its status can gate uploads.
type ActivityLookup interface {
	GetByID(id string) (domain.Activity, bool)
}

// Service ties blob content and metadata together.
type Service struct {
	blobs      BlobStore
	meta       MetadataStore
	activities ActivityLookup
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(blobs BlobStore, meta MetadataStore, activities ActivityLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		blobs:      blobs,
		meta:       meta,
		activities: activities,
		logger:     logger.With(slog.String("component", "files")),
		now:        time.Now,
	}
}

// Upload stores an attachment for an activity. Only in-progress and
// completed activities accept uploads.
func (s *Service) Upload(ctx context.Context, activityID, fileName, fileType string, content io.Reader) (domain.ActivityFile, error) {
	activity, ok := s.activities.GetByID(activityID)
	if !ok {
		return domain.ActivityFile{}, fmt.Errorf("activity %s not found", activityID)
	}
	if activity.Status != domain.StatusInProgress && activity.Status != domain.StatusCompleted {
		return domain.ActivityFile{}, ErrUploadNotAllowed
	}

	relPath := path.Join(activityID, fmt.Sprintf("%d-%s", s.now().UnixMilli(), sanitizeName(fileName)))
	size, err := s.blobs.Write(ctx, relPath, content)
	if err != nil {
		return domain.ActivityFile{}, fmt.Errorf("store blob: %w", err)
	}

	uploadedAt := s.now()
	rec := domain.ActivityFile{
		ID:         uuid.NewString(),
		ActivityID: activityID,
		FileName:   fileName,
		FilePath:   relPath,
		FileType:   fileType,
		FileSize:   &size,
		UploadedAt: &uploadedAt,
	}
	if err := s.meta.InsertFile(ctx, rec); err != nil {
		if rmErr := s.blobs.Remove(ctx, relPath); rmErr != nil {
			s.logger.Warn("orphan blob left behind",
				slog.String("path", relPath),
				slog.String("error", rmErr.Error()))
		}
		return domain.ActivityFile{}, fmt.Errorf("store file metadata: %w", err)
	}

	s.logger.Info("attachment stored",
		slog.String("activity_id", activityID),
		slog.String("file", fileName),
		slog.Int64("size", size))
	return rec, nil
}

// List returns the attachments of one activity.
func (s *Service) List(ctx context.Context, activityID string) ([]domain.ActivityFile, error) {
	return s.meta.ListFilesByActivity(ctx, activityID)
}

// Open returns the content of one attachment along with its metadata.
func (s *Service) Open(ctx context.Context, fileID string) (domain.ActivityFile, io.ReadCloser, error) {
	rec, err := s.meta.GetFile(ctx, fileID)
	if err != nil {
		return domain.ActivityFile{}, nil, err
	}
	rc, err := s.blobs.Open(ctx, rec.FilePath)
	if err != nil {
		return domain.ActivityFile{}, nil, fmt.Errorf("open blob %s: %w", rec.FilePath, err)
	}
	return rec, rc, nil
}

// Delete removes one attachment, metadata first. A missing blob is logged
// but does not fail the operation.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	rec, err := s.meta.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.meta.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	if err := s.blobs.Remove(ctx, rec.FilePath); err != nil {
		s.logger.Warn("blob removal failed",
			slog.String("path", rec.FilePath),
			slog.String("error", err.Error()))
	}
	return nil
}

// DeleteForActivity removes every attachment of an activity. Best effort:
// failures are logged, not returned, so an activity deletion never hangs
// on its attachments.
func (s *Service) DeleteForActivity(ctx context.Context, activityID string) {
	if err := s.meta.DeleteFilesByActivity(ctx, activityID); err != nil {
		s.logger.Warn("attachment metadata cleanup failed",
			slog.String("activity_id", activityID),
			slog.String("error", err.Error()))
	}
	if err := s.blobs.RemoveAll(ctx, activityID); err != nil {
		s.logger.Warn("attachment blob cleanup failed",
			slog.String("activity_id", activityID),
			slog.String("error", err.Error()))
	}
}

// sanitizeName keeps the stored path flat and predictable.
func sanitizeName(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// FSBlobStore stores blobs under a root directory on the local filesystem.
type FSBlobStore struct {
	root string
}

func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSBlobStore{root: root}, nil
}

func (s *FSBlobStore) Write(_ context.Context, relPath string, content io.Reader) (int64, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(full)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return 0, err
	}
	return n, nil
}

func (s *FSBlobStore) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (s *FSBlobStore) Remove(_ context.Context, relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FSBlobStore) RemoveAll(_ context.Context, relDir string) error {
	full, err := s.resolve(relDir)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

// resolve rejects paths that would escape the root.
func (s *FSBlobStore) resolve(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob path %q", relPath)
	}
	return filepath.Join(s.root, clean), nil
}
