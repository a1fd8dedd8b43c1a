package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
)

// DefaultMaxFileSize caps a single attachment
const DefaultMaxFileSize = 20 << 20

// LocalFileStore implements port.FileStore for local filesystem. Files of a request
// kind live under "<kind>_attachments/<kind>_<uuid><ext>" and are served below mediaURL.
type LocalFileStore struct {
	baseDir     string
	mediaURL    string
	maxFileSize int64
	logger      *zap.Logger
}

// Option configures a LocalFileStore
type Option func(*LocalFileStore)

// WithMaxFileSize overrides DefaultMaxFileSize
func WithMaxFileSize(n int64) Option {
	return func(s *LocalFileStore) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// NewLocalFileStore creates a new LocalFileStore
func NewLocalFileStore(baseDir, mediaURL string, logger *zap.Logger, opts ...Option) *LocalFileStore {
	s := &LocalFileStore{
		baseDir:     baseDir,
		mediaURL:    "/" + strings.Trim(mediaURL, "/"),
		maxFileSize: DefaultMaxFileSize,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ port.FileStore = (*LocalFileStore)(nil)

// BaseDir is the directory files are served from
func (s *LocalFileStore) BaseDir() string {
	return s.baseDir
}

// MediaURL is the URL prefix of stored files
func (s *LocalFileStore) MediaURL() string {
	return s.mediaURL
}

// EnsureFolders creates the attachment folder of every request kind
func (s *LocalFileStore) EnsureFolders() error {
	for _, kind := range []entity.RequestKind{entity.KindReimbursement, entity.KindAdvance} {
		dir := filepath.Join(s.baseDir, kind.AttachmentFolder())
		if err := os.MkdirAll(dir, 0755); err != nil {
			s.logger.Error("Failed to create attachment folder", zap.String("path", dir), zap.Error(err))
			return fmt.Errorf("failed to create folder %s: %w", dir, err)
		}
	}
	return nil
}

// Store writes upload under the folder of kind
func (s *LocalFileStore) Store(ctx context.Context, kind entity.RequestKind, upload port.Upload) (entity.AttachmentRef, error) {
	if !kind.IsValid() {
		return entity.AttachmentRef{}, entity.NewValidationError("kind", fmt.Sprintf("unknown request kind %q", kind))
	}
	if upload.Content == nil {
		return entity.AttachmentRef{}, entity.NewValidationError("attachments", "empty upload")
	}

	rel := path.Join(kind.AttachmentFolder(), fmt.Sprintf("%s_%s%s", kind, uuid.NewString(), extension(upload.Filename)))
	fullPath := s.GetFullPath(rel)
	if err := s.validatePath(fullPath); err != nil {
		return entity.AttachmentRef{}, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create parent directories", zap.String("path", fullPath), zap.Error(err))
		return entity.AttachmentRef{}, fmt.Errorf("failed to create directories: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return entity.AttachmentRef{}, fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(upload.Content, s.maxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxFileSize {
		err = entity.NewValidationError("attachments", fmt.Sprintf("%s exceeds %d bytes", upload.Filename, s.maxFileSize))
	}
	if err != nil {
		_ = os.Remove(fullPath)
		s.logger.Error("Failed to write file", zap.String("path", fullPath), zap.Error(err))
		if errors.Is(err, entity.ErrValidation) {
			return entity.AttachmentRef{}, err
		}
		return entity.AttachmentRef{}, fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("File saved successfully",
		zap.String("path", fullPath),
		zap.Int64("size", n))

	return entity.AttachmentRef{
		Path:         rel,
		URL:          s.mediaURL + "/" + rel,
		OriginalName: filepath.Base(upload.Filename),
		Size:         n,
	}, nil
}

// Open reads a stored file by its relative path
func (s *LocalFileStore) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	fullPath := s.GetFullPath(rel)
	if err := s.validatePath(fullPath); err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file %s: %w", rel, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes a file at the specified relative path
func (s *LocalFileStore) Delete(ctx context.Context, rel string) error {
	fullPath := s.GetFullPath(rel)
	if err := s.validatePath(fullPath); err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		s.logger.Error("Failed to delete file", zap.String("path", fullPath), zap.Error(err))
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.logger.Debug("File deleted successfully", zap.String("path", fullPath))
	return nil
}

// GetFullPath converts a relative path to full path
func (s *LocalFileStore) GetFullPath(rel string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(rel))
}

// validatePath checks that the path is safe and within baseDir
func (s *LocalFileStore) validatePath(fullPath string) error {
	if strings.Contains(fullPath, "\x00") {
		return entity.NewValidationError("path", "null bytes not allowed")
	}

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return entity.NewValidationError("path", fmt.Sprintf("path escapes base directory: %s", fullPath))
	}
	return nil
}

// extension returns the lower-cased extension of name when it is a plain one.
func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		return ""
	}
	return ext
}
