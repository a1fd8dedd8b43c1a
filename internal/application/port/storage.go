package port

import (
	"context"
	"io"

	"github.com/garyjia/xpensure/internal/domain/entity"
)

// Upload is a file received with a request submission
type Upload struct {
	Filename string
	Content  io.Reader
}

// FileStore keeps request attachments
type FileStore interface {
	// Store writes upload under the folder of kind and returns its reference.
	Store(ctx context.Context, kind entity.RequestKind, upload Upload) (entity.AttachmentRef, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}
