package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
)

func newStore(t *testing.T, opts ...Option) *LocalFileStore {
	t.Helper()
	return NewLocalFileStore(t.TempDir(), "media/", zap.NewNop(), opts...)
}

func TestLocalFileStore_StoreOpenDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ref, err := s.Store(ctx, entity.KindAdvance, port.Upload{Filename: "Boarding Pass.PDF", Content: strings.NewReader("ticket")})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^advance_attachments/advance_[0-9a-f-]{36}\.pdf$`), ref.Path)
	assert.Equal(t, "/media/"+ref.Path, ref.URL)
	assert.Equal(t, "Boarding Pass.PDF", ref.OriginalName)
	assert.Equal(t, int64(6), ref.Size)

	rc, err := s.Open(ctx, ref.Path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "ticket", string(data))

	require.NoError(t, s.Delete(ctx, ref.Path))
	require.NoError(t, s.Delete(ctx, ref.Path), "delete is idempotent")

	_, err = s.Open(ctx, ref.Path)
	assert.True(t, entity.IsNotFound(err))
}

func TestLocalFileStore_UniqueNames(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := s.Store(ctx, entity.KindReimbursement, port.Upload{Filename: "r.jpg", Content: strings.NewReader("a")})
	require.NoError(t, err)
	b, err := s.Store(ctx, entity.KindReimbursement, port.Upload{Filename: "r.jpg", Content: strings.NewReader("b")})
	require.NoError(t, err)
	assert.NotEqual(t, a.Path, b.Path)
	assert.True(t, strings.HasPrefix(a.Path, "reimbursement_attachments/reimbursement_"))
}

func TestLocalFileStore_SizeLimit(t *testing.T) {
	s := newStore(t, WithMaxFileSize(4))

	_, err := s.Store(context.Background(), entity.KindAdvance, port.Upload{Filename: "big.bin", Content: strings.NewReader("12345")})
	assert.ErrorIs(t, err, entity.ErrValidation)

	entries, err := os.ReadDir(filepath.Join(s.BaseDir(), "advance_attachments"))
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected upload must not be left on disk")
}

func TestLocalFileStore_RejectsTraversal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, p := range []string{"../secret", "advance_attachments/../../etc/passwd", "a\x00b", "."} {
		_, err := s.Open(ctx, p)
		assert.ErrorIs(t, err, entity.ErrValidation, p)
		assert.ErrorIs(t, s.Delete(ctx, p), entity.ErrValidation, p)
	}
}

func TestLocalFileStore_EnsureFolders(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.EnsureFolders())

	for _, dir := range []string{"reimbursement_attachments", "advance_attachments"} {
		info, err := os.Stat(filepath.Join(s.BaseDir(), dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, "/media", s.MediaURL())
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".png", extension("photo.PNG"))
	assert.Equal(t, "", extension("noext"))
	assert.Equal(t, ".gz", extension("dir/archive.tar.gz"))
	assert.Equal(t, "", extension("weird.averyveryverylongext"))
}
