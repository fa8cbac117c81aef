package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/providers"
)

func TestFS_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)

	p := "planning/testshire/2026/doc-1/raw/plan.pdf"
	obj, err := s.Put(ctx, p, []byte("hello"), "application/pdf", map[string]string{"filename": "plan.pdf"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), obj.Size)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", obj.ETag)

	ok, err := s.Exists(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Data)
	assert.Equal(t, "application/pdf", got.ContentType)
	assert.Equal(t, obj.ETag, got.ETag)
	assert.Equal(t, "plan.pdf", got.Metadata["filename"])

	require.NoError(t, s.Delete(ctx, p))
	ok, err = s.Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, p)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, s.Delete(ctx, p), "deleting twice is fine")
}

func TestFS_PathsStayUnderRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFS(root)
	require.NoError(t, err)

	_, err = s.Put(ctx, "../../etc/escape", []byte("x"), "text/plain", nil)
	require.NoError(t, err)
	ok, err := s.Exists(ctx, "etc/escape")
	require.NoError(t, err)
	assert.True(t, ok, "parent segments are clamped to the root")

	_, err = s.Put(ctx, "/", []byte("x"), "", nil)
	assert.Error(t, err)
	_, err = s.Put(ctx, "a/b.meta.json", []byte("x"), "", nil)
	assert.Error(t, err)
}

func TestNewFS_RequiresRoot(t *testing.T) {
	_, err := NewFS("")
	assert.True(t, providers.IsConfig(err))
}
