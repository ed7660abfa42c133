package fs_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
	"github.com/extinctlab/species-media/pkg/speciesmedia/storage/fs"
)

func newBackend(t *testing.T) *fs.Backend {
	t.Helper()

	backend, err := fs.New(fs.Config{
		BaseDir:   t.TempDir(),
		URLPrefix: "/media",
	})
	require.NoError(t, err)
	return backend
}

func TestNewRequiresBaseDir(t *testing.T) {
	_, err := fs.New(fs.Config{})
	assert.Error(t, err)
}

func TestUploadDownload(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "images/dodo.jpg", strings.NewReader("jpeg-bytes")))

	reader, err := backend.Download(ctx, "images/dodo.jpg")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	t.Run("missing object", func(t *testing.T) {
		_, err := backend.Download(ctx, "missing")
		assert.Error(t, err)
	})
}

func TestUploadWithParamsOverwrite(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	params := speciesmedia.UploadParams{ObjectKey: "images/dodo.jpg", MimeType: "image/jpeg"}
	require.NoError(t, backend.UploadWithParams(ctx, strings.NewReader("first"), params))

	err := backend.UploadWithParams(ctx, strings.NewReader("second"), params)
	assert.Error(t, err, "overwrite is off by default")

	params.Overwrite = true
	require.NoError(t, backend.UploadWithParams(ctx, strings.NewReader("second"), params))
}

func TestDeleteCleansEmptyDirectories(t *testing.T) {
	dir := t.TempDir()
	backend, err := fs.New(fs.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "images/nested/dodo.jpg", strings.NewReader("x")))
	require.NoError(t, backend.Delete(ctx, "images/nested/dodo.jpg"))

	_, err = os.Stat(filepath.Join(dir, "images"))
	assert.True(t, os.IsNotExist(err), "empty parent directories are removed")
}

func TestGetObjectMeta(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "images/dodo.jpg", strings.NewReader("jpeg-bytes")))

	meta, err := backend.GetObjectMeta(ctx, "images/dodo.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(len("jpeg-bytes")), meta.Size)
	assert.NotEmpty(t, meta.ContentType)
}

func TestListKeys(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "images/a.jpg", strings.NewReader("x")))
	require.NoError(t, backend.Upload(ctx, "images/b.jpg", strings.NewReader("x")))
	require.NoError(t, backend.Upload(ctx, "videos/a.mp4", strings.NewReader("x")))

	keys, err := backend.ListKeys(ctx, "images/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"images/a.jpg", "images/b.jpg"}, keys)
}

func TestGetPublicURL(t *testing.T) {
	backend := newBackend(t)

	url, err := backend.GetPublicURL(context.Background(), "images/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/media/images/a.jpg", url)

	t.Run("no prefix configured", func(t *testing.T) {
		bare, err := fs.New(fs.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)

		_, err = bare.GetPublicURL(context.Background(), "images/a.jpg")
		assert.Error(t, err)
	})
}
