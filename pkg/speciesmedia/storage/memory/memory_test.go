package memory_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
	"github.com/extinctlab/species-media/pkg/speciesmedia/storage/memory"
)

func TestUploadDownload(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	require.NoError(t, backend.EnsureBucket(ctx))
	require.NoError(t, backend.Upload(ctx, "images/dodo.jpg", strings.NewReader("jpeg-bytes")))

	reader, err := backend.Download(ctx, "images/dodo.jpg")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestUploadWithParams(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	params := speciesmedia.UploadParams{
		ObjectKey: "images/dodo.jpg",
		MimeType:  "image/jpeg",
	}
	require.NoError(t, backend.UploadWithParams(ctx, strings.NewReader("jpeg-bytes"), params))

	meta, err := backend.GetObjectMeta(ctx, "images/dodo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", meta.ContentType)
	assert.Equal(t, int64(len("jpeg-bytes")), meta.Size)

	t.Run("overwrite disabled by default", func(t *testing.T) {
		err := backend.UploadWithParams(ctx, strings.NewReader("other"), params)
		assert.Error(t, err)
	})

	t.Run("explicit overwrite succeeds", func(t *testing.T) {
		params.Overwrite = true
		require.NoError(t, backend.UploadWithParams(ctx, strings.NewReader("other"), params))
	})
}

func TestDelete(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "images/dodo.jpg", strings.NewReader("x")))
	require.NoError(t, backend.Delete(ctx, "images/dodo.jpg"))

	_, err := backend.Download(ctx, "images/dodo.jpg")
	assert.Error(t, err)

	assert.Error(t, backend.Delete(ctx, "images/dodo.jpg"))
}

func TestListKeys(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "images/a.jpg", strings.NewReader("x")))
	require.NoError(t, backend.Upload(ctx, "images/b.jpg", strings.NewReader("x")))
	require.NoError(t, backend.Upload(ctx, "videos/a.mp4", strings.NewReader("x")))

	keys, err := backend.ListKeys(ctx, "images/")
	require.NoError(t, err)
	assert.Equal(t, []string{"images/a.jpg", "images/b.jpg"}, keys)
}

func TestGetPublicURL(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "images/a.jpg", strings.NewReader("x")))

	url, err := backend.GetPublicURL(ctx, "images/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "memory://images/a.jpg", url)

	_, err = backend.GetPublicURL(ctx, "missing")
	assert.Error(t, err)
}
