package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

// Config holds configuration for the filesystem storage backend
type Config struct {
	BaseDir   string `json:"base_dir"`
	URLPrefix string `json:"url_prefix"` // prefix for public URLs, e.g. "/media"
}

// Backend implements speciesmedia.BlobStore on the local filesystem.
type Backend struct {
	config Config
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{config: config}, nil
}

func (b *Backend) objectPath(objectKey string) string {
	return filepath.Join(b.config.BaseDir, filepath.FromSlash(objectKey))
}

// EnsureBucket creates the base directory if it does not exist
func (b *Backend) EnsureBucket(ctx context.Context) error {
	return os.MkdirAll(b.config.BaseDir, 0o755)
}

// Upload writes content to the filesystem
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	path := b.objectPath(objectKey)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// UploadWithParams writes content honoring the overwrite flag
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params speciesmedia.UploadParams) error {
	if !params.Overwrite {
		if _, err := os.Stat(b.objectPath(params.ObjectKey)); err == nil {
			return errors.New("object already exists")
		}
	}
	return b.Upload(ctx, params.ObjectKey, reader)
}

// Download reads content from the filesystem
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	file, err := os.Open(b.objectPath(objectKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("object not found")
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes content from the filesystem
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	path := b.objectPath(objectKey)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.New("object not found")
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(path))
	return nil
}

// cleanupEmptyDirectories removes empty parent directories up to the base dir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	for dir != b.config.BaseDir && strings.HasPrefix(dir, b.config.BaseDir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// GetObjectMeta retrieves metadata for a file on disk
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*speciesmedia.ObjectMeta, error) {
	path := b.objectPath(objectKey)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("object not found")
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	contentType := "application/octet-stream"
	if file, err := os.Open(path); err == nil {
		buf := make([]byte, 512)
		if n, err := file.Read(buf); err == nil || err == io.EOF {
			contentType = http.DetectContentType(buf[:n])
		}
		file.Close()
	}

	return &speciesmedia.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// ListKeys walks the tree under prefix and returns matching object keys
func (b *Backend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(b.config.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.config.BaseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return keys, nil
}

// GetPublicURL returns the URL the object is served under
func (b *Backend) GetPublicURL(ctx context.Context, objectKey string) (string, error) {
	if b.config.URLPrefix == "" {
		return "", errors.New("no URL prefix configured")
	}
	return strings.TrimSuffix(b.config.URLPrefix, "/") + "/" + objectKey, nil
}
