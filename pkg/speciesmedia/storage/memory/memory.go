package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

// Backend is an in-memory implementation of the speciesmedia.BlobStore
// interface, used in tests and local development.
type Backend struct {
	mu              sync.RWMutex
	objects         map[string][]byte
	objectsMimeType map[string]string
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects:         make(map[string][]byte),
		objectsMimeType: make(map[string]string),
	}
}

// EnsureBucket is a no-op for the in-memory backend
func (b *Backend) EnsureBucket(ctx context.Context) error {
	return nil
}

// Upload uploads content directly
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[objectKey] = data
	if _, exists := b.objectsMimeType[objectKey]; !exists {
		b.objectsMimeType[objectKey] = "application/octet-stream"
	}
	return nil
}

// UploadWithParams uploads content with parameters
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params speciesmedia.UploadParams) error {
	if !params.Overwrite {
		b.mu.RLock()
		_, exists := b.objects[params.ObjectKey]
		b.mu.RUnlock()
		if exists {
			return errors.New("object already exists")
		}
	}

	if err := b.Upload(ctx, params.ObjectKey, reader); err != nil {
		return err
	}

	b.mu.Lock()
	b.objectsMimeType[params.ObjectKey] = params.MimeType
	b.mu.Unlock()
	return nil
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, errors.New("object not found")
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[objectKey]; !exists {
		return errors.New("object not found")
	}

	delete(b.objects, objectKey)
	delete(b.objectsMimeType, objectKey)
	return nil
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*speciesmedia.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, errors.New("object not found")
	}

	return &speciesmedia.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(data)),
		ContentType: b.objectsMimeType[objectKey],
		UpdatedAt:   time.Now(),
	}, nil
}

// ListKeys lists object keys under a prefix
func (b *Backend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetPublicURL returns a synthetic URL for the object
func (b *Backend) GetPublicURL(ctx context.Context, objectKey string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, exists := b.objects[objectKey]; !exists {
		return "", errors.New("object not found")
	}
	return "memory://" + objectKey, nil
}
