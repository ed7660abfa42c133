// Package mediastore moves generated media from provider-hosted URLs into
// durable object storage. Provider output URLs expire after a short window,
// so every completed generation is copied out before the species row is
// pointed at it.
package mediastore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

const (
	defaultFetchTimeout = 60 * time.Second
	defaultMaxBytes     = 50 * 1024 * 1024 // 50MB
	defaultMaxAttempts  = 3
	defaultBackoffBase  = 2 * time.Second
	defaultBackoffCap   = 30 * time.Second
)

// Config options for the media store
type Config struct {
	FetchTimeout time.Duration // timeout for fetching the remote URL (default: 60s)
	MaxBytes     int64         // maximum payload size (default: 50MB)
	MaxAttempts  int           // total attempts per Store call (default: 3)
	BackoffBase  time.Duration // initial retry delay, doubled per attempt (default: 2s)
	BackoffCap   time.Duration // upper bound on the retry delay (default: 30s)
}

// MediaStore downloads remote media and re-uploads it into a BlobStore under
// a deterministic, collision-resistant path.
type MediaStore struct {
	blobStore speciesmedia.BlobStore
	client    *http.Client
	config    Config
	logger    *slog.Logger

	bucketMu    sync.Mutex
	bucketReady bool
}

// New creates a media store backed by the given blob store.
func New(blobStore speciesmedia.BlobStore, config Config) *MediaStore {
	if config.FetchTimeout == 0 {
		config.FetchTimeout = defaultFetchTimeout
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = defaultMaxBytes
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.BackoffBase == 0 {
		config.BackoffBase = defaultBackoffBase
	}
	if config.BackoffCap == 0 {
		config.BackoffCap = defaultBackoffCap
	}

	return &MediaStore{
		blobStore: blobStore,
		client:    &http.Client{Timeout: config.FetchTimeout},
		config:    config,
		logger:    slog.Default(),
	}
}

// Store fetches remoteURL and persists it under the media path for the
// species and version. The whole ensure-fetch-upload-verify sequence is
// retried with exponential backoff; after the attempt budget is exhausted
// the last error is returned wrapped with the attempt count.
func (m *MediaStore) Store(ctx context.Context, remoteURL string, speciesID uuid.UUID, mediaType speciesmedia.MediaType, displayName string, version int) (*speciesmedia.StoredMedia, error) {
	if remoteURL == "" {
		return nil, &speciesmedia.StorageError{Op: "store", Err: fmt.Errorf("remote URL is required")}
	}
	if !mediaType.IsValid() {
		return nil, speciesmedia.ErrInvalidMediaType
	}

	var lastErr error
	delay := m.config.BackoffBase

	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		stored, err := m.storeOnce(ctx, remoteURL, speciesID, mediaType, displayName, version)
		if err == nil {
			return stored, nil
		}
		lastErr = err

		m.logger.Warn("media store attempt failed",
			"species_id", speciesID,
			"media_type", mediaType,
			"attempt", attempt,
			"error", err)

		if attempt == m.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.config.BackoffCap {
			delay = m.config.BackoffCap
		}
	}

	return nil, &speciesmedia.StorageError{
		Key: remoteURL,
		Op:  "store",
		Err: fmt.Errorf("failed after %d attempts: %w", m.config.MaxAttempts, lastErr),
	}
}

// ensureBucket lazily creates the bucket on first use.
func (m *MediaStore) ensureBucket(ctx context.Context) error {
	m.bucketMu.Lock()
	defer m.bucketMu.Unlock()

	if m.bucketReady {
		return nil
	}
	if err := m.blobStore.EnsureBucket(ctx); err != nil {
		return err
	}
	m.bucketReady = true
	return nil
}

func (m *MediaStore) storeOnce(ctx context.Context, remoteURL string, speciesID uuid.UUID, mediaType speciesmedia.MediaType, displayName string, version int) (*speciesmedia.StoredMedia, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket failed: %w", err)
	}

	data, contentType, err := m.fetch(ctx, remoteURL)
	if err != nil {
		return nil, err
	}

	objectKey := buildObjectKey(speciesID, mediaType, displayName, version, contentType)

	err = m.blobStore.UploadWithParams(ctx, bytes.NewReader(data), speciesmedia.UploadParams{
		ObjectKey: objectKey,
		MimeType:  contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	publicURL, err := m.blobStore.GetPublicURL(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve public URL: %w", err)
	}

	m.verifyUpload(ctx, objectKey, mediaType)

	return &speciesmedia.StoredMedia{
		Path:      objectKey,
		PublicURL: publicURL,
	}, nil
}

// fetch downloads the remote URL, enforcing the size cap and rejecting empty
// bodies.
func (m *MediaStore) fetch(ctx context.Context, remoteURL string) ([]byte, string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid remote URL: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	// Read one byte past the cap so oversized payloads are detected.
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.config.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("remote returned empty body")
	}
	if int64(len(data)) > m.config.MaxBytes {
		return nil, "", fmt.Errorf("payload exceeds %d bytes", m.config.MaxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}

	return data, contentType, nil
}

// verifyUpload checks that the uploaded object is retrievable. The storage
// backend's HEAD/list consistency can lag a successful write, so a failed
// verification is logged and the call still succeeds.
func (m *MediaStore) verifyUpload(ctx context.Context, objectKey string, mediaType speciesmedia.MediaType) {
	if _, err := m.blobStore.GetObjectMeta(ctx, objectKey); err == nil {
		return
	}

	keys, err := m.blobStore.ListKeys(ctx, mediaType.Folder()+"/")
	if err == nil {
		for _, key := range keys {
			if key == objectKey {
				return
			}
		}
	}

	m.logger.Warn("uploaded object not yet visible in storage",
		"object_key", objectKey)
}

// buildObjectKey produces a collision-resistant path of the form
// {images|videos}/{sanitized-name}_{id-prefix}_v{version}_{timestamp}.{ext}.
func buildObjectKey(speciesID uuid.UUID, mediaType speciesmedia.MediaType, displayName string, version int, contentType string) string {
	name := sanitizeName(displayName)
	if name == "" {
		name = "species"
	}

	idPrefix := strings.ReplaceAll(speciesID.String(), "-", "")[:8]
	ext := extensionFor(contentType, mediaType)

	return fmt.Sprintf("%s/%s_%s_v%d_%d.%s",
		mediaType.Folder(), name, idPrefix, version, time.Now().Unix(), ext)
}

// sanitizeName lowercases the display name and collapses anything outside
// [a-z0-9] into single underscores.
func sanitizeName(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// extensionFor maps a content type to a file extension, falling back to the
// per-media-type default.
func extensionFor(contentType string, mediaType speciesmedia.MediaType) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "video/quicktime":
		return "mov"
	}

	if contentType != "" && contentType != "application/octet-stream" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			return strings.TrimPrefix(exts[0], ".")
		}
	}

	if mediaType == speciesmedia.MediaTypeVideo {
		return "mp4"
	}
	return "jpg"
}
