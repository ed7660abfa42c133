package speciesmedia

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for object storage backends
type BlobStore interface {
	// EnsureBucket lazily creates the backing bucket. Idempotent.
	EnsureBucket(ctx context.Context) error

	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for a stored object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// ListKeys lists object keys under a prefix
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// GetPublicURL returns a stable URL for reading the object
	GetPublicURL(ctx context.Context, objectKey string) (string, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
	// Overwrite allows replacing an existing object. Generated media paths
	// embed timestamps and are expected to be collision-free, so the
	// default is false.
	Overwrite bool
}

// Repository defines the interface for species, media, and list persistence
type Repository interface {
	// Species operations
	CreateSpecies(ctx context.Context, sp *Species) error
	GetSpecies(ctx context.Context, id uuid.UUID) (*Species, error)
	UpdateSpecies(ctx context.Context, sp *Species) error
	// DeleteSpecies hard-deletes the row and cascades its media versions.
	DeleteSpecies(ctx context.Context, id uuid.UUID) error
	ListSpecies(ctx context.Context, listID uuid.UUID) ([]*Species, error)
	ListSpeciesByStatus(ctx context.Context, status GenerationStatus) ([]*Species, error)

	// Media ledger operations
	CreateMedia(ctx context.Context, media *SpeciesMedia) error
	GetMedia(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int) (*SpeciesMedia, error)
	// ListMedia returns versions ordered by version number ascending.
	ListMedia(ctx context.Context, speciesID uuid.UUID, mediaType MediaType) ([]*SpeciesMedia, error)
	UpdateMedia(ctx context.Context, media *SpeciesMedia) error
	DeleteMedia(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int) error
	// NextVersion returns max(version_number)+1 for the species and type,
	// starting at 1.
	NextVersion(ctx context.Context, speciesID uuid.UUID, mediaType MediaType) (int, error)
	// ClearPrimary / ClearExhibit reset the flag on every version of the
	// species and type. Used as the first half of clear-then-set updates.
	ClearPrimary(ctx context.Context, speciesID uuid.UUID, mediaType MediaType) error
	ClearExhibit(ctx context.Context, speciesID uuid.UUID, mediaType MediaType) error
	// SetFavorite is best-effort: implementations backed by older schemas
	// without the column swallow the failure.
	SetFavorite(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int, value bool) error

	// List operations
	CreateList(ctx context.Context, list *SpeciesList) error
	UpdateList(ctx context.Context, list *SpeciesList) error
	GetList(ctx context.Context, id uuid.UUID) (*SpeciesList, error)
	ListLists(ctx context.Context) ([]*SpeciesList, error)
	GetActiveList(ctx context.Context) (*SpeciesList, error)
	DeactivateAllLists(ctx context.Context) error
	ActivateList(ctx context.Context, id uuid.UUID) error
}

// PredictionStatus is the lifecycle state of a provider prediction.
type PredictionStatus string

// Prediction status constants.
const (
	PredictionStarting   PredictionStatus = "starting"
	PredictionProcessing PredictionStatus = "processing"
	PredictionSucceeded  PredictionStatus = "succeeded"
	PredictionFailed     PredictionStatus = "failed"
	PredictionCanceled   PredictionStatus = "canceled"
)

// Terminal reports whether the prediction has finished, one way or the other.
func (s PredictionStatus) Terminal() bool {
	return s == PredictionSucceeded || s == PredictionFailed || s == PredictionCanceled
}

// Prediction is a provider generation job handle.
type Prediction struct {
	ID     string
	Status PredictionStatus
	// Output holds the result URLs. Providers that return a single string
	// are normalized into a one-element slice.
	Output []string
	Error  string
}

// Provider drives an external generative-media API. Callers submit a job and
// poll it to a terminal state.
type Provider interface {
	// CreateImage submits an image generation for the prompt.
	CreateImage(ctx context.Context, prompt string) (*Prediction, error)

	// CreateVideo submits a video generation seeded with an image URL.
	CreateVideo(ctx context.Context, prompt, seedImageURL string) (*Prediction, error)

	// GetPrediction fetches the current state of a prediction.
	GetPrediction(ctx context.Context, id string) (*Prediction, error)
}

// MediaStorer persists a remote media URL into durable object storage.
// Implemented by the mediastore subpackage; narrowed to an interface so the
// orchestrator can be tested without network I/O.
type MediaStorer interface {
	Store(ctx context.Context, remoteURL string, speciesID uuid.UUID, mediaType MediaType, displayName string, version int) (*StoredMedia, error)
}

// StoredMedia is the result of persisting a remote asset.
type StoredMedia struct {
	Path      string
	PublicURL string
}

// Notifier fans lifecycle events out to connected clients. Implemented by the
// sse subpackage.
type Notifier interface {
	Broadcast(event Event)
}
