package speciesmedia

import (
	"time"

	"github.com/google/uuid"
)

// MediaType is the domain type for generated asset kinds.
type MediaType string

// Media type constants (typed).
const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// IsValid reports whether the media type is one of the known kinds.
func (m MediaType) IsValid() bool {
	return m == MediaTypeImage || m == MediaTypeVideo
}

// Folder returns the storage folder for the media type ("images" or "videos").
func (m MediaType) Folder() string {
	return string(m) + "s"
}

// GenerationStatus tracks where a species is in its media creation lifecycle.
//
// This is not a strictly enforced state machine: different writers touch
// different subsets of the values, and the recovery sweeps exist to repair
// combinations that contradict the row's actual media.
type GenerationStatus string

// Generation status constants (typed).
const (
	StatusPending         GenerationStatus = "pending"
	StatusGeneratingImage GenerationStatus = "generating_image"
	StatusGeneratingVideo GenerationStatus = "generating_video"
	StatusImageGenerated  GenerationStatus = "image_generated"
	StatusCompleted       GenerationStatus = "completed"
	StatusError           GenerationStatus = "error"
)

// GeneratingStatus returns the in-flight status for a media type.
func GeneratingStatus(mediaType MediaType) GenerationStatus {
	if mediaType == MediaTypeVideo {
		return StatusGeneratingVideo
	}
	return StatusGeneratingImage
}

// Species represents one catalog entry: an extinct taxon with descriptive
// metadata, denormalized current-media pointers, and generation state.
type Species struct {
	ID     uuid.UUID `json:"id"`
	ListID uuid.UUID `json:"list_id"`

	ScientificName  string `json:"scientific_name"`
	CommonName      string `json:"common_name"`
	ExtinctionYear  string `json:"extinction_year,omitempty"`
	LastLocation    string `json:"last_location,omitempty"`
	ExtinctionCause string `json:"extinction_cause,omitempty"`
	Habitat         string `json:"habitat,omitempty"`
	Kind            string `json:"type,omitempty"` // "Animal" or "Plant"
	Description     string `json:"description,omitempty"`
	Sources         string `json:"sources,omitempty"`

	// Denormalized current-media pointers. ImageURL/VideoURL are the legacy
	// flat columns the gallery reads when no ledger rows exist; the provider
	// and storage URLs mirror the current version's content pointers.
	ImageURL         string `json:"image_url,omitempty"`
	VideoURL         string `json:"video_url,omitempty"`
	ImageProviderURL string `json:"image_provider_url,omitempty"`
	VideoProviderURL string `json:"video_provider_url,omitempty"`
	ImageStorageURL  string `json:"image_storage_url,omitempty"`
	VideoStorageURL  string `json:"video_storage_url,omitempty"`

	CurrentImageVersion int `json:"current_image_version"`
	CurrentVideoVersion int `json:"current_video_version"`
	TotalImageVersions  int `json:"total_image_versions"`
	TotalVideoVersions  int `json:"total_video_versions"`

	GenerationStatus GenerationStatus `json:"generation_status"`

	ImageGeneratedAt *time.Time `json:"image_generated_at,omitempty"`
	VideoGeneratedAt *time.Time `json:"video_generated_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SpeciesMedia represents one immutable generated asset version. Rows are
// append-only: version numbers per (species, media type) start at 1, never
// repeat, and keep their gaps after a version is deleted.
type SpeciesMedia struct {
	ID            uuid.UUID `json:"id"`
	SpeciesID     uuid.UUID `json:"species_id"`
	MediaType     MediaType `json:"media_type"`
	VersionNumber int       `json:"version_number"`

	ProviderURL string `json:"provider_url,omitempty"` // ephemeral, may expire
	StorageURL  string `json:"storage_url,omitempty"`  // durable
	StoragePath string `json:"storage_path,omitempty"`

	// Video provenance: the image version (and its URL at the time) that
	// seeded this video. A denormalized reference, not a foreign key.
	SeedImageVersion int    `json:"seed_image_version,omitempty"`
	SeedImageURL     string `json:"seed_image_url,omitempty"`

	IsPrimary            bool `json:"is_primary"`
	IsSelectedForExhibit bool `json:"is_selected_for_exhibit"`
	IsFavorite           bool `json:"is_favorite"`

	CreatedAt time.Time `json:"created_at"`
}

// URL returns the best content pointer for the version: the durable storage
// URL when present, otherwise the provider URL.
func (m *SpeciesMedia) URL() string {
	if m.StorageURL != "" {
		return m.StorageURL
	}
	return m.ProviderURL
}

// SpeciesList groups species imported together. Exactly one list should be
// active at a time; species queries default to the active list.
type SpeciesList struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	SourceFile    string    `json:"source_file,omitempty"`
	DeclaredCount int       `json:"declared_count"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MediaVersion is one entry in a media listing.
type MediaVersion struct {
	Version              int       `json:"version"`
	URL                  string    `json:"url"`
	StorageURL           string    `json:"storage_url,omitempty"`
	ProviderURL          string    `json:"provider_url,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	IsCurrent            bool      `json:"is_current"`
	IsFavorite           bool      `json:"is_favorite"`
	IsSelectedForExhibit bool      `json:"is_selected_for_exhibit"`
	SeedImageVersion     int       `json:"seed_image_version,omitempty"`
	SeedImageURL         string    `json:"seed_image_url,omitempty"`
}

// MediaListing is the full versioned-media view of one species.
type MediaListing struct {
	Species             *Species       `json:"species"`
	Images              []MediaVersion `json:"images"`
	Videos              []MediaVersion `json:"videos"`
	CurrentImageVersion int            `json:"current_image_version"`
	CurrentVideoVersion int            `json:"current_video_version"`
	TotalImages         int            `json:"total_images"`
	TotalVideos         int            `json:"total_videos"`
}

// GenerationLimits caps the number of concurrently running generations per
// media type, process-wide.
type GenerationLimits struct {
	Images int
	Videos int
}

// DefaultGenerationLimits mirrors the deployed ceilings.
func DefaultGenerationLimits() GenerationLimits {
	return GenerationLimits{Images: 5, Videos: 3}
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Checked  int      `json:"checked"`
	Repaired int      `json:"repaired"`
	Details  []string `json:"details,omitempty"`
}

// Event is a lifecycle notification broadcast to SSE subscribers.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event type constants.
const (
	EventConnection     = "connection"
	EventHeartbeat      = "heartbeat"
	EventMediaGenerated = "media_generated"
	EventSpeciesUpdated = "species_updated"
)
