package speciesmedia

import "github.com/google/uuid"

// CreateSpeciesRequest contains parameters for creating a species record.
type CreateSpeciesRequest struct {
	ListID          uuid.UUID
	ScientificName  string
	CommonName      string
	ExtinctionYear  string
	LastLocation    string
	ExtinctionCause string
	Habitat         string
	Kind            string
	Description     string
	Sources         string
}

// UpdateSpeciesRequest contains parameters for updating a species record.
type UpdateSpeciesRequest struct {
	Species *Species
}

// GenerationRequest asks for a new media version of a species.
type GenerationRequest struct {
	SpeciesID uuid.UUID
	MediaType MediaType

	// Video only: the image that seeds the clip. Caller-supplied; the
	// service does not re-derive or validate provenance.
	SeedImageURL     string
	SeedImageVersion int
}

// GenerationResult reports acceptance of a generation request. The actual
// work runs detached; callers observe completion through the species status
// and SSE events.
type GenerationResult struct {
	SpeciesID uuid.UUID `json:"species_id"`
	MediaType MediaType `json:"media_type"`
	Version   int       `json:"version"`
	Status    string    `json:"status"` // "generating"
}

// AppendVersionRequest contains the content pointers for a new media version.
type AppendVersionRequest struct {
	SpeciesID        uuid.UUID
	MediaType        MediaType
	Version          int
	ProviderURL      string
	StorageURL       string
	StoragePath      string
	SeedImageVersion int
	SeedImageURL     string
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	List     *SpeciesList `json:"list"`
	Imported int          `json:"imported"`
	Skipped  int          `json:"skipped"`
}
