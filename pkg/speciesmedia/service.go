package speciesmedia

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service is the main interface for the species media catalog.
type Service interface {
	// Species operations
	CreateSpecies(ctx context.Context, req CreateSpeciesRequest) (*Species, error)
	GetSpecies(ctx context.Context, id uuid.UUID) (*Species, error)
	UpdateSpecies(ctx context.Context, req UpdateSpeciesRequest) error
	DeleteSpecies(ctx context.Context, id uuid.UUID) error
	// ListSpecies returns species in the given list, or in the active list
	// when listID is uuid.Nil.
	ListSpecies(ctx context.Context, listID uuid.UUID) ([]*Species, error)

	// List operations
	ListSpeciesLists(ctx context.Context) ([]*SpeciesList, error)
	ActivateList(ctx context.Context, id uuid.UUID) error

	// CSV import/export
	ImportCSV(ctx context.Context, name, sourceFile string, r io.Reader) (*ImportResult, error)
	ExportCSV(ctx context.Context, listID uuid.UUID, w io.Writer) error

	// Versioned media operations
	AppendVersion(ctx context.Context, req AppendVersionRequest) (*SpeciesMedia, error)
	SetPrimary(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int) error
	SetForExhibit(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int, selected bool) error
	Favorite(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int, value bool) error
	HideVersion(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int) error
	GetMediaListing(ctx context.Context, speciesID uuid.UUID) (*MediaListing, error)

	// Generation
	RequestGeneration(ctx context.Context, req GenerationRequest) (*GenerationResult, error)

	// Recovery sweeps
	ReconcileErrors(ctx context.Context) (*SweepResult, error)
	ResetStuckGeneration(ctx context.Context) (*SweepResult, error)

	// Storage administration
	InitStorage(ctx context.Context) error
}
