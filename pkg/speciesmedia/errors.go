package speciesmedia

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrSpeciesNotFound indicates a species was not found
	ErrSpeciesNotFound = errors.New("species not found")

	// ErrMediaNotFound indicates a media version was not found
	ErrMediaNotFound = errors.New("media version not found")

	// ErrMediaExists indicates a version number collision on insert
	ErrMediaExists = errors.New("media version already exists")

	// ErrListNotFound indicates a species list was not found
	ErrListNotFound = errors.New("species list not found")

	// ErrNoActiveList indicates no species list is currently active
	ErrNoActiveList = errors.New("no active species list")

	// ErrStorageBackendNotFound indicates a storage backend was not found
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrInvalidMediaType indicates an unknown media type
	ErrInvalidMediaType = errors.New("invalid media type")

	// ErrRateLimited indicates the per-type concurrency ceiling is full
	ErrRateLimited = errors.New("generation rate limited")

	// ErrDuplicateRequest indicates a generation of this type is already in
	// flight for the species
	ErrDuplicateRequest = errors.New("generation already in progress")

	// ErrSeedImageRequired indicates a video generation request carried no
	// seed image URL
	ErrSeedImageRequired = errors.New("seed image url is required for video generation")

	// ErrSweepThrottled indicates a reconciliation sweep was rejected because
	// one is running or ran too recently
	ErrSweepThrottled = errors.New("sweep already running or throttled")

	// ErrGenerationFailed indicates the provider reported a terminal failure
	ErrGenerationFailed = errors.New("generation failed")

	// ErrGenerationTimeout indicates polling exhausted its attempt budget
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrEmptyOutput indicates the provider succeeded but returned no usable
	// output URL
	ErrEmptyOutput = errors.New("provider returned no output")
)

// SpeciesError represents an error related to species operations
type SpeciesError struct {
	SpeciesID uuid.UUID
	Op        string
	Err       error
}

func (e *SpeciesError) Error() string {
	return fmt.Sprintf("species operation %s failed for species %s: %v", e.Op, e.SpeciesID, e.Err)
}

func (e *SpeciesError) Unwrap() error {
	return e.Err
}

// GenerationError represents a failure in the background generation worker
type GenerationError struct {
	SpeciesID uuid.UUID
	MediaType MediaType
	Stage     string // "submit", "poll", "store", "persist"
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed for species %s at stage %s: %v", e.MediaType, e.SpeciesID, e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
