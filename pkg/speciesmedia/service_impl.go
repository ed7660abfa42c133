package speciesmedia

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository Repository
	blobStores map[string]BlobStore
	mediaStore MediaStorer
	provider   Provider
	notifier   Notifier

	// In-flight generation slots, owned here rather than at module scope so
	// the ceiling is testable in isolation.
	slotMu        sync.Mutex
	imageInFlight int
	videoInFlight int
	limits        GenerationLimits

	imagePollInterval time.Duration
	videoPollInterval time.Duration
	imagePollBudget   int
	videoPollBudget   int

	// Sweep self-guard state.
	sweepMu       sync.Mutex
	sweepRunning  bool
	lastSweep     time.Time
	sweepThrottle time.Duration
	errorGrace    time.Duration
	stuckAfter    time.Duration
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore adds an object storage backend
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		if s.blobStores == nil {
			s.blobStores = make(map[string]BlobStore)
		}
		s.blobStores[name] = store
	}
}

// WithMediaStorer sets the media storage adapter
func WithMediaStorer(store MediaStorer) Option {
	return func(s *service) {
		s.mediaStore = store
	}
}

// WithProvider sets the generative media provider
func WithProvider(p Provider) Option {
	return func(s *service) {
		s.provider = p
	}
}

// WithNotifier sets the lifecycle event notifier
func WithNotifier(n Notifier) Option {
	return func(s *service) {
		s.notifier = n
	}
}

// WithGenerationLimits overrides the per-type concurrency ceilings
func WithGenerationLimits(limits GenerationLimits) Option {
	return func(s *service) {
		s.limits = limits
	}
}

// WithPollIntervals overrides the provider polling cadence
func WithPollIntervals(image, video time.Duration) Option {
	return func(s *service) {
		s.imagePollInterval = image
		s.videoPollInterval = video
	}
}

// WithSweepThrottle overrides the minimum interval between error sweeps
func WithSweepThrottle(d time.Duration) Option {
	return func(s *service) {
		s.sweepThrottle = d
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		blobStores:        make(map[string]BlobStore),
		limits:            DefaultGenerationLimits(),
		imagePollInterval: time.Second,
		videoPollInterval: 2 * time.Second,
		imagePollBudget:   300,
		videoPollBudget:   180,
		sweepThrottle:     30 * time.Second,
		errorGrace:        2 * time.Minute,
		stuckAfter:        10 * time.Minute,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}

	return s, nil
}

// Species operations

func (s *service) CreateSpecies(ctx context.Context, req CreateSpeciesRequest) (*Species, error) {
	listID := req.ListID
	if listID == uuid.Nil {
		active, err := s.repository.GetActiveList(ctx)
		if err != nil {
			return nil, err
		}
		listID = active.ID
	}

	now := time.Now().UTC()
	sp := &Species{
		ID:               uuid.New(),
		ListID:           listID,
		ScientificName:   req.ScientificName,
		CommonName:       req.CommonName,
		ExtinctionYear:   req.ExtinctionYear,
		LastLocation:     req.LastLocation,
		ExtinctionCause:  req.ExtinctionCause,
		Habitat:          req.Habitat,
		Kind:             req.Kind,
		Description:      req.Description,
		Sources:          req.Sources,
		GenerationStatus: StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repository.CreateSpecies(ctx, sp); err != nil {
		return nil, &SpeciesError{SpeciesID: sp.ID, Op: "create", Err: err}
	}

	return sp, nil
}

func (s *service) GetSpecies(ctx context.Context, id uuid.UUID) (*Species, error) {
	return s.repository.GetSpecies(ctx, id)
}

func (s *service) UpdateSpecies(ctx context.Context, req UpdateSpeciesRequest) error {
	req.Species.UpdatedAt = time.Now().UTC()

	if err := s.repository.UpdateSpecies(ctx, req.Species); err != nil {
		return &SpeciesError{SpeciesID: req.Species.ID, Op: "update", Err: err}
	}

	return nil
}

func (s *service) DeleteSpecies(ctx context.Context, id uuid.UUID) error {
	if err := s.repository.DeleteSpecies(ctx, id); err != nil {
		return &SpeciesError{SpeciesID: id, Op: "delete", Err: err}
	}
	return nil
}

func (s *service) ListSpecies(ctx context.Context, listID uuid.UUID) ([]*Species, error) {
	if listID == uuid.Nil {
		active, err := s.repository.GetActiveList(ctx)
		if err != nil {
			return nil, err
		}
		listID = active.ID
	}
	return s.repository.ListSpecies(ctx, listID)
}

// List operations

func (s *service) ListSpeciesLists(ctx context.Context) ([]*SpeciesList, error) {
	return s.repository.ListLists(ctx)
}

// ActivateList deactivates every list and then activates the target. The two
// steps are not atomic; concurrent activations can race, which is accepted
// for a single-operator admin tool.
func (s *service) ActivateList(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.GetList(ctx, id); err != nil {
		return err
	}
	if err := s.repository.DeactivateAllLists(ctx); err != nil {
		return err
	}
	return s.repository.ActivateList(ctx, id)
}

// Versioned media operations

// AppendVersion inserts a new media version and recomputes the species'
// version counters and current pointers. The first version of a type is
// flagged primary and exhibit-selected; later versions are inserted with both
// flags false and require an explicit promotion.
func (s *service) AppendVersion(ctx context.Context, req AppendVersionRequest) (*SpeciesMedia, error) {
	if !req.MediaType.IsValid() {
		return nil, ErrInvalidMediaType
	}

	sp, err := s.repository.GetSpecies(ctx, req.SpeciesID)
	if err != nil {
		return nil, err
	}

	version := req.Version
	if version == 0 {
		version, err = s.repository.NextVersion(ctx, req.SpeciesID, req.MediaType)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	media := &SpeciesMedia{
		ID:                   uuid.New(),
		SpeciesID:            req.SpeciesID,
		MediaType:            req.MediaType,
		VersionNumber:        version,
		ProviderURL:          req.ProviderURL,
		StorageURL:           req.StorageURL,
		StoragePath:          req.StoragePath,
		SeedImageVersion:     req.SeedImageVersion,
		SeedImageURL:         req.SeedImageURL,
		IsPrimary:            version == 1,
		IsSelectedForExhibit: version == 1,
		CreatedAt:            now,
	}

	if err := s.repository.CreateMedia(ctx, media); err != nil {
		return nil, &SpeciesError{SpeciesID: req.SpeciesID, Op: "append_version", Err: err}
	}

	versions, err := s.repository.ListMedia(ctx, req.SpeciesID, req.MediaType)
	if err != nil {
		return nil, err
	}

	s.pointCurrentVersion(sp, req.MediaType, media, len(versions), now)
	if err := s.repository.UpdateSpecies(ctx, sp); err != nil {
		return nil, &SpeciesError{SpeciesID: sp.ID, Op: "append_version_pointers", Err: err}
	}

	return media, nil
}

// pointCurrentVersion moves the species' denormalized pointers for mediaType
// to the given version.
func (s *service) pointCurrentVersion(sp *Species, mediaType MediaType, media *SpeciesMedia, total int, now time.Time) {
	sp.UpdatedAt = now
	switch mediaType {
	case MediaTypeImage:
		sp.CurrentImageVersion = media.VersionNumber
		sp.TotalImageVersions = total
		sp.ImageProviderURL = media.ProviderURL
		sp.ImageStorageURL = media.StorageURL
		sp.ImageURL = media.URL()
		t := now
		sp.ImageGeneratedAt = &t
	case MediaTypeVideo:
		sp.CurrentVideoVersion = media.VersionNumber
		sp.TotalVideoVersions = total
		sp.VideoProviderURL = media.ProviderURL
		sp.VideoStorageURL = media.StorageURL
		sp.VideoURL = media.URL()
		t := now
		sp.VideoGeneratedAt = &t
	}
}

// SetPrimary flags one version as authoritative for its species and type.
// Clear-then-set across two statements; not atomic.
func (s *service) SetPrimary(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int) error {
	media, err := s.repository.GetMedia(ctx, speciesID, mediaType, version)
	if err != nil {
		return err
	}

	if err := s.repository.ClearPrimary(ctx, speciesID, mediaType); err != nil {
		return err
	}

	media.IsPrimary = true
	if err := s.repository.UpdateMedia(ctx, media); err != nil {
		return err
	}

	sp, err := s.repository.GetSpecies(ctx, speciesID)
	if err != nil {
		return err
	}
	sp.UpdatedAt = time.Now().UTC()
	switch mediaType {
	case MediaTypeImage:
		sp.CurrentImageVersion = version
		sp.ImageStorageURL = media.StorageURL
		sp.ImageProviderURL = media.ProviderURL
		sp.ImageURL = media.URL()
	case MediaTypeVideo:
		sp.CurrentVideoVersion = version
		sp.VideoStorageURL = media.StorageURL
		sp.VideoProviderURL = media.ProviderURL
		sp.VideoURL = media.URL()
	}
	return s.repository.UpdateSpecies(ctx, sp)
}

// SetForExhibit marks or unmarks a version as the curator's pick for public
// display. Same clear-then-set pattern as SetPrimary.
func (s *service) SetForExhibit(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int, selected bool) error {
	media, err := s.repository.GetMedia(ctx, speciesID, mediaType, version)
	if err != nil {
		return err
	}

	if err := s.repository.ClearExhibit(ctx, speciesID, mediaType); err != nil {
		return err
	}

	if !selected {
		return nil
	}

	media.IsSelectedForExhibit = true
	return s.repository.UpdateMedia(ctx, media)
}

// Favorite toggles the favorite flag. Best-effort: repositories backed by
// schemas without the column degrade silently.
func (s *service) Favorite(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int, value bool) error {
	if _, err := s.repository.GetMedia(ctx, speciesID, mediaType, version); err != nil {
		return err
	}
	return s.repository.SetFavorite(ctx, speciesID, mediaType, version, value)
}

// HideVersion hard-deletes a version and repoints the species at the highest
// remaining version, or at the sentinel 1 when none remain. Version numbers
// are never reused; the gap is permanent.
func (s *service) HideVersion(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, version int) error {
	if _, err := s.repository.GetMedia(ctx, speciesID, mediaType, version); err != nil {
		return err
	}

	if err := s.repository.DeleteMedia(ctx, speciesID, mediaType, version); err != nil {
		return err
	}

	remaining, err := s.repository.ListMedia(ctx, speciesID, mediaType)
	if err != nil {
		return err
	}

	sp, err := s.repository.GetSpecies(ctx, speciesID)
	if err != nil {
		return err
	}
	sp.UpdatedAt = time.Now().UTC()

	if len(remaining) > 0 {
		// remaining is sorted ascending; fall back to the highest version,
		// which is not necessarily the one that was primary.
		current := remaining[len(remaining)-1]
		switch mediaType {
		case MediaTypeImage:
			sp.CurrentImageVersion = current.VersionNumber
			sp.TotalImageVersions = len(remaining)
			sp.ImageStorageURL = current.StorageURL
			sp.ImageProviderURL = current.ProviderURL
			sp.ImageURL = current.URL()
		case MediaTypeVideo:
			sp.CurrentVideoVersion = current.VersionNumber
			sp.TotalVideoVersions = len(remaining)
			sp.VideoStorageURL = current.StorageURL
			sp.VideoProviderURL = current.ProviderURL
			sp.VideoURL = current.URL()
		}
	} else {
		// Sentinel: pointer 1 with zero versions means "no media".
		switch mediaType {
		case MediaTypeImage:
			sp.CurrentImageVersion = 1
			sp.TotalImageVersions = 0
			sp.ImageStorageURL = ""
			sp.ImageProviderURL = ""
			sp.ImageURL = ""
		case MediaTypeVideo:
			sp.CurrentVideoVersion = 1
			sp.TotalVideoVersions = 0
			sp.VideoStorageURL = ""
			sp.VideoProviderURL = ""
			sp.VideoURL = ""
		}
	}

	return s.repository.UpdateSpecies(ctx, sp)
}

// GetMediaListing returns every version of both media types. When a species
// has no ledger rows but carries legacy flat URLs, a single synthetic
// "version 1" entry is returned so pre-versioning records stay readable.
func (s *service) GetMediaListing(ctx context.Context, speciesID uuid.UUID) (*MediaListing, error) {
	sp, err := s.repository.GetSpecies(ctx, speciesID)
	if err != nil {
		return nil, err
	}

	images, err := s.repository.ListMedia(ctx, speciesID, MediaTypeImage)
	if err != nil {
		return nil, err
	}
	videos, err := s.repository.ListMedia(ctx, speciesID, MediaTypeVideo)
	if err != nil {
		return nil, err
	}

	listing := &MediaListing{
		Species:             sp,
		Images:              toVersions(images, sp.CurrentImageVersion),
		Videos:              toVersions(videos, sp.CurrentVideoVersion),
		CurrentImageVersion: sp.CurrentImageVersion,
		CurrentVideoVersion: sp.CurrentVideoVersion,
		TotalImages:         len(images),
		TotalVideos:         len(videos),
	}

	if len(images) == 0 && sp.ImageURL != "" {
		listing.Images = []MediaVersion{legacyVersion(sp.ImageURL, sp.ImageStorageURL, sp.ImageProviderURL, sp.CreatedAt)}
		listing.CurrentImageVersion = 1
		listing.TotalImages = 1
	}
	if len(videos) == 0 && sp.VideoURL != "" {
		listing.Videos = []MediaVersion{legacyVersion(sp.VideoURL, sp.VideoStorageURL, sp.VideoProviderURL, sp.CreatedAt)}
		listing.CurrentVideoVersion = 1
		listing.TotalVideos = 1
	}

	return listing, nil
}

func toVersions(rows []*SpeciesMedia, current int) []MediaVersion {
	out := make([]MediaVersion, 0, len(rows))
	for _, m := range rows {
		out = append(out, MediaVersion{
			Version:              m.VersionNumber,
			URL:                  m.URL(),
			StorageURL:           m.StorageURL,
			ProviderURL:          m.ProviderURL,
			CreatedAt:            m.CreatedAt,
			IsCurrent:            m.VersionNumber == current,
			IsFavorite:           m.IsFavorite,
			IsSelectedForExhibit: m.IsSelectedForExhibit,
			SeedImageVersion:     m.SeedImageVersion,
			SeedImageURL:         m.SeedImageURL,
		})
	}
	return out
}

func legacyVersion(url, storageURL, providerURL string, createdAt time.Time) MediaVersion {
	return MediaVersion{
		Version:     1,
		URL:         url,
		StorageURL:  storageURL,
		ProviderURL: providerURL,
		CreatedAt:   createdAt,
		IsCurrent:   true,
	}
}

// Storage administration

func (s *service) InitStorage(ctx context.Context) error {
	for name, store := range s.blobStores {
		if err := store.EnsureBucket(ctx); err != nil {
			return &StorageError{Backend: name, Op: "ensure_bucket", Err: err}
		}
	}
	return nil
}

func (s *service) broadcast(event Event) {
	if s.notifier != nil {
		s.notifier.Broadcast(event)
	}
}
