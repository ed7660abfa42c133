package speciesmedia

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestGeneration accepts or rejects a generation request for a species.
//
// Preconditions are checked in order: the per-type concurrency slot, the
// duplicate-in-progress status check, and (for video) the caller-supplied
// seed image. On acceptance the work runs as a detached task and the call
// returns immediately; completion is observable through the species status
// and the media_generated event.
func (s *service) RequestGeneration(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if !req.MediaType.IsValid() {
		return nil, ErrInvalidMediaType
	}
	if s.provider == nil || s.mediaStore == nil {
		return nil, fmt.Errorf("generation is not configured: provider and media store are required")
	}

	if !s.tryReserveSlot(req.MediaType) {
		return nil, ErrRateLimited
	}
	accepted := false
	defer func() {
		if !accepted {
			s.releaseSlot(req.MediaType)
		}
	}()

	sp, err := s.repository.GetSpecies(ctx, req.SpeciesID)
	if err != nil {
		return nil, err
	}

	if sp.GenerationStatus == GeneratingStatus(req.MediaType) {
		return nil, ErrDuplicateRequest
	}

	if req.MediaType == MediaTypeVideo && req.SeedImageURL == "" {
		return nil, ErrSeedImageRequired
	}

	version, err := s.repository.NextVersion(ctx, req.SpeciesID, req.MediaType)
	if err != nil {
		return nil, err
	}

	sp.GenerationStatus = GeneratingStatus(req.MediaType)
	sp.UpdatedAt = time.Now().UTC()
	if err := s.repository.UpdateSpecies(ctx, sp); err != nil {
		return nil, &SpeciesError{SpeciesID: sp.ID, Op: "mark_generating", Err: err}
	}

	accepted = true
	// Detached from the request context: the task outlives the HTTP response.
	go s.runGeneration(context.Background(), sp, req, version)

	return &GenerationResult{
		SpeciesID: sp.ID,
		MediaType: req.MediaType,
		Version:   version,
		Status:    "generating",
	}, nil
}

func (s *service) tryReserveSlot(mediaType MediaType) bool {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	switch mediaType {
	case MediaTypeVideo:
		if s.videoInFlight >= s.limits.Videos {
			return false
		}
		s.videoInFlight++
	default:
		if s.imageInFlight >= s.limits.Images {
			return false
		}
		s.imageInFlight++
	}
	return true
}

func (s *service) releaseSlot(mediaType MediaType) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	switch mediaType {
	case MediaTypeVideo:
		if s.videoInFlight > 0 {
			s.videoInFlight--
		}
	default:
		if s.imageInFlight > 0 {
			s.imageInFlight--
		}
	}
}

// runGeneration is the detached generation worker. The slot is released and a
// terminal status is written no matter where the work fails.
func (s *service) runGeneration(ctx context.Context, sp *Species, req GenerationRequest, version int) {
	defer s.releaseSlot(req.MediaType)

	if err := s.generate(ctx, sp, req, version); err != nil {
		slog.Error("Generation failed", "species_id", sp.ID, "media_type", req.MediaType, "version", version, "error", err)
		s.markGenerationError(ctx, sp.ID)
		return
	}

	slog.Info("Generation completed", "species_id", sp.ID, "media_type", req.MediaType, "version", version)
}

func (s *service) generate(ctx context.Context, sp *Species, req GenerationRequest, version int) error {
	prompt := BuildPrompt(sp, req.MediaType)

	var pred *Prediction
	var err error
	switch req.MediaType {
	case MediaTypeVideo:
		pred, err = s.provider.CreateVideo(ctx, prompt, req.SeedImageURL)
	default:
		pred, err = s.provider.CreateImage(ctx, prompt)
	}
	if err != nil {
		return &GenerationError{SpeciesID: sp.ID, MediaType: req.MediaType, Stage: "submit", Err: err}
	}

	pred, err = s.pollPrediction(ctx, pred, req.MediaType)
	if err != nil {
		return &GenerationError{SpeciesID: sp.ID, MediaType: req.MediaType, Stage: "poll", Err: err}
	}

	if len(pred.Output) == 0 || pred.Output[0] == "" {
		return &GenerationError{SpeciesID: sp.ID, MediaType: req.MediaType, Stage: "poll", Err: ErrEmptyOutput}
	}
	providerURL := pred.Output[0]

	stored, err := s.mediaStore.Store(ctx, providerURL, sp.ID, req.MediaType, sp.CommonName, version)
	if err != nil {
		return &GenerationError{SpeciesID: sp.ID, MediaType: req.MediaType, Stage: "store", Err: err}
	}

	publicURL, err := s.publicURL(ctx, stored)
	if err != nil {
		return &GenerationError{SpeciesID: sp.ID, MediaType: req.MediaType, Stage: "store", Err: err}
	}

	_, err = s.AppendVersion(ctx, AppendVersionRequest{
		SpeciesID:        sp.ID,
		MediaType:        req.MediaType,
		Version:          version,
		ProviderURL:      providerURL,
		StorageURL:       publicURL,
		StoragePath:      stored.Path,
		SeedImageVersion: req.SeedImageVersion,
		SeedImageURL:     req.SeedImageURL,
	})
	if err != nil {
		// Best-effort secondary persistence: when the versioned insert fails
		// (schema drift on older databases), write the flat columns directly
		// so the asset is not lost.
		slog.Warn("Versioned insert failed, falling back to legacy columns",
			"species_id", sp.ID, "media_type", req.MediaType, "error", err)
		if legacyErr := s.writeLegacyColumns(ctx, sp.ID, req.MediaType, providerURL, publicURL); legacyErr != nil {
			return &GenerationError{SpeciesID: sp.ID, MediaType: req.MediaType, Stage: "persist", Err: legacyErr}
		}
	}

	if err := s.markCompleted(ctx, sp.ID); err != nil {
		return &GenerationError{SpeciesID: sp.ID, MediaType: req.MediaType, Stage: "persist", Err: err}
	}

	s.broadcast(Event{
		Type:      EventMediaGenerated,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"species_id": sp.ID.String(),
			"media_type": string(req.MediaType),
			"version":    version,
			"url":        publicURL,
		},
	})

	return nil
}

func (s *service) publicURL(ctx context.Context, stored *StoredMedia) (string, error) {
	if stored.PublicURL != "" {
		return stored.PublicURL, nil
	}
	return "", fmt.Errorf("stored media %s has no public url", stored.Path)
}

// pollPrediction polls the provider until the prediction reaches a terminal
// state or the attempt budget runs out. The remote job is not cancelled on
// timeout; it may finish orphaned.
func (s *service) pollPrediction(ctx context.Context, pred *Prediction, mediaType MediaType) (*Prediction, error) {
	interval := s.imagePollInterval
	budget := s.imagePollBudget
	if mediaType == MediaTypeVideo {
		interval = s.videoPollInterval
		budget = s.videoPollBudget
	}

	for attempt := 0; attempt < budget; attempt++ {
		if pred.Status.Terminal() {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		var err error
		pred, err = s.provider.GetPrediction(ctx, pred.ID)
		if err != nil {
			return nil, err
		}
	}

	switch pred.Status {
	case PredictionSucceeded:
		return pred, nil
	case PredictionFailed, PredictionCanceled:
		if pred.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, pred.Error)
		}
		return nil, ErrGenerationFailed
	default:
		return nil, ErrGenerationTimeout
	}
}

func (s *service) markCompleted(ctx context.Context, speciesID uuid.UUID) error {
	sp, err := s.repository.GetSpecies(ctx, speciesID)
	if err != nil {
		return err
	}
	sp.GenerationStatus = StatusCompleted
	sp.UpdatedAt = time.Now().UTC()
	return s.repository.UpdateSpecies(ctx, sp)
}

// markGenerationError collapses every failure mode into the single error
// status. No structured code is persisted and no event is broadcast; clients
// learn of failures through status polling or the recovery sweep.
func (s *service) markGenerationError(ctx context.Context, speciesID uuid.UUID) {
	sp, err := s.repository.GetSpecies(ctx, speciesID)
	if err != nil {
		slog.Error("Failed to load species for error status", "species_id", speciesID, "error", err)
		return
	}
	sp.GenerationStatus = StatusError
	sp.UpdatedAt = time.Now().UTC()
	if err := s.repository.UpdateSpecies(ctx, sp); err != nil {
		slog.Error("Failed to write error status", "species_id", speciesID, "error", err)
	}
}

func (s *service) writeLegacyColumns(ctx context.Context, speciesID uuid.UUID, mediaType MediaType, providerURL, storageURL string) error {
	sp, err := s.repository.GetSpecies(ctx, speciesID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	sp.UpdatedAt = now
	switch mediaType {
	case MediaTypeVideo:
		sp.VideoURL = storageURL
		sp.VideoProviderURL = providerURL
		sp.VideoStorageURL = storageURL
		sp.VideoGeneratedAt = &now
	default:
		sp.ImageURL = storageURL
		sp.ImageProviderURL = providerURL
		sp.ImageStorageURL = storageURL
		sp.ImageGeneratedAt = &now
	}
	return s.repository.UpdateSpecies(ctx, sp)
}

// BuildPrompt renders the natural-language prompt for a species. Missing
// attributes fall back to generic phrases so sparse import rows still produce
// usable prompts.
func BuildPrompt(sp *Species, mediaType MediaType) string {
	name := sp.CommonName
	if name == "" {
		name = sp.ScientificName
	}

	kind := strings.ToLower(sp.Kind)
	if kind == "" {
		kind = "animal"
	}

	location := sp.LastLocation
	if location == "" {
		location = "its natural habitat"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A photorealistic depiction of the %s (%s), an extinct %s, in %s.",
		name, sp.ScientificName, kind, location)
	if sp.Habitat != "" {
		fmt.Fprintf(&b, " Shown in its %s habitat.", strings.ToLower(sp.Habitat))
	}

	if mediaType == MediaTypeVideo {
		b.WriteString(" Slow cinematic camera movement, the subject moving naturally. No text, no captions.")
	} else {
		b.WriteString(" Natural lighting, high detail, documentary style. No text, no watermarks.")
	}

	return b.String()
}
