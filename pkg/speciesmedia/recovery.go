package speciesmedia

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReconcileErrors repairs species whose status says error but whose row state
// contradicts it: species with actual media flip to completed, errors older
// than the grace window reset to pending so they can be retried, and fresh
// errors are left alone while a request may still be in flight.
//
// The sweep self-guards: a second invocation while one runs, or within the
// throttle interval, returns ErrSweepThrottled instead of running.
func (s *service) ReconcileErrors(ctx context.Context) (*SweepResult, error) {
	s.sweepMu.Lock()
	if s.sweepRunning || time.Since(s.lastSweep) < s.sweepThrottle {
		s.sweepMu.Unlock()
		return nil, ErrSweepThrottled
	}
	s.sweepRunning = true
	s.lastSweep = time.Now()
	s.sweepMu.Unlock()

	defer func() {
		s.sweepMu.Lock()
		s.sweepRunning = false
		s.sweepMu.Unlock()
	}()

	rows, err := s.repository.ListSpeciesByStatus(ctx, StatusError)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Checked: len(rows)}
	for _, sp := range rows {
		hasMedia, err := s.speciesHasMedia(ctx, sp)
		if err != nil {
			slog.Warn("Error sweep: media check failed", "species_id", sp.ID, "error", err)
			continue
		}

		switch {
		case hasMedia:
			// Stale error: the asset landed but the status write lost.
			sp.GenerationStatus = StatusCompleted
		case time.Since(sp.UpdatedAt) > s.errorGrace:
			sp.GenerationStatus = StatusPending
		default:
			// Younger than the grace window; a request may still be running.
			continue
		}

		sp.UpdatedAt = time.Now().UTC()
		if err := s.repository.UpdateSpecies(ctx, sp); err != nil {
			slog.Warn("Error sweep: status repair failed", "species_id", sp.ID, "error", err)
			continue
		}
		result.Repaired++
		result.Details = append(result.Details, fmt.Sprintf("%s -> %s", sp.ID, sp.GenerationStatus))
		s.broadcastSpeciesUpdated(sp)
	}

	slog.Info("Error reconciliation finished", "checked", result.Checked, "repaired", result.Repaired)
	return result, nil
}

// ResetStuckGeneration repairs species stuck in a generating status for
// longer than the stuck window, on the theory that the generating process
// died without writing a terminal status. Media inferred from the URL
// columns decides the repaired status.
func (s *service) ResetStuckGeneration(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	for _, status := range []GenerationStatus{StatusGeneratingImage, StatusGeneratingVideo} {
		rows, err := s.repository.ListSpeciesByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		result.Checked += len(rows)

		for _, sp := range rows {
			if time.Since(sp.UpdatedAt) <= s.stuckAfter {
				continue
			}

			switch {
			case sp.VideoURL != "" || sp.VideoStorageURL != "":
				sp.GenerationStatus = StatusCompleted
			case sp.ImageURL != "" || sp.ImageStorageURL != "":
				sp.GenerationStatus = StatusImageGenerated
			default:
				sp.GenerationStatus = StatusPending
			}

			sp.UpdatedAt = time.Now().UTC()
			if err := s.repository.UpdateSpecies(ctx, sp); err != nil {
				slog.Warn("Stuck sweep: status repair failed", "species_id", sp.ID, "error", err)
				continue
			}
			result.Repaired++
			result.Details = append(result.Details, fmt.Sprintf("%s -> %s", sp.ID, sp.GenerationStatus))
			s.broadcastSpeciesUpdated(sp)
		}
	}

	slog.Info("Stuck generation sweep finished", "checked", result.Checked, "repaired", result.Repaired)
	return result, nil
}

// speciesHasMedia reports whether any stored asset exists for the species,
// looking at both the flat columns and the ledger.
func (s *service) speciesHasMedia(ctx context.Context, sp *Species) (bool, error) {
	if sp.ImageURL != "" || sp.VideoURL != "" || sp.ImageStorageURL != "" || sp.VideoStorageURL != "" {
		return true, nil
	}
	for _, mt := range []MediaType{MediaTypeImage, MediaTypeVideo} {
		rows, err := s.repository.ListMedia(ctx, sp.ID, mt)
		if err != nil {
			return false, err
		}
		if len(rows) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) broadcastSpeciesUpdated(sp *Species) {
	s.broadcast(Event{
		Type:      EventSpeciesUpdated,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"species_id": sp.ID.String(),
			"status":     string(sp.GenerationStatus),
		},
	})
}
