package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

// Repository implements speciesmedia.Repository using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	species map[uuid.UUID]*speciesmedia.Species
	media   map[uuid.UUID]*speciesmedia.SpeciesMedia
	lists   map[uuid.UUID]*speciesmedia.SpeciesList

	mediaBySpecies map[uuid.UUID][]uuid.UUID // species_id -> []media_id
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		species:        make(map[uuid.UUID]*speciesmedia.Species),
		media:          make(map[uuid.UUID]*speciesmedia.SpeciesMedia),
		lists:          make(map[uuid.UUID]*speciesmedia.SpeciesList),
		mediaBySpecies: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Species operations

func (r *Repository) CreateSpecies(ctx context.Context, sp *speciesmedia.Species) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy to avoid external modifications
	spCopy := *sp
	r.species[sp.ID] = &spCopy

	return nil
}

func (r *Repository) GetSpecies(ctx context.Context, id uuid.UUID) (*speciesmedia.Species, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, exists := r.species[id]
	if !exists {
		return nil, speciesmedia.ErrSpeciesNotFound
	}

	spCopy := *sp
	return &spCopy, nil
}

func (r *Repository) UpdateSpecies(ctx context.Context, sp *speciesmedia.Species) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.species[sp.ID]; !exists {
		return speciesmedia.ErrSpeciesNotFound
	}

	spCopy := *sp
	r.species[sp.ID] = &spCopy

	return nil
}

func (r *Repository) DeleteSpecies(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.species[id]; !exists {
		return speciesmedia.ErrSpeciesNotFound
	}

	delete(r.species, id)

	// Cascade the media ledger
	for _, mediaID := range r.mediaBySpecies[id] {
		delete(r.media, mediaID)
	}
	delete(r.mediaBySpecies, id)

	return nil
}

func (r *Repository) ListSpecies(ctx context.Context, listID uuid.UUID) ([]*speciesmedia.Species, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*speciesmedia.Species
	for _, sp := range r.species {
		if sp.ListID == listID {
			spCopy := *sp
			result = append(result, &spCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ScientificName < result[j].ScientificName
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *Repository) ListSpeciesByStatus(ctx context.Context, status speciesmedia.GenerationStatus) ([]*speciesmedia.Species, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*speciesmedia.Species
	for _, sp := range r.species {
		if sp.GenerationStatus == status {
			spCopy := *sp
			result = append(result, &spCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	return result, nil
}

// Media ledger operations

func (r *Repository) CreateMedia(ctx context.Context, media *speciesmedia.SpeciesMedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.species[media.SpeciesID]; !exists {
		return speciesmedia.ErrSpeciesNotFound
	}

	// Version numbers are unique per (species, type)
	for _, id := range r.mediaBySpecies[media.SpeciesID] {
		m := r.media[id]
		if m.MediaType == media.MediaType && m.VersionNumber == media.VersionNumber {
			return speciesmedia.ErrMediaExists
		}
	}

	mediaCopy := *media
	r.media[media.ID] = &mediaCopy
	r.mediaBySpecies[media.SpeciesID] = append(r.mediaBySpecies[media.SpeciesID], media.ID)

	return nil
}

func (r *Repository) GetMedia(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType, version int) (*speciesmedia.SpeciesMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.mediaBySpecies[speciesID] {
		m := r.media[id]
		if m.MediaType == mediaType && m.VersionNumber == version {
			mCopy := *m
			return &mCopy, nil
		}
	}
	return nil, speciesmedia.ErrMediaNotFound
}

func (r *Repository) ListMedia(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType) ([]*speciesmedia.SpeciesMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*speciesmedia.SpeciesMedia
	for _, id := range r.mediaBySpecies[speciesID] {
		m := r.media[id]
		if m.MediaType == mediaType {
			mCopy := *m
			result = append(result, &mCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].VersionNumber < result[j].VersionNumber
	})

	return result, nil
}

func (r *Repository) UpdateMedia(ctx context.Context, media *speciesmedia.SpeciesMedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.media[media.ID]; !exists {
		return speciesmedia.ErrMediaNotFound
	}

	mediaCopy := *media
	r.media[media.ID] = &mediaCopy

	return nil
}

func (r *Repository) DeleteMedia(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.mediaBySpecies[speciesID]
	for i, id := range ids {
		m := r.media[id]
		if m.MediaType == mediaType && m.VersionNumber == version {
			delete(r.media, id)
			r.mediaBySpecies[speciesID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return speciesmedia.ErrMediaNotFound
}

func (r *Repository) NextVersion(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	max := 0
	for _, id := range r.mediaBySpecies[speciesID] {
		m := r.media[id]
		if m.MediaType == mediaType && m.VersionNumber > max {
			max = m.VersionNumber
		}
	}
	return max + 1, nil
}

func (r *Repository) ClearPrimary(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.mediaBySpecies[speciesID] {
		m := r.media[id]
		if m.MediaType == mediaType {
			m.IsPrimary = false
		}
	}
	return nil
}

func (r *Repository) ClearExhibit(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.mediaBySpecies[speciesID] {
		m := r.media[id]
		if m.MediaType == mediaType {
			m.IsSelectedForExhibit = false
		}
	}
	return nil
}

func (r *Repository) SetFavorite(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType, version int, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.mediaBySpecies[speciesID] {
		m := r.media[id]
		if m.MediaType == mediaType && m.VersionNumber == version {
			m.IsFavorite = value
			return nil
		}
	}
	return speciesmedia.ErrMediaNotFound
}

// List operations

func (r *Repository) CreateList(ctx context.Context, list *speciesmedia.SpeciesList) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	listCopy := *list
	r.lists[list.ID] = &listCopy

	return nil
}

func (r *Repository) UpdateList(ctx context.Context, list *speciesmedia.SpeciesList) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.lists[list.ID]; !exists {
		return speciesmedia.ErrListNotFound
	}

	listCopy := *list
	r.lists[list.ID] = &listCopy

	return nil
}

func (r *Repository) GetList(ctx context.Context, id uuid.UUID) (*speciesmedia.SpeciesList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, exists := r.lists[id]
	if !exists {
		return nil, speciesmedia.ErrListNotFound
	}

	listCopy := *list
	return &listCopy, nil
}

func (r *Repository) ListLists(ctx context.Context) ([]*speciesmedia.SpeciesList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*speciesmedia.SpeciesList
	for _, list := range r.lists {
		listCopy := *list
		result = append(result, &listCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func (r *Repository) GetActiveList(ctx context.Context) (*speciesmedia.SpeciesList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, list := range r.lists {
		if list.IsActive {
			listCopy := *list
			return &listCopy, nil
		}
	}
	return nil, speciesmedia.ErrNoActiveList
}

func (r *Repository) DeactivateAllLists(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, list := range r.lists {
		list.IsActive = false
	}
	return nil
}

func (r *Repository) ActivateList(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, exists := r.lists[id]
	if !exists {
		return speciesmedia.ErrListNotFound
	}
	list.IsActive = true
	return nil
}
