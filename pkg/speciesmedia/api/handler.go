// Package api exposes the species media service over HTTP using chi.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

// Handler handles HTTP requests for the species media catalog.
type Handler struct {
	service speciesmedia.Service
	events  http.Handler // SSE stream, nil disables the route
}

// NewHandler creates a new API handler. The events handler serves the SSE
// stream; pass nil to omit the route.
func NewHandler(service speciesmedia.Service, events http.Handler) *Handler {
	return &Handler{
		service: service,
		events:  events,
	}
}

// Routes returns the API routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/generate/image", h.GenerateImage)
	r.Post("/generate/video", h.GenerateVideo)

	r.Post("/species", h.CreateSpecies)
	r.Get("/species", h.ListSpecies)
	r.Post("/species/import", h.ImportCSV)
	r.Get("/species/export", h.ExportCSV)
	r.Get("/species/{id}", h.GetSpecies)
	r.Put("/species/{id}", h.UpdateSpecies)
	r.Delete("/species/{id}", h.DeleteSpecies)

	r.Get("/species/{id}/media", h.GetMediaListing)
	r.Delete("/species/{id}/media/{type}/{version}", h.HideVersion)
	r.Patch("/species/{id}/media/{type}/{version}", h.UpdateVersion)

	r.Get("/lists", h.ListLists)
	r.Post("/lists/{id}/activate", h.ActivateList)

	r.Post("/admin/recover-errors", h.RecoverErrors)
	r.Post("/admin/reset-stuck", h.ResetStuck)
	r.Post("/admin/storage/init", h.InitStorage)

	if h.events != nil {
		r.Get("/events", h.events.ServeHTTP)
	}

	return r
}

// GenerateRequest is the request body for generation endpoints
type GenerateRequest struct {
	SpeciesID        string `json:"species_id"`
	ImageURL         string `json:"image_url,omitempty"`
	SeedImageVersion int    `json:"seed_image_version,omitempty"`
}

// StatusResponse is the body for rejected generation requests
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the generic error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// GenerateImage starts an image generation for a species
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, speciesmedia.MediaTypeImage)
}

// GenerateVideo starts a video generation for a species
func (h *Handler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, speciesmedia.MediaTypeVideo)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request, mediaType speciesmedia.MediaType) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	speciesID, err := uuid.Parse(req.SpeciesID)
	if err != nil {
		slog.Error("Invalid species ID", "species_id", req.SpeciesID, "error", err)
		http.Error(w, "Invalid species ID", http.StatusBadRequest)
		return
	}

	result, err := h.service.RequestGeneration(r.Context(), speciesmedia.GenerationRequest{
		SpeciesID:        speciesID,
		MediaType:        mediaType,
		SeedImageURL:     req.ImageURL,
		SeedImageVersion: req.SeedImageVersion,
	})
	if err != nil {
		h.renderGenerationError(w, r, err, speciesID, mediaType)
		return
	}

	slog.Info("Generation started", "species_id", speciesID, "media_type", mediaType, "version", result.Version)
	render.JSON(w, r, result)
}

func (h *Handler) renderGenerationError(w http.ResponseWriter, r *http.Request, err error, speciesID uuid.UUID, mediaType speciesmedia.MediaType) {
	switch {
	case errors.Is(err, speciesmedia.ErrSpeciesNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Error: "species not found"})
	case errors.Is(err, speciesmedia.ErrDuplicateRequest):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, StatusResponse{
			Status:  "duplicate_request",
			Message: fmt.Sprintf("%s generation already in progress", mediaType),
		})
	case errors.Is(err, speciesmedia.ErrRateLimited):
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, StatusResponse{
			Status:  "rate_limited",
			Message: fmt.Sprintf("too many %s generations in flight", mediaType),
		})
	case errors.Is(err, speciesmedia.ErrSeedImageRequired):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "image_url is required for video generation"})
	default:
		slog.Error("Failed to start generation", "species_id", speciesID, "media_type", mediaType, "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
	}
}

// CreateSpeciesRequest is the request body for creating a species
type CreateSpeciesRequest struct {
	ListID          string `json:"list_id,omitempty"`
	ScientificName  string `json:"scientific_name"`
	CommonName      string `json:"common_name"`
	ExtinctionYear  string `json:"extinction_year,omitempty"`
	LastLocation    string `json:"last_location,omitempty"`
	ExtinctionCause string `json:"extinction_cause,omitempty"`
	Habitat         string `json:"habitat,omitempty"`
	Type            string `json:"type,omitempty"`
	Description     string `json:"description,omitempty"`
	Sources         string `json:"sources,omitempty"`
}

// CreateSpecies creates a new species
func (h *Handler) CreateSpecies(w http.ResponseWriter, r *http.Request) {
	var req CreateSpeciesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.ScientificName == "" && req.CommonName == "" {
		http.Error(w, "scientific_name or common_name is required", http.StatusBadRequest)
		return
	}

	var listID uuid.UUID
	if req.ListID != "" {
		parsed, err := uuid.Parse(req.ListID)
		if err != nil {
			http.Error(w, "Invalid list ID", http.StatusBadRequest)
			return
		}
		listID = parsed
	}

	sp, err := h.service.CreateSpecies(r.Context(), speciesmedia.CreateSpeciesRequest{
		ListID:          listID,
		ScientificName:  req.ScientificName,
		CommonName:      req.CommonName,
		ExtinctionYear:  req.ExtinctionYear,
		LastLocation:    req.LastLocation,
		ExtinctionCause: req.ExtinctionCause,
		Habitat:         req.Habitat,
		Kind:            req.Type,
		Description:     req.Description,
		Sources:         req.Sources,
	})
	if err != nil {
		slog.Error("Failed to create species", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
		return
	}

	slog.Info("Species created", "species_id", sp.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, sp)
}

// GetSpecies retrieves a species by ID
func (h *Handler) GetSpecies(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	sp, err := h.service.GetSpecies(r.Context(), id)
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	render.JSON(w, r, sp)
}

// ListSpecies lists species in a list, defaulting to the active list
func (h *Handler) ListSpecies(w http.ResponseWriter, r *http.Request) {
	var listID uuid.UUID
	if raw := r.URL.Query().Get("list_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid list ID", http.StatusBadRequest)
			return
		}
		listID = parsed
	}

	species, err := h.service.ListSpecies(r.Context(), listID)
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	if species == nil {
		species = []*speciesmedia.Species{}
	}
	render.JSON(w, r, species)
}

// UpdateSpecies updates a species
func (h *Handler) UpdateSpecies(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	sp, err := h.service.GetSpecies(r.Context(), id)
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	if err := json.NewDecoder(r.Body).Decode(sp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sp.ID = id

	if err := h.service.UpdateSpecies(r.Context(), speciesmedia.UpdateSpeciesRequest{Species: sp}); err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	render.JSON(w, r, sp)
}

// DeleteSpecies deletes a species and its media versions
func (h *Handler) DeleteSpecies(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteSpecies(r.Context(), id); err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMediaListing returns all media versions for a species
func (h *Handler) GetMediaListing(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	listing, err := h.service.GetMediaListing(r.Context(), id)
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	render.JSON(w, r, listing)
}

// UpdateVersionRequest is the request body for media version actions
type UpdateVersionRequest struct {
	Action string `json:"action"` // favorite, setPrimary, setForExhibit
	Value  *bool  `json:"value,omitempty"`
}

// UpdateVersion applies a flag action to one media version
func (h *Handler) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	id, mediaType, version, ok := h.parseMediaParams(w, r)
	if !ok {
		return
	}

	var req UpdateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	value := true
	if req.Value != nil {
		value = *req.Value
	}

	var err error
	switch req.Action {
	case "favorite":
		err = h.service.Favorite(r.Context(), id, mediaType, version, value)
	case "setPrimary":
		err = h.service.SetPrimary(r.Context(), id, mediaType, version)
	case "setForExhibit":
		err = h.service.SetForExhibit(r.Context(), id, mediaType, version, value)
	default:
		http.Error(w, "Invalid action", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]string{"status": "ok"})
}

// HideVersion soft-deletes a media version
func (h *Handler) HideVersion(w http.ResponseWriter, r *http.Request) {
	id, mediaType, version, ok := h.parseMediaParams(w, r)
	if !ok {
		return
	}

	if err := h.service.HideVersion(r.Context(), id, mediaType, version); err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]string{"status": "ok"})
}

// ImportCSV imports species from a CSV body or multipart file field
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	sourceFile := ""

	body := r.Body
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing 'file' field", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
		sourceFile = header.Filename
		if name == "" {
			name = r.FormValue("name")
		}
	}
	if name == "" {
		name = "Imported species"
	}

	result, err := h.service.ImportCSV(r.Context(), name, sourceFile, body)
	if err != nil {
		slog.Error("CSV import failed", "error", err)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
		return
	}

	slog.Info("CSV imported", "list_id", result.List.ID, "imported", result.Imported, "skipped", result.Skipped)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// ExportCSV writes the active list (or ?list_id=) as CSV
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	var listID uuid.UUID
	if raw := r.URL.Query().Get("list_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid list ID", http.StatusBadRequest)
			return
		}
		listID = parsed
	}

	// Buffer the export so a failure can still render a proper status.
	var buf bytes.Buffer
	if err := h.service.ExportCSV(r.Context(), listID, &buf); err != nil {
		slog.Error("CSV export failed", "error", err)
		h.renderLookupError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="species.csv"`)
	w.Write(buf.Bytes())
}

// ListLists returns all species lists
func (h *Handler) ListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.service.ListSpeciesLists(r.Context())
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
		return
	}

	if lists == nil {
		lists = []*speciesmedia.SpeciesList{}
	}
	render.JSON(w, r, lists)
}

// ActivateList makes one list the active list
func (h *Handler) ActivateList(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.service.ActivateList(r.Context(), id); err != nil {
		if errors.Is(err, speciesmedia.ErrListNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{Error: "list not found"})
			return
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
		return
	}

	render.JSON(w, r, map[string]string{"status": "ok"})
}

// RecoverErrors runs the error reconciliation sweep
func (h *Handler) RecoverErrors(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, h.service.ReconcileErrors)
}

// ResetStuck runs the stuck-generation reset sweep
func (h *Handler) ResetStuck(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, h.service.ResetStuckGeneration)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request, sweep func(ctx context.Context) (*speciesmedia.SweepResult, error)) {
	result, err := sweep(r.Context())
	if err != nil {
		if errors.Is(err, speciesmedia.ErrSweepThrottled) {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, StatusResponse{Status: "throttled", Message: "sweep ran recently"})
			return
		}
		slog.Error("Sweep failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
		return
	}

	render.JSON(w, r, result)
}

// InitStorage ensures storage buckets exist
func (h *Handler) InitStorage(w http.ResponseWriter, r *http.Request) {
	if err := h.service.InitStorage(r.Context()); err != nil {
		slog.Error("Storage init failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
		return
	}

	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		slog.Error("Invalid ID", "id", idStr, "error", err)
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) parseMediaParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, speciesmedia.MediaType, int, bool) {
	id, ok := h.parseID(w, r)
	if !ok {
		return uuid.Nil, "", 0, false
	}

	mediaType := speciesmedia.MediaType(chi.URLParam(r, "type"))
	if !mediaType.IsValid() {
		http.Error(w, "Invalid media type", http.StatusBadRequest)
		return uuid.Nil, "", 0, false
	}

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		http.Error(w, "Invalid version", http.StatusBadRequest)
		return uuid.Nil, "", 0, false
	}

	return id, mediaType, version, true
}

func (h *Handler) renderLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, speciesmedia.ErrSpeciesNotFound),
		errors.Is(err, speciesmedia.ErrMediaNotFound),
		errors.Is(err, speciesmedia.ErrListNotFound),
		errors.Is(err, speciesmedia.ErrNoActiveList):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
	default:
		slog.Error("Request failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
	}
}
