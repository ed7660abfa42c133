package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
	"github.com/extinctlab/species-media/pkg/speciesmedia/api"
	"github.com/extinctlab/species-media/pkg/speciesmedia/repo/memory"
	memorystorage "github.com/extinctlab/species-media/pkg/speciesmedia/storage/memory"
)

// stubProvider succeeds immediately unless release is set, in which case
// create calls block until the channel is closed.
type stubProvider struct {
	release chan struct{}
}

func (p *stubProvider) create() (*speciesmedia.Prediction, error) {
	if p.release != nil {
		<-p.release
	}
	return &speciesmedia.Prediction{
		ID:     uuid.NewString(),
		Status: speciesmedia.PredictionSucceeded,
		Output: []string{"https://provider.example.com/out.jpg"},
	}, nil
}

func (p *stubProvider) CreateImage(ctx context.Context, prompt string) (*speciesmedia.Prediction, error) {
	return p.create()
}

func (p *stubProvider) CreateVideo(ctx context.Context, prompt, seedImageURL string) (*speciesmedia.Prediction, error) {
	return p.create()
}

func (p *stubProvider) GetPrediction(ctx context.Context, id string) (*speciesmedia.Prediction, error) {
	return &speciesmedia.Prediction{ID: id, Status: speciesmedia.PredictionSucceeded}, nil
}

type stubStorer struct{}

func (stubStorer) Store(ctx context.Context, remoteURL string, speciesID uuid.UUID, mediaType speciesmedia.MediaType, displayName string, version int) (*speciesmedia.StoredMedia, error) {
	path := fmt.Sprintf("%s/%s_v%d.bin", mediaType.Folder(), speciesID, version)
	return &speciesmedia.StoredMedia{Path: path, PublicURL: "https://cdn.example.com/" + path}, nil
}

type apiEnv struct {
	server   *httptest.Server
	repo     *memory.Repository
	provider *stubProvider
	svc      speciesmedia.Service
}

func setupAPI(t *testing.T, extra ...speciesmedia.Option) *apiEnv {
	t.Helper()

	repo := memory.New()
	provider := &stubProvider{}

	options := []speciesmedia.Option{
		speciesmedia.WithRepository(repo),
		speciesmedia.WithBlobStore("memory", memorystorage.New()),
		speciesmedia.WithMediaStorer(stubStorer{}),
		speciesmedia.WithProvider(provider),
		speciesmedia.WithPollIntervals(time.Millisecond, time.Millisecond),
	}
	options = append(options, extra...)

	svc, err := speciesmedia.New(options...)
	require.NoError(t, err)

	server := httptest.NewServer(api.NewHandler(svc, nil).Routes())
	t.Cleanup(server.Close)

	return &apiEnv{server: server, repo: repo, provider: provider, svc: svc}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *apiEnv) seedActiveList(t *testing.T) *speciesmedia.SpeciesList {
	t.Helper()

	list := &speciesmedia.SpeciesList{
		ID:        uuid.New(),
		Name:      "Test catalog",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.repo.CreateList(context.Background(), list))
	return list
}

func (e *apiEnv) seedSpecies(t *testing.T) *speciesmedia.Species {
	t.Helper()

	e.seedActiveList(t)
	sp, err := e.svc.CreateSpecies(context.Background(), speciesmedia.CreateSpeciesRequest{
		ScientificName: "Raphus cucullatus",
		CommonName:     "Dodo",
	})
	require.NoError(t, err)
	return sp
}

func TestSpeciesEndpoints(t *testing.T) {
	env := setupAPI(t)
	env.seedActiveList(t)

	t.Run("create requires a name", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/species", map[string]string{})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	resp := env.do(t, http.MethodPost, "/species", map[string]string{
		"scientific_name": "Raphus cucullatus",
		"common_name":     "Dodo",
		"extinction_year": "1681",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON[speciesmedia.Species](t, resp)
	require.NotEqual(t, uuid.Nil, created.ID)

	t.Run("get", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/species/"+created.ID.String(), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decodeJSON[speciesmedia.Species](t, resp)
		assert.Equal(t, "Dodo", got.CommonName)
	})

	t.Run("list defaults to active list", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/species", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		species := decodeJSON[[]speciesmedia.Species](t, resp)
		require.Len(t, species, 1)
	})

	t.Run("update", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/species/"+created.ID.String(), map[string]string{
			"common_name": "Dodo",
			"description": "Flightless bird of Mauritius",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decodeJSON[speciesmedia.Species](t, resp)
		assert.Equal(t, "Flightless bird of Mauritius", got.Description)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/species/not-a-uuid", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("delete then 404", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/species/"+created.ID.String(), nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/species/"+created.ID.String(), nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestGenerateImage(t *testing.T) {
	env := setupAPI(t)
	sp := env.seedSpecies(t)

	resp := env.do(t, http.MethodPost, "/generate/image", map[string]string{
		"species_id": sp.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeJSON[speciesmedia.GenerationResult](t, resp)
	assert.Equal(t, sp.ID, result.SpeciesID)
	assert.Equal(t, 1, result.Version)
	assert.Equal(t, "generating", result.Status)

	require.Eventually(t, func() bool {
		got, err := env.svc.GetSpecies(context.Background(), sp.ID)
		return err == nil && got.GenerationStatus == speciesmedia.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGenerateImageErrors(t *testing.T) {
	env := setupAPI(t)
	env.seedActiveList(t)

	t.Run("unknown species", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/generate/image", map[string]string{
			"species_id": uuid.NewString(),
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid species id", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/generate/image", map[string]string{
			"species_id": "nope",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("video without seed image", func(t *testing.T) {
		sp, err := env.svc.CreateSpecies(context.Background(), speciesmedia.CreateSpeciesRequest{CommonName: "Thylacine"})
		require.NoError(t, err)

		resp := env.do(t, http.MethodPost, "/generate/video", map[string]string{
			"species_id": sp.ID.String(),
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGenerateDuplicateRequest(t *testing.T) {
	env := setupAPI(t)
	sp := env.seedSpecies(t)

	env.provider.release = make(chan struct{})
	defer close(env.provider.release)

	resp := env.do(t, http.MethodPost, "/generate/image", map[string]string{
		"species_id": sp.ID.String(),
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/generate/image", map[string]string{
		"species_id": sp.ID.String(),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	status := decodeJSON[api.StatusResponse](t, resp)
	assert.Equal(t, "duplicate_request", status.Status)
}

func TestGenerateRateLimited(t *testing.T) {
	env := setupAPI(t, speciesmedia.WithGenerationLimits(speciesmedia.GenerationLimits{Images: 1, Videos: 1}))
	env.seedActiveList(t)

	first, err := env.svc.CreateSpecies(context.Background(), speciesmedia.CreateSpeciesRequest{CommonName: "Dodo"})
	require.NoError(t, err)
	second, err := env.svc.CreateSpecies(context.Background(), speciesmedia.CreateSpeciesRequest{CommonName: "Great auk"})
	require.NoError(t, err)

	env.provider.release = make(chan struct{})
	defer close(env.provider.release)

	resp := env.do(t, http.MethodPost, "/generate/image", map[string]string{
		"species_id": first.ID.String(),
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/generate/image", map[string]string{
		"species_id": second.ID.String(),
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	status := decodeJSON[api.StatusResponse](t, resp)
	assert.Equal(t, "rate_limited", status.Status)
}

func TestMediaVersionEndpoints(t *testing.T) {
	env := setupAPI(t)
	sp := env.seedSpecies(t)
	ctx := context.Background()

	for v := 1; v <= 2; v++ {
		_, err := env.svc.AppendVersion(ctx, speciesmedia.AppendVersionRequest{
			SpeciesID:  sp.ID,
			MediaType:  speciesmedia.MediaTypeImage,
			StorageURL: fmt.Sprintf("https://cdn.example.com/images/v%d.jpg", v),
		})
		require.NoError(t, err)
	}

	base := "/species/" + sp.ID.String() + "/media"

	t.Run("listing", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		listing := decodeJSON[speciesmedia.MediaListing](t, resp)
		assert.Len(t, listing.Images, 2)
		assert.Equal(t, 2, listing.CurrentImageVersion)
	})

	t.Run("favorite", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, base+"/image/2", map[string]string{"action": "favorite"})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		media, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 2)
		require.NoError(t, err)
		assert.True(t, media.IsFavorite)
	})

	t.Run("set primary", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, base+"/image/2", map[string]string{"action": "setPrimary"})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		media, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 2)
		require.NoError(t, err)
		assert.True(t, media.IsPrimary)
	})

	t.Run("invalid action", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, base+"/image/2", map[string]string{"action": "promote"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid media type", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, base+"/audio/1", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid version", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, base+"/image/zero", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("hide version", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, base+"/image/2", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		_, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 2)
		assert.ErrorIs(t, err, speciesmedia.ErrMediaNotFound)
	})

	t.Run("hide missing version", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, base+"/image/99", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestListEndpoints(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	first := env.seedActiveList(t)
	second := &speciesmedia.SpeciesList{ID: uuid.New(), Name: "Second"}
	require.NoError(t, env.repo.CreateList(ctx, second))

	resp := env.do(t, http.MethodGet, "/lists", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lists := decodeJSON[[]speciesmedia.SpeciesList](t, resp)
	assert.Len(t, lists, 2)

	t.Run("activate", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/lists/"+second.ID.String()+"/activate", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		active, err := env.repo.GetActiveList(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)

		got, err := env.repo.GetList(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})

	t.Run("activate unknown list", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/lists/"+uuid.NewString()+"/activate", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCSVEndpoints(t *testing.T) {
	env := setupAPI(t)

	csvBody := strings.Join([]string{
		"scientific_name,common_name,extinction_year",
		"Raphus cucullatus,Dodo,1681",
		"Thylacinus cynocephalus,Thylacine,1936",
	}, "\n")

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/species/import?name=Holocene", strings.NewReader(csvBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/csv")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	result := decodeJSON[speciesmedia.ImportResult](t, resp)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, "Holocene", result.List.Name)
	assert.True(t, result.List.IsActive)

	t.Run("export", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/species/export", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Dodo")
		assert.Contains(t, string(data), "Thylacine")
	})

	t.Run("unusable header is rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/species/import", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestExportCSVWithoutActiveList(t *testing.T) {
	env := setupAPI(t)

	resp := env.do(t, http.MethodGet, "/species/export", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEqual(t, "text/csv", resp.Header.Get("Content-Type"),
		"a failed export must not look like a csv download")
}

func TestAdminEndpoints(t *testing.T) {
	env := setupAPI(t, speciesmedia.WithSweepThrottle(0))

	resp := env.do(t, http.MethodPost, "/admin/recover-errors", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeJSON[speciesmedia.SweepResult](t, resp)
	assert.Zero(t, result.Repaired)

	resp = env.do(t, http.MethodPost, "/admin/reset-stuck", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/admin/storage/init", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecoverErrorsThrottled(t *testing.T) {
	env := setupAPI(t) // default 30s throttle

	resp := env.do(t, http.MethodPost, "/admin/recover-errors", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/admin/recover-errors", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	status := decodeJSON[api.StatusResponse](t, resp)
	assert.Equal(t, "throttled", status.Status)
}

func TestEventsRouteRequiresHandler(t *testing.T) {
	env := setupAPI(t)

	resp := env.do(t, http.MethodGet, "/events", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
