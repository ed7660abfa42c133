package speciesmedia_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

func appendImage(t *testing.T, env *testEnv, sp *speciesmedia.Species, url string) *speciesmedia.SpeciesMedia {
	t.Helper()

	media, err := env.svc.AppendVersion(context.Background(), speciesmedia.AppendVersionRequest{
		SpeciesID:   sp.ID,
		MediaType:   speciesmedia.MediaTypeImage,
		ProviderURL: url,
		StorageURL:  url,
	})
	require.NoError(t, err)
	return media
}

func TestAppendVersionMonotonic(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)

	for i := 1; i <= 3; i++ {
		media := appendImage(t, env, sp, fmt.Sprintf("https://cdn.example.com/v%d.jpg", i))
		assert.Equal(t, i, media.VersionNumber)
	}

	got, err := env.svc.GetSpecies(context.Background(), sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentImageVersion)
	assert.Equal(t, 3, got.TotalImageVersions)
	assert.Equal(t, "https://cdn.example.com/v3.jpg", got.ImageURL)
}

func TestFirstVersionFlags(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)

	first := appendImage(t, env, sp, "https://cdn.example.com/v1.jpg")
	assert.True(t, first.IsPrimary)
	assert.True(t, first.IsSelectedForExhibit)

	second := appendImage(t, env, sp, "https://cdn.example.com/v2.jpg")
	assert.False(t, second.IsPrimary)
	assert.False(t, second.IsSelectedForExhibit)

	// The first version keeps its flags until an explicit promotion.
	stored, err := env.repo.GetMedia(context.Background(), sp.ID, speciesmedia.MediaTypeImage, 1)
	require.NoError(t, err)
	assert.True(t, stored.IsPrimary)
}

func TestVersionNumbersNotReusedAfterDelete(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)
	ctx := context.Background()

	appendImage(t, env, sp, "https://cdn.example.com/v1.jpg")
	appendImage(t, env, sp, "https://cdn.example.com/v2.jpg")
	appendImage(t, env, sp, "https://cdn.example.com/v3.jpg")

	require.NoError(t, env.svc.HideVersion(ctx, sp.ID, speciesmedia.MediaTypeImage, 2))

	media := appendImage(t, env, sp, "https://cdn.example.com/v4.jpg")
	assert.Equal(t, 4, media.VersionNumber, "the gap left by version 2 must stay a gap")
}

func TestSetPrimary(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)
	ctx := context.Background()

	appendImage(t, env, sp, "https://cdn.example.com/v1.jpg")
	appendImage(t, env, sp, "https://cdn.example.com/v2.jpg")

	require.NoError(t, env.svc.SetPrimary(ctx, sp.ID, speciesmedia.MediaTypeImage, 2))

	v1, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 1)
	require.NoError(t, err)
	v2, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 2)
	require.NoError(t, err)
	assert.False(t, v1.IsPrimary)
	assert.True(t, v2.IsPrimary)

	got, err := env.svc.GetSpecies(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentImageVersion)
	assert.Equal(t, "https://cdn.example.com/v2.jpg", got.ImageURL)

	t.Run("unknown version", func(t *testing.T) {
		err := env.svc.SetPrimary(ctx, sp.ID, speciesmedia.MediaTypeImage, 9)
		assert.ErrorIs(t, err, speciesmedia.ErrMediaNotFound)
	})
}

func TestSetForExhibit(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)
	ctx := context.Background()

	appendImage(t, env, sp, "https://cdn.example.com/v1.jpg")
	appendImage(t, env, sp, "https://cdn.example.com/v2.jpg")

	require.NoError(t, env.svc.SetForExhibit(ctx, sp.ID, speciesmedia.MediaTypeImage, 2, true))

	v1, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 1)
	require.NoError(t, err)
	v2, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 2)
	require.NoError(t, err)
	assert.False(t, v1.IsSelectedForExhibit)
	assert.True(t, v2.IsSelectedForExhibit)

	t.Run("unselect clears without setting", func(t *testing.T) {
		require.NoError(t, env.svc.SetForExhibit(ctx, sp.ID, speciesmedia.MediaTypeImage, 2, false))

		v2, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 2)
		require.NoError(t, err)
		assert.False(t, v2.IsSelectedForExhibit)
	})
}

func TestFavorite(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)
	ctx := context.Background()

	appendImage(t, env, sp, "https://cdn.example.com/v1.jpg")

	require.NoError(t, env.svc.Favorite(ctx, sp.ID, speciesmedia.MediaTypeImage, 1, true))

	v1, err := env.repo.GetMedia(ctx, sp.ID, speciesmedia.MediaTypeImage, 1)
	require.NoError(t, err)
	assert.True(t, v1.IsFavorite)
}

func TestHideVersionFallback(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)
	ctx := context.Background()

	appendImage(t, env, sp, "https://cdn.example.com/v1.jpg")
	appendImage(t, env, sp, "https://cdn.example.com/v2.jpg")
	appendImage(t, env, sp, "https://cdn.example.com/v3.jpg")

	require.NoError(t, env.svc.HideVersion(ctx, sp.ID, speciesmedia.MediaTypeImage, 3))

	got, err := env.svc.GetSpecies(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentImageVersion)
	assert.Equal(t, 2, got.TotalImageVersions)
	assert.Equal(t, "https://cdn.example.com/v2.jpg", got.ImageURL)

	// Hiding everything resets to the "no media" sentinel.
	require.NoError(t, env.svc.HideVersion(ctx, sp.ID, speciesmedia.MediaTypeImage, 2))
	require.NoError(t, env.svc.HideVersion(ctx, sp.ID, speciesmedia.MediaTypeImage, 1))

	got, err = env.svc.GetSpecies(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentImageVersion)
	assert.Equal(t, 0, got.TotalImageVersions)
	assert.Empty(t, got.ImageURL)
}

func TestGetMediaListing(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)
	ctx := context.Background()

	appendImage(t, env, sp, "https://cdn.example.com/v1.jpg")
	appendImage(t, env, sp, "https://cdn.example.com/v2.jpg")
	require.NoError(t, env.svc.SetPrimary(ctx, sp.ID, speciesmedia.MediaTypeImage, 2))

	listing, err := env.svc.GetMediaListing(ctx, sp.ID)
	require.NoError(t, err)

	require.Len(t, listing.Images, 2)
	assert.Equal(t, 1, listing.Images[0].Version)
	assert.Equal(t, 2, listing.Images[1].Version)
	assert.False(t, listing.Images[0].IsCurrent)
	assert.True(t, listing.Images[1].IsCurrent)
	assert.Equal(t, 2, listing.TotalImages)
	assert.Empty(t, listing.Videos)
}

func TestGetMediaListingLegacyFallback(t *testing.T) {
	env := setupTestService(t)
	sp := seedSpecies(t, env)
	ctx := context.Background()

	// Species predating the ledger: flat URL set, no ledger rows.
	sp.ImageURL = "https://legacy.example.com/dodo.jpg"
	require.NoError(t, env.repo.UpdateSpecies(ctx, sp))

	listing, err := env.svc.GetMediaListing(ctx, sp.ID)
	require.NoError(t, err)

	require.Len(t, listing.Images, 1)
	assert.Equal(t, 1, listing.Images[0].Version)
	assert.Equal(t, "https://legacy.example.com/dodo.jpg", listing.Images[0].URL)
	assert.True(t, listing.Images[0].IsCurrent)
	assert.Equal(t, 1, listing.TotalImages)
}
