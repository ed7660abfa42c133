package speciesmedia_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

const sampleCSV = `scientific_name,common_name,extinction_year,last_location,extinction_cause,habitat,type,description,sources
Raphus cucullatus,Dodo,1681,Mauritius,Hunting,Forest,Animal,Flightless bird,IUCN
Thylacinus cynocephalus,Thylacine,1936,Tasmania,Hunting,Woodland,Animal,Marsupial carnivore,IUCN
,,,,,,,,
Pinguinus impennis,Great auk,1844,Iceland,Hunting,Coastal,Animal,Flightless seabird,IUCN
`

func TestImportCSV(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	result, err := env.svc.ImportCSV(ctx, "Extinct birds", "birds.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 1, result.Skipped, "the nameless row is skipped, not fatal")
	assert.Equal(t, 3, result.List.DeclaredCount)
	assert.True(t, result.List.IsActive, "a fresh import becomes the active list")
	assert.Equal(t, "birds.csv", result.List.SourceFile)

	species, err := env.svc.ListSpecies(ctx, result.List.ID)
	require.NoError(t, err)
	require.Len(t, species, 3)
	assert.Equal(t, speciesmedia.StatusPending, species[0].GenerationStatus)
}

func TestImportCSVColumnOrderFree(t *testing.T) {
	env := setupTestService(t)

	shuffled := "common_name,habitat,scientific_name\nDodo,Forest,Raphus cucullatus\n"
	result, err := env.svc.ImportCSV(context.Background(), "Shuffled", "", strings.NewReader(shuffled))
	require.NoError(t, err)
	require.Equal(t, 1, result.Imported)

	species, err := env.svc.ListSpecies(context.Background(), result.List.ID)
	require.NoError(t, err)
	require.Len(t, species, 1)
	assert.Equal(t, "Raphus cucullatus", species[0].ScientificName)
	assert.Equal(t, "Forest", species[0].Habitat)
}

// stickyErrReader fails with the same error on every read, the way a
// dropped network connection does.
type stickyErrReader struct{ err error }

func (r stickyErrReader) Read([]byte) (int, error) { return 0, r.err }

func TestImportCSVFailingReaderIsFatal(t *testing.T) {
	env := setupTestService(t)

	body := io.MultiReader(
		strings.NewReader("scientific_name,common_name\nRaphus cucullatus,Dodo\n"),
		stickyErrReader{err: errors.New("connection reset")},
	)

	done := make(chan struct{})
	var importErr error
	go func() {
		defer close(done)
		_, importErr = env.svc.ImportCSV(context.Background(), "Broken feed", "", body)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("import did not return on a persistently failing reader")
	}
	require.Error(t, importErr)
	assert.Contains(t, importErr.Error(), "failed to read csv row")
}

func TestImportCSVRejectsUnusableHeader(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.ImportCSV(context.Background(), "Bad", "", strings.NewReader("year,location\n1681,Mauritius\n"))
	assert.Error(t, err)
}

func TestImportCSVReplacesActiveList(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	old := seedList(t, env.repo)

	result, err := env.svc.ImportCSV(ctx, "New catalog", "", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	active, err := env.repo.GetActiveList(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.List.ID, active.ID)

	oldList, err := env.repo.GetList(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, oldList.IsActive)
}

func TestExportCSV(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.svc.ImportCSV(ctx, "Extinct birds", "", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, env.svc.ExportCSV(ctx, uuid.Nil, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 4, "header plus three species")
	assert.Equal(t, "scientific_name", records[0][0])

	var names []string
	for _, record := range records[1:] {
		names = append(names, record[0])
	}
	assert.Contains(t, names, "Raphus cucullatus")
	assert.Contains(t, names, "Thylacinus cynocephalus")
	assert.Contains(t, names, "Pinguinus impennis")
}
