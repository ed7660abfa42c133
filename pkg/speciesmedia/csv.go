package speciesmedia

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// csvColumns is the canonical column order for import and export.
var csvColumns = []string{
	"scientific_name",
	"common_name",
	"extinction_year",
	"last_location",
	"extinction_cause",
	"habitat",
	"type",
	"description",
	"sources",
}

// ImportCSV bulk-creates species from a CSV stream into a new list. The
// header row maps columns by name, so column order is free. Rows without a
// scientific or common name are skipped, not fatal. The new list becomes the
// active one.
func (s *service) ImportCSV(ctx context.Context, name, sourceFile string, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := index["scientific_name"]; !ok {
		if _, ok := index["common_name"]; !ok {
			return nil, fmt.Errorf("csv header has neither scientific_name nor common_name")
		}
	}

	now := time.Now().UTC()
	list := &SpeciesList{
		ID:         uuid.New(),
		Name:       name,
		SourceFile: sourceFile,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repository.CreateList(ctx, list); err != nil {
		return nil, fmt.Errorf("failed to create species list: %w", err)
	}

	field := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	result := &ImportResult{List: list}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed rows are skippable; a failing underlying reader is
			// not, it would return the same error on every iteration.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		scientific := field(record, "scientific_name")
		common := field(record, "common_name")
		if scientific == "" && common == "" {
			result.Skipped++
			continue
		}

		sp := &Species{
			ID:               uuid.New(),
			ListID:           list.ID,
			ScientificName:   scientific,
			CommonName:       common,
			ExtinctionYear:   field(record, "extinction_year"),
			LastLocation:     field(record, "last_location"),
			ExtinctionCause:  field(record, "extinction_cause"),
			Habitat:          field(record, "habitat"),
			Kind:             field(record, "type"),
			Description:      field(record, "description"),
			Sources:          field(record, "sources"),
			GenerationStatus: StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.repository.CreateSpecies(ctx, sp); err != nil {
			result.Skipped++
			continue
		}
		result.Imported++
	}

	list.DeclaredCount = result.Imported
	list.UpdatedAt = time.Now().UTC()
	if err := s.repository.UpdateList(ctx, list); err != nil {
		return nil, err
	}

	// A fresh import becomes the working catalog.
	if err := s.repository.DeactivateAllLists(ctx); err != nil {
		return nil, err
	}
	if err := s.repository.ActivateList(ctx, list.ID); err != nil {
		return nil, err
	}
	list.IsActive = true

	return result, nil
}

// ExportCSV writes the species of a list (the active list when listID is
// uuid.Nil) as CSV.
func (s *service) ExportCSV(ctx context.Context, listID uuid.UUID, w io.Writer) error {
	rows, err := s.ListSpecies(ctx, listID)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvColumns); err != nil {
		return err
	}
	for _, sp := range rows {
		record := []string{
			sp.ScientificName,
			sp.CommonName,
			sp.ExtinctionYear,
			sp.LastLocation,
			sp.ExtinctionCause,
			sp.Habitat,
			sp.Kind,
			sp.Description,
			sp.Sources,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
