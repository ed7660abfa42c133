package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements speciesmedia.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) speciesmedia.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) speciesmedia.Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return speciesmedia.ErrMediaExists
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record not found")
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const speciesColumns = `
	id, list_id, scientific_name, common_name, extinction_year, last_location,
	extinction_cause, habitat, kind, description, sources,
	image_url, video_url, image_provider_url, video_provider_url,
	image_storage_url, video_storage_url,
	current_image_version, current_video_version,
	total_image_versions, total_video_versions,
	generation_status, image_generated_at, video_generated_at,
	created_at, updated_at`

func scanSpecies(row pgx.Row) (*speciesmedia.Species, error) {
	var sp speciesmedia.Species
	err := row.Scan(
		&sp.ID, &sp.ListID, &sp.ScientificName, &sp.CommonName, &sp.ExtinctionYear,
		&sp.LastLocation, &sp.ExtinctionCause, &sp.Habitat, &sp.Kind,
		&sp.Description, &sp.Sources,
		&sp.ImageURL, &sp.VideoURL, &sp.ImageProviderURL, &sp.VideoProviderURL,
		&sp.ImageStorageURL, &sp.VideoStorageURL,
		&sp.CurrentImageVersion, &sp.CurrentVideoVersion,
		&sp.TotalImageVersions, &sp.TotalVideoVersions,
		&sp.GenerationStatus, &sp.ImageGeneratedAt, &sp.VideoGeneratedAt,
		&sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// Species operations

func (r *Repository) CreateSpecies(ctx context.Context, sp *speciesmedia.Species) error {
	query := `
		INSERT INTO species (` + speciesColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`

	_, err := r.db.Exec(ctx, query,
		sp.ID, sp.ListID, sp.ScientificName, sp.CommonName, sp.ExtinctionYear,
		sp.LastLocation, sp.ExtinctionCause, sp.Habitat, sp.Kind,
		sp.Description, sp.Sources,
		sp.ImageURL, sp.VideoURL, sp.ImageProviderURL, sp.VideoProviderURL,
		sp.ImageStorageURL, sp.VideoStorageURL,
		sp.CurrentImageVersion, sp.CurrentVideoVersion,
		sp.TotalImageVersions, sp.TotalVideoVersions,
		sp.GenerationStatus, sp.ImageGeneratedAt, sp.VideoGeneratedAt,
		sp.CreatedAt, sp.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("create species", err)
	}

	return nil
}

func (r *Repository) GetSpecies(ctx context.Context, id uuid.UUID) (*speciesmedia.Species, error) {
	query := `SELECT ` + speciesColumns + ` FROM species WHERE id = $1`

	sp, err := scanSpecies(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, speciesmedia.ErrSpeciesNotFound
		}
		return nil, err
	}

	return sp, nil
}

func (r *Repository) UpdateSpecies(ctx context.Context, sp *speciesmedia.Species) error {
	query := `
		UPDATE species SET
			list_id = $2, scientific_name = $3, common_name = $4,
			extinction_year = $5, last_location = $6, extinction_cause = $7,
			habitat = $8, kind = $9, description = $10, sources = $11,
			image_url = $12, video_url = $13,
			image_provider_url = $14, video_provider_url = $15,
			image_storage_url = $16, video_storage_url = $17,
			current_image_version = $18, current_video_version = $19,
			total_image_versions = $20, total_video_versions = $21,
			generation_status = $22, image_generated_at = $23,
			video_generated_at = $24, updated_at = $25
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		sp.ID, sp.ListID, sp.ScientificName, sp.CommonName,
		sp.ExtinctionYear, sp.LastLocation, sp.ExtinctionCause,
		sp.Habitat, sp.Kind, sp.Description, sp.Sources,
		sp.ImageURL, sp.VideoURL,
		sp.ImageProviderURL, sp.VideoProviderURL,
		sp.ImageStorageURL, sp.VideoStorageURL,
		sp.CurrentImageVersion, sp.CurrentVideoVersion,
		sp.TotalImageVersions, sp.TotalVideoVersions,
		sp.GenerationStatus, sp.ImageGeneratedAt,
		sp.VideoGeneratedAt, sp.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update species", err)
	}
	if tag.RowsAffected() == 0 {
		return speciesmedia.ErrSpeciesNotFound
	}
	return nil
}

func (r *Repository) DeleteSpecies(ctx context.Context, id uuid.UUID) error {
	// species_media rows go with it via ON DELETE CASCADE
	tag, err := r.db.Exec(ctx, `DELETE FROM species WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete species", err)
	}
	if tag.RowsAffected() == 0 {
		return speciesmedia.ErrSpeciesNotFound
	}
	return nil
}

func (r *Repository) ListSpecies(ctx context.Context, listID uuid.UUID) ([]*speciesmedia.Species, error) {
	query := `SELECT ` + speciesColumns + ` FROM species WHERE list_id = $1 ORDER BY created_at, scientific_name`

	rows, err := r.db.Query(ctx, query, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*speciesmedia.Species
	for rows.Next() {
		sp, err := scanSpecies(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sp)
	}

	return result, rows.Err()
}

func (r *Repository) ListSpeciesByStatus(ctx context.Context, status speciesmedia.GenerationStatus) ([]*speciesmedia.Species, error) {
	query := `SELECT ` + speciesColumns + ` FROM species WHERE generation_status = $1 ORDER BY updated_at`

	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*speciesmedia.Species
	for rows.Next() {
		sp, err := scanSpecies(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sp)
	}

	return result, rows.Err()
}

// Media ledger operations

const mediaColumns = `
	id, species_id, media_type, version_number, provider_url, storage_url,
	storage_path, seed_image_version, seed_image_url,
	is_primary, is_selected_for_exhibit, is_favorite, created_at`

func scanMedia(row pgx.Row) (*speciesmedia.SpeciesMedia, error) {
	var m speciesmedia.SpeciesMedia
	err := row.Scan(
		&m.ID, &m.SpeciesID, &m.MediaType, &m.VersionNumber,
		&m.ProviderURL, &m.StorageURL, &m.StoragePath,
		&m.SeedImageVersion, &m.SeedImageURL,
		&m.IsPrimary, &m.IsSelectedForExhibit, &m.IsFavorite, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) CreateMedia(ctx context.Context, media *speciesmedia.SpeciesMedia) error {
	query := `
		INSERT INTO species_media (` + mediaColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		media.ID, media.SpeciesID, media.MediaType, media.VersionNumber,
		media.ProviderURL, media.StorageURL, media.StoragePath,
		media.SeedImageVersion, media.SeedImageURL,
		media.IsPrimary, media.IsSelectedForExhibit, media.IsFavorite,
		media.CreatedAt)

	if err != nil {
		return r.handlePostgresError("create media", err)
	}

	return nil
}

func (r *Repository) GetMedia(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType, version int) (*speciesmedia.SpeciesMedia, error) {
	query := `SELECT ` + mediaColumns + ` FROM species_media
		WHERE species_id = $1 AND media_type = $2 AND version_number = $3`

	m, err := scanMedia(r.db.QueryRow(ctx, query, speciesID, mediaType, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, speciesmedia.ErrMediaNotFound
		}
		return nil, err
	}

	return m, nil
}

func (r *Repository) ListMedia(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType) ([]*speciesmedia.SpeciesMedia, error) {
	query := `SELECT ` + mediaColumns + ` FROM species_media
		WHERE species_id = $1 AND media_type = $2 ORDER BY version_number`

	rows, err := r.db.Query(ctx, query, speciesID, mediaType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*speciesmedia.SpeciesMedia
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}

	return result, rows.Err()
}

func (r *Repository) UpdateMedia(ctx context.Context, media *speciesmedia.SpeciesMedia) error {
	query := `
		UPDATE species_media SET
			provider_url = $2, storage_url = $3, storage_path = $4,
			is_primary = $5, is_selected_for_exhibit = $6, is_favorite = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		media.ID, media.ProviderURL, media.StorageURL, media.StoragePath,
		media.IsPrimary, media.IsSelectedForExhibit, media.IsFavorite)
	if err != nil {
		return r.handlePostgresError("update media", err)
	}
	if tag.RowsAffected() == 0 {
		return speciesmedia.ErrMediaNotFound
	}
	return nil
}

func (r *Repository) DeleteMedia(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType, version int) error {
	query := `DELETE FROM species_media
		WHERE species_id = $1 AND media_type = $2 AND version_number = $3`

	tag, err := r.db.Exec(ctx, query, speciesID, mediaType, version)
	if err != nil {
		return r.handlePostgresError("delete media", err)
	}
	if tag.RowsAffected() == 0 {
		return speciesmedia.ErrMediaNotFound
	}
	return nil
}

func (r *Repository) NextVersion(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType) (int, error) {
	query := `SELECT COALESCE(MAX(version_number), 0) + 1 FROM species_media
		WHERE species_id = $1 AND media_type = $2`

	var next int
	if err := r.db.QueryRow(ctx, query, speciesID, mediaType).Scan(&next); err != nil {
		return 0, r.handlePostgresError("next version", err)
	}
	return next, nil
}

func (r *Repository) ClearPrimary(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType) error {
	_, err := r.db.Exec(ctx,
		`UPDATE species_media SET is_primary = FALSE WHERE species_id = $1 AND media_type = $2`,
		speciesID, mediaType)
	if err != nil {
		return r.handlePostgresError("clear primary", err)
	}
	return nil
}

func (r *Repository) ClearExhibit(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType) error {
	_, err := r.db.Exec(ctx,
		`UPDATE species_media SET is_selected_for_exhibit = FALSE WHERE species_id = $1 AND media_type = $2`,
		speciesID, mediaType)
	if err != nil {
		return r.handlePostgresError("clear exhibit", err)
	}
	return nil
}

// SetFavorite tolerates databases migrated before the is_favorite column
// existed: an undefined-column error is logged and swallowed.
func (r *Repository) SetFavorite(ctx context.Context, speciesID uuid.UUID, mediaType speciesmedia.MediaType, version int, value bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE species_media SET is_favorite = $4
		 WHERE species_id = $1 AND media_type = $2 AND version_number = $3`,
		speciesID, mediaType, version, value)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42703" { // undefined_column
			slog.Warn("is_favorite column missing, skipping favorite update",
				"species_id", speciesID, "media_type", mediaType, "version", version)
			return nil
		}
		return r.handlePostgresError("set favorite", err)
	}
	return nil
}

// List operations

const listColumns = `id, name, description, source_file, declared_count, is_active, created_at, updated_at`

func scanList(row pgx.Row) (*speciesmedia.SpeciesList, error) {
	var l speciesmedia.SpeciesList
	err := row.Scan(&l.ID, &l.Name, &l.Description, &l.SourceFile,
		&l.DeclaredCount, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repository) CreateList(ctx context.Context, list *speciesmedia.SpeciesList) error {
	query := `
		INSERT INTO species_lists (` + listColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		list.ID, list.Name, list.Description, list.SourceFile,
		list.DeclaredCount, list.IsActive, list.CreatedAt, list.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create list", err)
	}
	return nil
}

func (r *Repository) UpdateList(ctx context.Context, list *speciesmedia.SpeciesList) error {
	query := `
		UPDATE species_lists SET
			name = $2, description = $3, source_file = $4,
			declared_count = $5, is_active = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		list.ID, list.Name, list.Description, list.SourceFile,
		list.DeclaredCount, list.IsActive, list.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update list", err)
	}
	if tag.RowsAffected() == 0 {
		return speciesmedia.ErrListNotFound
	}
	return nil
}

func (r *Repository) GetList(ctx context.Context, id uuid.UUID) (*speciesmedia.SpeciesList, error) {
	query := `SELECT ` + listColumns + ` FROM species_lists WHERE id = $1`

	list, err := scanList(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, speciesmedia.ErrListNotFound
		}
		return nil, err
	}
	return list, nil
}

func (r *Repository) ListLists(ctx context.Context) ([]*speciesmedia.SpeciesList, error) {
	query := `SELECT ` + listColumns + ` FROM species_lists ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*speciesmedia.SpeciesList
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, list)
	}

	return result, rows.Err()
}

func (r *Repository) GetActiveList(ctx context.Context) (*speciesmedia.SpeciesList, error) {
	query := `SELECT ` + listColumns + ` FROM species_lists WHERE is_active LIMIT 1`

	list, err := scanList(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, speciesmedia.ErrNoActiveList
		}
		return nil, err
	}
	return list, nil
}

func (r *Repository) DeactivateAllLists(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `UPDATE species_lists SET is_active = FALSE WHERE is_active`)
	if err != nil {
		return r.handlePostgresError("deactivate lists", err)
	}
	return nil
}

func (r *Repository) ActivateList(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE species_lists SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("activate list", err)
	}
	if tag.RowsAffected() == 0 {
		return speciesmedia.ErrListNotFound
	}
	return nil
}
