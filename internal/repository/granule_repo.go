// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhls/s2-downloader/internal/models"
)

const granuleColumns = `id, filename, tileid, size, checksum, beginposition, endposition,
       ingestiondate, download_url, downloaded, in_progress, in_progress_since,
       uploaded_granule_file_location, download_started, download_finished,
       download_retries, expired`

// GranuleRepository defines the interface for granule data operations.
type GranuleRepository interface {
	// Insert performs an idempotent conditional insert keyed on the granule
	// id. It returns true when a new row was created, false when a row with
	// the same id already existed.
	Insert(ctx context.Context, granule *models.Granule) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Granule, error)
	// AcquireLease sets the in_progress flag for a granule if it is not
	// downloaded, not expired, and not currently leased by another worker.
	// Leases whose timestamp is older than staleBefore are considered
	// abandoned and may be taken over. Returns true when the lease was
	// acquired.
	AcquireLease(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	// ReleaseLease clears the in_progress flag without any other change.
	ReleaseLease(ctx context.Context, id string) error
	// MarkDownloaded records a successful download. Only the lease holder
	// may call it; the update is conditional on in_progress being set.
	MarkDownloaded(ctx context.Context, id, uploadedLocation string, finished time.Time) error
	// MarkExpired records that upstream no longer serves the product.
	MarkExpired(ctx context.Context, id string) error
	// IncrementRetries releases the lease and bumps the retry counter in a
	// single statement, returning the new counter value.
	IncrementRetries(ctx context.Context, id string) (int, error)
	UpdateChecksum(ctx context.Context, id, checksum string) error
	// ListUndownloadedByIngestionDate returns granules published on the
	// given UTC day that have not yet been downloaded.
	ListUndownloadedByIngestionDate(ctx context.Context, day time.Time) ([]*models.Granule, error)
}

type granuleRepo struct {
	pool *pgxpool.Pool
}

// NewGranuleRepository creates a new granule repository.
func NewGranuleRepository(pool *pgxpool.Pool) GranuleRepository {
	return &granuleRepo{pool: pool}
}

// Insert inserts a granule row unless one with the same id already exists.
func (r *granuleRepo) Insert(ctx context.Context, granule *models.Granule) (bool, error) {
	query := `
		INSERT INTO granule (id, filename, tileid, size, checksum, beginposition,
		                     endposition, ingestiondate, download_url, downloaded,
		                     in_progress, download_retries, expired)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, FALSE, 0, FALSE)
		ON CONFLICT (id) DO NOTHING`

	result, err := r.pool.Exec(ctx, query,
		granule.ID,
		granule.Filename,
		granule.TileID,
		granule.Size,
		granule.Checksum,
		granule.BeginPosition,
		granule.EndPosition,
		granule.IngestionDate,
		granule.DownloadURL,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// GetByID retrieves a granule by its upstream product id.
func (r *granuleRepo) GetByID(ctx context.Context, id string) (*models.Granule, error) {
	query := `SELECT ` + granuleColumns + ` FROM granule WHERE id = $1`

	var g models.Granule
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&g.ID,
		&g.Filename,
		&g.TileID,
		&g.Size,
		&g.Checksum,
		&g.BeginPosition,
		&g.EndPosition,
		&g.IngestionDate,
		&g.DownloadURL,
		&g.Downloaded,
		&g.InProgress,
		&g.InProgressSince,
		&g.UploadedLocation,
		&g.DownloadStarted,
		&g.DownloadFinished,
		&g.DownloadRetries,
		&g.Expired,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// AcquireLease attempts a compare-and-set on the in_progress flag.
func (r *granuleRepo) AcquireLease(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE granule
		SET in_progress = TRUE,
		    in_progress_since = $2,
		    download_started = COALESCE(download_started, $2)
		WHERE id = $1
		  AND downloaded = FALSE
		  AND expired = FALSE
		  AND (in_progress = FALSE OR in_progress_since < $3)`

	result, err := r.pool.Exec(ctx, query, id, now, staleBefore)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ReleaseLease clears the in_progress flag.
func (r *granuleRepo) ReleaseLease(ctx context.Context, id string) error {
	query := `
		UPDATE granule
		SET in_progress = FALSE, in_progress_since = NULL
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkDownloaded commits a successful download.
func (r *granuleRepo) MarkDownloaded(ctx context.Context, id, uploadedLocation string, finished time.Time) error {
	query := `
		UPDATE granule
		SET downloaded = TRUE,
		    in_progress = FALSE,
		    in_progress_since = NULL,
		    download_finished = $2,
		    uploaded_granule_file_location = $3
		WHERE id = $1 AND in_progress = TRUE`

	result, err := r.pool.Exec(ctx, query, id, finished, uploadedLocation)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkExpired records a terminal upstream 404/410.
func (r *granuleRepo) MarkExpired(ctx context.Context, id string) error {
	query := `
		UPDATE granule
		SET expired = TRUE, in_progress = FALSE, in_progress_since = NULL
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// IncrementRetries releases the lease and bumps download_retries.
func (r *granuleRepo) IncrementRetries(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE granule
		SET in_progress = FALSE,
		    in_progress_since = NULL,
		    download_retries = download_retries + 1
		WHERE id = $1
		RETURNING download_retries`

	var retries int
	err := r.pool.QueryRow(ctx, query, id).Scan(&retries)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, pgx.ErrNoRows
	}
	if err != nil {
		return 0, err
	}
	return retries, nil
}

// UpdateChecksum records the authoritative upstream checksum. Upstream may
// correct a checksum after publication, so this runs on every attempt.
func (r *granuleRepo) UpdateChecksum(ctx context.Context, id, checksum string) error {
	query := `UPDATE granule SET checksum = $2 WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, checksum)
	return err
}

// ListUndownloadedByIngestionDate returns undownloaded granules for a day.
func (r *granuleRepo) ListUndownloadedByIngestionDate(ctx context.Context, day time.Time) ([]*models.Granule, error) {
	query := `
		SELECT ` + granuleColumns + `
		FROM granule
		WHERE downloaded = FALSE AND ingestiondate::date = $1::date
		ORDER BY ingestiondate`

	rows, err := r.pool.Query(ctx, query, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var granules []*models.Granule
	for rows.Next() {
		var g models.Granule
		if err := rows.Scan(
			&g.ID,
			&g.Filename,
			&g.TileID,
			&g.Size,
			&g.Checksum,
			&g.BeginPosition,
			&g.EndPosition,
			&g.IngestionDate,
			&g.DownloadURL,
			&g.Downloaded,
			&g.InProgress,
			&g.InProgressSince,
			&g.UploadedLocation,
			&g.DownloadStarted,
			&g.DownloadFinished,
			&g.DownloadRetries,
			&g.Expired,
		); err != nil {
			return nil, err
		}
		granules = append(granules, &g)
	}
	return granules, rows.Err()
}

// Compile-time check to ensure granuleRepo implements GranuleRepository.
var _ GranuleRepository = (*granuleRepo)(nil)
