package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhls/s2-downloader/internal/models"
)

// GranuleCountRepository defines the interface for per-day discovery counts.
type GranuleCountRepository interface {
	// GetOrCreate returns the counts row for (day, platform), creating a
	// zeroed row if none exists yet.
	GetOrCreate(ctx context.Context, day time.Time, platform models.Platform) (*models.GranuleCount, error)
	// SetAvailableLinks records the total the catalog advertises for the day.
	SetAvailableLinks(ctx context.Context, day time.Time, platform models.Platform, total int64) error
	// AddFetchedLinks adds the page size just processed to fetched_links and
	// stamps last_fetched_time.
	AddFetchedLinks(ctx context.Context, day time.Time, platform models.Platform, fetched int64, now time.Time) error
}

type granuleCountRepo struct {
	pool *pgxpool.Pool
}

// NewGranuleCountRepository creates a new granule count repository.
func NewGranuleCountRepository(pool *pgxpool.Pool) GranuleCountRepository {
	return &granuleCountRepo{pool: pool}
}

// GetOrCreate upserts a zeroed row and returns the current values.
func (r *granuleCountRepo) GetOrCreate(ctx context.Context, day time.Time, platform models.Platform) (*models.GranuleCount, error) {
	// The no-op DO UPDATE makes the statement return the existing row on
	// conflict, so create-and-read is a single round trip.
	query := `
		INSERT INTO granule_count (date, platform, available_links, fetched_links, last_fetched_time)
		VALUES ($1, $2, 0, 0, $3)
		ON CONFLICT (date, platform) DO UPDATE SET platform = EXCLUDED.platform
		RETURNING date, platform, available_links, fetched_links, last_fetched_time`

	var gc models.GranuleCount
	err := r.pool.QueryRow(ctx, query, day, platform, time.Now().UTC()).Scan(
		&gc.Date,
		&gc.Platform,
		&gc.AvailableLinks,
		&gc.FetchedLinks,
		&gc.LastFetchedTime,
	)
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

// SetAvailableLinks updates available_links for the day.
func (r *granuleCountRepo) SetAvailableLinks(ctx context.Context, day time.Time, platform models.Platform, total int64) error {
	query := `
		UPDATE granule_count
		SET available_links = $3
		WHERE date = $1 AND platform = $2`

	_, err := r.pool.Exec(ctx, query, day, platform, total)
	return err
}

// AddFetchedLinks accumulates the number of links paged through.
func (r *granuleCountRepo) AddFetchedLinks(ctx context.Context, day time.Time, platform models.Platform, fetched int64, now time.Time) error {
	query := `
		UPDATE granule_count
		SET fetched_links = fetched_links + $3, last_fetched_time = $4
		WHERE date = $1 AND platform = $2`

	_, err := r.pool.Exec(ctx, query, day, platform, fetched, now)
	return err
}

// Compile-time check to ensure granuleCountRepo implements GranuleCountRepository.
var _ GranuleCountRepository = (*granuleCountRepo)(nil)
