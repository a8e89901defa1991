// Package fetcher implements granule discovery: catalog polling, push event
// processing, and the shared admission routine feeding the download queue.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openhls/s2-downloader/internal/catalog"
	"github.com/openhls/s2-downloader/internal/models"
	"github.com/openhls/s2-downloader/internal/queue"
	"github.com/openhls/s2-downloader/internal/repository"
)

// Admitter records newly discovered granules and enqueues them for download.
// Admission is idempotent on the granule id; the queue message is published
// only after the row commit, so a crash in between leaves a row without a
// message, which the requeuer repairs.
type Admitter struct {
	granules  repository.GranuleRepository
	publisher queue.Publisher
	logger    *slog.Logger
}

// NewAdmitter creates an admitter.
func NewAdmitter(granules repository.GranuleRepository, publisher queue.Publisher, logger *slog.Logger) *Admitter {
	return &Admitter{
		granules:  granules,
		publisher: publisher,
		logger:    logger,
	}
}

// Admit inserts the granule unless it already exists and publishes one
// to-download message for a newly created row. It returns true when the
// granule was newly admitted.
func (a *Admitter) Admit(ctx context.Context, result catalog.SearchResult, source string) (bool, error) {
	granule := &models.Granule{
		ID:            result.ID,
		Filename:      result.Filename,
		TileID:        result.TileID,
		Size:          result.Size,
		Checksum:      result.Checksum,
		BeginPosition: result.BeginPosition,
		EndPosition:   result.EndPosition,
		IngestionDate: result.IngestionDate,
		DownloadURL:   result.DownloadURL,
	}

	created, err := a.granules.Insert(ctx, granule)
	if err != nil {
		return false, fmt.Errorf("failed to insert granule %s: %w", result.ID, err)
	}
	if !created {
		granulesDuplicate.WithLabelValues(source).Inc()
		return false, nil
	}

	msg := queue.Message{
		ID:          result.ID,
		Filename:    result.Filename,
		DownloadURL: result.DownloadURL,
		Checksum:    result.Checksum,
	}
	if err := a.publisher.Publish(ctx, msg); err != nil {
		// The row is committed; the missed message is recoverable via the
		// requeuer.
		return false, fmt.Errorf("failed to publish granule %s: %w", result.ID, err)
	}

	granulesAdmitted.WithLabelValues(source).Inc()
	a.logger.Info("granule admitted",
		slog.String("granule_id", result.ID),
		slog.String("tile_id", result.TileID),
		slog.String("source", source),
	)
	return true, nil
}
