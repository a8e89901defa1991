// Package requeuer implements the operator-triggered backfill that puts
// undownloaded granules back on the to-download queue.
package requeuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openhls/s2-downloader/internal/queue"
	"github.com/openhls/s2-downloader/internal/repository"
)

var granulesRequeued = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "s2dl_granules_requeued_total",
		Help: "Granules re-published to the to-download queue by the requeuer",
	},
)

// ErrDryRunRequired is returned when the request omits the dry_run flag.
// Requiring it explicitly prevents accidental mass requeues.
var ErrDryRunRequired = errors.New("dry_run must be set explicitly")

// Request is the operator payload.
type Request struct {
	DryRun *bool  `json:"dry_run"`
	Date   string `json:"date"`
}

// GranuleRef identifies one affected granule in the response.
type GranuleRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// Response reports what the run did, or would do under dry_run.
type Response struct {
	RunID         string       `json:"run_id"`
	DryRun        bool         `json:"dry_run"`
	QueueURL      string       `json:"queue_url"`
	IngestionDate string       `json:"ingestion_date"`
	Count         int          `json:"count"`
	Granules      []GranuleRef `json:"granules"`
}

// Requeuer selects undownloaded granules for a day and re-admits them.
type Requeuer struct {
	granules  repository.GranuleRepository
	publisher queue.Publisher
	queueURL  string
	logger    *slog.Logger
}

// New creates a requeuer.
func New(granules repository.GranuleRepository, publisher queue.Publisher, queueURL string, logger *slog.Logger) *Requeuer {
	return &Requeuer{
		granules:  granules,
		publisher: publisher,
		queueURL:  queueURL,
		logger:    logger,
	}
}

// Requeue lists granules with downloaded=false for the requested ingestion
// date and, unless dry_run, publishes one message per granule. Retry
// counters are left untouched; a granule past the retry cap stays abandoned
// until an operator lowers its counter.
func (r *Requeuer) Requeue(ctx context.Context, req Request) (*Response, error) {
	if req.DryRun == nil {
		return nil, ErrDryRunRequired
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", req.Date, err)
	}

	granules, err := r.granules.ListUndownloadedByIngestionDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list granules for %s: %w", req.Date, err)
	}

	resp := &Response{
		RunID:         uuid.New().String(),
		DryRun:        *req.DryRun,
		QueueURL:      r.queueURL,
		IngestionDate: req.Date,
		Count:         len(granules),
		Granules:      make([]GranuleRef, 0, len(granules)),
	}

	for _, granule := range granules {
		resp.Granules = append(resp.Granules, GranuleRef{
			ID:       granule.ID,
			Filename: granule.Filename,
		})
		if *req.DryRun {
			continue
		}

		msg := queue.Message{
			ID:          granule.ID,
			Filename:    granule.Filename,
			DownloadURL: granule.DownloadURL,
			Checksum:    granule.Checksum,
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to requeue granule %s: %w", granule.ID, err)
		}
		granulesRequeued.Inc()
	}

	r.logger.Info("requeue run finished",
		slog.String("run_id", resp.RunID),
		slog.Bool("dry_run", resp.DryRun),
		slog.String("ingestion_date", req.Date),
		slog.Int("count", resp.Count),
	)
	return resp, nil
}
