// Package downloader implements the download worker that drains the
// to-download queue: fetch from upstream, verify, archive, record.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/openhls/s2-downloader/internal/catalog"
	"github.com/openhls/s2-downloader/internal/config"
	"github.com/openhls/s2-downloader/internal/models"
	"github.com/openhls/s2-downloader/internal/queue"
	"github.com/openhls/s2-downloader/internal/repository"
	"github.com/openhls/s2-downloader/internal/secrets"
	"github.com/openhls/s2-downloader/internal/storage"
)

// Worker processes one to-download message at a time. All transitions on
// the granule row are guarded by the in_progress lease; a worker that loses
// the lease race simply drops its message.
type Worker struct {
	granules          repository.GranuleRepository
	status            repository.StatusRepository
	checksums         catalog.ChecksumFetcher
	uploader          storage.Uploader
	publisher         queue.Publisher
	httpClient        *http.Client
	creds             secrets.Credentials
	useIntHub2        bool
	intHub2Host       string
	maxRetries        int
	visibilityTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// NewWorker creates a download worker. creds must already be the pair
// matching cfg.UseIntHub2.
func NewWorker(
	granules repository.GranuleRepository,
	status repository.StatusRepository,
	checksums catalog.ChecksumFetcher,
	uploader storage.Uploader,
	publisher queue.Publisher,
	creds secrets.Credentials,
	cfg config.DownloadConfig,
	visibilityTimeout time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		granules:          granules,
		status:            status,
		checksums:         checksums,
		uploader:          uploader,
		publisher:         publisher,
		httpClient:        &http.Client{Timeout: cfg.Timeout},
		creds:             creds,
		useIntHub2:        cfg.UseIntHub2,
		intHub2Host:       cfg.IntHub2Host,
		maxRetries:        cfg.MaxRetries,
		visibilityTimeout: visibilityTimeout,
		logger:            logger,
		now:               time.Now,
	}
}

// Handle is the queue.Handler for one to-download message. A nil return
// deletes the message; an error leaves it for broker redelivery. Transient
// download failures return nil after re-publishing explicitly, so the
// broker never double-accounts an attempt.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	logger := w.logger.With(slog.String("granule_id", msg.ID))

	granule, err := w.granules.GetByID(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to load granule %s: %w", msg.ID, err)
	}
	if granule == nil {
		logger.Warn("message for unknown granule, dropping")
		downloadsTotal.WithLabelValues(outcomeSkipped).Inc()
		return nil
	}
	if granule.Downloaded || granule.Expired {
		downloadsTotal.WithLabelValues(outcomeSkipped).Inc()
		return nil
	}

	now := w.now().UTC()
	staleBefore := now.Add(-w.visibilityTimeout)
	acquired, err := w.granules.AcquireLease(ctx, granule.ID, now, staleBefore)
	if err != nil {
		return fmt.Errorf("failed to acquire lease for %s: %w", granule.ID, err)
	}
	if !acquired {
		// Another worker holds a live lease, or the row changed under us.
		downloadsTotal.WithLabelValues(outcomeSkipped).Inc()
		return nil
	}

	if granule.DownloadRetries >= w.maxRetries {
		logger.Error("granule abandoned, retry limit reached",
			slog.Int("retries", granule.DownloadRetries),
		)
		downloadsTotal.WithLabelValues(outcomeAbandoned).Inc()
		if err := w.granules.ReleaseLease(ctx, granule.ID); err != nil {
			return fmt.Errorf("failed to release lease for %s: %w", granule.ID, err)
		}
		return nil
	}

	return w.download(ctx, granule, msg, logger)
}

// download runs one attempt under an already-held lease.
func (w *Worker) download(ctx context.Context, granule *models.Granule, msg queue.Message, logger *slog.Logger) error {
	start := w.now()

	// Upstream occasionally corrects a published checksum, so the
	// authoritative value is re-read on every attempt.
	checksum, err := w.checksums.ProductChecksum(ctx, granule.ID)
	if err != nil {
		return w.requeue(ctx, granule, msg, logger, fmt.Errorf("checksum fetch: %w", err))
	}
	if checksum != granule.Checksum {
		if err := w.granules.UpdateChecksum(ctx, granule.ID, checksum); err != nil {
			return fmt.Errorf("failed to update checksum for %s: %w", granule.ID, err)
		}
	}

	downloadURL := granule.DownloadURL
	if w.useIntHub2 {
		downloadURL, err = rewriteHost(downloadURL, w.intHub2Host)
		if err != nil {
			return fmt.Errorf("failed to rewrite download URL for %s: %w", granule.ID, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request for %s: %w", granule.ID, err)
	}
	req.SetBasicAuth(w.creds.Username, w.creds.Password)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return w.requeue(ctx, granule, msg, logger, fmt.Errorf("download: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		logger.Warn("upstream no longer serves granule, marking expired",
			slog.Int("status", resp.StatusCode),
		)
		downloadsTotal.WithLabelValues(outcomeExpired).Inc()
		if err := w.granules.MarkExpired(ctx, granule.ID); err != nil {
			return fmt.Errorf("failed to mark %s expired: %w", granule.ID, err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Credential misconfiguration is not retryable from here.
		if releaseErr := w.granules.ReleaseLease(ctx, granule.ID); releaseErr != nil {
			logger.Error("failed to release lease", slog.String("error", releaseErr.Error()))
		}
		return fmt.Errorf("download of %s rejected with status %d", granule.ID, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return w.requeue(ctx, granule, msg, logger,
			fmt.Errorf("download: upstream returned %d", resp.StatusCode))
	}

	// The object store verifies the declared MD5 server-side; a corrupt or
	// truncated body fails the upload and takes the transient path.
	key := granule.BeginPosition.UTC().Format("2006-01-02") + "/" + granule.Filename
	location, err := w.uploader.Upload(ctx, key, resp.Body, granule.Size, checksum)
	if err != nil {
		return w.requeue(ctx, granule, msg, logger, fmt.Errorf("upload: %w", err))
	}

	finished := w.now().UTC()
	if err := w.granules.MarkDownloaded(ctx, granule.ID, location, finished); err != nil {
		return fmt.Errorf("failed to record download of %s: %w", granule.ID, err)
	}

	// Best-effort telemetry; a failed upsert must not fail the download.
	if err := w.status.Upsert(ctx, models.StatusKeyLastFileDownloaded, finished.Format(time.RFC3339)); err != nil {
		logger.Warn("failed to update download timestamp", slog.String("error", err.Error()))
	}

	downloadsTotal.WithLabelValues(outcomeSuccess).Inc()
	downloadBytes.Add(float64(granule.Size))
	downloadDuration.Observe(finished.Sub(start).Seconds())
	logger.Info("granule downloaded",
		slog.String("location", location),
		slog.Int64("size", granule.Size),
		slog.Duration("duration", finished.Sub(start)),
	)
	return nil
}

// requeue handles a transient failure: release the lease, bump the retry
// counter, and put the same message back on the queue. The consumer then
// reports success so the broker drops its inflight copy.
func (w *Worker) requeue(ctx context.Context, granule *models.Granule, msg queue.Message, logger *slog.Logger, cause error) error {
	retries, err := w.granules.IncrementRetries(ctx, granule.ID)
	if err != nil {
		return fmt.Errorf("failed to record retry for %s: %w", granule.ID, err)
	}
	if err := w.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", granule.ID, err)
	}

	downloadsTotal.WithLabelValues(outcomeRetried).Inc()
	logger.Warn("transient download failure, requeued",
		slog.String("error", cause.Error()),
		slog.Int("retries", retries),
	)
	return nil
}

// rewriteHost swaps the host segment of rawURL.
func rewriteHost(rawURL, host string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Host = host
	return u.String(), nil
}
