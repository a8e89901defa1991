package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/openhls/s2-downloader/internal/catalog"
	"github.com/openhls/s2-downloader/internal/models"
	"github.com/openhls/s2-downloader/internal/repository"
	"github.com/openhls/s2-downloader/internal/tiles"
)

// Fetcher walks the upstream catalog for one (day, platform) pair, one page
// per step, admitting new granules as it goes. The page cursor lives in the
// status table so an interrupted invocation resumes where it left off; a
// repeated page is safe because admission is idempotent.
type Fetcher struct {
	catalog   catalog.Searcher
	pageSize  int
	counts    repository.GranuleCountRepository
	status    repository.StatusRepository
	admitter  *Admitter
	allowlist tiles.Allowlist
	logger    *slog.Logger
	now       func() time.Time
}

// NewFetcher creates a polling link fetcher.
func NewFetcher(
	searcher catalog.Searcher,
	pageSize int,
	counts repository.GranuleCountRepository,
	status repository.StatusRepository,
	admitter *Admitter,
	allowlist tiles.Allowlist,
	logger *slog.Logger,
) *Fetcher {
	return &Fetcher{
		catalog:   searcher,
		pageSize:  pageSize,
		counts:    counts,
		status:    status,
		admitter:  admitter,
		allowlist: allowlist,
		logger:    logger,
		now:       time.Now,
	}
}

// cursorKey is the status table key holding the page cursor for one
// (day, platform) pair.
func cursorKey(day time.Time, platform models.Platform) string {
	return fmt.Sprintf("link_fetcher_cursor:%s:%s", day.UTC().Format("2006-01-02"), platform)
}

// Step fetches and processes one catalog page. It returns true when the day
// is exhausted (an empty page was observed) and false when more pages remain.
func (f *Fetcher) Step(ctx context.Context, day time.Time, platform models.Platform) (bool, error) {
	count, err := f.counts.GetOrCreate(ctx, day, platform)
	if err != nil {
		return false, fmt.Errorf("failed to load granule count: %w", err)
	}

	cursor, err := f.loadCursor(ctx, day, platform)
	if err != nil {
		return false, err
	}

	results, total, err := f.catalog.SearchPage(ctx, day, platform, cursor)
	if err != nil {
		return false, fmt.Errorf("failed to fetch catalog page: %w", err)
	}
	pagesFetched.Inc()

	if total > count.AvailableLinks {
		if err := f.counts.SetAvailableLinks(ctx, day, platform, total); err != nil {
			return false, fmt.Errorf("failed to update available links: %w", err)
		}
	}

	if len(results) == 0 {
		f.logger.Info("day exhausted",
			slog.String("date", day.Format("2006-01-02")),
			slog.String("platform", platform.String()),
			slog.Int("cursor", cursor),
		)
		return true, nil
	}

	for _, result := range results {
		if !f.allowlist.Contains(result.TileID) {
			granulesFiltered.WithLabelValues(sourcePoll, "tile").Inc()
			continue
		}
		if _, err := f.admitter.Admit(ctx, result, sourcePoll); err != nil {
			return false, err
		}
	}

	now := f.now().UTC()
	if err := f.counts.AddFetchedLinks(ctx, day, platform, int64(len(results)), now); err != nil {
		return false, fmt.Errorf("failed to update fetched links: %w", err)
	}

	if err := f.status.Upsert(ctx, cursorKey(day, platform), strconv.Itoa(cursor+f.pageSize)); err != nil {
		return false, fmt.Errorf("failed to persist cursor: %w", err)
	}
	if err := f.status.Upsert(ctx, models.StatusKeyLastLinkFetched, now.Format(time.RFC3339)); err != nil {
		return false, fmt.Errorf("failed to update fetch timestamp: %w", err)
	}

	f.logger.Info("page processed",
		slog.String("date", day.Format("2006-01-02")),
		slog.String("platform", platform.String()),
		slog.Int("cursor", cursor),
		slog.Int("results", len(results)),
		slog.Int64("available", total),
	)
	return false, nil
}

// Run repeats Step until the day is exhausted or the wall-clock budget runs
// out. It returns true when the day completed; false means the orchestrator
// should re-invoke.
func (f *Fetcher) Run(ctx context.Context, day time.Time, platform models.Platform, budget time.Duration) (bool, error) {
	deadline := f.now().Add(budget)

	for {
		completed, err := f.Step(ctx, day, platform)
		if err != nil {
			return false, err
		}
		if completed {
			return true, nil
		}
		if !f.now().Before(deadline) {
			f.logger.Info("invocation budget exhausted",
				slog.String("date", day.Format("2006-01-02")),
				slog.String("platform", platform.String()),
			)
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
}

func (f *Fetcher) loadCursor(ctx context.Context, day time.Time, platform models.Platform) (int, error) {
	value, found, err := f.status.Get(ctx, cursorKey(day, platform))
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	if !found {
		return 0, nil
	}
	cursor, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt cursor %q for %s/%s: %w", value, day.Format("2006-01-02"), platform, err)
	}
	return cursor, nil
}
