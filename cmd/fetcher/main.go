// Package main is the entry point for the polling link fetcher.
//
// With -date and -platform it processes a single (day, platform) pair, the
// way an orchestrator invokes it. Without arguments it generates the
// default lookback schedule and works through every pair.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/openhls/s2-downloader/internal/catalog"
	"github.com/openhls/s2-downloader/internal/config"
	"github.com/openhls/s2-downloader/internal/database"
	"github.com/openhls/s2-downloader/internal/dates"
	"github.com/openhls/s2-downloader/internal/fetcher"
	"github.com/openhls/s2-downloader/internal/models"
	"github.com/openhls/s2-downloader/internal/queue"
	"github.com/openhls/s2-downloader/internal/repository"
	"github.com/openhls/s2-downloader/internal/tiles"
)

func main() {
	dateFlag := flag.String("date", "", "publication day to fetch (YYYY-MM-DD, requires -platform)")
	platformFlag := flag.String("platform", "", "platform to fetch (S2A, S2B, S2C)")
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pairs, err := resolvePairs(*dateFlag, *platformFlag, cfg.Fetcher.LookbackDays)
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Storage.Region),
	)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	toDownload := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.Queue, logger)

	allowlist, err := tiles.Load(cfg.Fetcher.AcceptedTileIDsFilename)
	if err != nil {
		log.Fatalf("Failed to load tile allowlist: %v", err)
	}

	catalogClient := catalog.NewClient(cfg.Catalog)
	granules := repository.NewGranuleRepository(db.Pool())
	counts := repository.NewGranuleCountRepository(db.Pool())
	status := repository.NewStatusRepository(db.Pool())
	admitter := fetcher.NewAdmitter(granules, toDownload, logger)
	f := fetcher.NewFetcher(
		catalogClient, catalogClient.PageSize(), counts, status, admitter, allowlist, logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, pair := range pairs {
		completed, err := f.Run(ctx, pair.Date, pair.Platform, cfg.Fetcher.InvocationBudget)
		if err != nil {
			log.Fatalf("Fetch of %s/%s failed: %v", pair.Date.Format("2006-01-02"), pair.Platform, err)
		}
		logger.Info("pair finished",
			slog.String("date", pair.Date.Format("2006-01-02")),
			slog.String("platform", pair.Platform.String()),
			slog.Bool("completed", completed),
		)
		if ctx.Err() != nil {
			logger.Info("interrupted, exiting")
			return
		}
	}
}

func resolvePairs(date, platform string, lookbackDays int) ([]dates.QueryPair, error) {
	if date == "" && platform == "" {
		return dates.Generate(time.Now(), lookbackDays, dates.Platforms), nil
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, err
	}
	p := models.Platform(platform)
	if !p.Valid() {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	return []dates.QueryPair{{Date: day, Platform: p}}, nil
}
