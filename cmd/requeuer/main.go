// Package main is the entry point for the operator backfill requeuer.
//
// Usage:
//
//	requeuer -date 2023-06-10 -dry-run=true
//
// The -dry-run flag must be passed explicitly; there is no default. The
// affected granules are printed as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/openhls/s2-downloader/internal/config"
	"github.com/openhls/s2-downloader/internal/database"
	"github.com/openhls/s2-downloader/internal/queue"
	"github.com/openhls/s2-downloader/internal/repository"
	"github.com/openhls/s2-downloader/internal/requeuer"
)

func main() {
	dateFlag := flag.String("date", "", "ingestion date to requeue (YYYY-MM-DD)")
	dryRunFlag := flag.Bool("dry-run", true, "list granules without publishing (must be set explicitly)")
	flag.Parse()

	var dryRunSet bool
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "dry-run" {
			dryRunSet = true
		}
	})

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Storage.Region),
	)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	toDownload := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.Queue, logger)

	r := requeuer.New(
		repository.NewGranuleRepository(db.Pool()),
		toDownload,
		toDownload.URL(),
		logger,
	)

	req := requeuer.Request{Date: *dateFlag}
	if dryRunSet {
		req.DryRun = dryRunFlag
	}

	resp, err := r.Requeue(ctx, req)
	if err != nil {
		log.Fatalf("Requeue failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		log.Fatalf("Failed to encode response: %v", err)
	}
}
