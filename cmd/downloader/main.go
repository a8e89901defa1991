// Package main is the entry point for the download worker pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openhls/s2-downloader/internal/catalog"
	"github.com/openhls/s2-downloader/internal/config"
	"github.com/openhls/s2-downloader/internal/database"
	"github.com/openhls/s2-downloader/internal/downloader"
	"github.com/openhls/s2-downloader/internal/queue"
	"github.com/openhls/s2-downloader/internal/repository"
	"github.com/openhls/s2-downloader/internal/secrets"
	"github.com/openhls/s2-downloader/internal/storage"
)

func main() {
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

	if !cfg.Download.Enabled {
		logger.Info("Downloading is disabled, exiting")
		return
	}

	logger.Info("Starting download workers",
		slog.Int("concurrency", cfg.Download.Concurrency),
		slog.Bool("use_inthub2", cfg.Download.UseIntHub2),
		slog.String("bucket", cfg.Storage.UploadBucket),
	)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Connected to PostgreSQL")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Storage.Region),
	)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	// Upstream credentials are fetched once at start.
	store := secrets.NewStore(secretsmanager.NewFromConfig(awsCfg))
	secretID := cfg.Secrets.SciHubCredentials
	if cfg.Download.UseIntHub2 {
		secretID = cfg.Secrets.IntHub2Credentials
	}
	creds, err := store.GetCredentials(ctx, secretID)
	if err != nil {
		log.Fatalf("Failed to fetch upstream credentials: %v", err)
	}
	logger.Info("Fetched upstream credentials", slog.String("secret", secretID))

	toDownload := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.Queue, logger)
	uploader := storage.NewS3Uploader(s3.NewFromConfig(awsCfg), cfg.Storage.UploadBucket)
	catalogClient := catalog.NewClient(cfg.Catalog)

	worker := downloader.NewWorker(
		repository.NewGranuleRepository(db.Pool()),
		repository.NewStatusRepository(db.Pool()),
		catalogClient,
		uploader,
		toDownload,
		creds,
		cfg.Download,
		cfg.Queue.VisibilityTimeout,
		logger,
	)

	// Metrics endpoint for the long-running pool.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	if err := toDownload.Run(ctx, cfg.Download.Concurrency, worker.Handle); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker pool failed: %v", err)
	}
	logger.Info("Download workers stopped gracefully")
}
