// Package config provides configuration loading for the pipeline workers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
	Fetcher      FetcherConfig      `mapstructure:"fetcher"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Download     DownloadConfig     `mapstructure:"download"`
}

// ServerConfig holds HTTP server configuration for the subscription endpoint.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// CatalogConfig holds upstream catalog API configuration.
type CatalogConfig struct {
	SearchURL   string        `mapstructure:"search_url"`
	ChecksumURL string        `mapstructure:"checksum_url"`
	PageSize    int           `mapstructure:"page_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// QueueConfig holds the to-download queue configuration.
type QueueConfig struct {
	ToDownloadURL     string        `mapstructure:"to_download_url"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
}

// StorageConfig holds object store configuration.
type StorageConfig struct {
	UploadBucket string `mapstructure:"upload_bucket"`
	Region       string `mapstructure:"region"`
}

// SecretsConfig names the upstream credential secrets.
type SecretsConfig struct {
	SciHubCredentials  string `mapstructure:"scihub_credentials"`
	IntHub2Credentials string `mapstructure:"inthub2_credentials"`
}

// FetcherConfig holds link fetcher configuration.
type FetcherConfig struct {
	AcceptedTileIDsFilename string        `mapstructure:"accepted_tile_ids_filename"`
	LookbackDays            int           `mapstructure:"lookback_days"`
	InvocationBudget        time.Duration `mapstructure:"invocation_budget"`
}

// SubscriptionConfig holds push-endpoint configuration.
type SubscriptionConfig struct {
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	RecencyDays int    `mapstructure:"recency_days"`
}

// DownloadConfig holds download worker configuration.
type DownloadConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	UseIntHub2  bool          `mapstructure:"use_inthub2"`
	IntHub2Host string        `mapstructure:"inthub2_host"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/s2-downloader")

	// Enable environment variable override
	v.SetEnvPrefix("S2DL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The deployment environment exposes a handful of settings under their
	// historical un-nested names; bind those explicitly.
	v.BindEnv("download.use_inthub2", "USE_INTHUB2")
	v.BindEnv("download.enabled", "ENABLE_DOWNLOADING")
	v.BindEnv("download.max_retries", "MAX_DOWNLOAD_RETRIES")
	v.BindEnv("storage.upload_bucket", "UPLOAD_BUCKET")
	v.BindEnv("fetcher.accepted_tile_ids_filename", "ACCEPTED_TILE_IDS_FILENAME")
	v.BindEnv("subscription.recency_days", "SUBSCRIPTION_RECENCY_DAYS")
	v.BindEnv("queue.to_download_url", "TO_DOWNLOAD_QUEUE_URL")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "s2downloader")
	v.SetDefault("database.password", "s2downloader")
	v.SetDefault("database.database", "s2downloader")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Catalog defaults
	v.SetDefault("catalog.search_url", "https://catalogue.dataspace.copernicus.eu")
	v.SetDefault("catalog.checksum_url", "https://catalogue.dataspace.copernicus.eu")
	v.SetDefault("catalog.page_size", 100)
	v.SetDefault("catalog.timeout", "1m")

	// Queue defaults
	v.SetDefault("queue.visibility_timeout", "900s")
	v.SetDefault("queue.wait_time", "20s")

	// Storage defaults
	v.SetDefault("storage.region", "us-west-2")

	// Secrets defaults
	v.SetDefault("secrets.scihub_credentials", "scihub-credentials")
	v.SetDefault("secrets.inthub2_credentials", "inthub2-credentials")

	// Fetcher defaults
	v.SetDefault("fetcher.accepted_tile_ids_filename", "")
	v.SetDefault("fetcher.lookback_days", 5)
	v.SetDefault("fetcher.invocation_budget", "15m")

	// Subscription defaults
	v.SetDefault("subscription.recency_days", 30)

	// Download defaults
	v.SetDefault("download.enabled", true)
	v.SetDefault("download.use_inthub2", false)
	v.SetDefault("download.inthub2_host", "inthub2.copernicus.eu")
	v.SetDefault("download.max_retries", 10)
	v.SetDefault("download.concurrency", 15)
	v.SetDefault("download.timeout", "15m")
}
