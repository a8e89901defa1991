package downloader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s2dl_downloads_total",
			Help: "Download attempts by outcome",
		},
		[]string{"outcome"},
	)

	downloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s2dl_download_bytes_total",
			Help: "Bytes uploaded to the archive bucket",
		},
	)

	downloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "s2dl_download_duration_seconds",
			Help:    "Wall-clock duration of successful downloads",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

const (
	outcomeSuccess   = "success"
	outcomeSkipped   = "skipped"
	outcomeRetried   = "retried"
	outcomeExpired   = "expired"
	outcomeAbandoned = "abandoned"
)
