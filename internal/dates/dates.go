// Package dates generates the (day, platform) query pairs the link fetcher
// polls against the upstream catalog.
package dates

import (
	"time"

	"github.com/openhls/s2-downloader/internal/models"
)

// Platforms is the full Sentinel-2 constellation, in launch order.
var Platforms = []models.Platform{
	models.PlatformS2A,
	models.PlatformS2B,
	models.PlatformS2C,
}

// QueryPair is one publication day to poll for one platform.
type QueryPair struct {
	Date     time.Time
	Platform models.Platform
}

// Generate returns the query pairs for the lookback window ending yesterday,
// newest day first. The current day is excluded so that every polled day is
// complete; recent publications still arrive promptly through the push
// subscription. Days are truncated to UTC midnight.
func Generate(now time.Time, lookbackDays int, platforms []models.Platform) []QueryPair {
	today := now.UTC().Truncate(24 * time.Hour)

	pairs := make([]QueryPair, 0, lookbackDays*len(platforms))
	for offset := 1; offset <= lookbackDays; offset++ {
		day := today.AddDate(0, 0, -offset)
		for _, platform := range platforms {
			pairs = append(pairs, QueryPair{Date: day, Platform: platform})
		}
	}
	return pairs
}
