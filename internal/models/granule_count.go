package models

import "time"

// GranuleCount tracks per-day, per-platform discovery progress.
//
// available_links is the total the catalog advertises for the day;
// fetched_links is how many of those the fetcher has paged through. The
// fetcher uses the row both as a resume point and as telemetry.
type GranuleCount struct {
	Date            time.Time `json:"date" db:"date"`
	Platform        Platform  `json:"platform" db:"platform"`
	AvailableLinks  int64     `json:"available_links" db:"available_links"`
	FetchedLinks    int64     `json:"fetched_links" db:"fetched_links"`
	LastFetchedTime time.Time `json:"last_fetched_time" db:"last_fetched_time"`
}
