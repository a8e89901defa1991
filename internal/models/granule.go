// Package models defines the persistent data model shared by the pipeline
// workers.
package models

import "time"

// Platform is a satellite designator within the Sentinel-2 constellation.
type Platform string

const (
	PlatformS2A Platform = "S2A"
	PlatformS2B Platform = "S2B"
	PlatformS2C Platform = "S2C"
)

// Valid returns true if the platform is a known Sentinel-2 designator.
func (p Platform) Valid() bool {
	switch p {
	case PlatformS2A, PlatformS2B, PlatformS2C:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (p Platform) String() string {
	return string(p)
}

// Granule represents one Sentinel-2 product tracked by the pipeline.
//
// A row is created once by the link fetcher (admission) and afterwards
// mutated only by the download worker holding the in_progress lease.
type Granule struct {
	ID               string     `json:"id" db:"id"`
	Filename         string     `json:"filename" db:"filename"`
	TileID           string     `json:"tileid" db:"tileid"`
	Size             int64      `json:"size" db:"size"`
	Checksum         string     `json:"checksum" db:"checksum"`
	BeginPosition    time.Time  `json:"beginposition" db:"beginposition"`
	EndPosition      time.Time  `json:"endposition" db:"endposition"`
	IngestionDate    time.Time  `json:"ingestiondate" db:"ingestiondate"`
	DownloadURL      string     `json:"download_url" db:"download_url"`
	Downloaded       bool       `json:"downloaded" db:"downloaded"`
	InProgress       bool       `json:"in_progress" db:"in_progress"`
	InProgressSince  *time.Time `json:"in_progress_since,omitempty" db:"in_progress_since"`
	UploadedLocation *string    `json:"uploaded_granule_file_location,omitempty" db:"uploaded_granule_file_location"`
	DownloadStarted  *time.Time `json:"download_started,omitempty" db:"download_started"`
	DownloadFinished *time.Time `json:"download_finished,omitempty" db:"download_finished"`
	DownloadRetries  int        `json:"download_retries" db:"download_retries"`
	Expired          bool       `json:"expired" db:"expired"`
}
