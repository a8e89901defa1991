package models

// Status is a generic key-value row holding small pieces of persistent
// state, such as the link fetcher's per-day paging cursor.
type Status struct {
	KeyName string `json:"key_name" db:"key_name"`
	Value   string `json:"value" db:"value"`
}

// Well-known status keys.
const (
	StatusKeyLastLinkFetched    = "last_linked_fetched_time"
	StatusKeyLastFileDownloaded = "last_file_downloaded_time"
)
