// Package catalog implements the client for the upstream Copernicus Data
// Space Ecosystem search and product metadata APIs.
package catalog

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
)

// SearchResult is one product entry from a catalog page or push event,
// carrying everything admission needs.
type SearchResult struct {
	ID            string
	Filename      string
	TileID        string
	Size          int64
	BeginPosition time.Time
	EndPosition   time.Time
	IngestionDate time.Time
	DownloadURL   string
	// Checksum is empty for poll results; the push schema carries it.
	Checksum string
}

// The tile ID is embedded in the product title as `_TXXXXX_`, where XXXXX
// is the 5-character alphanumeric MGRS code.
// https://sentinels.copernicus.eu/web/sentinel/user-guides/sentinel-2-msi/naming-convention
var tileIDPattern = regexp.MustCompile(`_T([0-9A-Z]{5})_`)

// ParseTileID extracts the MGRS tile code from a product title. It returns
// an empty string when the title carries no tile segment.
func ParseTileID(title string) string {
	match := tileIDPattern.FindStringSubmatch(title)
	if match == nil {
		return ""
	}
	return match[1]
}

// searchPage mirrors the OpenSearch response envelope.
type searchPage struct {
	Properties struct {
		TotalResults *int64 `json:"totalResults"`
	} `json:"properties"`
	Features []searchFeature `json:"features"`
}

type searchFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Title          string    `json:"title"`
		StartDate      time.Time `json:"startDate"`
		CompletionDate time.Time `json:"completionDate"`
		Published      time.Time `json:"published"`
		Services       struct {
			Download struct {
				URL string `json:"url"`
				// Upstream reports the size as either a number or a
				// human-readable string such as "812.21 MB".
				Size json.RawMessage `json:"size"`
			} `json:"download"`
		} `json:"services"`
	} `json:"properties"`
}

func (f searchFeature) toResult() (SearchResult, error) {
	size, err := parseSize(f.Properties.Services.Download.Size)
	if err != nil {
		return SearchResult{}, fmt.Errorf("product %s: %w", f.ID, err)
	}

	return SearchResult{
		ID:            f.ID,
		Filename:      f.Properties.Title,
		TileID:        ParseTileID(f.Properties.Title),
		Size:          size,
		BeginPosition: f.Properties.StartDate,
		EndPosition:   f.Properties.CompletionDate,
		IngestionDate: f.Properties.Published,
		DownloadURL:   f.Properties.Services.Download.URL,
	}, nil
}

func parseSize(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("unparseable size %s", raw)
	}
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("unparseable size %q: %w", s, err)
	}
	return int64(bytes), nil
}
