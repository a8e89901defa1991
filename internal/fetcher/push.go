package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openhls/s2-downloader/internal/catalog"
	"github.com/openhls/s2-downloader/internal/tiles"
)

// ErrMalformedNotification marks push payloads that do not conform to the
// upstream schema. The HTTP surface maps it to a 400.
var ErrMalformedNotification = errors.New("malformed notification")

// Outcome classifies how a push notification was handled.
type Outcome string

const (
	OutcomeAdmitted     Outcome = "admitted"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeFilteredAge  Outcome = "filtered_age"
	OutcomeFilteredTile Outcome = "filtered_tile"
)

// Notification is the upstream push event envelope.
type Notification struct {
	Value PushProduct `json:"value" validate:"required"`
}

// PushProduct is the product descriptor carried in a push event.
type PushProduct struct {
	ID          string `json:"Id" validate:"required"`
	Name        string `json:"Name" validate:"required"`
	ContentDate struct {
		Start time.Time `json:"Start"`
		End   time.Time `json:"End"`
	} `json:"ContentDate"`
	PublicationDate time.Time      `json:"PublicationDate"`
	Locations       []PushLocation `json:"Locations" validate:"required,min=1"`
}

// PushLocation is one download location entry within a push event.
type PushLocation struct {
	FormatType    string `json:"FormatType"`
	DownloadLink  string `json:"DownloadLink"`
	ContentLength int64  `json:"ContentLength"`
	Checksum      []struct {
		Value     string `json:"Value"`
		Algorithm string `json:"Algorithm"`
	} `json:"Checksum"`
	S3Path string `json:"S3Path"`
}

// parseNotification converts a push event into a SearchResult. The event
// must carry exactly one "Extracted" location with an MD5 checksum.
func parseNotification(n Notification) (catalog.SearchResult, error) {
	var extracted []PushLocation
	for _, location := range n.Value.Locations {
		if location.FormatType == "Extracted" {
			extracted = append(extracted, location)
		}
	}
	if len(extracted) != 1 {
		return catalog.SearchResult{}, fmt.Errorf(
			"%w: got %d 'Extracted' locations, expected 1", ErrMalformedNotification, len(extracted))
	}
	location := extracted[0]

	checksum := ""
	for _, c := range location.Checksum {
		if c.Algorithm == "MD5" {
			checksum = c.Value
			break
		}
	}
	if checksum == "" {
		return catalog.SearchResult{}, fmt.Errorf("%w: no MD5 checksum", ErrMalformedNotification)
	}

	return catalog.SearchResult{
		ID:            n.Value.ID,
		Filename:      n.Value.Name,
		TileID:        catalog.ParseTileID(n.Value.Name),
		Size:          location.ContentLength,
		BeginPosition: n.Value.ContentDate.Start,
		EndPosition:   n.Value.ContentDate.End,
		IngestionDate: n.Value.PublicationDate,
		DownloadURL:   location.DownloadLink,
		Checksum:      checksum,
	}, nil
}

// PushProcessor filters and admits granules delivered by push events.
type PushProcessor struct {
	admitter  *Admitter
	allowlist tiles.Allowlist
	recency   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPushProcessor creates a push event processor. recencyDays bounds how
// old an acquisition may be before the event is dropped.
func NewPushProcessor(admitter *Admitter, allowlist tiles.Allowlist, recencyDays int, logger *slog.Logger) *PushProcessor {
	return &PushProcessor{
		admitter:  admitter,
		allowlist: allowlist,
		recency:   time.Duration(recencyDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
	}
}

// Process parses, filters, and potentially admits one push notification.
// Filtered events are a success from the caller's perspective; only parse
// and persistence failures return an error.
func (p *PushProcessor) Process(ctx context.Context, notification Notification) (Outcome, error) {
	result, err := parseNotification(notification)
	if err != nil {
		return "", err
	}

	// Events for old acquisitions are bulk reprocessing of archive
	// material, not new scenes.
	oldestAcquisition := p.now().UTC().Add(-p.recency)
	if result.BeginPosition.Before(oldestAcquisition) {
		granulesFiltered.WithLabelValues(sourcePush, "age").Inc()
		p.logger.Info("push event rejected, acquisition too old",
			slog.String("granule_id", result.ID),
			slog.Time("beginposition", result.BeginPosition),
		)
		return OutcomeFilteredAge, nil
	}

	if !p.allowlist.Contains(result.TileID) {
		granulesFiltered.WithLabelValues(sourcePush, "tile").Inc()
		p.logger.Info("push event rejected, tile not accepted",
			slog.String("granule_id", result.ID),
			slog.String("tile_id", result.TileID),
		)
		return OutcomeFilteredTile, nil
	}

	created, err := p.admitter.Admit(ctx, result, sourcePush)
	if err != nil {
		return "", err
	}
	if !created {
		return OutcomeDuplicate, nil
	}
	return OutcomeAdmitted, nil
}
