package requeuer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openhls/s2-downloader/internal/models"
	"github.com/openhls/s2-downloader/internal/queue"
	"github.com/openhls/s2-downloader/internal/repository"
)

const testQueueURL = "https://sqs.us-west-2.amazonaws.com/123456789012/to-download"

func boolPtr(b bool) *bool { return &b }

func newRequeuerFixture() (*Requeuer, *repository.MockGranuleRepository, *queue.MockPublisher) {
	granules := new(repository.MockGranuleRepository)
	publisher := new(queue.MockPublisher)
	r := New(granules, publisher, testQueueURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return r, granules, publisher
}

func undownloadedGranules() []*models.Granule {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	var granules []*models.Granule
	for _, id := range []string{"granule-a", "granule-b", "granule-c"} {
		granules = append(granules, &models.Granule{
			ID:            id,
			Filename:      id + ".zip",
			IngestionDate: day,
			DownloadURL:   "https://zipper.dataspace.copernicus.eu/odata/v1/Products(" + id + ")/$value",
		})
	}
	return granules
}

func TestRequeueDryRun(t *testing.T) {
	r, granules, publisher := newRequeuerFixture()
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	granules.On("ListUndownloadedByIngestionDate", mock.Anything, day).Return(undownloadedGranules(), nil)

	resp, err := r.Requeue(context.Background(), Request{DryRun: boolPtr(true), Date: "2023-06-10"})
	require.NoError(t, err)

	assert.True(t, resp.DryRun)
	assert.Equal(t, testQueueURL, resp.QueueURL)
	assert.Equal(t, "2023-06-10", resp.IngestionDate)
	assert.Equal(t, 3, resp.Count)
	assert.Len(t, resp.Granules, 3)
	assert.Equal(t, GranuleRef{ID: "granule-a", Filename: "granule-a.zip"}, resp.Granules[0])
	assert.NotEmpty(t, resp.RunID)

	// Dry run touches neither the queue nor the database.
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRequeuePublishes(t *testing.T) {
	r, granules, publisher := newRequeuerFixture()
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	granules.On("ListUndownloadedByIngestionDate", mock.Anything, day).Return(undownloadedGranules(), nil)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(msg queue.Message) bool {
		return msg.ID != "" && msg.DownloadURL != ""
	})).Return(nil).Times(3)

	resp, err := r.Requeue(context.Background(), Request{DryRun: boolPtr(false), Date: "2023-06-10"})
	require.NoError(t, err)

	assert.False(t, resp.DryRun)
	assert.Equal(t, 3, resp.Count)
	publisher.AssertNumberOfCalls(t, "Publish", 3)
}

func TestRequeueDryRunRequired(t *testing.T) {
	r, granules, _ := newRequeuerFixture()

	_, err := r.Requeue(context.Background(), Request{Date: "2023-06-10"})
	assert.ErrorIs(t, err, ErrDryRunRequired)

	granules.AssertNotCalled(t, "ListUndownloadedByIngestionDate", mock.Anything, mock.Anything)
}

func TestRequeueInvalidDate(t *testing.T) {
	r, _, _ := newRequeuerFixture()

	_, err := r.Requeue(context.Background(), Request{DryRun: boolPtr(true), Date: "10/06/2023"})
	assert.ErrorContains(t, err, "invalid date")
}

func TestRequeueEmptyDay(t *testing.T) {
	r, granules, publisher := newRequeuerFixture()
	day := time.Date(2023, 6, 11, 0, 0, 0, 0, time.UTC)

	granules.On("ListUndownloadedByIngestionDate", mock.Anything, day).Return([]*models.Granule{}, nil)

	resp, err := r.Requeue(context.Background(), Request{DryRun: boolPtr(false), Date: "2023-06-11"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Count)
	assert.Empty(t, resp.Granules)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRequeueQueueErrorIsFatal(t *testing.T) {
	r, granules, publisher := newRequeuerFixture()
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	granules.On("ListUndownloadedByIngestionDate", mock.Anything, day).Return(undownloadedGranules(), nil)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("queue unavailable")).Once()

	_, err := r.Requeue(context.Background(), Request{DryRun: boolPtr(false), Date: "2023-06-10"})
	assert.ErrorContains(t, err, "queue unavailable")
}
