package downloader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openhls/s2-downloader/internal/config"
	"github.com/openhls/s2-downloader/internal/models"
	"github.com/openhls/s2-downloader/internal/queue"
	"github.com/openhls/s2-downloader/internal/repository"
	"github.com/openhls/s2-downloader/internal/secrets"
	"github.com/openhls/s2-downloader/internal/storage"
)

const (
	testChecksum = "ccb8e7f4f7a2f4c4b869d2b4d2e1a111"
	testBody     = "granule archive bytes"
)

// mockChecksums is a mock catalog.ChecksumFetcher.
type mockChecksums struct {
	mock.Mock
}

func (m *mockChecksums) ProductChecksum(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type workerFixture struct {
	granules  *repository.MockGranuleRepository
	status    *repository.MockStatusRepository
	checksums *mockChecksums
	uploader  *storage.MockUploader
	publisher *queue.MockPublisher
	now       time.Time
}

func newWorkerFixture(t *testing.T, cfg config.DownloadConfig) (*Worker, *workerFixture) {
	t.Helper()

	fx := &workerFixture{
		granules:  new(repository.MockGranuleRepository),
		status:    new(repository.MockStatusRepository),
		checksums: new(mockChecksums),
		uploader:  new(storage.MockUploader),
		publisher: new(queue.MockPublisher),
		now:       time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
	creds := secrets.Credentials{Username: "scihub-user", Password: "scihub-pass"}
	w := NewWorker(
		fx.granules, fx.status, fx.checksums, fx.uploader, fx.publisher,
		creds, cfg, 900*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	w.now = func() time.Time { return fx.now }
	return w, fx
}

func testGranule(downloadURL string) *models.Granule {
	return &models.Granule{
		ID:            "granule-x",
		Filename:      "S2A_MSIL1C_20260820T101031_N0511_R022_T31UFU_20260820T105459",
		TileID:        "31UFU",
		Size:          int64(len(testBody)),
		Checksum:      testChecksum,
		BeginPosition: time.Date(2026, 8, 20, 10, 10, 31, 0, time.UTC),
		EndPosition:   time.Date(2026, 8, 20, 10, 10, 41, 0, time.UTC),
		IngestionDate: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		DownloadURL:   downloadURL,
	}
}

func testMessage(g *models.Granule) queue.Message {
	return queue.Message{ID: g.ID, Filename: g.Filename, DownloadURL: g.DownloadURL}
}

func defaultConfig() config.DownloadConfig {
	return config.DownloadConfig{
		MaxRetries:  10,
		Timeout:     5 * time.Second,
		IntHub2Host: "inthub2.copernicus.eu",
	}
}

func expectLease(fx *workerFixture, acquired bool) {
	staleBefore := fx.now.Add(-900 * time.Second)
	fx.granules.On("AcquireLease", mock.Anything, "granule-x", fx.now, staleBefore).Return(acquired, nil)
}

func TestHandleSuccess(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		gotAuth.Store(user + ":" + pass)
		w.Write([]byte(testBody))
	}))
	defer server.Close()

	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule(server.URL + "/odata/v1/Products(granule-x)/$value")

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.checksums.On("ProductChecksum", mock.Anything, "granule-x").Return(testChecksum, nil)
	fx.uploader.On("Upload", mock.Anything, "2026-08-20/"+granule.Filename, granule.Size, testChecksum).
		Return("upload-bucket/2026-08-20/"+granule.Filename, nil)
	fx.granules.On("MarkDownloaded", mock.Anything, "granule-x", "upload-bucket/2026-08-20/"+granule.Filename, fx.now).
		Return(nil)
	fx.status.On("Upsert", mock.Anything, models.StatusKeyLastFileDownloaded, mock.Anything).Return(nil)

	err := worker.Handle(context.Background(), testMessage(granule))
	require.NoError(t, err)

	assert.Equal(t, "scihub-user:scihub-pass", gotAuth.Load())
	assert.Equal(t, []byte(testBody), fx.uploader.Uploaded["2026-08-20/"+granule.Filename])
	fx.granules.AssertExpectations(t)
	fx.granules.AssertNotCalled(t, "IncrementRetries", mock.Anything, mock.Anything)
}

func TestHandleChecksumDrift(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testBody))
	}))
	defer server.Close()

	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule(server.URL)
	granule.Checksum = "0000aaaa0000aaaa0000aaaa0000aaaa"

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.checksums.On("ProductChecksum", mock.Anything, "granule-x").Return(testChecksum, nil)
	fx.granules.On("UpdateChecksum", mock.Anything, "granule-x", testChecksum).Return(nil)
	fx.uploader.On("Upload", mock.Anything, mock.Anything, granule.Size, testChecksum).
		Return("upload-bucket/key", nil)
	fx.granules.On("MarkDownloaded", mock.Anything, "granule-x", "upload-bucket/key", fx.now).Return(nil)
	fx.status.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := worker.Handle(context.Background(), testMessage(granule))
	require.NoError(t, err)
	fx.granules.AssertExpectations(t)
}

func TestHandleUploadRejectedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupted bytes"))
	}))
	defer server.Close()

	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule(server.URL)
	msg := testMessage(granule)

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.checksums.On("ProductChecksum", mock.Anything, "granule-x").Return(testChecksum, nil)
	fx.uploader.On("Upload", mock.Anything, mock.Anything, granule.Size, testChecksum).
		Return("", errors.New("BadDigest: Content-MD5 did not match"))
	fx.granules.On("IncrementRetries", mock.Anything, "granule-x").Return(1, nil)
	fx.publisher.On("Publish", mock.Anything, msg).Return(nil)

	err := worker.Handle(context.Background(), msg)
	require.NoError(t, err, "transient failures are a consumer success")

	fx.granules.AssertExpectations(t)
	fx.publisher.AssertExpectations(t)
	fx.granules.AssertNotCalled(t, "MarkDownloaded", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleUpstreamServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule(server.URL)
	msg := testMessage(granule)

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.checksums.On("ProductChecksum", mock.Anything, "granule-x").Return(testChecksum, nil)
	fx.granules.On("IncrementRetries", mock.Anything, "granule-x").Return(3, nil)
	fx.publisher.On("Publish", mock.Anything, msg).Return(nil)

	err := worker.Handle(context.Background(), msg)
	require.NoError(t, err)
	fx.publisher.AssertExpectations(t)
}

func TestHandleGoneMarksExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule(server.URL)

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.checksums.On("ProductChecksum", mock.Anything, "granule-x").Return(testChecksum, nil)
	fx.granules.On("MarkExpired", mock.Anything, "granule-x").Return(nil)

	err := worker.Handle(context.Background(), testMessage(granule))
	require.NoError(t, err)

	fx.granules.AssertExpectations(t)
	fx.granules.AssertNotCalled(t, "IncrementRetries", mock.Anything, mock.Anything)
	fx.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestHandleUnauthorizedIsHardFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule(server.URL)

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.checksums.On("ProductChecksum", mock.Anything, "granule-x").Return(testChecksum, nil)
	fx.granules.On("ReleaseLease", mock.Anything, "granule-x").Return(nil)

	err := worker.Handle(context.Background(), testMessage(granule))
	assert.ErrorContains(t, err, "status 401")

	fx.granules.AssertCalled(t, "ReleaseLease", mock.Anything, "granule-x")
	fx.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestHandleRetryCapReached(t *testing.T) {
	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule("http://upstream.invalid/never-called")
	granule.DownloadRetries = 10

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.granules.On("ReleaseLease", mock.Anything, "granule-x").Return(nil)

	err := worker.Handle(context.Background(), testMessage(granule))
	require.NoError(t, err, "an abandoned granule drops the message")

	// No network call of any kind.
	fx.checksums.AssertNotCalled(t, "ProductChecksum", mock.Anything, mock.Anything)
	fx.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	fx.granules.AssertCalled(t, "ReleaseLease", mock.Anything, "granule-x")
}

func TestHandleRetryJustBelowCapStillRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testBody))
	}))
	defer server.Close()

	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule(server.URL)
	granule.DownloadRetries = 9

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.checksums.On("ProductChecksum", mock.Anything, "granule-x").Return(testChecksum, nil)
	fx.uploader.On("Upload", mock.Anything, mock.Anything, granule.Size, testChecksum).
		Return("upload-bucket/key", nil)
	fx.granules.On("MarkDownloaded", mock.Anything, "granule-x", "upload-bucket/key", fx.now).Return(nil)
	fx.status.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := worker.Handle(context.Background(), testMessage(granule))
	require.NoError(t, err)
	fx.granules.AssertExpectations(t)
}

func TestHandleSkipsTerminalStates(t *testing.T) {
	tests := []struct {
		name    string
		granule *models.Granule
	}{
		{name: "unknown granule", granule: nil},
		{
			name: "already downloaded",
			granule: func() *models.Granule {
				g := testGranule("http://upstream.invalid")
				g.Downloaded = true
				return g
			}(),
		},
		{
			name: "expired",
			granule: func() *models.Granule {
				g := testGranule("http://upstream.invalid")
				g.Expired = true
				return g
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker, fx := newWorkerFixture(t, defaultConfig())
			fx.granules.On("GetByID", mock.Anything, "granule-x").Return(tt.granule, nil)

			err := worker.Handle(context.Background(), queue.Message{ID: "granule-x"})
			require.NoError(t, err)

			fx.granules.AssertNotCalled(t, "AcquireLease", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandleLeaseHeldElsewhere(t *testing.T) {
	worker, fx := newWorkerFixture(t, defaultConfig())
	granule := testGranule("http://upstream.invalid")
	granule.InProgress = true

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, false)

	err := worker.Handle(context.Background(), testMessage(granule))
	require.NoError(t, err)

	fx.checksums.AssertNotCalled(t, "ProductChecksum", mock.Anything, mock.Anything)
}

func TestHandleIntHub2Rewrite(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		gotAuth.Store(user + ":" + pass)
		assert.Equal(t, "/odata/v1/Products(granule-x)/$value", r.URL.Path)
		w.Write([]byte(testBody))
	}))
	defer server.Close()

	cfg := defaultConfig()
	cfg.UseIntHub2 = true
	cfg.IntHub2Host = server.Listener.Addr().String()

	worker, fx := newWorkerFixture(t, cfg)
	worker.creds = secrets.Credentials{Username: "inthub2-user", Password: "inthub2-pass"}
	granule := testGranule("http://scihub.invalid/odata/v1/Products(granule-x)/$value")

	fx.granules.On("GetByID", mock.Anything, "granule-x").Return(granule, nil)
	expectLease(fx, true)
	fx.checksums.On("ProductChecksum", mock.Anything, "granule-x").Return(testChecksum, nil)
	fx.uploader.On("Upload", mock.Anything, mock.Anything, granule.Size, testChecksum).
		Return("upload-bucket/key", nil)
	fx.granules.On("MarkDownloaded", mock.Anything, "granule-x", "upload-bucket/key", fx.now).Return(nil)
	fx.status.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := worker.Handle(context.Background(), testMessage(granule))
	require.NoError(t, err)
	assert.Equal(t, "inthub2-user:inthub2-pass", gotAuth.Load())
}

func TestRewriteHost(t *testing.T) {
	rewritten, err := rewriteHost(
		"https://scihub.copernicus.eu/odata/v1/Products('x')/$value?param=1",
		"inthub2.copernicus.eu",
	)
	require.NoError(t, err)
	assert.Equal(t, "https://inthub2.copernicus.eu/odata/v1/Products('x')/$value?param=1", rewritten)
}
