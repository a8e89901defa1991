package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhls/s2-downloader/internal/config"
	"github.com/openhls/s2-downloader/internal/models"
)

const searchPageFixture = `{
	"properties": {"totalResults": 280},
	"features": [
		{
			"id": "422fd86d-7019-47c6-be4f-036fbf5ce874",
			"properties": {
				"title": "S2B_MSIL1C_20200101T362111_N0208_R001_T01UCS_20200101T362111",
				"startDate": "2020-01-01T01:02:03.456Z",
				"completionDate": "2020-01-01T01:02:03.456Z",
				"published": "2020-01-01T02:30:00.000Z",
				"services": {
					"download": {
						"url": "https://zipper.dataspace.copernicus.eu/odata/v1/Products(422fd86d-7019-47c6-be4f-036fbf5ce874)/$value",
						"size": 693056307
					}
				}
			}
		},
		{
			"id": "9b6a4cb5-7af0-4d33-8d9b-8f1e0f1d2f41",
			"properties": {
				"title": "S2B_MSIL1C_20200101T362111_N0208_R001_T31UFU_20200101T362111",
				"startDate": "2020-01-01T01:05:00.000Z",
				"completionDate": "2020-01-01T01:05:10.000Z",
				"published": "2020-01-01T02:31:00.000Z",
				"services": {
					"download": {
						"url": "https://zipper.dataspace.copernicus.eu/odata/v1/Products(9b6a4cb5-7af0-4d33-8d9b-8f1e0f1d2f41)/$value",
						"size": "812.21 MB"
					}
				}
			}
		}
	]
}`

const checksumFixture = `{
	"value": [
		{
			"Checksum": [
				{"Value": "ccb8e7f4f7a2f4c4b869d2b4d2e1a111", "Algorithm": "MD5"},
				{"Value": "deadbeef", "Algorithm": "BLAKE3"}
			]
		}
	]
}`

func newTestClient(serverURL string) *Client {
	return NewClient(config.CatalogConfig{
		SearchURL:   serverURL,
		ChecksumURL: serverURL,
		PageSize:    100,
		Timeout:     5 * time.Second,
	})
}

func TestSearchPage(t *testing.T) {
	var gotQuery atomic.Pointer[http.Request]
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.Clone(context.Background()))
		w.Write([]byte(searchPageFixture))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	results, total, err := client.SearchPage(context.Background(), day, models.PlatformS2B, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(280), total)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, "422fd86d-7019-47c6-be4f-036fbf5ce874", first.ID)
	assert.Equal(t, "S2B_MSIL1C_20200101T362111_N0208_R001_T01UCS_20200101T362111", first.Filename)
	assert.Equal(t, "01UCS", first.TileID)
	assert.Equal(t, int64(693056307), first.Size)
	assert.Equal(t, time.Date(2020, 1, 1, 1, 2, 3, 456000000, time.UTC), first.BeginPosition)
	assert.Equal(t, time.Date(2020, 1, 1, 2, 30, 0, 0, time.UTC), first.IngestionDate)
	assert.Empty(t, first.Checksum)

	// Human-readable sizes are parsed too.
	assert.Equal(t, "31UFU", results[1].TileID)
	assert.Equal(t, int64(812210000), results[1].Size)

	req := gotQuery.Load()
	require.NotNil(t, req)
	assert.Equal(t, searchPath, req.URL.Path)
	query := req.URL.Query()
	assert.Equal(t, "S2MSI1C", query.Get("processingLevel"))
	assert.Equal(t, "2020-01-01T00:00:00Z", query.Get("publishedAfter"))
	assert.Equal(t, "2020-01-01T23:59:59Z", query.Get("publishedBefore"))
	assert.Equal(t, "2019-12-02T00:00:00Z", query.Get("startDate"))
	assert.Equal(t, "S2B", query.Get("platform"))
	assert.Equal(t, "published", query.Get("sortParam"))
	assert.Equal(t, "desc", query.Get("sortOrder"))
	assert.Equal(t, "100", query.Get("maxRecords"))
	assert.Equal(t, "1", query.Get("index"))
	assert.Equal(t, "1", query.Get("exactCount"))
}

func TestSearchPageIndexIsOneBased(t *testing.T) {
	var index atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		index.Store(r.URL.Query().Get("index"))
		w.Write([]byte(`{"properties": {"totalResults": 0}, "features": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	results, total, err := client.SearchPage(context.Background(), day, models.PlatformS2A, 200)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, "201", index.Load())
}

func TestSearchPageMissingTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"properties": {}, "features": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	_, total, err := client.SearchPage(context.Background(), day, models.PlatformS2A, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), total)
}

func TestSearchPageClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := client.SearchPage(context.Background(), day, models.PlatformS2A, 0)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestProductChecksum(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/odata/v1/Products(422fd86d-7019-47c6-be4f-036fbf5ce874)", r.URL.Path)
		w.Write([]byte(checksumFixture))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	checksum, err := client.ProductChecksum(context.Background(), "422fd86d-7019-47c6-be4f-036fbf5ce874")
	require.NoError(t, err)
	assert.Equal(t, "ccb8e7f4f7a2f4c4b869d2b4d2e1a111", checksum)
}

func TestProductChecksumNoMD5(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": [{"Checksum": [{"Value": "deadbeef", "Algorithm": "BLAKE3"}]}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.ProductChecksum(context.Background(), "some-id")
	assert.ErrorContains(t, err, "no MD5 checksum")
}

func TestProductChecksumEmptyValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.ProductChecksum(context.Background(), "some-id")
	assert.ErrorContains(t, err, "no product metadata")
}

func TestParseTileID(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "standard product title",
			title: "S2B_MSIL1C_20200101T362111_N0208_R001_T01UCS_20200101T362111",
			want:  "01UCS",
		},
		{
			name:  "alphanumeric tile",
			title: "S2A_MSIL1C_20200101T000000_N0208_R001_T31UFU_20200101T000000",
			want:  "31UFU",
		},
		{
			name:  "no tile segment",
			title: "S2A_MSIL1C_20200101T000000_N0208_R001",
			want:  "",
		},
		{
			name:  "empty title",
			title: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTileID(tt.title))
		})
	}
}
