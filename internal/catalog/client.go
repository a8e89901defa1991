package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openhls/s2-downloader/internal/config"
	"github.com/openhls/s2-downloader/internal/models"
)

const (
	searchPath = "/resto/api/collections/Sentinel2/search.json"

	// Retry policy for upstream calls: exponential backoff from 2s, at
	// most 7 attempts. 4xx responses are permanent.
	retryInitialInterval = 2 * time.Second
	retryMaxAttempts     = 7

	// Acquisition floor relative to the publication day; suppresses bulk
	// reprocessing of older scenes showing up in the publication window.
	acquisitionLookback = 30 * 24 * time.Hour
)

// StatusError is an upstream HTTP error response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.Code, e.URL)
}

// Searcher is the catalog interface the link fetcher depends on.
type Searcher interface {
	// SearchPage fetches one page of products published on day for the
	// platform, starting at the 0-based offset. It returns the page and
	// the advertised total (-1 when upstream omits it).
	SearchPage(ctx context.Context, day time.Time, platform models.Platform, start int) ([]SearchResult, int64, error)
}

// ChecksumFetcher retrieves the authoritative MD5 for a product.
type ChecksumFetcher interface {
	ProductChecksum(ctx context.Context, id string) (string, error)
}

// Client talks to the CDSE OpenSearch and OData endpoints.
type Client struct {
	httpClient  *http.Client
	searchURL   string
	checksumURL string
	pageSize    int
}

// NewClient creates a catalog client.
func NewClient(cfg config.CatalogConfig) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		searchURL:   cfg.SearchURL,
		checksumURL: cfg.ChecksumURL,
		pageSize:    cfg.PageSize,
	}
}

// PageSize returns the fixed page size used for search queries.
func (c *Client) PageSize() int {
	return c.pageSize
}

// SearchPage fetches one page of results for (day, platform).
func (c *Client) SearchPage(ctx context.Context, day time.Time, platform models.Platform, start int) ([]SearchResult, int64, error) {
	params := c.queryParameters(day, platform, start)
	endpoint := c.searchURL + searchPath + "?" + params.Encode()

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, 0, err
	}

	var page searchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, 0, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(page.Features))
	for _, feature := range page.Features {
		result, err := feature.toResult()
		if err != nil {
			return nil, 0, err
		}
		results = append(results, result)
	}

	// Upstream occasionally omits totalResults or sends null.
	total := int64(-1)
	if page.Properties.TotalResults != nil {
		total = *page.Properties.TotalResults
	}

	return results, total, nil
}

// queryParameters builds the OpenSearch query for one publication day.
func (c *Client) queryParameters(day time.Time, platform models.Platform, start int) url.Values {
	dayString := day.UTC().Format("2006-01-02")
	oldestAcquisition := day.UTC().Add(-acquisitionLookback).Format("2006-01-02")

	params := url.Values{}
	params.Set("processingLevel", "S2MSI1C")
	params.Set("publishedAfter", dayString+"T00:00:00Z")
	params.Set("publishedBefore", dayString+"T23:59:59Z")
	params.Set("startDate", oldestAcquisition+"T00:00:00Z")
	params.Set("platform", platform.String())
	params.Set("sortParam", "published")
	params.Set("sortOrder", "desc")
	params.Set("maxRecords", strconv.Itoa(c.pageSize))
	// `start` is 0-based, but `index` is 1-based.
	params.Set("index", strconv.Itoa(start+1))
	// The OpenSearch API stopped counting results by default; see the
	// 2023-10-24 "update of the exactCount parameter" release note.
	params.Set("exactCount", "1")
	return params
}

// productChecksums mirrors the OData product metadata envelope.
type productChecksums struct {
	Value []struct {
		Checksum []struct {
			Value     string `json:"Value"`
			Algorithm string `json:"Algorithm"`
		} `json:"Checksum"`
	} `json:"value"`
}

// ProductChecksum fetches the MD5 the catalog declares for a product.
func (c *Client) ProductChecksum(ctx context.Context, id string) (string, error) {
	endpoint := fmt.Sprintf("%s/odata/v1/Products(%s)", c.checksumURL, id)

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var product productChecksums
	if err := json.Unmarshal(body, &product); err != nil {
		return "", fmt.Errorf("failed to decode product metadata for %s: %w", id, err)
	}

	if len(product.Value) == 0 {
		return "", fmt.Errorf("no product metadata for %s", id)
	}
	for _, checksum := range product.Value[0].Checksum {
		if checksum.Algorithm == "MD5" {
			return checksum.Value, nil
		}
	}
	return "", fmt.Errorf("no MD5 checksum for product %s", id)
}

// getWithRetry performs a GET with the package retry policy.
func (c *Client) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponentialBackOff(), retryMaxAttempts-1),
		ctx,
	)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return &StatusError{Code: resp.StatusCode, URL: endpoint}
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&StatusError{Code: resp.StatusCode, URL: endpoint})
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

func newExponentialBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	return bo
}

// Compile-time checks.
var (
	_ Searcher        = (*Client)(nil)
	_ ChecksumFetcher = (*Client)(nil)
)
