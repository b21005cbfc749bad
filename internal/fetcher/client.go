// Package fetcher downloads raster tiles from a slippy-map tile server.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/italolelis/offline_maps/internal/storage"
)

const (
	operationFetchTile = "fetch_tile"
	maxTileBytes       = 5 << 20
)

// Config configures the tile server client.
type Config struct {
	// BaseURL is the server root; tiles are requested at {BaseURL}/{z}/{x}/{y}.png.
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	// Retries is the number of extra attempts for retryable failures. Zero means a
	// single attempt.
	Retries       int
	RetryInterval time.Duration
}

// Client fetches tiles over HTTP.
type Client struct {
	baseURL       string
	userAgent     string
	httpClient    *http.Client
	retries       int
	retryInterval time.Duration
}

// NewClient builds a client whose transport is traced with otelhttp. When a token is set
// every request carries it as a bearer token.
func NewClient(cfg Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport)

	httpClient := &http.Client{Transport: transport}
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}

	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:     cfg.UserAgent,
		httpClient:    httpClient,
		retries:       cfg.Retries,
		retryInterval: cfg.RetryInterval,
	}
}

// TileURL returns the URL a tile is fetched from.
func (c *Client) TileURL(key storage.TileKey) string {
	return fmt.Sprintf("%s/%d/%d/%d.png", c.baseURL, key.Zoom, key.X, key.Y)
}

// Fetch downloads one tile. Failures are returned as *NetworkError, *AuthenticationError
// or *InvalidTileError; retryable ones are retried with exponential backoff when the
// client has retries configured.
func (c *Client) Fetch(ctx context.Context, key storage.TileKey) ([]byte, error) {
	if c.retries <= 0 {
		return c.fetchOnce(ctx, key)
	}

	b := backoff.NewExponentialBackOff()
	if c.retryInterval > 0 {
		b.InitialInterval = c.retryInterval
	}

	return backoff.Retry(ctx, func() ([]byte, error) {
		data, err := c.fetchOnce(ctx, key)
		if err != nil && !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}

		return data, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.retries+1)))
}

func (c *Client) fetchOnce(ctx context.Context, key storage.TileKey) ([]byte, error) {
	url := c.TileURL(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{Operation: operationFetchTile, URL: url, APIMessage: err.Error(), Err: err}
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	req.Header.Set("Accept", "image/png,image/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: operationFetchTile, URL: url, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, &AuthenticationError{Operation: operationFetchTile, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, &NetworkError{Operation: operationFetchTile, URL: url, StatusCode: resp.StatusCode, APIMessage: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		return nil, &NetworkError{Operation: operationFetchTile, URL: url, APIMessage: err.Error(), Err: err}
	}

	if len(data) > maxTileBytes {
		return nil, &InvalidTileError{URL: url, Reason: fmt.Sprintf("body exceeds %d bytes", maxTileBytes)}
	}

	if len(data) == 0 {
		return nil, &InvalidTileError{URL: url, Reason: "empty body"}
	}

	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/") {
		return nil, &InvalidTileError{URL: url, Reason: "unexpected content type " + ct}
	}

	return data, nil
}
