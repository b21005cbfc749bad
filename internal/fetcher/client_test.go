package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/offline_maps/internal/storage"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func TestFetchSuccess(t *testing.T) {
	var gotPath, gotUA string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.UserAgent()

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", UserAgent: "offline-maps-test", Timeout: time.Second})

	data, err := c.Fetch(context.Background(), storage.TileKey{X: 511, Y: 340, Zoom: 10})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, "/10/511/340.png", gotPath)
	assert.Equal(t, "offline-maps-test", gotUA)
}

func TestFetchSendsBearerToken(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "secret", Timeout: time.Second})

	_, err := c.Fetch(context.Background(), storage.TileKey{X: 0, Y: 0, Zoom: 0})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			check: func(t *testing.T, err error) {
				var netErr *NetworkError
				require.ErrorAs(t, err, &netErr)
				assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			check: func(t *testing.T, err error) {
				var authErr *AuthenticationError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
			},
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			check: func(t *testing.T, err error) {
				var invalid *InvalidTileError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "empty body", invalid.Reason)
			},
		},
		{
			name: "html error page",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>quota exceeded</html>"))
			},
			check: func(t *testing.T, err error) {
				var invalid *InvalidTileError
				require.ErrorAs(t, err, &invalid)
			},
		},
		{
			name: "oversized body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				_, _ = w.Write(make([]byte, maxTileBytes+1))
			},
			check: func(t *testing.T, err error) {
				var invalid *InvalidTileError
				require.ErrorAs(t, err, &invalid)
				assert.Contains(t, invalid.Reason, "exceeds")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})

			_, err := c.Fetch(context.Background(), storage.TileKey{X: 1, Y: 1, Zoom: 1})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Timeout: time.Second})

	_, err := c.Fetch(context.Background(), storage.TileKey{X: 1, Y: 1, Zoom: 1})

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
}

func TestFetchWithoutRetriesMakesOneAttempt(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})

	_, err := c.Fetch(context.Background(), storage.TileKey{X: 1, Y: 1, Zoom: 1})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second, Retries: 3, RetryInterval: time.Millisecond})

	data, err := c.Fetch(context.Background(), storage.TileKey{X: 1, Y: 1, Zoom: 1})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchDoesNotRetryPermanentFailures(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second, Retries: 3, RetryInterval: time.Millisecond})

	_, err := c.Fetch(context.Background(), storage.TileKey{X: 1, Y: 1, Zoom: 1})

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})

	_, err := c.Fetch(ctx, storage.TileKey{X: 1, Y: 1, Zoom: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInstrumentedClientWithoutTelemetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	c := NewInstrumentedClient(NewClient(Config{BaseURL: srv.URL, Timeout: time.Second}), nil)

	data, err := c.Fetch(context.Background(), storage.TileKey{X: 2, Y: 3, Zoom: 4})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, srv.URL+"/4/2/3.png", c.TileURL(storage.TileKey{X: 2, Y: 3, Zoom: 4}))
}

func TestFetchAcceptsTileAtSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(make([]byte, maxTileBytes))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})

	data, err := c.Fetch(context.Background(), storage.TileKey{X: 1, Y: 1, Zoom: 1})
	require.NoError(t, err)
	assert.Len(t, data, maxTileBytes)
}
