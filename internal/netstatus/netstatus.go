// Package netstatus tells whether the tile server can be reached and how quickly.
package netstatus

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/offline_maps/internal/logctx"
)

// Status is the connectivity to the tile server.
type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
	Slow    Status = "slow"
)

// Prober issues a HEAD request against the tile server base URL.
type Prober struct {
	url           string
	client        *http.Client
	slowThreshold time.Duration
}

// NewProber returns a prober for baseURL. A request taking longer than slowThreshold
// reports Slow; a request failing or taking longer than timeout reports Offline.
func NewProber(baseURL string, timeout, slowThreshold time.Duration) *Prober {
	return &Prober{
		url: baseURL,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		slowThreshold: slowThreshold,
	}
}

// Check probes the server once. Any HTTP response, whatever its status code, means the
// server is reachable.
func (p *Prober) Check(ctx context.Context) Status {
	logger := logctx.LoggerFromContext(ctx)

	latency, err := p.head(ctx)
	if err != nil {
		logger.Debug("tile server unreachable", "url", p.url, "err", err)

		return Offline
	}

	if p.slowThreshold > 0 && latency > p.slowThreshold {
		logger.Debug("tile server slow", "url", p.url, "latency", latency)

		return Slow
	}

	return Online
}

func (p *Prober) head(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach tile server: %w", err)
	}
	defer resp.Body.Close()

	return time.Since(start), nil
}
