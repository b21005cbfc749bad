package fetcher

import (
	"context"

	"github.com/italolelis/offline_maps/internal/storage"
	"github.com/italolelis/offline_maps/internal/telemetry"
)

// InstrumentedClient wraps Client with tile fetch metrics and spans.
type InstrumentedClient struct {
	client    *Client
	telemetry *telemetry.Telemetry
}

func NewInstrumentedClient(client *Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{client: client, telemetry: tel}
}

func (c *InstrumentedClient) Fetch(ctx context.Context, key storage.TileKey) ([]byte, error) {
	var data []byte

	err := c.telemetry.InstrumentTileFetch(ctx, func(ctx context.Context) (int, error) {
		var err error

		data, err = c.client.Fetch(ctx, key)

		return len(data), err
	})

	return data, err
}

func (c *InstrumentedClient) TileURL(key storage.TileKey) string {
	return c.client.TileURL(key)
}
