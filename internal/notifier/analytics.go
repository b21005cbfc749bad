package notifier

import (
	"fmt"

	"github.com/posthog/posthog-go"
)

// Tracker reports product analytics events to PostHog. A nil Tracker discards them.
type Tracker struct {
	client     posthog.Client
	distinctID string
}

// NewTracker connects to PostHog at endpoint. An empty endpoint uses the PostHog cloud.
func NewTracker(apiKey, endpoint, distinctID string) (*Tracker, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, fmt.Errorf("failed to create posthog client: %w", err)
	}

	return newTracker(client, distinctID), nil
}

func newTracker(client posthog.Client, distinctID string) *Tracker {
	if distinctID == "" {
		distinctID = GenerateInstanceID()
	}

	return &Tracker{client: client, distinctID: distinctID}
}

// Track enqueues an event; delivery happens in the background.
func (t *Tracker) Track(event string, props map[string]any) error {
	if t == nil {
		return nil
	}

	properties := posthog.NewProperties()
	for k, v := range props {
		properties.Set(k, v)
	}

	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: t.distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", event, err)
	}

	return nil
}

// Close flushes pending events.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}

	return t.client.Close()
}
