package domain

import (
	"context"
	"net/http"
	"time"
)

// Adapter authenticates and normalizes one billing provider's webhook deliveries.
type Adapter interface {
	// Verify rejects payloads whose signature does not match the shared secret.
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse classifies a verified payload. Unknown event types yield Unrecognized, not an error.
	Parse(ctx context.Context, payload []byte) (Event, error)
}

type AdapterConfig struct {
	WebhookSecret    string
	WebhookTolerance time.Duration
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
