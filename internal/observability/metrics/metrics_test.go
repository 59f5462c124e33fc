package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("kind", "renewal"),
		attribute.String("account_id", "acct_1"),
		attribute.String("event_type", "invoice.paid"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("kind"))
	assert.Contains(t, keys, attribute.Key("event_type"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordWebhookEvent(ctx, "stripe", "invoice.paid", "applied")
	m.RecordLedgerEntry(ctx, "renewal")
	m.RecordTokenDelta(ctx, "renewal", -10)
	m.RecordRateLimitDenied(ctx, "portal")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "tokenledger"}, noop.NewMeterProvider())
	require.NoError(t, err)
	ctx := context.Background()
	m.RecordWebhookEvent(ctx, "stripe", "customer.subscription.updated", "duplicate")
	m.RecordTokenDelta(ctx, "carry_over", -5000)
	m.RecordTokenDelta(ctx, "carry_over", 0)
}
