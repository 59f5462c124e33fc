package stripe

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/tokenledger/internal/billingevent/adapters/stripe/stripetest"
	"github.com/smallbiznis/tokenledger/internal/billingevent/domain"
	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
)

const testSecret = "whsec_test"

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{WebhookSecret: testSecret})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func signedHeaders(secret string, payload []byte, ts time.Time) http.Header {
	headers := http.Header{}
	headers.Set(SignatureHeader, stripetest.SignatureHeader(secret, payload, ts.Unix()))
	return headers
}

func TestVerifySignature(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := stripetest.GenericEvent("evt_123", "charge.succeeded")
	now := time.Now()

	require.NoError(t, adapter.Verify(context.Background(), payload, signedHeaders(testSecret, payload, now)))

	err := adapter.Verify(context.Background(), payload, signedHeaders("wrong", payload, now))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = adapter.Verify(context.Background(), payload, http.Header{})
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	err = adapter.Verify(context.Background(), tampered, signedHeaders(testSecret, payload, now))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := stripetest.GenericEvent("evt_old", "charge.succeeded")

	err := adapter.Verify(context.Background(), payload, signedHeaders(testSecret, payload, time.Now().Add(-time.Hour)))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestParseSubscriptionEvents(t *testing.T) {
	adapter := newTestAdapter(t)
	periodEnd := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	sub := stripetest.Subscription{
		ID:        "sub_1",
		Customer:  "cus_1",
		AccountID: "acct_1",
		PriceID:   "price_pro_monthly",
		PeriodEnd: periodEnd,
	}

	tests := []struct {
		name    string
		payload []byte
		check   func(t *testing.T, event domain.Event)
	}{
		{
			name:    "created",
			payload: stripetest.SubscriptionEvent("evt_created", "customer.subscription.created", sub, nil),
			check: func(t *testing.T, event domain.Event) {
				created, ok := event.(domain.SubscriptionCreated)
				require.True(t, ok, "got %T", event)
				assert.Equal(t, "evt_created", created.EventID)
				assert.Equal(t, "acct_1", created.Subscription.AccountID)
				assert.Equal(t, "cus_1", created.Subscription.CustomerID)
				assert.Equal(t, "price_pro_monthly", created.Subscription.PriceID)
				assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, created.Subscription.Status)
				assert.True(t, periodEnd.Equal(created.Subscription.CurrentPeriodEnd))
			},
		},
		{
			name: "tier changed",
			payload: stripetest.SubscriptionEvent("evt_tier", "customer.subscription.updated", sub,
				stripetest.PreviousPrice("price_basic_monthly")),
			check: func(t *testing.T, event domain.Event) {
				changed, ok := event.(domain.SubscriptionTierChanged)
				require.True(t, ok, "got %T", event)
				assert.Equal(t, "price_basic_monthly", changed.PreviousPriceID)
				assert.Equal(t, "price_pro_monthly", changed.Subscription.PriceID)
			},
		},
		{
			name: "same price in previous attributes is not a tier change",
			payload: stripetest.SubscriptionEvent("evt_same", "customer.subscription.updated", sub,
				stripetest.PreviousPrice("price_pro_monthly")),
			check: func(t *testing.T, event domain.Event) {
				_, ok := event.(domain.SubscriptionOtherUpdate)
				require.True(t, ok, "got %T", event)
			},
		},
		{
			name: "cancellation toggled",
			payload: stripetest.SubscriptionEvent("evt_cancel", "customer.subscription.updated",
				withCancel(sub, true), stripetest.PreviousCancelAtPeriodEnd(false)),
			check: func(t *testing.T, event domain.Event) {
				toggled, ok := event.(domain.SubscriptionCancellationToggled)
				require.True(t, ok, "got %T", event)
				assert.True(t, toggled.Subscription.CancelAtPeriodEnd)
			},
		},
		{
			name: "payment method change",
			payload: stripetest.SubscriptionEvent("evt_pm", "customer.subscription.updated", sub,
				map[string]any{"default_payment_method": "pm_old"}),
			check: func(t *testing.T, event domain.Event) {
				_, ok := event.(domain.SubscriptionOtherUpdate)
				require.True(t, ok, "got %T", event)
			},
		},
		{
			name:    "deleted",
			payload: stripetest.SubscriptionEvent("evt_deleted", "customer.subscription.deleted", withStatus(sub, "canceled"), nil),
			check: func(t *testing.T, event domain.Event) {
				deleted, ok := event.(domain.SubscriptionDeleted)
				require.True(t, ok, "got %T", event)
				assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, deleted.Subscription.Status)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event, err := adapter.Parse(context.Background(), tc.payload)
			require.NoError(t, err)
			tc.check(t, event)
		})
	}
}

func TestParseInvoicePaidReasons(t *testing.T) {
	adapter := newTestAdapter(t)
	periodEnd := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	cases := map[string]domain.InvoiceReason{
		"subscription_cycle":  domain.InvoiceReasonCycle,
		"subscription_update": domain.InvoiceReasonTierChange,
		"subscription_create": domain.InvoiceReasonOther,
		"manual":              domain.InvoiceReasonOther,
	}

	for billingReason, want := range cases {
		t.Run(billingReason, func(t *testing.T) {
			payload := stripetest.InvoicePaidEvent("evt_"+billingReason, stripetest.Invoice{
				ID:             "in_1",
				Customer:       "cus_1",
				SubscriptionID: "sub_1",
				BillingReason:  billingReason,
				AmountPaid:     1900,
				PeriodEnd:      periodEnd,
			})
			event, err := adapter.Parse(context.Background(), payload)
			require.NoError(t, err)

			paid, ok := event.(domain.InvoicePaid)
			require.True(t, ok, "got %T", event)
			assert.Equal(t, want, paid.Reason)
			assert.Equal(t, "sub_1", paid.SubscriptionID)
			assert.Equal(t, int64(1900), paid.AmountPaid)
			assert.True(t, periodEnd.Equal(paid.PeriodEnd))
		})
	}
}

func TestParseInvoiceReadsParentSubscriptionDetails(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_parent","object":"event","type":"invoice.paid","created":1,
		"data":{"object":{"id":"in_2","customer":"cus_2","billing_reason":"subscription_cycle","period_end":1800000000,
		"parent":{"subscription_details":{"subscription":"sub_2"}}}}}`)

	event, err := adapter.Parse(context.Background(), payload)
	require.NoError(t, err)

	paid := event.(domain.InvoicePaid)
	assert.Equal(t, "sub_2", paid.SubscriptionID)
	assert.Equal(t, int64(1800000000), paid.PeriodEnd.Unix())
}

func TestParseUnknownTypeIsUnrecognized(t *testing.T) {
	adapter := newTestAdapter(t)

	event, err := adapter.Parse(context.Background(), stripetest.GenericEvent("evt_x", "customer.tax_id.created"))
	require.NoError(t, err)

	unrecognized, ok := event.(domain.Unrecognized)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, "customer.tax_id.created", unrecognized.Type)
	assert.Equal(t, "unrecognized", domain.KindOf(event))
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	adapter := newTestAdapter(t)

	_, err := adapter.Parse(context.Background(), []byte(`{not json`))
	require.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = adapter.Parse(context.Background(), []byte(`{"type":"invoice.paid","data":{"object":{}}}`))
	require.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = adapter.Parse(context.Background(), []byte(`{"id":"evt_bad","type":"customer.subscription.created","data":{"object":{"id":""}}}`))
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func withCancel(sub stripetest.Subscription, cancel bool) stripetest.Subscription {
	sub.CancelAtPeriodEnd = cancel
	return sub
}

func withStatus(sub stripetest.Subscription, status string) stripetest.Subscription {
	sub.Status = status
	return sub
}
