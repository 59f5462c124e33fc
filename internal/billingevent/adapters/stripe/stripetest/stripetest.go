// Package stripetest builds signed Stripe webhook payloads for tests.
package stripetest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SignatureHeader returns a Stripe-Signature header value for payload signed at timestamp.
func SignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// Subscription describes the fields of a subscription object the fixtures emit.
type Subscription struct {
	ID                string
	Customer          string
	AccountID         string
	PriceID           string
	Status            string
	CancelAtPeriodEnd bool
	PeriodEnd         time.Time
}

func (s Subscription) object() map[string]any {
	status := s.Status
	if status == "" {
		status = "active"
	}
	metadata := map[string]any{}
	if s.AccountID != "" {
		metadata["account_id"] = s.AccountID
	}
	return map[string]any{
		"id":                   s.ID,
		"object":               "subscription",
		"customer":             s.Customer,
		"status":               status,
		"cancel_at_period_end": s.CancelAtPeriodEnd,
		"metadata":             metadata,
		"items": map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{
					"id":                 "si_" + s.ID,
					"price":              map[string]any{"id": s.PriceID},
					"current_period_end": s.PeriodEnd.Unix(),
				},
			},
		},
	}
}

// SubscriptionEvent encodes a customer.subscription.* event. previous may be nil.
func SubscriptionEvent(eventID, eventType string, sub Subscription, previous map[string]any) []byte {
	data := map[string]any{"object": sub.object()}
	if previous != nil {
		data["previous_attributes"] = previous
	}
	return mustJSON(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    data,
	})
}

// PreviousPrice is the previous_attributes shape Stripe sends for a price change.
func PreviousPrice(priceID string) map[string]any {
	return map[string]any{
		"items": map[string]any{
			"data": []any{
				map[string]any{"price": map[string]any{"id": priceID}},
			},
		},
	}
}

// PreviousCancelAtPeriodEnd is the previous_attributes shape of a cancellation toggle.
func PreviousCancelAtPeriodEnd(value bool) map[string]any {
	return map[string]any{"cancel_at_period_end": value}
}

// Invoice describes the fields of an invoice object the fixtures emit.
type Invoice struct {
	ID             string
	Customer       string
	SubscriptionID string
	BillingReason  string
	AmountPaid     int64
	PeriodEnd      time.Time
}

// InvoicePaidEvent encodes an invoice.paid event.
func InvoicePaidEvent(eventID string, inv Invoice) []byte {
	return mustJSON(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    "invoice.paid",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             inv.ID,
				"object":         "invoice",
				"customer":       inv.Customer,
				"subscription":   inv.SubscriptionID,
				"billing_reason": inv.BillingReason,
				"amount_paid":    inv.AmountPaid,
				"lines": map[string]any{
					"data": []any{
						map[string]any{"period": map[string]any{"end": inv.PeriodEnd.Unix()}},
					},
				},
			},
		},
	})
}

// GenericEvent encodes an event of eventType with an empty object.
func GenericEvent(eventID, eventType string) []byte {
	return mustJSON(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": map[string]any{"id": "obj_" + eventID}},
	})
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
