package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v84"

	"github.com/smallbiznis/tokenledger/internal/billingevent/domain"
	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
)

const (
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventInvoicePaid         = "invoice.paid"

	metadataAccountID = "account_id"
)

// Classify maps a decoded Stripe event onto the billing event union.
func Classify(event stripe.Event) (domain.Event, error) {
	meta := domain.Meta{
		EventID: strings.TrimSpace(event.ID),
		Type:    strings.TrimSpace(string(event.Type)),
		Created: unixTime(event.Created),
	}

	switch meta.Type {
	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted:
		if event.Data == nil {
			return nil, fmt.Errorf("%w: missing data", domain.ErrInvalidPayload)
		}
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription object: %v", domain.ErrInvalidPayload, err)
		}
		if strings.TrimSpace(sub.ID) == "" {
			return nil, fmt.Errorf("%w: subscription id missing", domain.ErrInvalidPayload)
		}
		snapshot := sub.snapshot()

		switch meta.Type {
		case eventSubscriptionCreated:
			return domain.SubscriptionCreated{Meta: meta, Subscription: snapshot}, nil
		case eventSubscriptionDeleted:
			return domain.SubscriptionDeleted{Meta: meta, Subscription: snapshot}, nil
		}

		previous, err := decodePreviousAttributes(event.Data.PreviousAttributes)
		if err != nil {
			return nil, err
		}
		return classifyUpdate(meta, snapshot, previous), nil

	case eventInvoicePaid:
		if event.Data == nil {
			return nil, fmt.Errorf("%w: missing data", domain.ErrInvalidPayload)
		}
		var invoice invoiceObject
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("%w: invoice object: %v", domain.ErrInvalidPayload, err)
		}
		return domain.InvoicePaid{
			Meta:           meta,
			InvoiceID:      strings.TrimSpace(invoice.ID),
			SubscriptionID: invoice.subscriptionID(),
			CustomerID:     invoice.Customer.ID,
			Reason:         invoiceReason(invoice.BillingReason),
			BillingReason:  invoice.BillingReason,
			AmountPaid:     invoice.AmountPaid,
			PeriodEnd:      invoice.periodEnd(),
		}, nil

	default:
		return domain.Unrecognized{Meta: meta}, nil
	}
}

// classifyUpdate separates a price change from a cancellation toggle from anything else. A price
// change wins when both arrive in one event since it is the only one that moves tokens.
func classifyUpdate(meta domain.Meta, snapshot domain.SubscriptionSnapshot, previous previousAttributes) domain.Event {
	if previousPrice := previous.priceID(); previousPrice != "" && previousPrice != snapshot.PriceID {
		return domain.SubscriptionTierChanged{
			Meta:            meta,
			Subscription:    snapshot,
			PreviousPriceID: previousPrice,
		}
	}
	if previous.CancelAtPeriodEnd != nil && *previous.CancelAtPeriodEnd != snapshot.CancelAtPeriodEnd {
		return domain.SubscriptionCancellationToggled{Meta: meta, Subscription: snapshot}
	}
	return domain.SubscriptionOtherUpdate{Meta: meta, Subscription: snapshot}
}

func invoiceReason(billingReason string) domain.InvoiceReason {
	switch strings.TrimSpace(billingReason) {
	case "subscription_cycle":
		return domain.InvoiceReasonCycle
	case "subscription_update":
		return domain.InvoiceReasonTierChange
	default:
		return domain.InvoiceReasonOther
	}
}

func decodePreviousAttributes(raw map[string]interface{}) (previousAttributes, error) {
	var previous previousAttributes
	if len(raw) == 0 {
		return previous, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return previous, fmt.Errorf("%w: previous attributes: %v", domain.ErrInvalidPayload, err)
	}
	if err := json.Unmarshal(encoded, &previous); err != nil {
		return previous, fmt.Errorf("%w: previous attributes: %v", domain.ErrInvalidPayload, err)
	}
	return previous, nil
}

// expandableID accepts either a bare id or an expanded object carrying an id.
type expandableID struct {
	ID string
}

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		e.ID = strings.TrimSpace(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = strings.TrimSpace(obj.ID)
	return nil
}

type priceRef struct {
	ID string `json:"id"`
}

type subscriptionItem struct {
	Price            priceRef `json:"price"`
	CurrentPeriodEnd int64    `json:"current_period_end"`
}

type subscriptionItems struct {
	Data []subscriptionItem `json:"data"`
}

type subscriptionObject struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             subscriptionItems `json:"items"`
	Plan              *priceRef         `json:"plan"`
}

func (s subscriptionObject) snapshot() domain.SubscriptionSnapshot {
	periodEnd := s.CurrentPeriodEnd
	priceID := ""
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		priceID = strings.TrimSpace(item.Price.ID)
		if item.CurrentPeriodEnd != 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if priceID == "" && s.Plan != nil {
		priceID = strings.TrimSpace(s.Plan.ID)
	}

	return domain.SubscriptionSnapshot{
		SubscriptionID:    strings.TrimSpace(s.ID),
		CustomerID:        s.Customer.ID,
		AccountID:         strings.TrimSpace(s.Metadata[metadataAccountID]),
		PriceID:           priceID,
		Status:            subscriptiondomain.ParseStatus(strings.TrimSpace(s.Status)),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unixTime(periodEnd),
	}
}

type previousAttributes struct {
	Items             *subscriptionItems `json:"items"`
	Plan              *priceRef          `json:"plan"`
	CancelAtPeriodEnd *bool              `json:"cancel_at_period_end"`
	Status            *string            `json:"status"`
}

func (p previousAttributes) priceID() string {
	if p.Items != nil && len(p.Items.Data) > 0 {
		if id := strings.TrimSpace(p.Items.Data[0].Price.ID); id != "" {
			return id
		}
	}
	if p.Plan != nil {
		return strings.TrimSpace(p.Plan.ID)
	}
	return ""
}

type invoiceLine struct {
	Period struct {
		End int64 `json:"end"`
	} `json:"period"`
}

type invoiceObject struct {
	ID            string       `json:"id"`
	Customer      expandableID `json:"customer"`
	Subscription  expandableID `json:"subscription"`
	BillingReason string       `json:"billing_reason"`
	AmountPaid    int64        `json:"amount_paid"`
	PeriodEnd     int64        `json:"period_end"`
	Lines         struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID reads the legacy top level field first, then the newer parent details.
func (i invoiceObject) subscriptionID() string {
	if i.Subscription.ID != "" {
		return i.Subscription.ID
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

// periodEnd prefers the line item period: for renewal invoices the top level period_end is the
// end of the cycle just billed, not the one being paid for.
func (i invoiceObject) periodEnd() time.Time {
	var latest int64
	for _, line := range i.Lines.Data {
		if line.Period.End > latest {
			latest = line.Period.End
		}
	}
	if latest == 0 {
		latest = i.PeriodEnd
	}
	return unixTime(latest)
}

func unixTime(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}
