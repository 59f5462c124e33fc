package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/smallbiznis/tokenledger/internal/billingevent/domain"
)

const (
	ProviderName    = "stripe"
	SignatureHeader = "Stripe-Signature"

	defaultTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     tolerance,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (domain.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, fmt.Errorf("%w: missing event id", domain.ErrInvalidPayload)
	}
	return Classify(event)
}

var _ domain.Adapter = (*Adapter)(nil)
