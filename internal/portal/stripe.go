package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/tokenledger/internal/config"
	"github.com/stripe/stripe-go/v84"
)

var ErrPortalNotConfigured = errors.New("portal_not_configured")

// SessionCreator opens a hosted billing portal session for a provider customer.
type SessionCreator interface {
	CreateSession(ctx context.Context, customerID string) (string, error)
}

type stripeSessionCreator struct {
	sc        *stripe.Client
	returnURL string
}

// NewStripeSessionCreator returns a creator backed by the Stripe billing portal API.
func NewStripeSessionCreator(cfg config.Config) SessionCreator {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		return &stripeSessionCreator{returnURL: cfg.Stripe.PortalReturnURL}
	}
	return &stripeSessionCreator{
		sc:        stripe.NewClient(key),
		returnURL: cfg.Stripe.PortalReturnURL,
	}
}

func (c *stripeSessionCreator) CreateSession(ctx context.Context, customerID string) (string, error) {
	if c.sc == nil {
		return "", ErrPortalNotConfigured
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer: stripe.String(customerID),
	}
	if c.returnURL != "" {
		params.ReturnURL = stripe.String(c.returnURL)
	}

	session, err := c.sc.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return session.URL, nil
}
