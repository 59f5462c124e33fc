// Package webhook authenticates provider deliveries and hands them to the reconciliation service.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/tokenledger/internal/billingevent/adapters"
	"github.com/smallbiznis/tokenledger/internal/billingevent/adapters/stripe"
	billingevent "github.com/smallbiznis/tokenledger/internal/billingevent/domain"
	"github.com/smallbiznis/tokenledger/internal/config"
	"github.com/smallbiznis/tokenledger/internal/observability/logger"
	"github.com/smallbiznis/tokenledger/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/tokenledger/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	resultApplied      = "applied"
	resultDuplicate    = "duplicate"
	resultUnrecognized = "unrecognized"
	resultRejected     = "rejected"
	resultFailed       = "failed"
)

// Reconciler applies a classified event exactly once.
type Reconciler interface {
	Process(ctx context.Context, event billingevent.Event) (reconciledomain.Result, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Adapters   *adapters.Registry
	Reconciler Reconciler
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	provider   string
	adapter    billingevent.Adapter
	adapterErr error
	reconciler Reconciler
	metrics    *metrics.Metrics
}

// NewService builds the configured provider's adapter up front. A missing webhook secret or an
// unknown provider does not stop the process; every delivery is refused with ErrInvalidConfig
// until it is fixed.
func NewService(p Params) *Service {
	log := p.Log.Named("webhook.service")
	provider := strings.ToLower(strings.TrimSpace(p.Cfg.BillingProvider))
	if provider == "" {
		provider = stripe.ProviderName
	}
	adapter, err := p.Adapters.NewAdapter(provider, billingevent.AdapterConfig{
		WebhookSecret:    p.Cfg.Stripe.WebhookSecret,
		WebhookTolerance: p.Cfg.Stripe.WebhookTolerance,
	})
	if err != nil {
		log.Error("webhook adapter unavailable",
			zap.String("provider", provider),
			zap.Strings("registered_providers", p.Adapters.Providers()),
			zap.Error(err),
		)
	}
	return &Service{
		log:        log,
		provider:   provider,
		adapter:    adapter,
		adapterErr: err,
		reconciler: p.Reconciler,
		metrics:    p.Metrics,
	}
}

// Ingest verifies, classifies and applies one delivery. Nothing is written when verification
// or parsing fails.
func (s *Service) Ingest(ctx context.Context, payload []byte, headers http.Header) (reconciledomain.Result, error) {
	log := logger.WithContext(ctx, s.log)
	if s.adapter == nil {
		return reconciledomain.Result{}, errors.Join(billingevent.ErrInvalidConfig, s.adapterErr)
	}

	if err := s.adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, s.provider, "", resultRejected)
		log.Warn("webhook signature rejected", zap.Error(err))
		return reconciledomain.Result{}, err
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, s.provider, "", resultRejected)
		log.Warn("webhook payload rejected", zap.Error(err))
		return reconciledomain.Result{}, err
	}
	eventType := event.EventMeta().Type

	result, err := s.reconciler.Process(ctx, event)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, s.provider, eventType, resultFailed)
		return reconciledomain.Result{}, err
	}

	switch {
	case result.Unrecognized:
		s.metrics.RecordWebhookEvent(ctx, s.provider, eventType, resultUnrecognized)
	case result.Duplicate:
		s.metrics.RecordWebhookEvent(ctx, s.provider, eventType, resultDuplicate)
	default:
		s.metrics.RecordWebhookEvent(ctx, s.provider, eventType, resultApplied)
	}
	return result, nil
}
