package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	billingevent "github.com/smallbiznis/tokenledger/internal/billingevent/domain"
	"github.com/smallbiznis/tokenledger/internal/clock"
	"github.com/smallbiznis/tokenledger/internal/idempotency"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	obscontext "github.com/smallbiznis/tokenledger/internal/observability/context"
	"github.com/smallbiznis/tokenledger/internal/observability/logger"
	"github.com/smallbiznis/tokenledger/internal/observability/metrics"
	"github.com/smallbiznis/tokenledger/internal/observability/tracing"
	reconciledomain "github.com/smallbiznis/tokenledger/internal/reconcile/domain"
	"github.com/smallbiznis/tokenledger/internal/reconcile/engine"
	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Engine           *engine.Engine
	Guard            *idempotency.Guard
	SubRepo          subscriptiondomain.Repository
	LedgerRepo       ledgerdomain.Repository
	Clock            clock.Clock
	Cache            ledgerdomain.BalanceCache `optional:"true"`
	Metrics          *metrics.Metrics          `optional:"true"`
	ReconcileMetrics *metrics.ReconcileMetrics `optional:"true"`
}

// Service applies billing events exactly once. The idempotency reservation, the state change
// and the ledger entry share one transaction, so a failure at any step leaves nothing behind and
// the provider's redelivery starts clean.
type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	engine           *engine.Engine
	guard            *idempotency.Guard
	subRepo          subscriptiondomain.Repository
	ledgerRepo       ledgerdomain.Repository
	clock            clock.Clock
	cache            ledgerdomain.BalanceCache
	metrics          *metrics.Metrics
	reconcileMetrics *metrics.ReconcileMetrics
}

func NewService(p Params) *Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("reconcile.service"),
		engine:           p.Engine,
		guard:            p.Guard,
		subRepo:          p.SubRepo,
		ledgerRepo:       p.LedgerRepo,
		clock:            p.Clock,
		cache:            p.Cache,
		metrics:          p.Metrics,
		reconcileMetrics: p.ReconcileMetrics,
	}
}

// Process applies event. A redelivered event returns Result.Duplicate without touching state.
// Any storage failure is wrapped in ErrPersistence and nothing is committed.
func (s *Service) Process(ctx context.Context, event billingevent.Event) (reconciledomain.Result, error) {
	meta := event.EventMeta()
	eventKind := billingevent.KindOf(event)
	result := reconciledomain.Result{EventID: meta.EventID, EventType: meta.Type}

	ctx = obscontext.WithEventID(ctx, meta.EventID)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("event_type", meta.Type),
		zap.String("event_kind", eventKind),
	)

	if _, ok := event.(billingevent.Unrecognized); ok {
		log.Info("ignoring unrecognized billing event")
		result.Unrecognized = true
		s.reconcileMetrics.ObserveReconcile(eventKind, metrics.ReconcileResultUnrecognized, 0, nil)
		return result, nil
	}
	if meta.EventID == "" {
		return result, ledgerdomain.ErrInvalidEventID
	}

	ctx, span := otel.Tracer("tokenledger/reconcile").Start(ctx, "reconcile.Process")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("event.type", meta.Type),
		attribute.String("event.kind", eventKind),
	)...)

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reserved, err := s.guard.Reserve(ctx, tx, meta.EventID, meta.Type)
		if err != nil {
			return fmt.Errorf("reserve event: %w", err)
		}
		if !reserved {
			result.Duplicate = true
			return nil
		}

		outcome, err := s.engine.Apply(ctx, s.txStores(tx), event)
		if err != nil {
			return fmt.Errorf("apply event: %w", err)
		}
		result.Outcome = outcome

		return s.guard.Complete(ctx, tx, entryFor(meta, eventKind, outcome, s.clock.Now()))
	})
	elapsed := time.Since(start)

	if err != nil {
		s.reconcileMetrics.ObserveReconcile(eventKind, metrics.ReconcileResultFailed, elapsed, err)
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "reconcile failed")
		log.Error("failed to apply billing event", zap.Error(err))
		if errors.Is(err, ledgerdomain.ErrInvalidEventID) {
			return reconciledomain.Result{}, err
		}
		return reconciledomain.Result{}, fmt.Errorf("%w: %w", reconciledomain.ErrPersistence, err)
	}

	span.SetAttributes(tracing.SafeAttributes(
		attribute.Bool("ledger.duplicate", result.Duplicate),
		attribute.String("ledger.kind", string(result.Outcome.Kind)),
	)...)

	if result.Duplicate {
		s.reconcileMetrics.ObserveReconcile(eventKind, metrics.ReconcileResultDuplicate, elapsed, nil)
		log.Info("billing event already applied")
		return result, nil
	}

	outcome := result.Outcome
	resultLabel := metrics.ReconcileResultApplied
	if outcome.Kind.Ignored() {
		resultLabel = metrics.ReconcileResultIgnored
	}
	s.reconcileMetrics.ObserveReconcile(eventKind, resultLabel, elapsed, nil)
	s.metrics.RecordLedgerEntry(ctx, string(outcome.Kind))
	s.metrics.RecordTokenDelta(ctx, string(outcome.Kind), outcome.Delta)
	s.refreshCache(ctx, outcome.AccountID)

	log.Info("billing event applied",
		zap.String("account_id", outcome.AccountID),
		zap.String("subscription_id", outcome.SubscriptionID),
		zap.String("kind", string(outcome.Kind)),
		zap.Int64("delta", outcome.Delta),
		zap.Int64("expiring_tokens", outcome.ResultingExpiring),
		zap.Int64("nonexpiring_tokens", outcome.ResultingNonexpiring),
	)
	return result, nil
}

// refreshCache writes the committed balance into the cache. Deleting the key instead would let a
// reader that loaded the row before the commit put its older copy back. The key is dropped when
// the write fails.
func (s *Service) refreshCache(ctx context.Context, accountID string) {
	if s.cache == nil || accountID == "" {
		return
	}
	balance, err := s.ledgerRepo.FindBalance(ctx, s.db, accountID, false)
	if err == nil {
		if err = s.cache.Set(ctx, ledgerdomain.NewBalanceView(accountID, balance)); err == nil {
			return
		}
	}
	s.log.Warn("balance cache refresh failed", zap.String("account_id", accountID), zap.Error(err))
	if err := s.cache.Invalidate(ctx, accountID); err != nil {
		s.log.Warn("balance cache invalidation failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func entryFor(meta billingevent.Meta, eventKind string, outcome reconciledomain.Outcome, now time.Time) ledgerdomain.LedgerEntry {
	metadata := datatypes.JSONMap{"event_kind": eventKind}
	for key, value := range outcome.Details {
		metadata[key] = value
	}
	if !meta.Created.IsZero() {
		metadata["event_created"] = meta.Created.UTC().Format(time.RFC3339)
	}
	return ledgerdomain.LedgerEntry{
		EventID:              meta.EventID,
		EventType:            meta.Type,
		AccountID:            outcome.AccountID,
		SubscriptionID:       outcome.SubscriptionID,
		Kind:                 outcome.Kind,
		Delta:                outcome.Delta,
		ResultingExpiring:    outcome.ResultingExpiring,
		ResultingNonexpiring: outcome.ResultingNonexpiring,
		Metadata:             metadata,
		AppliedAt:            now,
	}
}
