package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	billingevent "github.com/smallbiznis/tokenledger/internal/billingevent/domain"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	reconciledomain "github.com/smallbiznis/tokenledger/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
	"github.com/smallbiznis/tokenledger/internal/tier"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Catalog *tier.Catalog
	Log     *zap.Logger
}

// Engine turns classified billing events into subscription and balance changes. It holds no
// state of its own; everything is read from and written to the stores it is handed.
type Engine struct {
	catalog *tier.Catalog
	log     *zap.Logger
}

func New(p Params) *Engine {
	return &Engine{
		catalog: p.Catalog,
		log:     p.Log.Named("reconcile.engine"),
	}
}

// Apply computes and writes the effect of event. Subscription rows are locked before balance rows.
func (e *Engine) Apply(ctx context.Context, stores reconciledomain.Stores, event billingevent.Event) (reconciledomain.Outcome, error) {
	switch ev := event.(type) {
	case billingevent.SubscriptionCreated:
		return e.applyCreated(ctx, stores, ev)
	case billingevent.SubscriptionTierChanged:
		return e.applyTierChanged(ctx, stores, ev)
	case billingevent.SubscriptionCancellationToggled:
		return e.applyCancellationToggled(ctx, stores, ev)
	case billingevent.SubscriptionOtherUpdate:
		return e.applyOtherUpdate(ctx, stores, ev)
	case billingevent.SubscriptionDeleted:
		return e.applyDeleted(ctx, stores, ev)
	case billingevent.InvoicePaid:
		return e.applyInvoicePaid(ctx, stores, ev)
	case billingevent.Unrecognized:
		return reconciledomain.Outcome{}, reconciledomain.ErrUnrecognizedEvent
	default:
		return reconciledomain.Outcome{}, fmt.Errorf("unhandled billing event %T", event)
	}
}

func (e *Engine) applyCreated(ctx context.Context, stores reconciledomain.Stores, ev billingevent.SubscriptionCreated) (reconciledomain.Outcome, error) {
	snap := ev.Subscription

	known, err := stores.Subscriptions.GetBySubscriptionIDForUpdate(ctx, snap.SubscriptionID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	if known != nil {
		// Redelivered under a new event id, or the created event arrived after an update.
		return e.refreshSubscription(ctx, stores, known, snap)
	}

	accountID := snap.AccountID
	if accountID == "" {
		accountID = snap.CustomerID
	}
	if accountID == "" {
		e.log.Warn("subscription created without account reference",
			zap.String("event_id", ev.EventID),
			zap.String("subscription_id", snap.SubscriptionID),
		)
		return ignoredOutcome(ledgerdomain.EntryKindIgnoredUnknownSubscription, "", snap.SubscriptionID), nil
	}

	current, err := stores.Subscriptions.GetForUpdate(ctx, accountID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	if current != nil && current.Live() {
		e.log.Warn("account already holds a live subscription",
			zap.String("event_id", ev.EventID),
			zap.String("account_id", accountID),
			zap.String("stored_subscription_id", current.SubscriptionID),
			zap.String("subscription_id", snap.SubscriptionID),
		)
		outcome := ignoredOutcome(ledgerdomain.EntryKindIgnoredSubscriptionExists, accountID, snap.SubscriptionID)
		return e.withBalance(ctx, stores, outcome)
	}

	tierID := e.tierForPrice(snap.PriceID, ev.EventID)
	sub := &subscriptiondomain.Subscription{
		AccountID:         accountID,
		SubscriptionID:    snap.SubscriptionID,
		CustomerID:        snap.CustomerID,
		TierID:            tierID,
		Status:            snap.Status,
		CancelAtPeriodEnd: snap.CancelAtPeriodEnd,
		CurrentPeriodEnd:  timePtr(snap.CurrentPeriodEnd),
	}
	if current != nil {
		sub.CreatedAt = current.CreatedAt
	}
	if err := stores.Subscriptions.Put(ctx, sub); err != nil {
		return reconciledomain.Outcome{}, err
	}

	outcome := reconciledomain.Outcome{
		AccountID:      accountID,
		SubscriptionID: sub.SubscriptionID,
		Kind:           ledgerdomain.EntryKindSubscriptionCreated,
		Details: map[string]any{
			"tier_id": tierID,
			"status":  string(sub.Status),
		},
	}
	if current != nil {
		outcome.Details["replaced_subscription_id"] = current.SubscriptionID
	}

	if sub.Status != subscriptiondomain.SubscriptionStatusActive {
		return e.withBalance(ctx, stores, outcome)
	}
	grant, ok := e.catalog.Grant(tierID)
	if !ok {
		return e.withBalance(ctx, stores, outcome)
	}
	outcome.Kind = ledgerdomain.EntryKindAllocation
	return e.resetExpiring(ctx, stores, outcome, grant, sub.CurrentPeriodEnd)
}

// refreshSubscription syncs status and period from a snapshot of an already stored subscription.
// It grants the tier allowance when the snapshot confirms a pending subscription as active.
func (e *Engine) refreshSubscription(ctx context.Context, stores reconciledomain.Stores, sub *subscriptiondomain.Subscription, snap billingevent.SubscriptionSnapshot) (reconciledomain.Outcome, error) {
	previousStatus := syncSnapshot(sub, snap)
	if err := stores.Subscriptions.Put(ctx, sub); err != nil {
		return reconciledomain.Outcome{}, err
	}

	outcome := reconciledomain.Outcome{
		AccountID:      sub.AccountID,
		SubscriptionID: sub.SubscriptionID,
		Kind:           ledgerdomain.EntryKindSubscriptionUpdated,
		Details: map[string]any{
			"previous_status": string(previousStatus),
			"status":          string(sub.Status),
		},
	}

	if !activated(previousStatus, sub.Status) {
		return e.withBalance(ctx, stores, outcome)
	}
	grant, ok := e.catalog.Grant(sub.TierID)
	if !ok {
		return e.withBalance(ctx, stores, outcome)
	}
	outcome.Kind = ledgerdomain.EntryKindActivation
	return e.resetExpiring(ctx, stores, outcome, grant, sub.CurrentPeriodEnd)
}

func (e *Engine) applyTierChanged(ctx context.Context, stores reconciledomain.Stores, ev billingevent.SubscriptionTierChanged) (reconciledomain.Outcome, error) {
	snap := ev.Subscription
	sub, err := stores.Subscriptions.GetBySubscriptionIDForUpdate(ctx, snap.SubscriptionID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	if sub == nil {
		return e.unknownSubscription(ev.Meta, snap.SubscriptionID), nil
	}

	newTier, ok := e.catalog.ByPriceID(snap.PriceID)
	if !ok {
		e.log.Warn("tier change to unknown price, tokens left unchanged",
			zap.String("event_id", ev.EventID),
			zap.String("account_id", sub.AccountID),
			zap.String("price_id", snap.PriceID),
		)
		syncSnapshot(sub, snap)
		if err := stores.Subscriptions.Put(ctx, sub); err != nil {
			return reconciledomain.Outcome{}, err
		}
		outcome := reconciledomain.Outcome{
			AccountID:      sub.AccountID,
			SubscriptionID: sub.SubscriptionID,
			Kind:           ledgerdomain.EntryKindSubscriptionUpdated,
			Details:        map[string]any{"unknown_price_id": snap.PriceID},
		}
		return e.withBalance(ctx, stores, outcome)
	}

	oldTierID := sub.TierID
	if ev.PreviousPriceID != "" {
		hinted, hintKnown := e.catalog.ByPriceID(ev.PreviousPriceID)
		if !hintKnown || hinted.ID != oldTierID {
			e.log.Warn("previous tier hint disagrees with stored tier, using stored tier",
				zap.String("event_id", ev.EventID),
				zap.String("account_id", sub.AccountID),
				zap.String("stored_tier_id", oldTierID),
				zap.String("hinted_price_id", ev.PreviousPriceID),
				zap.String("hinted_tier_id", hinted.ID),
			)
		}
	}

	// The same update can carry a price change together with a status or cancellation change.
	sub.TierID = newTier.ID
	previousStatus := syncSnapshot(sub, snap)
	if err := stores.Subscriptions.Put(ctx, sub); err != nil {
		return reconciledomain.Outcome{}, err
	}

	outcome := reconciledomain.Outcome{
		AccountID:      sub.AccountID,
		SubscriptionID: sub.SubscriptionID,
		Kind:           ledgerdomain.EntryKindCarryOver,
		Details: map[string]any{
			"previous_tier_id": oldTierID,
			"tier_id":          newTier.ID,
		},
	}
	if previousStatus != sub.Status {
		outcome.Details["previous_status"] = string(previousStatus)
		outcome.Details["status"] = string(sub.Status)
	}

	// Tokens only move for a subscription that is paying for its allowance after this update.
	if sub.Status != subscriptiondomain.SubscriptionStatusActive {
		outcome.Kind = ledgerdomain.EntryKindSubscriptionUpdated
		return e.withBalance(ctx, stores, outcome)
	}
	// Nothing was allocated while pending, so there is no usage to carry.
	if activated(previousStatus, sub.Status) {
		outcome.Kind = ledgerdomain.EntryKindActivation
		return e.resetExpiring(ctx, stores, outcome, newTier.TokenGrant, sub.CurrentPeriodEnd)
	}

	balance, err := e.lockBalance(ctx, stores, sub.AccountID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	oldGrant, oldKnown := e.catalog.Grant(oldTierID)
	before := balance.ExpiringTokens
	balance.ExpiringTokens = CarryOver(oldGrant, oldKnown, before, newTier.TokenGrant)
	if sub.CurrentPeriodEnd != nil {
		balance.ExpiringTokensExpiry = timePtr(*sub.CurrentPeriodEnd)
	}
	if err := stores.Balances.Put(ctx, balance); err != nil {
		return reconciledomain.Outcome{}, err
	}

	outcome.Details["used"] = usedTokens(oldGrant, oldKnown, before)
	return finish(outcome, balance, before), nil
}

// syncSnapshot copies status, cancellation flag and period from snap onto sub and returns the
// status sub held before. A canceled subscription stays canceled.
func syncSnapshot(sub *subscriptiondomain.Subscription, snap billingevent.SubscriptionSnapshot) subscriptiondomain.SubscriptionStatus {
	previous := sub.Status
	if sub.Status != subscriptiondomain.SubscriptionStatusCanceled {
		sub.Status = snap.Status
	}
	sub.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	if !snap.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = timePtr(snap.CurrentPeriodEnd)
	}
	if sub.CustomerID == "" {
		sub.CustomerID = snap.CustomerID
	}
	return previous
}

func activated(previous, current subscriptiondomain.SubscriptionStatus) bool {
	return previous == subscriptiondomain.SubscriptionStatusIncomplete &&
		current == subscriptiondomain.SubscriptionStatusActive
}

func (e *Engine) applyCancellationToggled(ctx context.Context, stores reconciledomain.Stores, ev billingevent.SubscriptionCancellationToggled) (reconciledomain.Outcome, error) {
	snap := ev.Subscription
	sub, err := stores.Subscriptions.GetBySubscriptionIDForUpdate(ctx, snap.SubscriptionID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	if sub == nil {
		return e.unknownSubscription(ev.Meta, snap.SubscriptionID), nil
	}

	previous := sub.CancelAtPeriodEnd
	sub.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	if err := stores.Subscriptions.Put(ctx, sub); err != nil {
		return reconciledomain.Outcome{}, err
	}

	outcome := reconciledomain.Outcome{
		AccountID:      sub.AccountID,
		SubscriptionID: sub.SubscriptionID,
		Kind:           ledgerdomain.EntryKindCancellationToggled,
		Details: map[string]any{
			"previous_cancel_at_period_end": previous,
			"cancel_at_period_end":          sub.CancelAtPeriodEnd,
		},
	}
	return e.withBalance(ctx, stores, outcome)
}

func (e *Engine) applyOtherUpdate(ctx context.Context, stores reconciledomain.Stores, ev billingevent.SubscriptionOtherUpdate) (reconciledomain.Outcome, error) {
	snap := ev.Subscription
	sub, err := stores.Subscriptions.GetBySubscriptionIDForUpdate(ctx, snap.SubscriptionID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	if sub == nil {
		return e.unknownSubscription(ev.Meta, snap.SubscriptionID), nil
	}
	return e.refreshSubscription(ctx, stores, sub, snap)
}

func (e *Engine) applyDeleted(ctx context.Context, stores reconciledomain.Stores, ev billingevent.SubscriptionDeleted) (reconciledomain.Outcome, error) {
	snap := ev.Subscription
	sub, err := stores.Subscriptions.GetBySubscriptionIDForUpdate(ctx, snap.SubscriptionID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	if sub == nil {
		return e.unknownSubscription(ev.Meta, snap.SubscriptionID), nil
	}

	previous := sub.Status
	sub.Status = subscriptiondomain.SubscriptionStatusCanceled
	sub.CancelAtPeriodEnd = false
	if err := stores.Subscriptions.Put(ctx, sub); err != nil {
		return reconciledomain.Outcome{}, err
	}

	outcome := reconciledomain.Outcome{
		AccountID:      sub.AccountID,
		SubscriptionID: sub.SubscriptionID,
		Kind:           ledgerdomain.EntryKindSubscriptionCanceled,
		Details:        map[string]any{"previous_status": string(previous)},
	}
	return e.withBalance(ctx, stores, outcome)
}

func (e *Engine) applyInvoicePaid(ctx context.Context, stores reconciledomain.Stores, ev billingevent.InvoicePaid) (reconciledomain.Outcome, error) {
	var sub *subscriptiondomain.Subscription
	if ev.SubscriptionID != "" {
		found, err := stores.Subscriptions.GetBySubscriptionIDForUpdate(ctx, ev.SubscriptionID)
		if err != nil {
			return reconciledomain.Outcome{}, err
		}
		sub = found
	}

	details := map[string]any{
		"invoice_id":     ev.InvoiceID,
		"billing_reason": ev.BillingReason,
		"amount_paid":    ev.AmountPaid,
	}

	switch ev.Reason {
	case billingevent.InvoiceReasonOther:
		if sub == nil {
			return reconciledomain.Outcome{
				SubscriptionID: ev.SubscriptionID,
				Kind:           ledgerdomain.EntryKindInvoiceOther,
				Details:        details,
			}, nil
		}
		outcome := reconciledomain.Outcome{
			AccountID:      sub.AccountID,
			SubscriptionID: sub.SubscriptionID,
			Kind:           ledgerdomain.EntryKindInvoiceOther,
			Details:        details,
		}
		return e.withBalance(ctx, stores, outcome)

	case billingevent.InvoiceReasonTierChange:
		if sub == nil {
			return e.unknownSubscription(ev.Meta, ev.SubscriptionID), nil
		}
		// The allocation for this change was made by the subscription tier change event.
		outcome := reconciledomain.Outcome{
			AccountID:      sub.AccountID,
			SubscriptionID: sub.SubscriptionID,
			Kind:           ledgerdomain.EntryKindInvoiceTierChange,
			Details:        details,
		}
		return e.withBalance(ctx, stores, outcome)

	case billingevent.InvoiceReasonCycle:
		if sub == nil {
			return e.unknownSubscription(ev.Meta, ev.SubscriptionID), nil
		}
		return e.renew(ctx, stores, sub, ev, details)

	default:
		return reconciledomain.Outcome{}, fmt.Errorf("unknown invoice reason %q", ev.Reason)
	}
}

// renew resets the expiring bucket to the stored tier's grant for the newly paid cycle.
func (e *Engine) renew(ctx context.Context, stores reconciledomain.Stores, sub *subscriptiondomain.Subscription, ev billingevent.InvoicePaid, details map[string]any) (reconciledomain.Outcome, error) {
	if !ev.PeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = timePtr(ev.PeriodEnd)
	}
	if sub.Status == subscriptiondomain.SubscriptionStatusPastDue || sub.Status == subscriptiondomain.SubscriptionStatusIncomplete {
		details["previous_status"] = string(sub.Status)
		sub.Status = subscriptiondomain.SubscriptionStatusActive
	}
	if err := stores.Subscriptions.Put(ctx, sub); err != nil {
		return reconciledomain.Outcome{}, err
	}

	details["tier_id"] = sub.TierID
	outcome := reconciledomain.Outcome{
		AccountID:      sub.AccountID,
		SubscriptionID: sub.SubscriptionID,
		Kind:           ledgerdomain.EntryKindRenewal,
		Details:        details,
	}

	grant, ok := e.catalog.Grant(sub.TierID)
	if !ok {
		e.log.Warn("renewal for subscription without a known tier, tokens left unchanged",
			zap.String("event_id", ev.EventID),
			zap.String("account_id", sub.AccountID),
			zap.String("tier_id", sub.TierID),
		)
		return e.withBalance(ctx, stores, outcome)
	}
	return e.resetExpiring(ctx, stores, outcome, grant, sub.CurrentPeriodEnd)
}

func (e *Engine) resetExpiring(ctx context.Context, stores reconciledomain.Stores, outcome reconciledomain.Outcome, grant int64, expiry *time.Time) (reconciledomain.Outcome, error) {
	balance, err := e.lockBalance(ctx, stores, outcome.AccountID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	before := balance.ExpiringTokens
	balance.ExpiringTokens = grant
	balance.ExpiringTokensExpiry = nil
	if expiry != nil {
		balance.ExpiringTokensExpiry = timePtr(*expiry)
	}
	if err := stores.Balances.Put(ctx, balance); err != nil {
		return reconciledomain.Outcome{}, err
	}
	return finish(outcome, balance, before), nil
}

// withBalance fills the resulting balance of an outcome that did not move tokens.
func (e *Engine) withBalance(ctx context.Context, stores reconciledomain.Stores, outcome reconciledomain.Outcome) (reconciledomain.Outcome, error) {
	if outcome.AccountID == "" {
		return outcome, nil
	}
	balance, err := stores.Balances.GetForUpdate(ctx, outcome.AccountID)
	if err != nil {
		return reconciledomain.Outcome{}, err
	}
	if balance != nil {
		outcome.ResultingExpiring = balance.ExpiringTokens
		outcome.ResultingNonexpiring = balance.NonexpiringTokens
	}
	return outcome, nil
}

// lockBalance returns the locked balance row, or a fresh zero balance for first allocation.
func (e *Engine) lockBalance(ctx context.Context, stores reconciledomain.Stores, accountID string) (*ledgerdomain.TokenBalance, error) {
	balance, err := stores.Balances.GetForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = &ledgerdomain.TokenBalance{AccountID: accountID}
	}
	return balance, nil
}

func (e *Engine) unknownSubscription(meta billingevent.Meta, subscriptionID string) reconciledomain.Outcome {
	e.log.Warn("event references unknown subscription",
		zap.String("event_id", meta.EventID),
		zap.String("event_type", meta.Type),
		zap.String("subscription_id", subscriptionID),
	)
	return ignoredOutcome(ledgerdomain.EntryKindIgnoredUnknownSubscription, "", subscriptionID)
}

func (e *Engine) tierForPrice(priceID, eventID string) string {
	def, ok := e.catalog.ByPriceID(priceID)
	if !ok {
		e.log.Warn("subscription price not in tier catalog",
			zap.String("event_id", eventID),
			zap.String("price_id", strings.TrimSpace(priceID)),
		)
		return ""
	}
	return def.ID
}

func ignoredOutcome(kind ledgerdomain.EntryKind, accountID, subscriptionID string) reconciledomain.Outcome {
	return reconciledomain.Outcome{
		AccountID:      accountID,
		SubscriptionID: subscriptionID,
		Kind:           kind,
	}
}

func finish(outcome reconciledomain.Outcome, balance *ledgerdomain.TokenBalance, expiringBefore int64) reconciledomain.Outcome {
	outcome.Delta = balance.ExpiringTokens - expiringBefore
	outcome.ResultingExpiring = balance.ExpiringTokens
	outcome.ResultingNonexpiring = balance.NonexpiringTokens
	return outcome
}

func usedTokens(oldGrant int64, oldKnown bool, expiring int64) int64 {
	if !oldKnown {
		return 0
	}
	return max(0, oldGrant-expiring)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
