package service_test

import (
	"context"
	"testing"

	billingevent "github.com/smallbiznis/tokenledger/internal/billingevent/domain"
	"github.com/smallbiznis/tokenledger/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestProcessConcurrentSameEventAppliesOnceOnPostgres(t *testing.T) {
	assertConcurrentDeliveriesApplyOnce(t, newHarnessOn(t, dbtest.OpenPostgres(t)))
}

func TestProcessInterleavedEventsForOneAccountOnPostgres(t *testing.T) {
	h := newHarnessOn(t, dbtest.OpenPostgres(t))
	ctx := context.Background()

	_, err := h.svc.Process(ctx, createdEvent("evt_1", "price_pro"))
	require.NoError(t, err)
	bal := h.balance(t)
	bal.ExpiringTokens = 300
	require.NoError(t, h.ledger.UpsertBalance(ctx, h.db, &bal))

	// Both events rewrite the whole subscription row. Without the row lock one of them would
	// overwrite the other's change with a stale copy.
	snap := createdEvent("", "price_pro").Subscription
	snap.CancelAtPeriodEnd = true
	toggle := billingevent.SubscriptionCancellationToggled{
		Meta:         billingevent.Meta{EventID: "evt_toggle", Type: "customer.subscription.updated"},
		Subscription: snap,
	}

	start := make(chan struct{})
	var g errgroup.Group
	for _, event := range []billingevent.Event{toggle, renewalEvent("evt_renew")} {
		event := event
		g.Go(func() error {
			<-start
			_, err := h.svc.Process(ctx, event)
			return err
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	sub, err := h.subs.FindByAccountID(ctx, h.db, "acct_1", false)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, nextPeriod.Equal(*sub.CurrentPeriodEnd))

	assert.Equal(t, int64(25000), h.balance(t).ExpiringTokens)
	assert.Equal(t, int64(3), h.entryCount(t))

	for _, eventID := range []string{"evt_toggle", "evt_renew"} {
		entry, err := h.ledger.FindEntryByEventID(ctx, h.db, eventID)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.NotEqual(t, ledgerdomain.EntryKindPending, entry.Kind)
	}
}
