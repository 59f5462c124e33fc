package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenledger/internal/clock"
	"github.com/smallbiznis/tokenledger/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/tokenledger/internal/ledger/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewGuard(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  ledgerrepo.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)),
	})
}

func newTestGuard(t *testing.T) (*Guard, *gorm.DB) {
	t.Helper()
	return newGuard(t), dbtest.Open(t)
}

func TestReserveOnce(t *testing.T) {
	guard, db := newTestGuard(t)
	ctx := context.Background()

	first, err := guard.Reserve(ctx, db, "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := guard.Reserve(ctx, db, "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.False(t, second)

	applied, err := guard.Applied(ctx, db, "evt_1")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestReserveRejectsEmptyEventID(t *testing.T) {
	guard, db := newTestGuard(t)

	_, err := guard.Reserve(context.Background(), db, " ", "invoice.paid")
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidEventID)
}

func TestReserveIsRolledBackWithTransaction(t *testing.T) {
	guard, db := newTestGuard(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		reserved, err := guard.Reserve(ctx, tx, "evt_1", "invoice.paid")
		require.NoError(t, err)
		require.True(t, reserved)
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	applied, err := guard.Applied(ctx, db, "evt_1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCompleteRecordsOutcome(t *testing.T) {
	guard, db := newTestGuard(t)
	ctx := context.Background()

	_, err := guard.Reserve(ctx, db, "evt_1", "invoice.paid")
	require.NoError(t, err)

	require.NoError(t, guard.Complete(ctx, db, ledgerdomain.LedgerEntry{
		EventID:           "evt_1",
		AccountID:         "acct_1",
		Kind:              ledgerdomain.EntryKindRenewal,
		Delta:             15000,
		ResultingExpiring: 15000,
	}))

	entry, err := ledgerrepo.Provide().FindEntryByEventID(ctx, db, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ledgerdomain.EntryKindRenewal, entry.Kind)
	assert.Equal(t, "acct_1", entry.AccountID)
	assert.Equal(t, int64(15000), entry.Delta)
	assert.Equal(t, "invoice.paid", entry.EventType)

	err = guard.Complete(ctx, db, ledgerdomain.LedgerEntry{EventID: "evt_1", Kind: ledgerdomain.EntryKindRenewal})
	require.ErrorIs(t, err, ErrNotReserved)
}

func TestCompleteWithoutReservation(t *testing.T) {
	guard, db := newTestGuard(t)

	err := guard.Complete(context.Background(), db, ledgerdomain.LedgerEntry{EventID: "evt_missing"})
	require.ErrorIs(t, err, ErrNotReserved)
}
