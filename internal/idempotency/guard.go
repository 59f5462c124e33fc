// Package idempotency records which provider events have been applied.
//
// An event id is reserved by inserting its ledger row inside the transaction that applies the
// event. The unique index on event_id makes a concurrent second delivery either block until the
// first commits (and then see the row) or fail the insert, so an event is applied at most once.
package idempotency

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotReserved = errors.New("event_not_reserved")

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  ledgerdomain.Repository
	Clock clock.Clock
}

type Guard struct {
	log   *zap.Logger
	genID *snowflake.Node
	repo  ledgerdomain.Repository
	clock clock.Clock
}

func NewGuard(p Params) *Guard {
	return &Guard{
		log:   p.Log.Named("idempotency.guard"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

// Reserve claims eventID within tx. It returns false when the event was already applied.
func (g *Guard) Reserve(ctx context.Context, tx *gorm.DB, eventID, eventType string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, ledgerdomain.ErrInvalidEventID
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:        g.genID.Generate(),
		EventID:   eventID,
		EventType: eventType,
		Kind:      ledgerdomain.EntryKindPending,
		AppliedAt: g.clock.Now(),
	}
	inserted, err := g.repo.InsertEntry(ctx, tx, entry)
	if err != nil {
		return false, err
	}
	if !inserted {
		g.log.Debug("event already applied", zap.String("event_id", eventID))
	}
	return inserted, nil
}

// Complete records the outcome on the row reserved for entry.EventID.
func (g *Guard) Complete(ctx context.Context, tx *gorm.DB, entry ledgerdomain.LedgerEntry) error {
	existing, err := g.repo.FindEntryByEventID(ctx, tx, entry.EventID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Kind != ledgerdomain.EntryKindPending {
		return ErrNotReserved
	}
	if entry.AppliedAt.IsZero() {
		entry.AppliedAt = g.clock.Now()
	}
	return g.repo.UpdateEntry(ctx, tx, &entry)
}

// Applied reports whether eventID already has a ledger entry.
func (g *Guard) Applied(ctx context.Context, db *gorm.DB, eventID string) (bool, error) {
	entry, err := g.repo.FindEntryByEventID(ctx, db, strings.TrimSpace(eventID))
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}
