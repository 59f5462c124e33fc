package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"github.com/smallbiznis/tokenledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  ledgerdomain.Repository
	Clock clock.Clock
	Cache ledgerdomain.BalanceCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  ledgerdomain.Repository
	clock clock.Clock
	cache ledgerdomain.BalanceCache
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		repo:  p.Repo,
		clock: p.Clock,
		cache: p.Cache,
	}
}

func (s *Service) GetBalance(ctx context.Context, accountID string) (ledgerdomain.BalanceView, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ledgerdomain.BalanceView{}, ledgerdomain.ErrInvalidAccount
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, accountID)
		if err != nil {
			s.log.Warn("balance cache read failed", zap.String("account_id", accountID), zap.Error(err))
		} else if cached != nil {
			return cached.Effective(s.clock.Now()), nil
		}
	}

	balance, err := s.repo.FindBalance(ctx, s.db, accountID, false)
	if err != nil {
		return ledgerdomain.BalanceView{}, err
	}

	view := ledgerdomain.NewBalanceView(accountID, balance)

	// A webhook that committed after the read above has already cached a higher version, and
	// the cache keeps it.
	if s.cache != nil {
		if err := s.cache.Set(ctx, view); err != nil {
			s.log.Warn("balance cache write failed", zap.String("account_id", accountID), zap.Error(err))
		}
	}

	return view.Effective(s.clock.Now()), nil
}

func (s *Service) ListEntries(ctx context.Context, accountID string, page pagination.Pagination) (ledgerdomain.EntryPage, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ledgerdomain.EntryPage{}, ledgerdomain.ErrInvalidAccount
	}

	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return ledgerdomain.EntryPage{}, err
	}
	var beforeID snowflake.ID
	if cursor.ID != "" {
		beforeID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return ledgerdomain.EntryPage{}, pagination.ErrInvalidPageToken
		}
	}

	limit := page.Limit()
	entries, err := s.repo.ListEntries(ctx, s.db, accountID, beforeID, limit+1)
	if err != nil {
		return ledgerdomain.EntryPage{}, err
	}

	entries, info := pagination.BuildCursorPage(entries, limit, func(e ledgerdomain.LedgerEntry) string {
		return e.ID.String()
	})

	views := make([]ledgerdomain.EntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, ledgerdomain.EntryView{
			EventID:              entry.EventID,
			EventType:            entry.EventType,
			Kind:                 entry.Kind,
			Delta:                entry.Delta,
			ResultingExpiring:    entry.ResultingExpiring,
			ResultingNonexpiring: entry.ResultingNonexpiring,
			AppliedAt:            entry.AppliedAt,
		})
	}
	return ledgerdomain.EntryPage{Entries: views, PageInfo: info}, nil
}
