package portal

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/tokenledger/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrCustomerNotFound = errors.New("customer_not_found")
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	SubRepo subscriptiondomain.Repository
	Creator SessionCreator
}

// Service hands out billing portal links. It never touches balances or the ledger.
type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	subRepo subscriptiondomain.Repository
	creator SessionCreator
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("portal.service"),
		subRepo: p.SubRepo,
		creator: p.Creator,
	}
}

// CreateSession resolves the provider customer behind accountID and returns a portal URL.
func (s *Service) CreateSession(ctx context.Context, accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", ErrInvalidAccount
	}

	sub, err := s.subRepo.FindByAccountID(ctx, s.db, accountID, false)
	if err != nil {
		return "", err
	}
	if sub == nil || strings.TrimSpace(sub.CustomerID) == "" {
		return "", ErrCustomerNotFound
	}

	url, err := s.creator.CreateSession(ctx, sub.CustomerID)
	if err != nil {
		logger.WithContext(ctx, s.log).Error("billing portal session failed",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return "", err
	}
	return url, nil
}
