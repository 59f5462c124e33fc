package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"github.com/smallbiznis/tokenledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultListLimit = 50

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) FindBalance(ctx context.Context, conn *gorm.DB, accountID string, forUpdate bool) (*ledgerdomain.TokenBalance, error) {
	query := `SELECT account_id, expiring_tokens, expiring_tokens_expiry, nonexpiring_tokens, updated_at
		 FROM token_balances WHERE account_id = ?`
	if forUpdate && conn.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var balance ledgerdomain.TokenBalance
	if err := conn.WithContext(ctx).Raw(query, accountID).Scan(&balance).Error; err != nil {
		return nil, err
	}
	if balance.AccountID == "" {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) UpsertBalance(ctx context.Context, conn *gorm.DB, balance *ledgerdomain.TokenBalance) error {
	if balance.ExpiringTokens < 0 || balance.NonexpiringTokens < 0 {
		return ledgerdomain.ErrNegativeTokens
	}
	balance.UpdatedAt = time.Now().UTC()

	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"expiring_tokens",
				"expiring_tokens_expiry",
				"nonexpiring_tokens",
				"updated_at",
			}),
		}).
		Create(balance).Error
}

func (r *repo) InsertEntry(ctx context.Context, conn *gorm.DB, entry *ledgerdomain.LedgerEntry) (bool, error) {
	result := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateEntry(ctx context.Context, conn *gorm.DB, entry *ledgerdomain.LedgerEntry) error {
	return conn.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("event_id = ?", entry.EventID).
		Updates(map[string]any{
			"account_id":            entry.AccountID,
			"subscription_id":       entry.SubscriptionID,
			"kind":                  entry.Kind,
			"delta":                 entry.Delta,
			"resulting_expiring":    entry.ResultingExpiring,
			"resulting_nonexpiring": entry.ResultingNonexpiring,
			"metadata":              entry.Metadata,
			"applied_at":            entry.AppliedAt,
		}).Error
}

func (r *repo) FindEntryByEventID(ctx context.Context, conn *gorm.DB, eventID string) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := conn.WithContext(ctx).
		Where("event_id = ?", eventID).
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) ListEntries(ctx context.Context, conn *gorm.DB, accountID string, beforeID snowflake.ID, limit int) ([]ledgerdomain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := conn.WithContext(ctx).Where("account_id = ?", accountID)
	if beforeID != 0 {
		query = query.Where("id < ?", beforeID)
	}

	var entries []ledgerdomain.LedgerEntry
	err := query.
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
