package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindBalance(ctx context.Context, db *gorm.DB, accountID string, forUpdate bool) (*TokenBalance, error)
	UpsertBalance(ctx context.Context, db *gorm.DB, balance *TokenBalance) error

	// InsertEntry reports false when a row with the same event id already exists.
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	UpdateEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	FindEntryByEventID(ctx context.Context, db *gorm.DB, eventID string) (*LedgerEntry, error)
	// ListEntries returns entries newest first; beforeID zero starts at the newest entry.
	ListEntries(ctx context.Context, db *gorm.DB, accountID string, beforeID snowflake.ID, limit int) ([]LedgerEntry, error)
}
