package dbtest

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/tokenledger/internal/migration"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresDSNEnv names the connection string used by OpenPostgres.
const PostgresDSNEnv = "TOKENLEDGER_TEST_POSTGRES_DSN"

// OpenPostgres returns a migrated Postgres database in a throwaway schema. Unlike Open it keeps a
// real connection pool, so concurrent transactions contend on row locks and unique indexes.
// The test is skipped when PostgresDSNEnv is unset.
func OpenPostgres(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(PostgresDSNEnv))
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}

	schema := fmt.Sprintf("tokenledger_test_%d_%d", time.Now().UnixNano(), seq.Add(1))
	admin := openPostgres(t, dsn)
	if err := admin.Exec("CREATE SCHEMA " + schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_ = admin.Exec("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Error
		if sqlDB, err := admin.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	conn := openPostgres(t, withSearchPath(dsn, schema))
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.Apply(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func openPostgres(t testing.TB, dsn string) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	return conn
}

// withSearchPath pins every pooled connection to schema, for both URL and key=value DSNs.
func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}
