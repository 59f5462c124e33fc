package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenledger/internal/cache"
	"github.com/smallbiznis/tokenledger/internal/clock"
	"github.com/smallbiznis/tokenledger/internal/config"
	"github.com/smallbiznis/tokenledger/internal/idempotency"
	"github.com/smallbiznis/tokenledger/internal/ledger"
	"github.com/smallbiznis/tokenledger/internal/migration"
	"github.com/smallbiznis/tokenledger/internal/observability"
	"github.com/smallbiznis/tokenledger/internal/portal"
	"github.com/smallbiznis/tokenledger/internal/ratelimit"
	"github.com/smallbiznis/tokenledger/internal/reconcile"
	"github.com/smallbiznis/tokenledger/internal/server"
	"github.com/smallbiznis/tokenledger/internal/subscription"
	"github.com/smallbiznis/tokenledger/internal/tier"
	"github.com/smallbiznis/tokenledger/internal/webhook"
	"github.com/smallbiznis/tokenledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,

		// Ledger domains
		tier.Module,
		subscription.Module,
		ledger.Module,
		idempotency.Module,
		reconcile.Module,
		webhook.Module,
		portal.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
