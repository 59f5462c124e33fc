package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/smallbiznis/tokenledger/internal/clock"
	"github.com/smallbiznis/tokenledger/internal/config"
	ledgerrepo "github.com/smallbiznis/tokenledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/tokenledger/internal/ledger/service"
	"github.com/smallbiznis/tokenledger/internal/migration"
	"github.com/smallbiznis/tokenledger/internal/observability/logger"
	"github.com/smallbiznis/tokenledger/internal/tier"
	"github.com/smallbiznis/tokenledger/pkg/db"
	"github.com/smallbiznis/tokenledger/pkg/db/pagination"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const commandTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the token ledger database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newMigrateCmd(),
		newBalanceCmd(),
		newLedgerCmd(),
		newTiersCmd(),
	)
	return rootCmd
}

func newMigrateCmd() *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect()
			if err != nil {
				return err
			}
			defer closeConn(conn)

			if statusOnly {
				return printMigrationStatus(cmd.OutOrStdout(), conn)
			}
			if err := migration.Apply(conn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", conn.Dialector.Name())
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "print the applied migration version and exit")
	return cmd
}

func printMigrationStatus(out io.Writer, conn *gorm.DB) error {
	if conn.Dialector.Name() != "postgres" {
		fmt.Fprintf(out, "%s schema is managed by auto-migration\n", conn.Dialector.Name())
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, dirty, err := migration.Version(sqlDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "version %d dirty=%t\n", version, dirty)
	return nil
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show the spendable balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect()
			if err != nil {
				return err
			}
			defer closeConn(conn)

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			svc := ledgerservice.NewService(ledgerservice.Params{
				DB:    conn,
				Log:   zap.NewNop(),
				Repo:  ledgerrepo.Provide(),
				Clock: clock.New(),
			})
			view, err := svc.GetBalance(ctx, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "account\t%s\n", view.AccountID)
			fmt.Fprintf(w, "expiring\t%d\n", view.ExpiringTokens)
			fmt.Fprintf(w, "nonexpiring\t%d\n", view.NonexpiringTokens)
			if view.ExpiringTokensExpiry != nil {
				fmt.Fprintf(w, "expires\t%s\n", view.ExpiringTokensExpiry.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newLedgerCmd() *cobra.Command {
	var limit int
	var pageToken string

	cmd := &cobra.Command{
		Use:   "ledger <account-id>",
		Short: "List recent ledger entries of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect()
			if err != nil {
				return err
			}
			defer closeConn(conn)

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			svc := ledgerservice.NewService(ledgerservice.Params{
				DB:    conn,
				Log:   zap.NewNop(),
				Repo:  ledgerrepo.Provide(),
				Clock: clock.New(),
			})
			page, err := svc.ListEntries(ctx, args[0], pagination.Pagination{PageSize: limit, PageToken: pageToken})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "APPLIED\tEVENT\tKIND\tDELTA\tEXPIRING\tNONEXPIRING")
			for _, entry := range page.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					entry.AppliedAt.Format(time.RFC3339),
					entry.EventID,
					entry.Kind,
					entry.Delta,
					entry.ResultingExpiring,
					entry.ResultingNonexpiring,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if page.PageInfo.HasMore {
				fmt.Fprintf(cmd.OutOrStdout(), "next page: --page-token %s\n", page.PageInfo.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", pagination.DefaultPageSize, "entries per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "continue from a previous page")
	return cmd
}

func newTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Print the configured tier catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := tier.NewCatalogFromConfig(config.Load())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tGRANT\tPRICE\tINTERVAL\tPRICE IDS")
			for _, def := range catalog.List() {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%v\n", def.ID, def.TokenGrant, def.UnitPriceMinor, def.BillingInterval, def.PriceIDs)
			}
			return w.Flush()
		},
	}
}

func connect() (*gorm.DB, error) {
	cfg := config.Load()
	conn, err := db.Connect(cfg, logger.DefaultGormLoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBType, err)
	}
	return conn, nil
}

func closeConn(conn *gorm.DB) {
	if sqlDB, err := conn.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
