// Command washctl is the operator CLI: schema migration, admin accounts,
// manual status changes and order exports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/washgo/delivery/internal/repository"
)

var databaseURL string

var rootCmd = &cobra.Command{
	Use:           "washctl",
	Short:         "Wash & Go operator CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "",
		"PostgreSQL connection URL (or WASHGO_DATABASE_URL / DATABASE_URL env)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(createAdminCmd)
	rootCmd.AddCommand(setStatusCmd)
	rootCmd.AddCommand(exportOrdersCmd)
}

func main() {
	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		lg.Error("Command failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func resolveDatabaseURL() (string, error) {
	for _, v := range []string{databaseURL, os.Getenv("WASHGO_DATABASE_URL"), os.Getenv("DATABASE_URL")} {
		if v != "" {
			return v, nil
		}
	}
	return "", errors.New("database URL is required: set --database-url, WASHGO_DATABASE_URL or DATABASE_URL")
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	url, err := resolveDatabaseURL()
	if err != nil {
		return nil, err
	}
	pool, err := repository.NewPool(ctx, url, repository.PoolConfig{MaxConns: 2})
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	return pool, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return err
		}
		zctx.From(ctx).Info("Schema applied")
		return nil
	},
}
