// Command ledgerctl runs operator tasks against the order ledger database: schema migrations and
// SKU maintenance.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/config"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
	"github.com/hanko-field/orderledger/internal/platform/secrets"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ledgerctl",
		Usage: "operate the order ledger database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file read before the process environment",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres connection string or secret:// reference",
				EnvVars: []string{"API_DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			skuCommand(),
		},
	}
}

func migrateCommand() *cli.Command {
	run := func(apply func(context.Context, *pgxpool.Pool) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			return withPool(c, apply)
		}
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "manage the ledger schema",
		Subcommands: []*cli.Command{
			{Name: "up", Usage: "apply pending migrations", Action: run(ppostgres.MigrateUp)},
			{Name: "down", Usage: "roll back the latest migration", Action: run(ppostgres.MigrateDown)},
			{Name: "status", Usage: "print applied migrations", Action: run(ppostgres.MigrationStatus)},
		},
	}
}

// withPool resolves the database settings, connects and hands the pool to fn.
func withPool(c *cli.Context, fn func(context.Context, *pgxpool.Pool) error) error {
	logger, err := observability.NewLogger(c.String("log-level"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dbCfg, err := databaseConfig(c, logger)
	if err != nil {
		return err
	}
	pool, err := ppostgres.Connect(c.Context, dbCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(c.Context, pool)
}

func databaseConfig(c *cli.Context, logger *zap.Logger) (config.DatabaseConfig, error) {
	env, err := config.EnvironmentValues(config.WithEnvFile(c.String("env-file")))
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	url := strings.TrimSpace(c.String("database-url"))
	if url == "" {
		url = strings.TrimSpace(env["API_DATABASE_URL"])
	}
	if url == "" {
		return config.DatabaseConfig{}, fmt.Errorf("database url is required (--database-url or API_DATABASE_URL)")
	}

	if strings.HasPrefix(url, "secret://") || strings.HasPrefix(url, "sm://") {
		project := strings.TrimSpace(env["API_SECRET_DEFAULT_PROJECT_ID"])
		if project == "" {
			project = strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])
		}
		fetcher, err := secrets.NewFetcher(c.Context, secrets.WithProject(project), secrets.WithLogger(logger))
		if err != nil {
			return config.DatabaseConfig{}, err
		}
		defer func() { _ = fetcher.Close() }()
		if url, err = fetcher.Resolve(c.Context, url); err != nil {
			return config.DatabaseConfig{}, err
		}
	}
	return config.DatabaseConfig{URL: url, TxAttempts: 3}, nil
}
