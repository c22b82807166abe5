// Command migrate manages the score gateway schema.
package main

import (
	"fmt"
	"os"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"

	"github.com/okian/tabulator/internal/adapters/repository"
	"github.com/okian/tabulator/internal/config"
	"github.com/okian/tabulator/pkg/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := newApp().Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	defaults := config.New()
	return &cli.App{
		Name:  "migrate",
		Usage: "score gateway migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "driver",
				Usage:   "sqlite or postgres",
				Value:   repository.DriverSQLite,
				EnvVars: []string{config.EnvPrefix + "DATABASE_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "database connection string",
				Value:   defaults.DatabaseDSN,
				EnvVars: []string{config.EnvPrefix + "DATABASE_DSN"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "create migration tables",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error { return m.Init(c.Context) }),
			},
			{
				Name:  "migrate",
				Usage: "migrate database",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error {
					if err := m.Init(c.Context); err != nil {
						return err
					}
					group, err := m.Migrate(c.Context)
					if err != nil {
						return err
					}
					if group.IsZero() {
						_, _ = fmt.Fprintln(c.App.Writer, "no new migrations to run")
						return nil
					}
					_, _ = fmt.Fprintf(c.App.Writer, "migrated to %s\n", group)
					return nil
				}),
			},
			{
				Name:  "rollback",
				Usage: "rollback the last migration group",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error {
					group, err := m.Rollback(c.Context)
					if err != nil {
						return err
					}
					if group.IsZero() {
						_, _ = fmt.Fprintln(c.App.Writer, "no groups to roll back")
						return nil
					}
					_, _ = fmt.Fprintf(c.App.Writer, "rolled back %s\n", group)
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "print migrations status",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error {
					ms, err := m.MigrationsWithStatus(c.Context)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(c.App.Writer, "migrations: %s\n", ms)
					_, _ = fmt.Fprintf(c.App.Writer, "applied: %s\n", ms.Applied())
					_, _ = fmt.Fprintf(c.App.Writer, "unapplied: %s\n", ms.Unapplied())
					return nil
				}),
			},
		},
	}
}

// withMigrator opens the configured database for the duration of one command.
func withMigrator(fn func(*cli.Context, *migrate.Migrator) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		driver, dsn := c.String("driver"), c.String("dsn")
		if dsn == "" {
			return fmt.Errorf("%w: --dsn is required", config.ErrInvalidConfig)
		}
		db, err := repository.OpenDB(c.Context, driver, dsn)
		if err != nil {
			return err
		}
		defer func(db *bun.DB) { _ = db.Close() }(db)
		return fn(c, repository.NewMigrator(db))
	}
}
