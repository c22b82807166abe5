package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 database/sql driver
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/okian/tabulator/internal/adapters/repository/migrations"
	"github.com/okian/tabulator/pkg/logger"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and configures the gateway backend.
type Config struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

// Open builds the Gateway described by cfg.
func Open(ctx context.Context, cfg Config, opts ...Option) (Gateway, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == DriverMemory {
		return NewMemoryStore(opts...), nil
	}

	db, err := OpenDB(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if _, err := Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return NewBunStore(db, opts...), nil
}

// OpenDB connects to a SQL backend and verifies the connection.
func OpenDB(ctx context.Context, driver, dsn string) (*bun.DB, error) {
	var db *bun.DB
	switch strings.ToLower(driver) {
	case DriverPostgres, "pg":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite, "sqlite3":
		sqldb, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// NewMigrator returns a migrator over the gateway schema.
func NewMigrator(db *bun.DB) *migrate.Migrator {
	return migrate.NewMigrator(db, migrations.Migrations)
}

// Migrate creates the migration tables if needed and applies pending migrations.
func Migrate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	m := NewMigrator(db)
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	group, err := m.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if !group.IsZero() {
		logger.Get().Named("repository").Info(ctx, "schema migrated", logger.String("group", group.String()))
	}
	return group, nil
}
