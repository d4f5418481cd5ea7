package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/migrations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// Open connects to the configured database and applies the schema
// migrations for its dialect.
func Open(ctx context.Context, cfg core.StorageConfig) (*persistence.Client, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		sqlDriver string
		dialect   schema.Dialect
		target    string
	)
	switch driver {
	case core.StorageDriverSQLite:
		sqlDriver, dialect, target = "sqlite3", sqlitedialect.New(), migrations.DialectSQLite
	case core.StorageDriverPostgres:
		sqlDriver, dialect, target = "postgres", pgdialect.New(), migrations.DialectPostgres
	default:
		return nil, fmt.Errorf("sqlstore: unsupported storage driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}

	sqlDB, err := sql.Open(sqlDriver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == core.StorageDriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(cfg.PersistenceConfig("delta"), sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	if err := Migrate(ctx, client, target); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func Migrate(ctx context.Context, client *persistence.Client, dialect string) error {
	if client == nil {
		return fmt.Errorf("sqlstore: persistence client is required")
	}
	err := migrations.Register(ctx, func(_ context.Context, source migrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	}, dialect)
	if err != nil {
		return fmt.Errorf("sqlstore: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}
