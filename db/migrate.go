package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Versioned migrations, named NNNNNN_description.{up,down}.sql.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrDirtySchema reports a migration that failed halfway and needs manual repair.
var ErrDirtySchema = errors.New("database schema is dirty")

// SchemaVersion is the applied migration version. Version 0 means none.
type SchemaVersion struct {
	Version uint
	Dirty   bool
}

func (v SchemaVersion) String() string {
	if v.Dirty {
		return fmt.Sprintf("%d (dirty)", v.Version)
	}
	return fmt.Sprintf("%d (clean)", v.Version)
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}

func currentVersion(m *migrate.Migrate) (SchemaVersion, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("read schema version: %w", err)
	}
	return SchemaVersion{Version: v, Dirty: dirty}, nil
}

// runMigration applies fn and reports the resulting version. ErrNoChange is not an error.
func runMigration(db *sql.DB, op string, fn func(*migrate.Migrate) error) (SchemaVersion, error) {
	m, err := newMigrator(db)
	if err != nil {
		return SchemaVersion{}, err
	}
	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaVersion{}, fmt.Errorf("migrate %s: %w", op, err)
	}
	v, err := currentVersion(m)
	if err != nil {
		return v, err
	}
	if v.Dirty {
		return v, fmt.Errorf("%w at version %d after %s", ErrDirtySchema, v.Version, op)
	}
	slog.Info("schema migrated", slog.String("op", op), slog.Uint64("version", uint64(v.Version)), slog.String("component", "db_migrate"))
	return v, nil
}

// MigrateUp applies every pending migration.
func MigrateUp(db *sql.DB) (SchemaVersion, error) {
	return runMigration(db, "up", (*migrate.Migrate).Up)
}

// MigrateDown rolls back the most recent migration. Data in dropped tables is lost.
func MigrateDown(db *sql.DB) (SchemaVersion, error) {
	return runMigration(db, "down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// CurrentVersion returns the applied migration version without changing it.
func CurrentVersion(db *sql.DB) (SchemaVersion, error) {
	m, err := newMigrator(db)
	if err != nil {
		return SchemaVersion{}, err
	}
	return currentVersion(m)
}

// Setup brings the schema up to date: versioned migrations first, the
// idempotent statement list when those fail. A dirty schema is never papered over.
func Setup(ctx context.Context, db *sql.DB) error {
	_, err := MigrateUp(db)
	if err == nil || errors.Is(err, ErrDirtySchema) {
		return err
	}
	slog.Warn("versioned migrations failed, falling back to embedded schema",
		slog.Any("err", err), slog.String("component", "db_migrate"))
	return Migrate(ctx, db)
}
