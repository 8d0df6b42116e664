// Package migrations owns the Postgres schema of the profile store.
//
// The store is a single table, profile_cells, keyed by (row_key, family,
// qualifier). row_key is the salted key built by storage.RowKeyBuilder,
// value is a serde-encoded profile value and expires_at is the write time
// plus the profile TTL. A partial index on expires_at serves PurgeExpired.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

// LatestVersion returns the highest migration version embedded in the binary.
func LatestVersion() (uint, error) {
	src, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return 0, fmt.Errorf("open migration source: %w", err)
	}
	defer src.Close()
	return latest(src)
}

func latest(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("migration after %d: %w", v, err)
		}
		v = next
	}
}

// RunMigrations brings profile_cells up to LatestVersion. With autoMigrate
// off it only reports how far behind the database is; the adapter's schema
// validation then decides whether startup can continue.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	want, err := LatestVersion()
	if err != nil {
		return err
	}
	src, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("open migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	have, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		have = 0
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	// Every statement is IF [NOT] EXISTS, so replaying an interrupted step is safe.
	if dirty {
		slog.Warn("[Migrations] Schema left dirty, forcing recorded version", "version", have)
		if err := m.Force(int(have)); err != nil {
			return fmt.Errorf("force schema version %d: %w", have, err)
		}
	}

	if !autoMigrate {
		if have < want {
			slog.Warn("[Migrations] profile_cells schema is behind and auto_migrate is off",
				"version", have,
				"latest", want,
			)
		}
		return nil
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate profile_cells from %d to %d: %w", have, want, err)
	}
	if have != want {
		slog.Info("[Migrations] Migrated profile_cells schema", "from", have, "to", want)
	}
	return nil
}
