package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrDirtySchema means an earlier migration stopped halfway. The lock columns
// may be missing, so nothing should claim tasks or items until it is repaired.
var ErrDirtySchema = errors.New("database schema is dirty")

// RunMigrations brings the schema up to date and checks that every lockable
// table carries its claim columns. It returns the schema version.
func RunMigrations(db *DB) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	case dirty:
		return from, true, fmt.Errorf("%w at version %d, force a clean version before starting", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	if version != from {
		slog.Info("Schema migrated", "from", from, "to", version)
	}

	if err := checkLockColumns(db); err != nil {
		return version, dirty, err
	}

	return version, dirty, nil
}

func newMigrator(db *DB) (*migrate.Migrate, error) {
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// checkLockColumns selects the claim columns of every table the dispatcher
// and the external worker service lock rows in.
func checkLockColumns(db *DB) error {
	if _, err := db.Exec(`SELECT processing FROM tasks LIMIT 0`); err != nil {
		return fmt.Errorf("tasks table has no lock column: %w", err)
	}
	for _, c := range []Collection{CollectionPosts, CollectionTags, CollectionBigrams} {
		query := `SELECT processing, external_claimed_at, external_submitted_at, external_claim_worker_token_id FROM ` +
			string(c) + ` LIMIT 0`
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("%s table has no lock columns: %w", c, err)
		}
	}
	return nil
}
