package postgres

import (
	"database/sql"
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Ratio1/edge-node-sub002/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsTable records which audit schema versions are applied
const MigrationsTable = "chaindist_schema_migrations"

// Migrate applies every pending audit schema migration
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "migrate_source", "failed to load embedded migrations")
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "migrate_driver", "failed to create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "migrate_init", "failed to create migrator")
	}

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "migrate_up", "audit schema migration failed")
	}
	return nil
}
