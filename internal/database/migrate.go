package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"

	// File source driver for reading migration files from disk.
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrator wraps golang-migrate for the serve and migrate commands.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator builds a migrator reading *.sql files from migrationsPath.
func NewMigrator(db *sql.DB, migrationsPath string) (*Migrator, error) {
	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "mysql", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations. Already-applied migrations are skipped.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	mg.logVersion("migrations applied")
	return nil
}

// Down rolls back the given number of migrations.
func (mg *Migrator) Down(steps int) error {
	if steps < 1 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	if err := mg.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	mg.logVersion("migrations rolled back")
	return nil
}

// Version reports the current schema version and whether it is dirty.
// A database with no migrations applied reports version 0.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) logVersion(msg string) {
	version, dirty, _ := mg.Version()
	slog.Info(msg,
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
}

// RunMigrations applies all pending migrations from the given directory.
func RunMigrations(db *sql.DB, migrationsPath string) error {
	mg, err := NewMigrator(db, migrationsPath)
	if err != nil {
		return err
	}
	return mg.Up()
}
