// Package database provides connection setup for MariaDB and Redis, schema
// migrations, and the transaction helper shared by the stores. Connections
// are created once at startup and shared across the application via
// dependency injection.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MariaDB driver -- imported for side effect of registering the driver.
	_ "github.com/go-sql-driver/mysql"
	"github.com/sethvargo/go-retry"

	"github.com/keyxmakerx/bidhouse/internal/config"
)

// NewMariaDB creates a new MariaDB connection pool configured with the
// settings from the provided config. It pings the database to verify
// connectivity before returning.
func NewMariaDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	// Configure connection pool settings to prevent connection exhaustion
	// and stale connections under load.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingWithBackoff(ctx, db, cfg.ConnectAttempts); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// pingWithBackoff retries the ping with exponential backoff capped at 30s.
// MariaDB may still be starting when the app container launches.
func pingWithBackoff(ctx context.Context, db *sql.DB, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	b := retry.NewExponential(1 * time.Second)
	b = retry.WithCappedDuration(30*time.Second, b)
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			slog.Warn("mariadb not ready, retrying...",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", attempts),
				slog.Any("error", err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pinging mariadb after %d attempts: %w", attempt, err)
	}
	return nil
}
