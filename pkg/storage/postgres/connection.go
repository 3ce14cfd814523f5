package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/La-R19/fiverecruit/pkg/observability"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Connect opens the PostgreSQL pool, applies the pool limits and pings the
// server within the configured timeout.
func Connect(ctx context.Context, config ConnectionConfig) (*sql.DB, error) {
	return connect(ctx, "postgres", config)
}

func connect(ctx context.Context, driver string, config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open(driver, config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// StartPoolStatsRoutine publishes pool statistics to the metrics gauges
// every interval until ctx is done.
func StartPoolStatsRoutine(ctx context.Context, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(logger, "db pool stats")

		metrics.RecordDBStats(db.Stats())
		for {
			select {
			case <-ticker.C:
				metrics.RecordDBStats(db.Stats())
			case <-ctx.Done():
				return
			}
		}
	}()
}
