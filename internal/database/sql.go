package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/thenasky/mail-delivery/internal/logger"
)

// OpenSQL opens and pings a database/sql handle. driver is "postgres" or "sqlite3".
func OpenSQL(ctx context.Context, driver, dsn string, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	log.Info("connected to SQL database", logger.Scope("database"), slog.String("driver", driver))
	return db, nil
}
