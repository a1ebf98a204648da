// Package database opens and migrates the relational store. Postgres is the
// production driver; SQLite backs development and tests.
package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rfpflow-io/rfpflow-ce/internal/config"
)

// Open connects to the configured database and verifies the connection.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	driverName := driver
	if driver == "sqlite" {
		driverName = "sqlite3"
	}

	dsn := cfg.GetDSN()
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	// An in-memory SQLite database exists per connection, so the pool must
	// never grow past one.
	if driverName == "sqlite3" && dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS vendors (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		phone      TEXT,
		address    TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_vendors_email ON vendors (lower(email))`,
	`CREATE TABLE IF NOT EXISTS rfps (
		id                     TEXT PRIMARY KEY,
		title                  TEXT NOT NULL,
		description_raw        TEXT NOT NULL,
		description_structured TEXT NOT NULL,
		invited_vendor_ids     TEXT NOT NULL,
		status                 TEXT NOT NULL,
		created_at             TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS proposals (
		id               TEXT PRIMARY KEY,
		rfp_id           TEXT NOT NULL,
		vendor_id        TEXT NOT NULL,
		email_message_id TEXT,
		raw_response     TEXT NOT NULL,
		parsed           TEXT NOT NULL,
		scoring          TEXT,
		created_at       TIMESTAMP NOT NULL,
		updated_at       TIMESTAMP NOT NULL,
		UNIQUE (rfp_id, vendor_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_message_id
		ON proposals (email_message_id)
		WHERE email_message_id IS NOT NULL`,
}

// Migrate creates the schema. Statements are idempotent so it is safe to run
// on every startup.
func Migrate(db *sqlx.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
