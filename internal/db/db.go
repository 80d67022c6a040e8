package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS cookies (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			domain    TEXT NOT NULL,
			path      TEXT NOT NULL DEFAULT '/',
			name      TEXT NOT NULL,
			value     TEXT NOT NULL DEFAULT '',
			expires   INTEGER NOT NULL DEFAULT 0,
			secure    INTEGER NOT NULL DEFAULT 0,
			http_only INTEGER NOT NULL DEFAULT 0,
			UNIQUE (domain, path, name)
		)
	`)
	if err != nil {
		return fmt.Errorf("create cookies: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS usage_snapshots (
			id              INTEGER PRIMARY KEY,
			ts_ms           INTEGER NOT NULL,
			poll_id         TEXT NOT NULL DEFAULT '',
			api_percent     REAL NOT NULL DEFAULT 0,
			auto_percent    REAL NOT NULL DEFAULT 0,
			total_percent   REAL NOT NULL DEFAULT 0,
			used            REAL NOT NULL DEFAULT 0,
			usage_limit     REAL NOT NULL DEFAULT 0,
			remaining       REAL NOT NULL DEFAULT 0,
			membership_type TEXT NOT NULL DEFAULT '',
			detailed_total  REAL NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create usage_snapshots: %w", err)
	}

	if _, err := d.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_usage_snapshots_ts ON usage_snapshots(ts_ms DESC)`); err != nil {
		return fmt.Errorf("index usage_snapshots: %w", err)
	}

	return nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
