// Package sqlite persists portfolio snapshots, daily closes, benchmark
// weights, instrument resolutions and NAV history in a single SQLite
// file. One Store serves all five storage ports.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// snapshotKeep bounds the number of retained snapshot versions per table.
const snapshotKeep = 10

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/directindex.db"
}

// Store is a single-writer SQLite store.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS desired_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS daily_closes (
			ticker TEXT NOT NULL,
			day    TEXT NOT NULL,
			close  REAL NOT NULL,
			PRIMARY KEY (ticker, day)
		);

		CREATE TABLE IF NOT EXISTS index_weights (
			as_of  TEXT NOT NULL,
			ticker TEXT NOT NULL,
			weight REAL NOT NULL,
			PRIMARY KEY (as_of, ticker)
		);

		CREATE TABLE IF NOT EXISTS instruments (
			ticker   TEXT PRIMARY KEY,
			conid    TEXT NOT NULL,
			exchange TEXT,
			name     TEXT
		);

		CREATE TABLE IF NOT EXISTS nav_history (
			day          TEXT    PRIMARY KEY,
			ts           INTEGER NOT NULL,
			nav          REAL    NOT NULL,
			index_return REAL    NOT NULL DEFAULT 0
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
