package execution

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"directindex/internal/model"
)

// Journal persists executed trades to SQLite for audit, ledger seeding
// across restarts, and the read-only API. Live fills and dry-run
// simulated fills share the table, flagged apart.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite trade journal.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id      TEXT NOT NULL,
		execution_id  TEXT,
		ticker        TEXT NOT NULL,
		side          TEXT NOT NULL,
		qty           REAL NOT NULL,
		price         REAL NOT NULL,
		commission    REAL NOT NULL DEFAULT 0,
		realized_gain REAL,
		dry_run       INTEGER NOT NULL DEFAULT 0,
		executed_at   DATETIME NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists one fill. realized carries the sale's realized
// gain/loss in dollars; nil for buys.
func (j *Journal) RecordFill(fill model.Fill, realized *float64, dryRun bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	flag := 0
	if dryRun {
		flag = 1
	}
	_, err := j.db.Exec(
		`INSERT INTO trades (order_id, execution_id, ticker, side, qty, price, commission, realized_gain, dry_run, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.ClientOrderID,
		fill.ExecutionID,
		fill.Ticker,
		string(fill.Side),
		fill.Quantity,
		fill.Price,
		fill.Commission,
		realized,
		flag,
		fill.ExecutedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// TradeRecord is a row from the trades table.
type TradeRecord struct {
	ID           int64    `json:"id"`
	OrderID      string   `json:"order_id"`
	ExecutionID  string   `json:"execution_id,omitempty"`
	Ticker       string   `json:"ticker"`
	Side         string   `json:"side"`
	Qty          float64  `json:"qty"`
	Price        float64  `json:"price"`
	Commission   float64  `json:"commission"`
	RealizedGain *float64 `json:"realized_gain"`
	DryRun       bool     `json:"dry_run"`
	ExecutedAt   string   `json:"executed_at"`
}

// GetTrades returns the last N trades, newest first.
func (j *Journal) GetTrades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, execution_id, ticker, side, qty, price, commission, realized_gain, dry_run, executed_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows), nil
}

// TradesSince returns trades executed at or after t, oldest first. The
// rebalance service replays these into the ledger's wash-sale state on
// startup.
func (j *Journal) TradesSince(t time.Time) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, execution_id, ticker, side, qty, price, commission, realized_gain, dry_run, executed_at
		 FROM trades WHERE executed_at >= ? ORDER BY id ASC`,
		t.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows), nil
}

func scanTrades(rows *sql.Rows) []TradeRecord {
	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var execID sql.NullString
		var realized sql.NullFloat64
		var flag int
		if err := rows.Scan(&t.ID, &t.OrderID, &execID, &t.Ticker, &t.Side,
			&t.Qty, &t.Price, &t.Commission, &realized, &flag, &t.ExecutedAt); err != nil {
			continue
		}
		t.ExecutionID = execID.String
		if realized.Valid {
			v := realized.Float64
			t.RealizedGain = &v
		}
		t.DryRun = flag != 0
		trades = append(trades, t)
	}
	return trades
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
