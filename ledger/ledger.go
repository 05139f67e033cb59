// Package ledger is an append-only SQLite audit trail of every order,
// fill and strategy decision the engine produces, independent of the JSON
// snapshot in package state. It is additive telemetry: the engine never
// reloads from it on restart, it is queried for history. Grounded on
// data/database.go and data/order_store.go, generalized from OHLCV/order
// persistence to an execution-core audit trail.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// OrderRecord is one submitted bracket order.
type OrderRecord struct {
	ID         string    `db:"id"`
	Ticker     string    `db:"ticker"`
	Side       string    `db:"side"`
	Quantity   int       `db:"quantity"`
	EntryPrice float64   `db:"entry_price"`
	StopLoss   float64   `db:"stop_loss"`
	Target     float64   `db:"target"`
	Strategy   string    `db:"strategy"`
	DryRun     bool      `db:"dry_run"`
	CreatedAt  time.Time `db:"created_at"`
}

// FillRecord is one broker fill, rejection or cancellation event observed
// by PollOrders.
type FillRecord struct {
	ID         int64     `db:"id"`
	OrderID    string    `db:"order_id"`
	Ticker     string    `db:"ticker"`
	Kind       string    `db:"kind"`
	Price      float64   `db:"price"`
	Quantity   int       `db:"quantity"`
	Reason     string    `db:"reason"`
	OccurredAt time.Time `db:"occurred_at"`
}

// DecisionRecord is one strategy entry/exit evaluation, win or lose, kept
// for post-hoc review of why the engine did or didn't act on a signal.
type DecisionRecord struct {
	ID         int64     `db:"id"`
	Ticker     string    `db:"ticker"`
	Strategy   string    `db:"strategy"`
	Kind       string    `db:"kind"`
	Accepted   bool      `db:"accepted"`
	Reason     string    `db:"reason"`
	OccurredAt time.Time `db:"occurred_at"`
}

// Ledger wraps a sqlx connection to the audit database.
type Ledger struct {
	db *sqlx.DB
}

// Open connects to (and creates if absent) the SQLite database at path and
// runs schema migrations.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connect to ledger database: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("run ledger migrations: %w", err)
	}
	log.Info().Str("path", path).Msg("audit ledger ready")
	return l, nil
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		target REAL NOT NULL,
		strategy TEXT NOT NULL,
		dry_run INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_ticker ON orders(ticker);

	CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		kind TEXT NOT NULL,
		price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		reason TEXT,
		occurred_at DATETIME NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	);

	CREATE INDEX IF NOT EXISTS idx_fills_order_id ON fills(order_id);

	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		strategy TEXT NOT NULL,
		kind TEXT NOT NULL,
		accepted INTEGER NOT NULL,
		reason TEXT,
		occurred_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_ticker ON decisions(ticker);
	`
	_, err := l.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// RecordOrder persists a submitted bracket order.
func (l *Ledger) RecordOrder(o OrderRecord) error {
	query := `
		INSERT OR REPLACE INTO orders (id, ticker, side, quantity, entry_price, stop_loss, target, strategy, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.Exec(query, o.ID, o.Ticker, o.Side, o.Quantity, o.EntryPrice, o.StopLoss, o.Target, o.Strategy, o.DryRun, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("record order: %w", err)
	}
	return nil
}

// RecordFill persists a fill, rejection or cancellation event.
func (l *Ledger) RecordFill(f FillRecord) error {
	query := `
		INSERT INTO fills (order_id, ticker, kind, price, quantity, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.Exec(query, f.OrderID, f.Ticker, f.Kind, f.Price, f.Quantity, f.Reason, f.OccurredAt)
	if err != nil {
		return fmt.Errorf("record fill: %w", err)
	}
	return nil
}

// RecordDecision persists a strategy entry/exit evaluation.
func (l *Ledger) RecordDecision(d DecisionRecord) error {
	query := `
		INSERT INTO decisions (ticker, strategy, kind, accepted, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.Exec(query, d.Ticker, d.Strategy, d.Kind, d.Accepted, d.Reason, d.OccurredAt)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// OrdersForTicker returns every recorded order for a ticker, most recent first.
func (l *Ledger) OrdersForTicker(ticker string) ([]OrderRecord, error) {
	var orders []OrderRecord
	query := `SELECT id, ticker, side, quantity, entry_price, stop_loss, target, strategy, dry_run, created_at
		FROM orders WHERE ticker = ? ORDER BY created_at DESC`
	if err := l.db.Select(&orders, query, ticker); err != nil {
		return nil, fmt.Errorf("query orders for ticker: %w", err)
	}
	return orders, nil
}

// FillsForOrder returns every fill/rejection/cancellation event recorded for
// an order.
func (l *Ledger) FillsForOrder(orderID string) ([]FillRecord, error) {
	var fills []FillRecord
	query := `SELECT id, order_id, ticker, kind, price, quantity, reason, occurred_at
		FROM fills WHERE order_id = ? ORDER BY occurred_at ASC`
	if err := l.db.Select(&fills, query, orderID); err != nil {
		return nil, fmt.Errorf("query fills for order: %w", err)
	}
	return fills, nil
}

// DecisionsForTicker returns every recorded strategy decision for a ticker,
// most recent first.
func (l *Ledger) DecisionsForTicker(ticker string) ([]DecisionRecord, error) {
	var decisions []DecisionRecord
	query := `SELECT id, ticker, strategy, kind, accepted, reason, occurred_at
		FROM decisions WHERE ticker = ? ORDER BY occurred_at DESC`
	if err := l.db.Select(&decisions, query, ticker); err != nil {
		return nil, fmt.Errorf("query decisions for ticker: %w", err)
	}
	return decisions, nil
}
