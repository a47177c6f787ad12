package execution

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"crossbt/internal/indicator"
	"crossbt/internal/strategy"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists backtest runs and their trade logs to SQLite for
// analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS backtest_runs (
		run_id        TEXT PRIMARY KEY,
		symbol        TEXT NOT NULL,
		params        TEXT NOT NULL,
		initial_cash  REAL NOT NULL,
		final_cash    REAL NOT NULL,
		total_return  REAL NOT NULL,
		trade_count   INTEGER NOT NULL,
		open_entry    REAL,
		open_unrealized REAL,
		created_at    DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS backtest_trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL REFERENCES backtest_runs(run_id),
		seq         INTEGER NOT NULL,
		ts          INTEGER NOT NULL,
		side        TEXT NOT NULL,
		price       REAL NOT NULL,
		cash_after  REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades(run_id, seq);
	CREATE INDEX IF NOT EXISTS idx_backtest_runs_symbol ON backtest_runs(symbol);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened backtest journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RunRecord is everything the journal keeps about one run.
type RunRecord struct {
	RunID     string           `json:"run_id"`
	Symbol    string           `json:"symbol"`
	Params    indicator.Params `json:"params"`
	Summary   Summary          `json:"summary"`
	CreatedAt time.Time        `json:"created_at"`
}

// RecordRun persists a run summary and its trade log in one transaction.
func (j *Journal) RecordRun(rec RunRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var openEntry, openUnrealized sql.NullFloat64
	if o := rec.Summary.Open; o != nil {
		openEntry = sql.NullFloat64{Float64: o.EntryPrice, Valid: true}
		openUnrealized = sql.NullFloat64{Float64: o.Unrealized, Valid: true}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO backtest_runs (run_id, symbol, params, initial_cash, final_cash, total_return, trade_count, open_entry, open_unrealized, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Symbol,
		string(params),
		rec.Summary.InitialCash,
		rec.Summary.FinalCash,
		rec.Summary.TotalReturn,
		rec.Summary.TradeCount,
		openEntry,
		openUnrealized,
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal insert run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO backtest_trades (run_id, seq, ts, side, price, cash_after) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal prepare: %w", err)
	}
	defer stmt.Close()

	for i, t := range rec.Summary.TradeLog {
		if _, err := stmt.Exec(rec.RunID, i, t.TS.UnixNano(), string(t.Side), t.Price, t.CashAfter); err != nil {
			return fmt.Errorf("journal insert trade %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// RunRow is one row of the backtest_runs table.
type RunRow struct {
	RunID       string   `json:"run_id"`
	Symbol      string   `json:"symbol"`
	Params      string   `json:"params"`
	InitialCash float64  `json:"initial_cash"`
	FinalCash   float64  `json:"final_cash"`
	TotalReturn float64  `json:"total_return"`
	TradeCount  int      `json:"trade_count"`
	OpenEntry   *float64 `json:"open_entry,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

// GetRuns returns the last N runs, newest first.
func (j *Journal) GetRuns(limit int) ([]RunRow, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT run_id, symbol, params, initial_cash, final_cash, total_return, trade_count, open_entry, created_at
		 FROM backtest_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		var openEntry sql.NullFloat64
		if err := rows.Scan(&r.RunID, &r.Symbol, &r.Params, &r.InitialCash, &r.FinalCash,
			&r.TotalReturn, &r.TradeCount, &openEntry, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal scan run: %w", err)
		}
		if openEntry.Valid {
			v := openEntry.Float64
			r.OpenEntry = &v
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetTrades returns the trade log of a run in chronological order.
func (j *Journal) GetTrades(runID string) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT ts, side, price, cash_after FROM backtest_trades WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var tsNano int64
		var side string
		if err := rows.Scan(&tsNano, &side, &t.Price, &t.CashAfter); err != nil {
			return nil, fmt.Errorf("journal scan trade: %w", err)
		}
		t.TS = time.Unix(0, tsNano).UTC()
		t.Side = strategy.Action(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
