package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"crossbt/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to the bars table, the hand-off point of
// the external ingestion step.
type Reader struct {
	db *sql.DB
}

var _ model.BarReader = (*Reader)(nil)

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadBars reads the bars of one symbol with fromTS <= ts (and ts <= toTS
// when toTS > 0), Unix seconds, ordered by timestamp ascending.
// A NULL price or volume column fails with model.ErrMissingInput.
func (r *Reader) ReadBars(symbol string, fromTS, toTS int64) ([]model.Bar, error) {
	query := `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND ts >= ?`
	args := []any{symbol, fromTS}
	if toTS > 0 {
		query += ` AND ts <= ?`
		args = append(args, toTS)
	}
	query += ` ORDER BY ts ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var (
			tsUnix                         int64
			open, high, low, close, volume sql.NullFloat64
		)
		if err := rows.Scan(&tsUnix, &open, &high, &low, &close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		ts := time.Unix(tsUnix, 0).UTC()

		cols := [...]struct {
			name string
			v    sql.NullFloat64
		}{
			{"open", open}, {"high", high}, {"low", low}, {"close", close}, {"volume", volume},
		}
		for _, c := range cols {
			if !c.v.Valid {
				return nil, fmt.Errorf("sqlite bars %s@%s: %s: %w",
					symbol, ts.Format(time.RFC3339), c.name, model.ErrMissingInput)
			}
		}

		bars = append(bars, model.Bar{
			TS:     ts,
			Open:   open.Float64,
			High:   high.Float64,
			Low:    low.Float64,
			Close:  close.Float64,
			Volume: volume.Float64,
		})
	}
	return bars, rows.Err()
}

// Symbols lists the distinct symbols present in the bars table.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan symbol: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
