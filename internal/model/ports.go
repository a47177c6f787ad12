package model

// ── Storage Port Interfaces ──
// These interfaces decouple the backtest commands from concrete storage
// implementations (SQLite, Redis).

// BarReader loads a materialized bar series for one symbol.
type BarReader interface {
	// ReadBars returns bars for symbol with fromTS <= ts <= toTS (Unix seconds),
	// ordered by timestamp ascending. toTS == 0 means no upper bound.
	ReadBars(symbol string, fromTS, toTS int64) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}
