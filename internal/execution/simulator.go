// Package execution simulates order fills for backtests.
//
// The Simulator replays one signal per bar against a single-unit, long-only
// account and records every fill in an append-only trade log.
package execution

import (
	"fmt"
	"log/slog"
	"time"

	"crossbt/internal/model"
	"crossbt/internal/strategy"
)

// Position is the account's exposure.
type Position int

const (
	Flat Position = iota
	Long
)

func (p Position) String() string {
	switch p {
	case Flat:
		return "FLAT"
	case Long:
		return "LONG"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the position by name.
func (p Position) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes FLAT or LONG.
func (p *Position) UnmarshalText(text []byte) error {
	switch string(text) {
	case "FLAT":
		*p = Flat
	case "LONG":
		*p = Long
	default:
		return fmt.Errorf("unknown position %q", text)
	}
	return nil
}

// Account is the simulated cash and position. EntryPrice is meaningful only
// while Long.
type Account struct {
	Cash       float64  `json:"cash"`
	Position   Position `json:"position"`
	EntryPrice float64  `json:"entry_price"`
}

// TradeRecord is one fill in the trade log.
type TradeRecord struct {
	TS        time.Time       `json:"timestamp"`
	Side      strategy.Action `json:"side"` // BUY or SELL
	Price     float64         `json:"price"`
	CashAfter float64         `json:"cash_after"`
}

// IgnoredSignal records a BUY or SELL that did not match a valid transition
// from the current position (BUY while Long, SELL while Flat).
type IgnoredSignal struct {
	TS       time.Time       `json:"timestamp"`
	Action   strategy.Action `json:"action"`
	Position Position        `json:"position"`
}

// OpenPosition describes a position still held when the run ended.
// Its unrealized change is reported here and excluded from TotalReturn.
type OpenPosition struct {
	EntryTS    time.Time `json:"entry_ts"`
	EntryPrice float64   `json:"entry_price"`
	LastPrice  float64   `json:"last_price"`
	Unrealized float64   `json:"unrealized"`
}

// Summary is the outcome of one simulation run.
type Summary struct {
	InitialCash float64         `json:"initial_cash"`
	FinalCash   float64         `json:"final_cash"`
	TotalReturn float64         `json:"total_return"`
	TradeCount  int             `json:"trade_count"` // number of BUY entries
	TradeLog    []TradeRecord   `json:"trade_log"`
	Ignored     []IgnoredSignal `json:"ignored,omitempty"`
	Open        *OpenPosition   `json:"open,omitempty"`
}

// Simulator owns one Account for the duration of one run.
// Position size is fixed at one unit: profit is the raw price delta.
// Not safe for concurrent use.
type Simulator struct {
	initialCash float64
	account     Account
	trades      []TradeRecord
	ignored     []IgnoredSignal
	entryTS     time.Time
	lastPrice   float64
	logger      *slog.Logger

	// Callbacks (optional)
	OnTrade   func(TradeRecord)   // called after every fill
	OnIgnored func(IgnoredSignal) // called for every dropped BUY/SELL
}

// NewSimulator creates a Flat simulator holding initialCash.
// A nil logger falls back to slog.Default().
func NewSimulator(initialCash float64, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		initialCash: initialCash,
		account:     Account{Cash: initialCash, Position: Flat},
		trades:      make([]TradeRecord, 0, 64),
		logger:      logger,
	}
}

// Account returns a copy of the current account state.
func (s *Simulator) Account() Account { return s.account }

// Step applies the signal for one bar. It returns the fill and true when the
// signal caused a transition.
func (s *Simulator) Step(bar model.Bar, action strategy.Action) (TradeRecord, bool) {
	s.lastPrice = bar.Close

	switch {
	case action == strategy.ActionBuy && s.account.Position == Flat:
		s.account.Position = Long
		s.account.EntryPrice = bar.Close
		s.entryTS = bar.TS
		return s.fill(bar, strategy.ActionBuy), true

	case action == strategy.ActionSell && s.account.Position == Long:
		profit := bar.Close - s.account.EntryPrice
		s.account.Cash += profit
		s.account.Position = Flat
		s.account.EntryPrice = 0
		s.entryTS = time.Time{}
		return s.fill(bar, strategy.ActionSell), true

	case action == strategy.ActionBuy || action == strategy.ActionSell:
		ig := IgnoredSignal{TS: bar.TS, Action: action, Position: s.account.Position}
		s.ignored = append(s.ignored, ig)
		s.logger.Debug("signal ignored",
			slog.Time("ts", bar.TS),
			slog.String("action", string(action)),
			slog.String("position", s.account.Position.String()),
		)
		if s.OnIgnored != nil {
			s.OnIgnored(ig)
		}
	}
	return TradeRecord{}, false
}

func (s *Simulator) fill(bar model.Bar, side strategy.Action) TradeRecord {
	tr := TradeRecord{
		TS:        bar.TS,
		Side:      side,
		Price:     bar.Close,
		CashAfter: s.account.Cash,
	}
	s.trades = append(s.trades, tr)
	s.logger.Debug("fill",
		slog.Time("ts", bar.TS),
		slog.String("side", string(side)),
		slog.Float64("price", bar.Close),
		slog.Float64("cash", s.account.Cash),
	)
	if s.OnTrade != nil {
		s.OnTrade(tr)
	}
	return tr
}

// Result summarizes the run so far. An open position is not closed: it is
// reported in Open and its unrealized change is left out of TotalReturn.
func (s *Simulator) Result() Summary {
	trades := make([]TradeRecord, len(s.trades))
	copy(trades, s.trades)

	var ignored []IgnoredSignal
	if len(s.ignored) > 0 {
		ignored = make([]IgnoredSignal, len(s.ignored))
		copy(ignored, s.ignored)
	}

	buys := 0
	for _, t := range trades {
		if t.Side == strategy.ActionBuy {
			buys++
		}
	}

	sum := Summary{
		InitialCash: s.initialCash,
		FinalCash:   s.account.Cash,
		TotalReturn: s.account.Cash - s.initialCash,
		TradeCount:  buys,
		TradeLog:    trades,
		Ignored:     ignored,
	}
	if s.account.Position == Long {
		sum.Open = &OpenPosition{
			EntryTS:    s.entryTS,
			EntryPrice: s.account.EntryPrice,
			LastPrice:  s.lastPrice,
			Unrealized: s.lastPrice - s.account.EntryPrice,
		}
	}
	return sum
}

// Simulate replays bars and their signals (aligned 1:1) through a fresh
// Simulator and returns its summary. Extra entries on either side are ignored.
func Simulate(bars []model.Bar, actions []strategy.Action, initialCash float64, logger *slog.Logger) Summary {
	sim := NewSimulator(initialCash, logger)
	n := len(bars)
	if len(actions) < n {
		n = len(actions)
	}
	for i := 0; i < n; i++ {
		sim.Step(bars[i], actions[i])
	}
	return sim.Result()
}
