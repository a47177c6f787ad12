// Package backtest wires the indicator engine, the crossover signal generator
// and the trade simulator into one deterministic run over a bar series.
package backtest

import (
	"fmt"
	"log/slog"
	"time"

	"crossbt/internal/execution"
	"crossbt/internal/indicator"
	"crossbt/internal/logger"
	"crossbt/internal/metrics"
	"crossbt/internal/model"
	"crossbt/internal/strategy"
)

// Options configures a Runner. Zero Params fall back to
// indicator.DefaultParams(); Logger and Metrics are optional.
type Options struct {
	Params      indicator.Params
	InitialCash float64
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Event is the per-bar view of a run: the indicator row, the signal it
// produced, the fill (if any) and the position after the bar.
type Event struct {
	Index    int                    `json:"index"`
	Row      indicator.Row          `json:"row"`
	Signal   strategy.Signal        `json:"signal"`
	Trade    *execution.TradeRecord `json:"trade,omitempty"`
	Position execution.Position     `json:"position"`
	Cash     float64                `json:"cash"`
}

// Report is the full output of one run.
type Report struct {
	RunID       string            `json:"run_id"`
	Params      indicator.Params  `json:"params"`
	InitialCash float64           `json:"initial_cash"`
	Rows        []indicator.Row   `json:"rows"`
	Signals     []strategy.Signal `json:"signals"`
	Summary     execution.Summary `json:"summary"`
	Events      []Event           `json:"-"`
}

// Runner executes backtests with fixed options. A Runner holds no per-run
// state and may be reused.
type Runner struct {
	params      indicator.Params
	initialCash float64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Params == (indicator.Params{}) {
		opts.Params = indicator.DefaultParams()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		params:      opts.Params,
		initialCash: opts.InitialCash,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Params returns the indicator parameters the runner uses.
func (r *Runner) Params() indicator.Params { return r.params }

// Run validates bars, computes the indicator frame, generates one signal per
// bar and replays the signals through a fresh simulator.
// Bars with missing fields fail with model.ErrMissingInput before any
// indicator is computed.
func (r *Runner) Run(bars []model.Bar) (*Report, error) {
	start := time.Now()
	runID := logger.NewRunID()
	log := r.logger.With(slog.String("run_id", runID))

	report, err := r.run(runID, bars, log)
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RunsTotal.WithLabelValues(status).Inc()
		r.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Error("backtest failed", slog.String("error", err.Error()))
		return nil, err
	}

	log.Info("backtest complete",
		slog.Int("bars", len(bars)),
		slog.Int("trades", report.Summary.TradeCount),
		slog.Float64("total_return", report.Summary.TotalReturn),
		slog.Bool("open_position", report.Summary.Open != nil),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

func (r *Runner) run(runID string, bars []model.Bar, log *slog.Logger) (*Report, error) {
	if err := r.params.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if err := model.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	rows := indicator.Compute(bars, r.params)
	signals := strategy.Generate(rows)

	sim := execution.NewSimulator(r.initialCash, log)
	if m := r.metrics; m != nil {
		sim.OnTrade = func(tr execution.TradeRecord) {
			m.TradesTotal.WithLabelValues(string(tr.Side)).Inc()
		}
		sim.OnIgnored = func(ig execution.IgnoredSignal) {
			m.IgnoredSignals.WithLabelValues(string(ig.Action), ig.Position.String()).Inc()
		}
	}

	events := make([]Event, len(bars))
	for i, bar := range bars {
		sig := signals[i]
		ev := Event{Index: i, Row: rows[i], Signal: sig}
		if tr, ok := sim.Step(bar, sig.Action); ok {
			fill := tr
			ev.Trade = &fill
		}
		acct := sim.Account()
		ev.Position, ev.Cash = acct.Position, acct.Cash
		events[i] = ev

		if r.metrics != nil {
			r.metrics.BarsTotal.Inc()
			r.metrics.SignalsTotal.WithLabelValues(string(sig.Action)).Inc()
		}
	}

	summary := sim.Result()
	if r.metrics != nil {
		r.metrics.LastReturn.Set(summary.TotalReturn)
		if summary.Open != nil {
			r.metrics.OpenPosition.Set(1)
		} else {
			r.metrics.OpenPosition.Set(0)
		}
	}

	return &Report{
		RunID:       runID,
		Params:      r.params,
		InitialCash: r.initialCash,
		Rows:        rows,
		Signals:     signals,
		Summary:     summary,
		Events:      events,
	}, nil
}
