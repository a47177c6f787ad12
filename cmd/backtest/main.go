// cmd/backtest runs the moving-average crossover backtest over one symbol's
// bars and prints the summary and trade log.
//
// Bars come from the SQLite bars table (-db, -symbol, -from, -to) or from a
// JSON file (-bars). Results can be saved to the SQLite run journal (-save),
// published to Redis (-publish) and written as JSON (-out).
//
// Usage:
//
//	go run ./cmd/backtest -symbol=NIFTY -db=data/bars.db -save
//	go run ./cmd/backtest -bars=bars.json -ma-fast=10 -ma-slow=30 -out=result.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crossbt/config"
	"crossbt/internal/backtest"
	"crossbt/internal/execution"
	"crossbt/internal/logger"
	"crossbt/internal/metrics"
	"crossbt/internal/model"
	"crossbt/internal/notification"
	redisstore "crossbt/internal/store/redis"
	sqlitestore "crossbt/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
}

type options struct {
	configPath string
	barsFile   string
	importBars bool
	from, to   int64
	save       bool
	publish    bool
	outPath    string
	quiet      bool
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "YAML config file")
	fs.StringVar(&opts.barsFile, "bars", "", "JSON file of bars (instead of the SQLite bars table)")
	fs.BoolVar(&opts.importBars, "import", false, "Write the -bars file into the SQLite bars table before running")
	fs.Int64Var(&opts.from, "from", 0, "Unix timestamp of the first bar (0=all)")
	fs.Int64Var(&opts.to, "to", 0, "Unix timestamp of the last bar (0=all)")
	fs.BoolVar(&opts.save, "save", false, "Record the run in the SQLite journal")
	fs.BoolVar(&opts.publish, "publish", false, "Publish the run to Redis")
	fs.StringVar(&opts.outPath, "out", "", "Write the full report as JSON to this path")
	fs.BoolVar(&opts.quiet, "quiet", false, "Print only the summary")

	// Overrides for config keys; applied only when set on the command line.
	dbPath := fs.String("db", "", "Path to SQLite database")
	symbol := fs.String("symbol", "", "Symbol to backtest")
	cash := fs.Float64("cash", 0, "Initial cash")
	maFast := fs.Int("ma-fast", 0, "Fast moving-average window")
	maSlow := fs.Int("ma-slow", 0, "Slow moving-average window")
	rsiPeriod := fs.Int("rsi", 0, "RSI period")
	macdFast := fs.Int("macd-fast", 0, "MACD fast span")
	macdSlow := fs.Int("macd-slow", 0, "MACD slow span")
	macdSignal := fs.Int("macd-signal", 0, "MACD signal span")
	redisAddr := fs.String("redis", "", "Redis address")
	metricsAddr := fs.String("metrics-addr", "", "Serve /metrics on this address after the run until interrupted")
	logLevel := fs.String("log-level", "", "debug|info|warn|error")
	notifyURL := fs.String("notify", "", "Webhook URL for the run-completion alert")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	serveMetrics := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.SQLitePath = *dbPath
		case "symbol":
			cfg.Symbol = *symbol
		case "cash":
			cfg.InitialCash = *cash
		case "ma-fast":
			cfg.Indicators.MAFast = *maFast
		case "ma-slow":
			cfg.Indicators.MASlow = *maSlow
		case "rsi":
			cfg.Indicators.RSIPeriod = *rsiPeriod
		case "macd-fast":
			cfg.Indicators.MACDFast = *macdFast
		case "macd-slow":
			cfg.Indicators.MACDSlow = *macdSlow
		case "macd-signal":
			cfg.Indicators.MACDSignal = *macdSignal
		case "redis":
			cfg.RedisAddr = *redisAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
			serveMetrics = true
		case "log-level":
			cfg.LogLevel = *logLevel
		case "notify":
			cfg.NotifyWebhook = *notifyURL
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	slogger := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))

	bars, err := loadBars(cfg, opts)
	if err != nil {
		return err
	}
	log.Printf("[backtest] loaded %d bars for %s", len(bars), cfg.Symbol)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	runner := backtest.New(backtest.Options{
		Params:      cfg.IndicatorParams(),
		InitialCash: cfg.InitialCash,
		Logger:      slogger,
		Metrics:     m,
	})

	report, err := runner.Run(bars)
	if err != nil {
		return err
	}
	printReport(stdout, cfg.Symbol, len(bars), report, opts.quiet)

	if opts.outPath != "" {
		if err := writeReport(opts.outPath, report); err != nil {
			return err
		}
		log.Printf("[backtest] report written to %s", opts.outPath)
	}

	if opts.save {
		if err := saveRun(cfg, report); err != nil {
			return err
		}
	}

	if opts.publish {
		if err := publishRun(ctx, cfg, report); err != nil {
			return err
		}
	}

	notify(ctx, cfg, report)

	if serveMetrics {
		srv := metrics.NewServer(cfg.MetricsAddr, m, nil)
		srv.Start()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	}
	return nil
}

func loadBars(cfg *config.Config, opts options) ([]model.Bar, error) {
	if opts.barsFile != "" {
		bars, err := readBarsFile(opts.barsFile)
		if err != nil {
			return nil, err
		}
		if !opts.importBars {
			return bars, nil
		}
		if err := model.ValidateBars(bars); err != nil {
			return nil, err
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			return nil, err
		}
		defer w.Close()
		if err := w.WriteBars(cfg.Symbol, bars); err != nil {
			return nil, fmt.Errorf("import bars: %w", err)
		}
		return bars, nil
	}
	if opts.importBars {
		return nil, errors.New("-import requires -bars")
	}

	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.ReadBars(cfg.Symbol, opts.from, opts.to)
}

func readBarsFile(path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars file: %w", err)
	}
	defer f.Close()

	var bars []model.Bar
	if err := json.NewDecoder(f).Decode(&bars); err != nil {
		return nil, fmt.Errorf("decode bars file %s: %w", path, err)
	}
	return bars, nil
}

func writeReport(path string, report *backtest.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func saveRun(cfg *config.Config, report *backtest.Report) error {
	journal, err := execution.NewJournal(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	err = journal.RecordRun(execution.RunRecord{
		RunID:   report.RunID,
		Symbol:  cfg.Symbol,
		Params:  report.Params,
		Summary: report.Summary,
	})
	if err != nil {
		return err
	}
	log.Printf("[backtest] run %s saved to %s", report.RunID, cfg.SQLitePath)
	return nil
}

func publishRun(ctx context.Context, cfg *config.Config, report *backtest.Report) error {
	pub, err := redisstore.Dial(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pub.PublishRun(ctx, report.RunID, cfg.Symbol, report.Summary); err != nil {
		return err
	}
	slog.Info("run published", slog.String("run_id", report.RunID), slog.String("redis", cfg.RedisAddr))
	return nil
}

// notify sends the run-completion alert. Delivery failures are logged only.
func notify(ctx context.Context, cfg *config.Config, report *backtest.Report) {
	var n notification.Notifier = notification.LogNotifier{}
	if cfg.NotifyWebhook != "" {
		n = notification.NewWebhookNotifier(cfg.NotifyWebhook)
	}
	alert := notification.RunAlert(notification.RunResult{
		RunID:       report.RunID,
		Symbol:      cfg.Symbol,
		TotalReturn: report.Summary.TotalReturn,
		TradeCount:  report.Summary.TradeCount,
		Ignored:     len(report.Summary.Ignored),
		OpenAtEnd:   report.Summary.Open != nil,
	})
	if err := n.Send(ctx, alert); err != nil {
		log.Printf("[backtest] WARNING: notify failed: %v", err)
	}
}

func printReport(w io.Writer, symbol string, nbars int, report *backtest.Report, quiet bool) {
	sum := report.Summary
	p := report.Params

	if !quiet && len(sum.TradeLog) > 0 {
		fmt.Fprintln(w, "TRADES")
		for _, t := range sum.TradeLog {
			fmt.Fprintf(w, "  %s  %-4s  %12.2f  cash=%.2f\n",
				t.TS.Format("2006-01-02 15:04:05"), t.Side, t.Price, t.CashAfter)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "╔══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        BACKTEST COMPLETE             ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Symbol:            %-16s ║\n", symbol)
	fmt.Fprintf(w, "║  Bars:              %-16d ║\n", nbars)
	fmt.Fprintf(w, "║  MA windows:        %-16s ║\n", fmt.Sprintf("%d/%d", p.MAFast, p.MASlow))
	fmt.Fprintf(w, "║  Initial cash:      %-16.2f ║\n", sum.InitialCash)
	fmt.Fprintf(w, "║  Final cash:        %-16.2f ║\n", sum.FinalCash)
	fmt.Fprintf(w, "║  Total return:      %-16.2f ║\n", sum.TotalReturn)
	fmt.Fprintf(w, "║  Trades (entries):  %-16d ║\n", sum.TradeCount)
	fmt.Fprintf(w, "║  Ignored signals:   %-16d ║\n", len(sum.Ignored))
	if o := sum.Open; o != nil {
		fmt.Fprintf(w, "║  Open since:        %-16s ║\n", o.EntryTS.Format("01-02 15:04"))
		fmt.Fprintf(w, "║  Unrealized:        %-16.2f ║\n", o.Unrealized)
	}
	fmt.Fprintln(w, "╚══════════════════════════════════════╝")
	fmt.Fprintf(w, "run_id=%s\n", report.RunID)
}
