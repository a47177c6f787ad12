// cmd/replayserver serves backtest replays over websocket plus the run
// journal and the latest published runs over REST.
//
// Routes:
//
//	/ws/replay?symbol=S&speed=N   one message per bar, N bars per second (0=max)
//	/api/v1/symbols               symbols with stored bars
//	/api/v1/runs                  journaled runs, newest first
//	/api/v1/runs/trades?run_id=   trade log of a journaled run
//	/api/v1/runs/latest?symbol=   latest run published to Redis
//	/metrics, /healthz
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crossbt/config"
	"crossbt/internal/api"
	"crossbt/internal/backtest"
	"crossbt/internal/execution"
	"crossbt/internal/logger"
	"crossbt/internal/metrics"
	redisstore "crossbt/internal/store/redis"
	sqlitestore "crossbt/internal/store/sqlite"
	"crossbt/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[replayserver] starting...")

	configPath := flag.String("config", "", "YAML config file")
	withRedis := flag.Bool("redis", false, "Serve the latest published runs from Redis")
	interval := flag.Duration("interval", 200*time.Millisecond, "Default pause between replayed bars")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[replayserver] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[replayserver] config: %v", err)
	}
	slogger := logger.Init("replayserver", logger.ParseLevel(cfg.LogLevel))

	// Creates the bars table on a fresh database.
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[replayserver] sqlite init failed: %v", err)
	}
	w.Close()

	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[replayserver] sqlite open failed: %v", err)
	}
	defer reader.Close()

	journal, err := execution.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[replayserver] journal open failed: %v", err)
	}
	defer journal.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(*withRedis)
	health.CheckSQLite(ctx, reader.DB())

	deps := api.Deps{
		Runs:    journal,
		Symbols: reader,
		Replay: stream.NewHandler(stream.Config{
			Reader: reader,
			Runner: backtest.New(backtest.Options{
				Params:      cfg.IndicatorParams(),
				InitialCash: cfg.InitialCash,
				Logger:      slogger,
				Metrics:     m,
			}),
			Metrics:  m,
			Health:   health,
			Logger:   slogger,
			Interval: *interval,
		}),
		Metrics: m.Handler(),
		Health:  health,
	}

	if *withRedis {
		pub, err := redisstore.Dial(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("[replayserver] redis connection failed: %v", err)
		}
		defer pub.Close()
		deps.Results = pub
		health.CheckRedis(ctx, pub.Client())
		health.StartProbes(ctx, 10*time.Second, pub.Client(), reader.DB())
	} else {
		health.StartProbes(ctx, 10*time.Second, nil, reader.DB())
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("serving", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[replayserver] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[replayserver] shutting down...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(shutdownCtx)
}
