// Package metrics exposes Prometheus metrics and a health endpoint for the
// backtest commands.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backtest pipeline.
type Metrics struct {
	BarsTotal      prometheus.Counter
	SignalsTotal   *prometheus.CounterVec // labels: action
	TradesTotal    *prometheus.CounterVec // labels: side
	IgnoredSignals *prometheus.CounterVec // labels: action, position
	RunsTotal      *prometheus.CounterVec // labels: status=ok|error
	RunDuration    prometheus.Histogram
	LastReturn     prometheus.Gauge
	OpenPosition   prometheus.Gauge // 1 if the last run ended LONG

	// Replay streaming
	StreamClients prometheus.Gauge
	StreamEvents  prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers and returns all metrics on reg.
// A nil reg uses a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbt_bars_total",
			Help: "Total bars replayed through the simulator",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbt_signals_total",
			Help: "Signals generated (by action)",
		}, []string{"action"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbt_trades_total",
			Help: "Simulated fills (by side)",
		}, []string{"side"}),
		IgnoredSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbt_ignored_signals_total",
			Help: "BUY/SELL signals dropped because they did not match the position state",
		}, []string{"action", "position"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbt_runs_total",
			Help: "Backtest runs (by status)",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crossbt_run_duration_seconds",
			Help:    "Wall time of one backtest run",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		LastReturn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossbt_last_total_return",
			Help: "Total return of the most recent run",
		}),
		OpenPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossbt_last_run_open_position",
			Help: "1 if the most recent run ended with an open position",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossbt_stream_clients",
			Help: "Connected replay websocket clients",
		}),
		StreamEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbt_stream_events_total",
			Help: "Replay events written to websocket clients",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.BarsTotal,
		m.SignalsTotal,
		m.TradesTotal,
		m.IgnoredSignals,
		m.RunsTotal,
		m.RunDuration,
		m.LastReturn,
		m.OpenPosition,
		m.StreamClients,
		m.StreamEvents,
	)

	return m
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// HealthStatus represents the health of the storage backends.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastRunAt      time.Time `json:"last_run_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	redisRequired bool
}

// NewHealthStatus returns a default health status. When redisRequired is
// false a missing Redis connection does not degrade the status.
func NewHealthStatus(redisRequired bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:     time.Now(),
		redisRequired: redisRequired,
	}
}

func (h *HealthStatus) SetLastRunAt(t time.Time) {
	h.mu.Lock()
	h.LastRunAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb goredis.Cmdable) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings SQLite and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartProbes runs periodic health checks until ctx is cancelled.
// rdb and db may be nil.
func (h *HealthStatus) StartProbes(ctx context.Context, interval time.Duration, rdb goredis.Cmdable, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.SQLiteOK || (h.redisRequired && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	lastRun := ""
	if !h.LastRunAt.IsZero() {
		lastRun = h.LastRunAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastRunAt       string  `json:"last_run_at"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastRunAt:       lastRun,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics server; health may be nil.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if health != nil {
		mux.Handle("/healthz", health)
	}

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
