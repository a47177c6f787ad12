// Package api provides the HTTP routes of the replay server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"crossbt/internal/execution"
	redisstore "crossbt/internal/store/redis"
)

// RunStore lists journaled runs.
type RunStore interface {
	GetRuns(limit int) ([]execution.RunRow, error)
	GetTrades(runID string) ([]execution.TradeRecord, error)
}

// ResultCache serves recently published runs.
type ResultCache interface {
	LatestRunID(ctx context.Context, symbol string) (string, error)
	ReadSummary(ctx context.Context, runID string) (*execution.Summary, error)
}

// SymbolLister lists the symbols with stored bars.
type SymbolLister interface {
	Symbols() ([]string, error)
}

// Deps are the handlers' collaborators. Nil members disable their routes
// (they answer 503).
type Deps struct {
	Runs    RunStore
	Results ResultCache
	Symbols SymbolLister
	Replay  http.Handler
	Metrics http.Handler
	Health  http.Handler
}

// NewRouter sets up HTTP routes for the replay server.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// GET /api/v1/symbols
	mux.HandleFunc("/api/v1/symbols", func(w http.ResponseWriter, r *http.Request) {
		if d.Symbols == nil {
			unavailable(w, "bars")
			return
		}
		symbols, err := d.Symbols.Symbols()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if symbols == nil {
			symbols = []string{}
		}
		writeJSON(w, symbols)
	})

	// GET /api/v1/runs?limit=N
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		if d.Runs == nil {
			unavailable(w, "journal")
			return
		}
		limit := 20
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		runs, err := d.Runs.GetRuns(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if runs == nil {
			runs = []execution.RunRow{}
		}
		writeJSON(w, runs)
	})

	// GET /api/v1/runs/trades?run_id=ID
	mux.HandleFunc("/api/v1/runs/trades", func(w http.ResponseWriter, r *http.Request) {
		if d.Runs == nil {
			unavailable(w, "journal")
			return
		}
		runID := r.URL.Query().Get("run_id")
		if runID == "" {
			writeError(w, http.StatusBadRequest, errors.New("run_id is required"))
			return
		}
		trades, err := d.Runs.GetTrades(runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if trades == nil {
			trades = []execution.TradeRecord{}
		}
		writeJSON(w, trades)
	})

	// GET /api/v1/runs/latest?symbol=S
	mux.HandleFunc("/api/v1/runs/latest", func(w http.ResponseWriter, r *http.Request) {
		if d.Results == nil {
			unavailable(w, "redis")
			return
		}
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, errors.New("symbol is required"))
			return
		}
		runID, err := d.Results.LatestRunID(r.Context(), symbol)
		if err == nil {
			var sum *execution.Summary
			if sum, err = d.Results.ReadSummary(r.Context(), runID); err == nil {
				writeJSON(w, map[string]any{"run_id": runID, "summary": sum})
				return
			}
		}
		if errors.Is(err, redisstore.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
	})

	if d.Replay != nil {
		mux.Handle("/ws/replay", d.Replay)
	}
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}
	if d.Health != nil {
		mux.Handle("/healthz", d.Health)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, errors.New(what+" not configured"))
}
