// Package stream replays a backtest over a websocket, one message per bar.
package stream

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"crossbt/internal/backtest"
	"crossbt/internal/execution"
	"crossbt/internal/indicator"
	"crossbt/internal/logger"
	"crossbt/internal/metrics"
	"crossbt/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// maxInterval bounds the pause between bars; slower speeds are rejected.
	maxInterval = time.Minute
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Message types.
const (
	TypeStart   = "start"
	TypeBar     = "bar"
	TypeSummary = "summary"
)

// Message is one websocket frame of a replay. A replay is one start message,
// one bar message per input bar and a final summary.
type Message struct {
	Type    string             `json:"type"`
	RunID   string             `json:"run_id"`
	Symbol  string             `json:"symbol,omitempty"`
	Bars    int                `json:"bars,omitempty"`
	Params  *indicator.Params  `json:"params,omitempty"`
	Event   *backtest.Event    `json:"event,omitempty"`
	Summary *execution.Summary `json:"summary,omitempty"`
}

// Config configures a replay Handler.
type Config struct {
	Reader   model.BarReader
	Runner   *backtest.Runner
	Metrics  *metrics.Metrics      // optional
	Health   *metrics.HealthStatus // optional, records the last completed run
	Logger   *slog.Logger          // optional
	Interval time.Duration         // default pause between bar messages
}

// Handler serves GET /ws/replay?symbol=S[&from=unix][&to=unix][&speed=bars_per_sec].
// speed=0 sends every bar without pausing.
type Handler struct {
	cfg Config
	log *slog.Logger
}

// NewHandler creates a replay handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg, log: cfg.Logger.With(slog.String("component", "replay"))}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	from, err1 := parseInt64(q.Get("from"))
	to, err2 := parseInt64(q.Get("to"))
	interval, err3 := h.interval(q.Get("speed"))
	if err := errors.Join(err1, err2, err3); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bars, err := h.cfg.Reader.ReadBars(symbol, from, to)
	if err != nil {
		h.fail(w, symbol, err)
		return
	}
	report, err := h.cfg.Runner.Run(bars)
	if err != nil {
		h.fail(w, symbol, err)
		return
	}
	if h.cfg.Health != nil {
		h.cfg.Health.SetLastRunAt(time.Now())
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	if m := h.cfg.Metrics; m != nil {
		m.StreamClients.Inc()
		defer m.StreamClients.Dec()
	}
	h.log.Info("replay started",
		slog.String("symbol", symbol),
		slog.String("run_id", report.RunID),
		slog.Int("bars", len(bars)),
		slog.String("remote", r.RemoteAddr),
	)

	// The client only sends control frames; a read error means it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := logger.WithRunID(r.Context(), report.RunID)
	if err := h.replay(conn, symbol, report, interval, r, gone); err != nil {
		h.log.Info("replay aborted", append(logger.LogWithRun(ctx), slog.String("reason", err.Error()))...)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replay complete"))
	h.log.Info("replay finished", logger.LogWithRun(ctx)...)
}

var errClientGone = errors.New("client disconnected")

func (h *Handler) replay(conn *websocket.Conn, symbol string, rep *backtest.Report, interval time.Duration, r *http.Request, gone <-chan struct{}) error {
	params := rep.Params
	if err := h.send(conn, Message{Type: TypeStart, RunID: rep.RunID, Symbol: symbol, Bars: len(rep.Events), Params: &params}); err != nil {
		return err
	}

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for i := range rep.Events {
		if tick != nil {
		wait:
			for {
				select {
				case <-tick:
					break wait
				case <-ping.C:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return err
					}
				case <-gone:
					return errClientGone
				case <-r.Context().Done():
					return r.Context().Err()
				}
			}
		} else {
			select {
			case <-gone:
				return errClientGone
			case <-r.Context().Done():
				return r.Context().Err()
			default:
			}
		}

		ev := rep.Events[i]
		if err := h.send(conn, Message{Type: TypeBar, RunID: rep.RunID, Event: &ev}); err != nil {
			return err
		}
	}

	sum := rep.Summary
	return h.send(conn, Message{Type: TypeSummary, RunID: rep.RunID, Summary: &sum})
}

func (h *Handler) send(conn *websocket.Conn, msg Message) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.StreamEvents.Inc()
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, symbol string, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, model.ErrMissingInput) || errors.Is(err, indicator.ErrInvalidPeriod) {
		code = http.StatusUnprocessableEntity
	}
	h.log.Error("replay failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
	http.Error(w, err.Error(), code)
}

// interval converts a bars-per-second speed into a pause between bars.
func (h *Handler) interval(speed string) (time.Duration, error) {
	if speed == "" {
		return h.cfg.Interval, nil
	}
	v, err := strconv.ParseFloat(speed, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("speed must be a finite non-negative number of bars per second")
	}
	if v == 0 {
		return 0, nil
	}
	d := float64(time.Second) / v
	if d > float64(maxInterval) {
		return 0, errors.New("speed must be at least one bar per minute")
	}
	return time.Duration(d), nil
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.New("from/to must be unix seconds")
	}
	return v, nil
}
