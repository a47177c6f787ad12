package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbt/internal/execution"
	"crossbt/internal/indicator"
	redisstore "crossbt/internal/store/redis"
	"crossbt/internal/strategy"
)

func sampleSummary() execution.Summary {
	ts := time.Date(2025, 10, 2, 9, 30, 0, 0, time.UTC)
	return execution.Summary{
		InitialCash: 100, FinalCash: 104, TotalReturn: 4, TradeCount: 1,
		TradeLog: []execution.TradeRecord{
			{TS: ts, Side: strategy.ActionBuy, Price: 10, CashAfter: 100},
			{TS: ts.Add(time.Minute), Side: strategy.ActionSell, Price: 14, CashAfter: 104},
		},
	}
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	rec := get(t, NewRouter(Deps{}), "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_RunsFromJournal(t *testing.T) {
	j, err := execution.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.RecordRun(execution.RunRecord{
		RunID: "r1", Symbol: "NIFTY", Params: indicator.DefaultParams(), Summary: sampleSummary(),
	}))

	router := NewRouter(Deps{Runs: j})

	rec := get(t, router, "/api/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []execution.RunRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].RunID)

	rec = get(t, router, "/api/v1/runs/trades?run_id=r1")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []execution.TradeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	assert.Len(t, trades, 2)

	rec = get(t, router, "/api/v1/runs/trades?run_id=unknown")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/runs/trades").Code)
}

func TestRouter_LatestFromRedis(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pub := redisstore.NewPublisher(db, time.Hour)
	router := NewRouter(Deps{Results: pub})

	sumJSON, err := json.Marshal(sampleSummary())
	require.NoError(t, err)
	mock.ExpectGet(redisstore.LatestKey("NIFTY")).SetVal("r7")
	mock.ExpectGet(redisstore.SummaryKey("r7")).SetVal(string(sumJSON))

	rec := get(t, router, "/api/v1/runs/latest?symbol=NIFTY")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RunID   string            `json:"run_id"`
		Summary execution.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "r7", body.RunID)
	assert.Equal(t, 4.0, body.Summary.TotalReturn)

	mock.ExpectGet(redisstore.LatestKey("NONE")).RedisNil()
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/runs/latest?symbol=NONE").Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type staticSymbols struct {
	symbols []string
	err     error
}

func (s staticSymbols) Symbols() ([]string, error) { return s.symbols, s.err }

func TestRouter_Symbols(t *testing.T) {
	rec := get(t, NewRouter(Deps{Symbols: staticSymbols{symbols: []string{"BANKNIFTY", "NIFTY"}}}), "/api/v1/symbols")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["BANKNIFTY","NIFTY"]`, rec.Body.String())

	rec = get(t, NewRouter(Deps{Symbols: staticSymbols{}}), "/api/v1/symbols")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = get(t, NewRouter(Deps{Symbols: staticSymbols{err: errors.New("disk I/O error")}}), "/api/v1/symbols")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouter_UnconfiguredBackends(t *testing.T) {
	router := NewRouter(Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/api/v1/symbols").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/api/v1/runs").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/api/v1/runs/latest?symbol=X").Code)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/ws/replay").Code)
}
