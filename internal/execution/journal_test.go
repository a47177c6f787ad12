package execution

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbt/internal/indicator"
	"crossbt/internal/strategy"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndReadBack(t *testing.T) {
	j := openJournal(t)

	bars := barsAt(100, 104, 108, 103)
	sum := Simulate(bars, []strategy.Action{buy, sell, buy, hold}, 1000, nil)

	err := j.RecordRun(RunRecord{
		RunID:   "run-1",
		Symbol:  "TXF",
		Params:  indicator.DefaultParams(),
		Summary: sum,
	})
	require.NoError(t, err)

	trades, err := j.GetTrades("run-1")
	require.NoError(t, err)
	require.Len(t, trades, len(sum.TradeLog))
	for i := range trades {
		assert.True(t, trades[i].TS.Equal(sum.TradeLog[i].TS), "trade %d ts", i)
		assert.Equal(t, sum.TradeLog[i].Side, trades[i].Side)
		assert.Equal(t, sum.TradeLog[i].Price, trades[i].Price)
		assert.Equal(t, sum.TradeLog[i].CashAfter, trades[i].CashAfter)
	}

	runs, err := j.GetRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "TXF", runs[0].Symbol)
	assert.Equal(t, 4.0, runs[0].TotalReturn)
	assert.Equal(t, 2, runs[0].TradeCount)
	require.NotNil(t, runs[0].OpenEntry)
	assert.Equal(t, 108.0, *runs[0].OpenEntry)

	var p indicator.Params
	require.NoError(t, json.Unmarshal([]byte(runs[0].Params), &p))
	assert.Equal(t, indicator.DefaultParams(), p)
}

func TestJournal_DuplicateRunRejected(t *testing.T) {
	j := openJournal(t)
	rec := RunRecord{RunID: "dup", Symbol: "TXF", Params: indicator.DefaultParams(), Summary: Summary{InitialCash: 1, FinalCash: 1}}
	require.NoError(t, j.RecordRun(rec))
	assert.Error(t, j.RecordRun(rec))

	trades, err := j.GetTrades("missing")
	require.NoError(t, err)
	assert.Empty(t, trades)
}
