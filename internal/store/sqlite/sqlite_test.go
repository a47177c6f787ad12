package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbt/internal/model"
)

func testBars(n int) []model.Bar {
	t0 := time.Date(2025, 10, 2, 9, 15, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = model.Bar{
			TS:   t0.Add(time.Duration(i) * time.Minute),
			Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: float64(10 * (i + 1)),
		}
	}
	return bars
}

func openPair(t *testing.T, batch int) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := New(WriterConfig{DBPath: path, BatchSize: batch})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	r, err := NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return w, r
}

func TestWriteAndReadBars(t *testing.T) {
	w, r := openPair(t, 3) // force several transactions
	bars := testBars(10)
	require.NoError(t, w.WriteBars("NIFTY", bars))
	require.NoError(t, w.WriteBars("BANKNIFTY", testBars(2)))

	got, err := r.ReadBars("NIFTY", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, bars, got)

	syms, err := r.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"BANKNIFTY", "NIFTY"}, syms)
}

func TestReadBars_Range(t *testing.T) {
	w, r := openPair(t, 0)
	bars := testBars(10)
	require.NoError(t, w.WriteBars("NIFTY", bars))

	got, err := r.ReadBars("NIFTY", bars[2].TS.Unix(), bars[5].TS.Unix())
	require.NoError(t, err)
	assert.Equal(t, bars[2:6], got)
}

func TestReadBars_Upsert(t *testing.T) {
	w, r := openPair(t, 0)
	bars := testBars(3)
	require.NoError(t, w.WriteBars("NIFTY", bars))

	bars[1].Close = 999
	require.NoError(t, w.WriteBars("NIFTY", bars[1:2]))

	got, err := r.ReadBars("NIFTY", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 999.0, got[1].Close)
}

func TestReadBars_NullIsMissingInput(t *testing.T) {
	w, r := openPair(t, 0)
	require.NoError(t, w.WriteBars("NIFTY", testBars(3)))
	_, err := w.DB().Exec(`UPDATE bars SET close = NULL WHERE ts = ?`, testBars(3)[1].TS.Unix())
	require.NoError(t, err)

	_, err = r.ReadBars("NIFTY", 0, 0)
	assert.True(t, errors.Is(err, model.ErrMissingInput), "got %v", err)
}

func TestReadBars_UnknownSymbol(t *testing.T) {
	_, r := openPair(t, 0)
	got, err := r.ReadBars("NOPE", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
