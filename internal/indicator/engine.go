package indicator

import (
	"time"

	"crossbt/internal/model"
)

// Row is the indicator frame entry for one bar. Rows are built once and
// never mutated.
type Row struct {
	TS         time.Time `json:"timestamp"`
	Close      float64   `json:"close"`
	MAFast     Point     `json:"ma_fast"`
	MASlow     Point     `json:"ma_slow"`
	RSI        Point     `json:"rsi"`
	MACD       Point     `json:"macd"`
	MACDSignal Point     `json:"macd_signal"`
}

// Compute builds the indicator frame for bars, aligned 1:1 with the input.
// The caller validates p; non-positive windows produce all-missing columns.
func Compute(bars []model.Bar, p Params) []Row {
	closes := model.Closes(bars)

	maFast := MovingAverage(closes, p.MAFast)
	maSlow := MovingAverage(closes, p.MASlow)
	rsi := RelativeStrengthIndex(closes, p.RSIPeriod)
	macd, signal := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)

	rows := make([]Row, len(bars))
	for i := range bars {
		rows[i] = Row{
			TS:         bars[i].TS,
			Close:      closes[i],
			MAFast:     maFast[i],
			MASlow:     maSlow[i],
			RSI:        rsi[i],
			MACD:       Ready(macd[i]),
			MACDSignal: Ready(signal[i]),
		}
	}
	return rows
}
