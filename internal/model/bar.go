package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMissingInput is returned when a bar lacks one of its OHLCV fields.
var ErrMissingInput = errors.New("missing input")

// Bar represents one OHLCV record for a fixed time interval.
// Prices are plain float64 currency units. A NaN field means the
// ingestion step could not supply it.
type Bar struct {
	TS     time.Time `json:"timestamp"` // interval label (non-decreasing)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// UnmarshalJSON decodes a bar; a null or absent price or volume becomes NaN
// so that ValidateBars reports it.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var raw struct {
		TS     time.Time `json:"timestamp"`
		Open   *float64  `json:"open"`
		High   *float64  `json:"high"`
		Low    *float64  `json:"low"`
		Close  *float64  `json:"close"`
		Volume *float64  `json:"volume"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Bar{
		TS:     raw.TS,
		Open:   orNaN(raw.Open),
		High:   orNaN(raw.High),
		Low:    orNaN(raw.Low),
		Close:  orNaN(raw.Close),
		Volume: orNaN(raw.Volume),
	}
	return nil
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Closes extracts the close price of every bar, in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// ValidateBars checks that every bar carries a timestamp and all OHLCV fields.
// Ordering is not checked: the ingestion collaborator guarantees it.
func ValidateBars(bars []Bar) error {
	for i := range bars {
		b := &bars[i]
		if b.TS.IsZero() {
			return fmt.Errorf("bar %d: timestamp: %w", i, ErrMissingInput)
		}
		fields := [...]struct {
			name string
			v    float64
		}{
			{"open", b.Open},
			{"high", b.High},
			{"low", b.Low},
			{"close", b.Close},
			{"volume", b.Volume},
		}
		for _, f := range fields {
			if math.IsNaN(f.v) {
				return fmt.Errorf("bar %d (%s): %s: %w", i, b.TS.Format(time.RFC3339), f.name, ErrMissingInput)
			}
		}
	}
	return nil
}
