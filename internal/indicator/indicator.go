// Package indicator provides technical indicator calculations over bar data.
//
// Every function is pure: it takes a materialized series and returns a new
// series aligned 1:1 with the input. Windowed indicators report warm-up bars
// as a missing Point rather than a number.
package indicator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrInvalidPeriod is returned when a window, span or period is not positive.
var ErrInvalidPeriod = errors.New("indicator period must be positive")

// Point is a single indicator sample.
// While Ready is false the sample is missing: Value holds NaN so it never
// compares equal to, above or below any real number.
type Point struct {
	Value float64
	Ready bool
}

// Missing is the warm-up sentinel.
var Missing = Point{Value: math.NaN()}

// Ready wraps a computed value.
func Ready(v float64) Point { return Point{Value: v, Ready: true} }

// MarshalJSON encodes a missing point as null.
func (p Point) MarshalJSON() ([]byte, error) {
	if !p.Ready {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, p.Value, 'g', -1, 64), nil
}

// UnmarshalJSON decodes null into Missing.
func (p *Point) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Missing
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("indicator point: %w", err)
	}
	*p = Ready(v)
	return nil
}

// Params holds the indicator windows. All of them are tuning parameters and
// are supplied by configuration.
type Params struct {
	MAFast     int `json:"ma_fast" yaml:"ma_fast"`
	MASlow     int `json:"ma_slow" yaml:"ma_slow"`
	RSIPeriod  int `json:"rsi_period" yaml:"rsi_period"`
	MACDFast   int `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow   int `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal int `json:"macd_signal" yaml:"macd_signal"`
}

// DefaultParams returns MA 5/20, RSI 14 and MACD 12/26/9.
func DefaultParams() Params {
	return Params{
		MAFast:     5,
		MASlow:     20,
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
	}
}

// Validate reports the first non-positive period.
func (p Params) Validate() error {
	checks := [...]struct {
		name string
		v    int
	}{
		{"ma_fast", p.MAFast},
		{"ma_slow", p.MASlow},
		{"rsi_period", p.RSIPeriod},
		{"macd_fast", p.MACDFast},
		{"macd_slow", p.MACDSlow},
		{"macd_signal", p.MACDSignal},
	}
	for _, c := range checks {
		if c.v <= 0 {
			return fmt.Errorf("%s=%d: %w", c.name, c.v, ErrInvalidPeriod)
		}
	}
	return nil
}
