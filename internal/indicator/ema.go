package indicator

// EMA calculates Exponential Moving Average.
// Seeded with the first value, so it is defined from the first bar on.
type EMA struct {
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA with alpha = 2/(span+1).
// Spans below 1 are treated as 1 (alpha = 1, the EMA tracks its input).
func NewEMA(span int) *EMA {
	if span < 1 {
		span = 1
	}
	return &EMA{multiplier: 2.0 / float64(span+1)}
}

// Update feeds the next value and returns the new average.
func (e *EMA) Update(v float64) float64 {
	e.count++
	if e.count == 1 {
		e.current = v
		return e.current
	}
	// EMA = (v * alpha) + (EMA_prev * (1 - alpha))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
	return e.current
}

// Value returns the current average.
func (e *EMA) Value() float64 { return e.current }

// ExponentialMovingAverage applies the EMA recurrence to series.
//
//	v[0] = series[0]
//	v[i] = α·series[i] + (1-α)·v[i-1],  α = 2/(span+1)
func ExponentialMovingAverage(series []float64, span int) []float64 {
	out := make([]float64, len(series))
	ema := NewEMA(span)
	for i, v := range series {
		out[i] = ema.Update(v)
	}
	return out
}
