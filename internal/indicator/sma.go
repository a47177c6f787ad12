package indicator

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer and a running sum so each update is O(1).
type SMA struct {
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // total values received
	sum    float64
	last   float64 // most recent value
	run    int     // trailing count of values equal to last
}

// NewSMA creates a new SMA with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

// Update feeds the next value.
func (s *SMA) Update(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count > 1 && v == s.last {
		s.run++
	} else {
		s.run = 1
	}
	s.last = v

	// Re-sum once per lap to drop rounding residue.
	if s.idx == 0 {
		s.sum = 0
		for _, x := range s.buf {
			s.sum += x
		}
	}
}

// Ready returns true once a full window has been seen.
func (s *SMA) Ready() bool { return s.count >= s.period }

// Point returns the current mean, or Missing during warm-up.
func (s *SMA) Point() Point {
	if !s.Ready() {
		return Missing
	}
	// A window of identical values averages to that value exactly.
	if s.run >= s.period {
		return Ready(s.last)
	}
	return Ready(s.sum / float64(s.period))
}

// MovingAverage returns the trailing arithmetic mean of series over window.
// Indices below window-1 are Missing. A non-positive window yields an
// all-missing series.
func MovingAverage(series []float64, window int) []Point {
	out := make([]Point, len(series))
	if window <= 0 {
		for i := range out {
			out[i] = Missing
		}
		return out
	}
	sma := NewSMA(window)
	for i, v := range series {
		sma.Update(v)
		out[i] = sma.Point()
	}
	return out
}
