package indicator

// RSIFromAverages converts average gain and loss into an RSI value.
//
// Policy for the degenerate case: when the average loss is zero (or a
// non-positive residual of the running sum) RS is unbounded and the result
// is clamped to 100. Negative gain residuals count as zero. The result is
// always within [0, 100].
func RSIFromAverages(avgGain, avgLoss float64) float64 {
	if avgGain < 0 {
		avgGain = 0
	}
	if avgLoss <= 0 {
		return 100
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	switch {
	case rsi < 0:
		return 0
	case rsi > 100:
		return 100
	}
	return rsi
}

// RelativeStrengthIndex computes RSI over period using a plain trailing mean
// of gains and losses (no Wilder smoothing).
//
// The first bar has no predecessor; its delta counts as zero gain and zero
// loss, so the first value appears at index period-1.
func RelativeStrengthIndex(series []float64, period int) []Point {
	out := make([]Point, len(series))
	if period <= 0 {
		for i := range out {
			out[i] = Missing
		}
		return out
	}

	gains := NewSMA(period)
	losses := NewSMA(period)
	for i, v := range series {
		gain, loss := 0.0, 0.0
		if i > 0 {
			delta := v - series[i-1]
			if delta > 0 {
				gain = delta
			} else {
				loss = -delta
			}
		}
		gains.Update(gain)
		losses.Update(loss)

		if !gains.Ready() {
			out[i] = Missing
			continue
		}
		out[i] = Ready(RSIFromAverages(gains.Point().Value, losses.Point().Value))
	}
	return out
}
