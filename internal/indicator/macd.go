package indicator

// MACD returns the MACD line (EMA(fast) - EMA(slow)) and its signal line
// (EMA of the MACD line over signal). Both are defined from the first bar.
func MACD(series []float64, fast, slow, signal int) (macdLine, signalLine []float64) {
	fastEMA := ExponentialMovingAverage(series, fast)
	slowEMA := ExponentialMovingAverage(series, slow)

	macdLine = make([]float64, len(series))
	for i := range series {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine = ExponentialMovingAverage(macdLine, signal)
	return macdLine, signalLine
}
