package indicator

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"crossbt/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertPoints(t *testing.T, label string, got []Point, want []float64, ready []bool) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d points, want %d", label, len(got), len(want))
	}
	for i := range got {
		if got[i].Ready != ready[i] {
			t.Errorf("%s[%d]: Ready=%v, want %v", label, i, got[i].Ready, ready[i])
			continue
		}
		if ready[i] {
			assertClose(t, label, got[i].Value, want[i], 1e-9)
		}
	}
}

func barsFromCloses(closes []float64) []model.Bar {
	t0 := time.Date(2025, 10, 2, 8, 50, 0, 0, time.UTC)
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			TS:   t0.Add(time.Duration(i) * 5 * time.Minute),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100,
		}
	}
	return bars
}

// ────────────────────────────────────────────────────────────
// Missing sentinel
// ────────────────────────────────────────────────────────────

func TestMissing_NeverEqualsARealNumber(t *testing.T) {
	for _, v := range []float64{0, 1, -1, 100, math.MaxFloat64, math.Inf(1)} {
		if Missing.Value == v || Missing.Value < v || Missing.Value > v {
			t.Errorf("missing sentinel compared against %v", v)
		}
	}
	if Missing.Ready {
		t.Error("Missing must not be ready")
	}
}

func TestPoint_JSON(t *testing.T) {
	b, err := json.Marshal([]Point{Missing, Ready(1.5)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "[null,1.5]" {
		t.Fatalf("got %s", b)
	}

	var back []Point
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[0].Ready || !back[1].Ready || back[1].Value != 1.5 {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

// ────────────────────────────────────────────────────────────
// Params
// ────────────────────────────────────────────────────────────

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	want := Params{MAFast: 5, MASlow: 20, RSIPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}
	if p != want {
		t.Fatalf("got %+v, want %+v", p, want)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestParams_Validate(t *testing.T) {
	p := DefaultParams()
	p.RSIPeriod = 0
	err := p.Validate()
	if !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestMovingAverage_Period3(t *testing.T) {
	// (100+102+104)/3 = 102, (102+104+103)/3 = 103, (104+103+105)/3 = 104
	got := MovingAverage([]float64{100, 102, 104, 103, 105}, 3)
	assertPoints(t, "SMA(3)", got,
		[]float64{0, 0, 102, 103, 104},
		[]bool{false, false, true, true, true})
}

func TestMovingAverage_ShorterThanWindow(t *testing.T) {
	got := MovingAverage([]float64{1, 2, 3, 4}, 5)
	for i, p := range got {
		if p.Ready {
			t.Errorf("index %d: expected missing for series shorter than window", i)
		}
	}
}

func TestMovingAverage_NonPositiveWindow(t *testing.T) {
	for _, p := range MovingAverage([]float64{1, 2, 3}, 0) {
		if p.Ready {
			t.Fatal("window 0 must yield missing values")
		}
	}
}

func TestMovingAverage_MatchesNaiveMean(t *testing.T) {
	series := make([]float64, 200)
	for i := range series {
		series[i] = 100 + 10*math.Sin(float64(i)/7) + float64(i%3)
	}
	const window = 20
	got := MovingAverage(series, window)
	for i := window - 1; i < len(series); i++ {
		sum := 0.0
		for j := i - window + 1; j <= i; j++ {
			sum += series[j]
		}
		assertClose(t, "SMA vs naive", got[i].Value, sum/window, 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestExponentialMovingAverage_Span3(t *testing.T) {
	// alpha = 0.5, seeded with the first value
	got := ExponentialMovingAverage([]float64{100, 102, 104, 103, 105}, 3)
	want := []float64{100, 101, 102.5, 102.75, 103.875}
	for i := range want {
		assertClose(t, "EMA(3)", got[i], want[i], 1e-12)
	}
}

func TestExponentialMovingAverage_Recurrence(t *testing.T) {
	series := make([]float64, 120)
	for i := range series {
		series[i] = 50 + float64(i%11)*1.25 - float64(i%4)
	}
	for _, span := range []int{1, 5, 12, 26} {
		alpha := 2.0 / float64(span+1)
		got := ExponentialMovingAverage(series, span)
		if got[0] != series[0] {
			t.Errorf("span %d: ema[0]=%v, want %v", span, got[0], series[0])
		}
		for i := 1; i < len(series); i++ {
			want := alpha*series[i] + (1-alpha)*got[i-1]
			assertClose(t, "EMA recurrence", got[i], want, 1e-12)
		}
	}
}

func TestExponentialMovingAverage_Empty(t *testing.T) {
	if got := ExponentialMovingAverage(nil, 9); len(got) != 0 {
		t.Fatalf("expected empty output, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSIFromAverages_ZeroLossPolicy(t *testing.T) {
	cases := []struct {
		name       string
		gain, loss float64
		want       float64
	}{
		{"zero loss, positive gain", 1.5, 0, 100},
		{"zero loss, zero gain", 0, 0, 100},
		{"negative loss residual", 0.2, -1e-15, 100},
		{"negative gain residual", -1e-15, 1, 0},
		{"equal averages", 1, 1, 50},
		{"rs=3", 3, 1, 75},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RSIFromAverages(tc.gain, tc.loss)
			if math.IsNaN(got) || math.IsInf(got, 0) {
				t.Fatalf("got non-finite %v", got)
			}
			assertClose(t, tc.name, got, tc.want, 1e-9)
		})
	}
}

func TestRelativeStrengthIndex_Period3(t *testing.T) {
	// deltas: 0(first bar), +1, +2, -1, 0
	// idx2: gain 1, loss 0     -> 100 (zero-loss policy)
	// idx3: gain 1, loss 1/3   -> RS 3 -> 75
	// idx4: gain 2/3, loss 1/3 -> RS 2 -> 66.667
	got := RelativeStrengthIndex([]float64{10, 11, 13, 12, 12}, 3)
	assertPoints(t, "RSI(3)", got,
		[]float64{0, 0, 100, 75, 100 - 100.0/3},
		[]bool{false, false, true, true, true})
}

func TestRelativeStrengthIndex_Bounds(t *testing.T) {
	flat := make([]float64, 30)
	falling := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
		falling[i] = 200 - float64(i)
	}
	for i, p := range RelativeStrengthIndex(flat, 14) {
		if i >= 13 && p.Value != 100 {
			t.Errorf("flat series idx %d: got %v, want 100", i, p.Value)
		}
	}
	for i, p := range RelativeStrengthIndex(falling, 14) {
		if i >= 13 && p.Value != 0 {
			t.Errorf("falling series idx %d: got %v, want 0", i, p.Value)
		}
	}
}

func TestRelativeStrengthIndex_ShortSeriesMissing(t *testing.T) {
	for i, p := range RelativeStrengthIndex([]float64{1, 2, 3}, 14) {
		if p.Ready {
			t.Errorf("index %d: expected missing", i)
		}
	}
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_ConstantSeriesIsZero(t *testing.T) {
	series := make([]float64, 40)
	for i := range series {
		series[i] = 100
	}
	macd, signal := MACD(series, 12, 26, 9)
	for i := range series {
		if macd[i] != 0 || signal[i] != 0 {
			t.Fatalf("idx %d: macd=%v signal=%v, want 0", i, macd[i], signal[i])
		}
	}
}

func TestMACD_LineIsEMADifference(t *testing.T) {
	series := []float64{10, 11, 12, 11, 13, 14, 13, 15, 16, 15}
	macd, signal := MACD(series, 3, 6, 2)
	fast := ExponentialMovingAverage(series, 3)
	slow := ExponentialMovingAverage(series, 6)
	sig := ExponentialMovingAverage(macd, 2)
	for i := range series {
		assertClose(t, "macd", macd[i], fast[i]-slow[i], 1e-12)
		assertClose(t, "signal", signal[i], sig[i], 1e-12)
	}
	if macd[0] != 0 {
		t.Errorf("macd[0] should be 0 (both EMAs seeded with series[0]), got %v", macd[0])
	}
}

// ────────────────────────────────────────────────────────────
// Frame
// ────────────────────────────────────────────────────────────

func TestCompute_AlignmentAndWarmUp(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := barsFromCloses(closes)
	rows := Compute(bars, DefaultParams())

	if len(rows) != len(bars) {
		t.Fatalf("expected %d rows, got %d", len(bars), len(rows))
	}
	for i, r := range rows {
		if !r.TS.Equal(bars[i].TS) || r.Close != bars[i].Close {
			t.Errorf("row %d not aligned with its bar", i)
		}
		if r.MAFast.Ready != (i >= 4) {
			t.Errorf("row %d: MAFast.Ready=%v", i, r.MAFast.Ready)
		}
		if r.MASlow.Ready != (i >= 19) {
			t.Errorf("row %d: MASlow.Ready=%v", i, r.MASlow.Ready)
		}
		if r.RSI.Ready != (i >= 13) {
			t.Errorf("row %d: RSI.Ready=%v", i, r.RSI.Ready)
		}
		if !r.MACD.Ready || !r.MACDSignal.Ready {
			t.Errorf("row %d: MACD should be defined from the first bar", i)
		}
	}
	assertClose(t, "MA5 at 29", rows[29].MAFast.Value, 127, 1e-9)
	assertClose(t, "MA20 at 29", rows[29].MASlow.Value, 119.5, 1e-9)
}

func TestCompute_Deterministic(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + 3*math.Cos(float64(i)/5)
	}
	bars := barsFromCloses(closes)
	a, err := json.Marshal(Compute(bars, DefaultParams()))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(Compute(bars, DefaultParams()))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatal("identical input produced different frames")
	}
}

func TestMovingAverage_FlatWindowIsExact(t *testing.T) {
	series := []float64{100.3, 99.85, 101.2, 100.05, 99.7, 100.45}
	for i := 0; i < 25; i++ {
		series = append(series, 100.175)
	}
	fast := MovingAverage(series, 5)
	slow := MovingAverage(series, 20)
	last := len(series) - 1
	if fast[last].Value != 100.175 || slow[last].Value != 100.175 {
		t.Errorf("flat window: MA5=%v MA20=%v, want exactly 100.175", fast[last].Value, slow[last].Value)
	}
}
