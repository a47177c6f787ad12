package strategy

import "crossbt/internal/indicator"

const (
	reasonGoldenCross = "golden cross"
	reasonDeathCross  = "death cross"
)

// Crossover detects moving-average crossovers.
//
// Buy signal: fast MA crosses above slow MA (golden cross)
// Sell signal: fast MA crosses below slow MA (death cross)
//
// The only state carried between bars is the previous bar's MA pair.
// A missing value on either bar resolves to HOLD.
type Crossover struct {
	prevFast indicator.Point
	prevSlow indicator.Point
	seen     bool
}

// NewCrossover creates a crossover detector positioned before the first bar.
func NewCrossover() *Crossover {
	return &Crossover{}
}

// Next consumes the MA pair of the next bar and returns its action and reason.
func (c *Crossover) Next(fast, slow indicator.Point) (Action, string) {
	prevFast, prevSlow, seen := c.prevFast, c.prevSlow, c.seen
	c.prevFast, c.prevSlow, c.seen = fast, slow, true

	// Bar 0 has no predecessor.
	if !seen {
		return ActionHold, ""
	}
	if !fast.Ready || !slow.Ready || !prevFast.Ready || !prevSlow.Ready {
		return ActionHold, ""
	}

	if fast.Value > slow.Value && prevFast.Value <= prevSlow.Value {
		return ActionBuy, reasonGoldenCross
	}
	if fast.Value < slow.Value && prevFast.Value >= prevSlow.Value {
		return ActionSell, reasonDeathCross
	}
	return ActionHold, ""
}

// Generate emits exactly one signal per row in a single forward pass.
func Generate(rows []indicator.Row) []Signal {
	c := NewCrossover()
	out := make([]Signal, len(rows))
	for i, r := range rows {
		action, reason := c.Next(r.MAFast, r.MASlow)
		out[i] = Signal{TS: r.TS, Action: action, Reason: reason}
	}
	return out
}
