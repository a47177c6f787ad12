// Package strategy turns indicator trajectories into discrete trading signals.
//
// A signal is emitted for every bar. The crossover generator looks back exactly
// one bar and never reads ahead.
package strategy

import "time"

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is the action chosen for one bar.
type Signal struct {
	TS     time.Time `json:"timestamp"`
	Action Action    `json:"action"`
	Reason string    `json:"reason,omitempty"`
}

// Actions flattens signals into their actions, in order.
func Actions(signals []Signal) []Action {
	out := make([]Action, len(signals))
	for i, s := range signals {
		out[i] = s.Action
	}
	return out
}
