// Package notification delivers run-completion alerts to external channels.
package notification

import (
	"context"
	"fmt"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel     `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// RunResult is the part of a finished run an alert reports.
type RunResult struct {
	RunID       string
	Symbol      string
	TotalReturn float64
	TradeCount  int
	Ignored     int
	OpenAtEnd   bool
}

// RunAlert builds the alert for a finished run. A run that ends holding a
// position is a warning: its unrealized change is not in the return.
func RunAlert(r RunResult) Alert {
	level := AlertInfo
	msg := fmt.Sprintf("%s: return %.2f over %d trade(s)", r.Symbol, r.TotalReturn, r.TradeCount)
	if r.OpenAtEnd {
		level = AlertWarning
		msg += ", position still open"
	}
	return Alert{
		Level:   level,
		Title:   "backtest " + r.RunID + " complete",
		Message: msg,
		Fields: map[string]any{
			"run_id":       r.RunID,
			"symbol":       r.Symbol,
			"total_return": r.TotalReturn,
			"trade_count":  r.TradeCount,
			"ignored":      r.Ignored,
			"open_at_end":  r.OpenAtEnd,
		},
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
