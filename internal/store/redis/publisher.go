package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"crossbt/internal/execution"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultResultTTL = 24 * time.Hour

	// ChannelRunDone carries one RunNotice per published run.
	ChannelRunDone = "pub:backtest:done"
)

// ErrRunNotFound is returned when a run's summary is absent or expired.
var ErrRunNotFound = errors.New("run not found")

// SummaryKey is the key holding a run's JSON summary.
func SummaryKey(runID string) string { return "backtest:run:" + runID + ":summary" }

// TradesKey is the list holding a run's trade log, one JSON record per entry.
func TradesKey(runID string) string { return "backtest:run:" + runID + ":trades" }

// LatestKey holds the id of the most recent run for a symbol.
func LatestKey(symbol string) string { return "backtest:latest:" + symbol }

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // lifetime of published results; 0 uses 24h
}

// RunNotice is the completion message sent on ChannelRunDone.
type RunNotice struct {
	RunID       string  `json:"run_id"`
	Symbol      string  `json:"symbol"`
	TotalReturn float64 `json:"total_return"`
	TradeCount  int     `json:"trade_count"`
	OpenAtEnd   bool    `json:"open_at_end"`
}

// Publisher writes finished backtest results to Redis for dashboards and
// other consumers. Calls go through a circuit breaker so an unreachable
// server fails fast.
type Publisher struct {
	client goredis.Cmdable
	closer func() error
	ttl    time.Duration
	cb     *CircuitBreaker
}

// Dial creates a Publisher backed by a new client and pings the server.
func Dial(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	p := NewPublisher(client, cfg.TTL)
	p.closer = client.Close
	return p, nil
}

// NewPublisher wraps an existing client. ttl <= 0 uses the default.
func NewPublisher(client goredis.Cmdable, ttl time.Duration) *Publisher {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	cb := NewCircuitBreaker(3, 10*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}
	return &Publisher{client: client, ttl: ttl, cb: cb}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() goredis.Cmdable { return p.client }

// Breaker exposes the circuit breaker state.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// PublishRun stores the summary and trade log of a run, marks it as the
// latest run for symbol and announces it on ChannelRunDone.
func (p *Publisher) PublishRun(ctx context.Context, runID, symbol string, sum execution.Summary) error {
	summaryJSON, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	trades := make([]interface{}, len(sum.TradeLog))
	for i, tr := range sum.TradeLog {
		b, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("marshal trade %d: %w", i, err)
		}
		trades[i] = string(b)
	}

	notice, err := json.Marshal(RunNotice{
		RunID:       runID,
		Symbol:      symbol,
		TotalReturn: sum.TotalReturn,
		TradeCount:  sum.TradeCount,
		OpenAtEnd:   sum.Open != nil,
	})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	// One MULTI/EXEC so readers never see a partially published run.
	return p.cb.Execute(func() error {
		_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, SummaryKey(runID), string(summaryJSON), p.ttl)
			if len(trades) > 0 {
				pipe.RPush(ctx, TradesKey(runID), trades...)
				pipe.Expire(ctx, TradesKey(runID), p.ttl)
			}
			pipe.Set(ctx, LatestKey(symbol), runID, p.ttl)
			pipe.Publish(ctx, ChannelRunDone, string(notice))
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis publish run: %w", err)
		}
		return nil
	})
}

// ReadSummary loads a published run summary.
func (p *Publisher) ReadSummary(ctx context.Context, runID string) (*execution.Summary, error) {
	var data string
	err := p.cb.Execute(func() error {
		var err error
		data, err = p.client.Get(ctx, SummaryKey(runID)).Result()
		if err == goredis.Nil {
			return nil // a miss is not a server failure
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis get summary: %w", err)
	}
	if data == "" {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}

	var sum execution.Summary
	if err := json.Unmarshal([]byte(data), &sum); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &sum, nil
}

// LatestRunID returns the id of the most recent run published for symbol.
func (p *Publisher) LatestRunID(ctx context.Context, symbol string) (string, error) {
	id, err := p.client.Get(ctx, LatestKey(symbol)).Result()
	if err == goredis.Nil {
		return "", fmt.Errorf("%s: %w", symbol, ErrRunNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis get latest: %w", err)
	}
	return id, nil
}

// Close closes the client if the Publisher created it.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
