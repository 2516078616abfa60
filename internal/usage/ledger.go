// Package usage meters LLM token and call consumption against configured limits.
//
// Counters are persisted as a small JSON record and survive restarts. They only
// grow until an operator resets them.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/metrics"
	"go.uber.org/zap"
)

// ErrLimitExceeded is returned by gate checks while the ledger is over a limit.
var ErrLimitExceeded = errors.New("usage limit exceeded")

// maxAlertLen is the longest alert sent to the notifier (Discord caps messages at 2000).
const maxAlertLen = 2000

// Counters is the persisted record.
type Counters struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Calls        int64 `json:"calls"`
}

// Total returns input plus output tokens.
func (c Counters) Total() int64 {
	return c.InputTokens + c.OutputTokens
}

// Limits caps usage. A zero field disables that limit.
type Limits struct {
	Tokens int64 `json:"limit_tokens"`
	Calls  int64 `json:"limit_calls"`
}

// Exceeded reports whether c is at or above either limit.
func (l Limits) Exceeded(c Counters) bool {
	if l.Tokens > 0 && c.Total() >= l.Tokens {
		return true
	}
	return l.Calls > 0 && c.Calls >= l.Calls
}

// Snapshot is the read model served by the status API.
type Snapshot struct {
	Counters
	TotalTokens      int64   `json:"total_tokens"`
	Limits           Limits  `json:"limits"`
	OverLimit        bool    `json:"over_limit"`
	CostModel        string  `json:"cost_model"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Notifier receives the one-shot limit alert.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNotifier sets the alert destination.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithCostModel selects the price table used for cost estimates.
func WithCostModel(model string) Option {
	return func(l *Ledger) { l.costModel = model }
}

// Ledger is a file-backed usage counter. It is safe for concurrent use.
type Ledger struct {
	path      string
	limits    Limits
	costModel string
	notifier  Notifier
	logger    *logging.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	counters Counters
	notified bool
}

// Open loads the ledger at path. A missing or unreadable record starts from zero.
func Open(path string, limits Limits, opts ...Option) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("usage: path is required")
	}
	l := &Ledger{
		path:      path,
		limits:    limits,
		costModel: "gpt-4o",
		logger:    logging.Nop(),
		metrics:   metrics.Get(),
	}
	for _, opt := range opts {
		opt(l)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("usage: reading %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &l.counters); err != nil {
			l.logger.Warn(context.Background(), "usage record unreadable, starting from zero",
				zap.String("path", path), zap.Error(err))
			l.counters = Counters{}
		}
	}
	l.publish(l.counters)
	return l, nil
}

// Add records usage and persists it. The first Add that crosses a limit sends
// one alert; later breaches stay silent until Reset.
func (l *Ledger) Add(ctx context.Context, inputTokens, outputTokens, calls int64) error {
	_, err := l.record(ctx, inputTokens, outputTokens, calls, false)
	return err
}

// addIfUnder is Add for the call gate: the limit check and the increment share
// one critical section, so concurrent callers cannot both slip under a limit.
// It reports false, recording nothing, when a limit is already reached.
func (l *Ledger) addIfUnder(ctx context.Context, inputTokens, outputTokens, calls int64) (bool, error) {
	return l.record(ctx, inputTokens, outputTokens, calls, true)
}

func (l *Ledger) record(ctx context.Context, inputTokens, outputTokens, calls int64, gated bool) (bool, error) {
	if inputTokens < 0 || outputTokens < 0 || calls < 0 {
		return false, fmt.Errorf("usage: negative increment (%d, %d, %d)", inputTokens, outputTokens, calls)
	}

	l.mu.Lock()
	if gated && l.limits.Exceeded(l.counters) {
		l.mu.Unlock()
		return false, nil
	}
	l.counters.InputTokens += inputTokens
	l.counters.OutputTokens += outputTokens
	l.counters.Calls += calls
	snapshot := l.counters
	err := l.persistLocked()
	alert := l.limits.Exceeded(snapshot) && !l.notified
	if alert {
		l.notified = true
	}
	l.mu.Unlock()

	l.publish(snapshot)
	if alert {
		l.sendAlert(ctx, snapshot)
	}
	return true, err
}

// OverLimit reports whether either limit is reached. It never mutates state.
func (l *Ledger) OverLimit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits.Exceeded(l.counters)
}

// Reset zeroes the counters and re-arms the limit alert.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.counters = Counters{}
	l.notified = false
	err := l.persistLocked()
	l.mu.Unlock()

	l.publish(Counters{})
	l.logger.Info(ctx, "usage counters reset")
	return err
}

// Snapshot returns counters, limits and a cost estimate.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	c := l.counters
	l.mu.Unlock()

	return Snapshot{
		Counters:         c,
		TotalTokens:      c.Total(),
		Limits:           l.limits,
		OverLimit:        l.limits.Exceeded(c),
		CostModel:        l.costModel,
		EstimatedCostUSD: EstimateCost(l.costModel, c),
	}
}

// persistLocked writes the counters through a temp file and rename so readers
// never see a torn record. Caller holds l.mu.
func (l *Ledger) persistLocked() error {
	data, err := json.MarshalIndent(l.counters, "", "  ")
	if err != nil {
		return fmt.Errorf("usage: encoding counters: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".usage-*.json")
	if err != nil {
		return fmt.Errorf("usage: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("usage: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("usage: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("usage: replacing %s: %w", l.path, err)
	}
	return nil
}

func (l *Ledger) publish(c Counters) {
	l.metrics.UsageTokens.WithLabelValues("input").Set(float64(c.InputTokens))
	l.metrics.UsageTokens.WithLabelValues("output").Set(float64(c.OutputTokens))
	l.metrics.UsageCalls.Set(float64(c.Calls))
	over := 0.0
	if l.limits.Exceeded(c) {
		over = 1
	}
	l.metrics.UsageOver.Set(over)
}

func (l *Ledger) sendAlert(ctx context.Context, c Counters) {
	l.logger.Warn(ctx, "usage limit reached",
		zap.Int64("total_tokens", c.Total()),
		zap.Int64("calls", c.Calls),
		zap.Int64("limit_tokens", l.limits.Tokens),
		zap.Int64("limit_calls", l.limits.Calls))

	if l.notifier == nil {
		return
	}
	text := fmt.Sprintf("Usage limit reached: %d/%s tokens, %d/%s calls (estimated $%.2f). "+
		"Agent runs are paused until usage is reset.",
		c.Total(), limitString(l.limits.Tokens), c.Calls, limitString(l.limits.Calls),
		EstimateCost(l.costModel, c))
	if err := l.notifier.Notify(ctx, Truncate(text, maxAlertLen)); err != nil {
		l.logger.Warn(ctx, "usage alert failed", zap.Error(err))
	}
}

func limitString(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
