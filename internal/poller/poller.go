// Package poller watches the tracker for labelled issues and feeds them to
// the orchestrator one at a time.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/metrics"
	"github.com/fyrsmithlabs/crewd/internal/orchestrator"
	"github.com/fyrsmithlabs/crewd/internal/tracker"
)

// DefaultInterval is the pause between scans.
const DefaultInterval = 300 * time.Second

// Processor runs one issue to completion.
type Processor interface {
	ProcessIssue(ctx context.Context, issue int) (*orchestrator.Outcome, error)
}

// Quota reports whether new work may start.
type Quota interface {
	OverLimit() bool
}

// Config configures a Poller.
type Config struct {
	// Interval between the end of one scan and the start of the next.
	Interval time.Duration
	// TriggerLabel selects issues to process. Default: agent-todo.
	TriggerLabel string
	// DoneLabel replaces TriggerLabel after a successful run. Default: agent-done.
	DoneLabel string
}

// ScanResult counts what one scan did.
type ScanResult struct {
	Found     int
	Processed int
	Failed    int
	Skipped   int
	// QuotaHit is set when the scan stopped early because usage was over limit.
	QuotaHit bool
}

// Poller scans for trigger-labelled issues. Scan and Run must not be called
// concurrently; the processed set has a single writer.
type Poller struct {
	tracker   tracker.Tracker
	processor Processor
	quota     Quota
	config    Config
	logger    *logging.Logger

	mu        sync.RWMutex
	processed map[int]bool
}

// New returns a poller. A nil quota never blocks.
func New(tr tracker.Tracker, p Processor, quota Quota, cfg Config, logger *logging.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TriggerLabel == "" {
		cfg.TriggerLabel = "agent-todo"
	}
	if cfg.DoneLabel == "" {
		cfg.DoneLabel = "agent-done"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Poller{
		tracker:   tr,
		processor: p,
		quota:     quota,
		config:    cfg,
		logger:    logger.Named("poller"),
		processed: make(map[int]bool),
	}
}

// Run scans until ctx is cancelled, pausing Interval after every scan whether
// it succeeded or not. It returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info(ctx, "watching for issues",
		zap.String("label", p.config.TriggerLabel),
		zap.Duration("interval", p.config.Interval))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "poller stopped", zap.Int("processed", p.ProcessedCount()))
			return ctx.Err()
		case <-timer.C:
		}

		res, err := p.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error(ctx, "scan failed, retrying after interval",
				zap.Error(err), zap.Duration("interval", p.config.Interval))
		} else {
			p.logger.Info(ctx, "scan complete",
				zap.Int("found", res.Found),
				zap.Int("processed", res.Processed),
				zap.Int("failed", res.Failed),
				zap.Int("processed_total", p.ProcessedCount()))
		}
		timer.Reset(p.config.Interval)
	}
}

// Scan performs exactly one pass over the open trigger-labelled issues.
// Only a failure to list issues is returned; per-issue failures are counted.
func (p *Poller) Scan(ctx context.Context) (ScanResult, error) {
	m := metrics.Get()
	var res ScanResult

	tickets, err := p.tracker.ListOpen(ctx, p.config.TriggerLabel)
	if err != nil {
		m.PollScans.WithLabelValues("error").Inc()
		return res, fmt.Errorf("listing issues labelled %q: %w", p.config.TriggerLabel, err)
	}
	m.PollScans.WithLabelValues("ok").Inc()
	res.Found = len(tickets)

	for _, t := range tickets {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if p.isProcessed(t.Number) {
			res.Skipped++
			continue
		}
		if p.quota != nil && p.quota.OverLimit() {
			p.logger.Warn(ctx, "usage limit reached, skipping the rest of the scan")
			m.PollSkippedQuota.Inc()
			res.QuotaHit = true
			return res, nil
		}

		p.logger.Info(ctx, "new issue", zap.Int("issue", t.Number), zap.String("title", t.Title))
		if _, err := p.processor.ProcessIssue(ctx, t.Number); err != nil {
			if errors.Is(err, orchestrator.ErrRunInProgress) {
				p.logger.Info(ctx, "another run is active, deferring to next scan", zap.Int("issue", t.Number))
				return res, nil
			}
			res.Failed++
			p.logger.Error(ctx, "issue failed, will retry next scan",
				zap.Int("issue", t.Number),
				zap.String("severity", string(orchestrator.SeverityOf(err))),
				zap.Error(err))
			continue
		}

		p.markProcessed(t.Number)
		res.Processed++
		p.swapLabels(ctx, t.Number)
	}
	return res, nil
}

// ProcessedCount returns how many issues were processed since start.
func (p *Poller) ProcessedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.processed)
}

func (p *Poller) isProcessed(n int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processed[n]
}

func (p *Poller) markProcessed(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed[n] = true
}

// swapLabels replaces the trigger label with the done label. Failures are
// logged only; the processed set already prevents a rerun.
func (p *Poller) swapLabels(ctx context.Context, n int) {
	if err := p.tracker.RemoveLabel(ctx, n, p.config.TriggerLabel); err != nil {
		p.logger.Warn(ctx, "removing trigger label", zap.Int("issue", n), zap.Error(err))
	}
	if err := p.tracker.AddLabels(ctx, n, p.config.DoneLabel); err != nil {
		p.logger.Warn(ctx, "adding done label", zap.Int("issue", n), zap.Error(err))
	}
}
