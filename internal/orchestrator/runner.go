package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewd/internal/agents"
	"github.com/fyrsmithlabs/crewd/internal/crew"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/metrics"
	"github.com/fyrsmithlabs/crewd/internal/notify"
	"github.com/fyrsmithlabs/crewd/internal/runstate"
	"github.com/fyrsmithlabs/crewd/internal/secrets"
	"github.com/fyrsmithlabs/crewd/internal/tracker"
	"github.com/fyrsmithlabs/crewd/internal/usage"
)

const (
	// MaxFailureText caps the error text written to the issue and the notifier.
	MaxFailureText = 1500
	maxStepSummary = 200
)

// Quota reports whether new work may start.
type Quota interface {
	OverLimit() bool
}

// Outcome summarises a completed run.
type Outcome struct {
	RunID          string
	Issue          int
	Team           []string
	FallbackReason string
	Result         crew.Result
	Missing        []string
	Duration       time.Duration
}

// Config wires a Runner.
type Config struct {
	Tracker  tracker.Tracker
	Store    *runstate.Store
	Registry *agents.Registry
	Planner  *Planner
	Executor *Executor
	Verifier *Verifier

	// Optional.
	Quota     Quota
	Notifier  notify.Notifier
	Publisher notify.Publisher
	Scrubber  secrets.Scrubber
	Logger    *logging.Logger
}

// Runner drives plan, execute and verify for one issue at a time.
type Runner struct {
	tracker   tracker.Tracker
	store     *runstate.Store
	registry  *agents.Registry
	planner   *Planner
	executor  *Executor
	verifier  *Verifier
	quota     Quota
	notifier  notify.Notifier
	publisher notify.Publisher
	scrubber  secrets.Scrubber
	logger    *logging.Logger
	tracer    trace.Tracer

	// background runs started by Trigger
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type noQuota struct{}

func (noQuota) OverLimit() bool { return false }

// NewRunner validates cfg and registers the roster with the store.
func NewRunner(cfg Config) (*Runner, error) {
	switch {
	case cfg.Tracker == nil:
		return nil, errors.New("runner: tracker is required")
	case cfg.Store == nil:
		return nil, errors.New("runner: run state store is required")
	case cfg.Registry == nil:
		return nil, errors.New("runner: agent registry is required")
	case cfg.Planner == nil || cfg.Executor == nil || cfg.Verifier == nil:
		return nil, errors.New("runner: planner, executor and verifier are required")
	}
	if cfg.Quota == nil {
		cfg.Quota = noQuota{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notify.NopPublisher{}
	}
	if cfg.Scrubber == nil {
		cfg.Scrubber = secrets.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	roster := cfg.Registry.Roster()
	statuses := make([]runstate.Agent, len(roster))
	for i, d := range roster {
		statuses[i] = runstate.Agent{ID: d.ID, Role: d.Name + ", " + d.Role}
	}
	cfg.Store.RegisterRoster(statuses)

	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		tracker:   cfg.Tracker,
		store:     cfg.Store,
		registry:  cfg.Registry,
		planner:   cfg.Planner,
		executor:  cfg.Executor,
		verifier:  cfg.Verifier,
		quota:     cfg.Quota,
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
		scrubber:  cfg.Scrubber,
		logger:    cfg.Logger.Named("runner"),
		tracer:    otel.Tracer(instrumentationName),
		base:      base,
		cancel:    cancel,
	}, nil
}

// ProcessIssue runs the full protocol for issue in the caller's goroutine.
// It returns ErrRunInProgress when another run holds the slot.
func (r *Runner) ProcessIssue(ctx context.Context, issue int) (*Outcome, error) {
	runID, err := r.store.Begin(issue)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, runID, issue)
}

// Trigger starts a background run for issue. It fails fast with
// ErrRunInProgress or ErrQuotaExceeded and otherwise returns once the run
// slot is claimed. The run outlives ctx; Shutdown cancels it.
func (r *Runner) Trigger(ctx context.Context, issue int) error {
	if r.store.Running() {
		return ErrRunInProgress
	}
	if r.quota.OverLimit() {
		return ErrQuotaExceeded
	}
	runID, err := r.store.Begin(issue)
	if err != nil {
		return err
	}

	runCtx := logging.WithRequestID(r.base, logging.RequestIDFromContext(ctx))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.run(runCtx, runID, issue); err != nil {
			r.logger.Warn(runCtx, "triggered run failed", zap.Int("issue", issue), zap.Error(err))
		}
	}()
	return nil
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool { return r.store.Running() }

// Shutdown cancels background runs and waits for them until ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, runID string, issue int) (out *Outcome, err error) {
	start := time.Now()
	ctx = logging.WithRun(ctx, runID, issue)
	ctx, span := r.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("run.id", runID), attribute.Int("issue", issue)))
	defer span.End()

	m := metrics.Get()
	m.RunsStarted.Inc()
	r.publish(ctx, notify.RunEvent{Type: notify.EventRunStarted, RunID: runID, Issue: issue})

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, r.fail(ctx, runID, issue, "run", fmt.Errorf("panic: %v", p), start)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	ticket, err := r.tracker.Get(ctx, issue)
	if err != nil {
		return nil, r.fail(ctx, runID, issue, "fetch", err, start)
	}
	r.logger.Info(ctx, "processing issue", zap.String("title", ticket.Title))

	preCount := -1
	if comments, err := r.tracker.Comments(ctx, issue); err != nil {
		r.logger.Warn(ctx, "counting existing comments failed, verifying against all comments", zap.Error(err))
	} else {
		preCount = len(comments)
	}

	plan := r.planner.Plan(ctx, issue)
	planner := r.registry.Planner()
	r.store.StartTeam(r.teamStatuses(planner, plan.Team))
	r.store.CompleteStep(runID, 0, planSummary(plan))

	exec, err := r.executor.Execute(ctx, issue, plan.Team, func(i int, res crew.Result) {
		r.store.CompleteStep(runID, i+1, usage.Truncate(res.String(), maxStepSummary))
	})
	if err != nil {
		return nil, r.fail(ctx, runID, issue, "execute", err, start)
	}

	expected := append([]agents.Descriptor{planner}, exec.Agents...)
	missing, verr := r.verifier.Verify(ctx, issue, preCount, expected, exec.Result)
	if verr != nil {
		// recoverable: the run itself succeeded
		r.logger.Warn(ctx, "verification incomplete", zap.Error(&RunError{
			Op: "verify", Issue: issue, Severity: SeverityRecoverable, Err: verr,
		}))
	}

	summary := exec.Result.String()
	if summary == "" {
		summary = fmt.Sprintf("Issue #%d processed", issue)
	}
	r.store.Finish(usage.Truncate(summary, MaxFailureText))

	elapsed := time.Since(start)
	m.RunsFinished.WithLabelValues("ok").Inc()
	m.RunDuration.WithLabelValues("ok").Observe(elapsed.Seconds())

	team := make([]string, len(exec.Agents))
	for i, d := range exec.Agents {
		team[i] = d.ID
	}
	r.publish(ctx, notify.RunEvent{
		Type:     notify.EventRunFinished,
		RunID:    runID,
		Issue:    issue,
		Team:     team,
		Outcome:  "ok",
		Missing:  missing,
		Duration: elapsed.Seconds(),
	})
	r.logger.Info(ctx, "issue processed",
		zap.Strings("team", team),
		zap.Int("missing_headers", len(missing)),
		zap.Duration("duration", elapsed))

	return &Outcome{
		RunID:          runID,
		Issue:          issue,
		Team:           team,
		FallbackReason: plan.FallbackReason,
		Result:         exec.Result,
		Missing:        missing,
		Duration:       elapsed,
	}, nil
}

// fail reports a ticket-fatal error everywhere it should be seen and releases
// the run slot.
func (r *Runner) fail(ctx context.Context, runID string, issue int, op string, cause error, start time.Time) error {
	runErr := ticketError(op, issue, cause)
	text := usage.Truncate(r.scrubber.Redact(cause.Error()), MaxFailureText)
	r.logger.Error(ctx, "run failed", zap.String("op", op), zap.Error(cause))

	// the run context may be the reason we failed
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	body := fmt.Sprintf("❌ **Issue #%d processing failed**\n%s", issue, text)
	if err := r.notifier.Notify(reportCtx, body); err != nil {
		r.logger.Warn(ctx, "failure notification not sent", zap.Error(err))
	}
	if err := r.tracker.AppendComment(reportCtx, issue, body); err != nil {
		r.logger.Warn(ctx, "failure comment not posted", zap.Error(err))
	}

	r.store.Finish(text)
	r.store.SetIdle()

	elapsed := time.Since(start)
	m := metrics.Get()
	m.RunsFinished.WithLabelValues("failed").Inc()
	m.RunDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
	r.publish(reportCtx, notify.RunEvent{
		Type:     notify.EventRunFinished,
		RunID:    runID,
		Issue:    issue,
		Outcome:  "failed",
		Error:    text,
		Duration: elapsed.Seconds(),
	})
	return runErr
}

func (r *Runner) publish(ctx context.Context, ev notify.RunEvent) {
	ev.At = time.Now().UTC()
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn(ctx, "publishing run event", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (r *Runner) teamStatuses(planner agents.Descriptor, team []string) []runstate.Agent {
	out := []runstate.Agent{{ID: planner.ID, Role: planner.Name + ", " + planner.Role}}
	for _, id := range team {
		if d, ok := r.registry.Lookup(id); ok {
			out = append(out, runstate.Agent{ID: d.ID, Role: d.Name + ", " + d.Role})
		}
	}
	return out
}

func planSummary(p Plan) string {
	if p.FallbackReason != "" {
		return fmt.Sprintf("default team %v (%s)", p.Team, p.FallbackReason)
	}
	return fmt.Sprintf("team %v", p.Team)
}
