package orchestrator

import (
	"context"
	"sync/atomic"
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
)

// Execution is the outcome of the execution phase.
type Execution struct {
	// Agents are the descriptors that were scheduled, in pipeline order.
	Agents []agents.Descriptor
	Result crew.Result
}

// Executor runs the selected agents as one sequential pipeline.
type Executor struct {
	engine   crew.Engine
	registry *agents.Registry
	timeout  time.Duration
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewExecutor returns an executor. A zero timeout means DefaultPhaseTimeout.
func NewExecutor(engine crew.Engine, registry *agents.Registry, timeout time.Duration, logger *logging.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultPhaseTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		engine:   engine,
		registry: registry,
		timeout:  timeout,
		logger:   logger.Named("executor"),
		tracer:   otel.Tracer(instrumentationName),
	}
}

// Execute runs ids against issue. Unknown ids are skipped with a warning. An
// empty pipeline yields an Empty result and no error. Exceeding the timeout
// returns an error wrapping crew.ErrTimeout; Agents is populated either way so
// callers know who was expected to comment. onStep is not called once Execute
// has returned, even if the engine keeps running in the background.
func (e *Executor) Execute(ctx context.Context, issue int, ids []string, onStep crew.StepFunc) (Execution, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.execute")
	defer span.End()
	span.SetAttributes(attribute.Int("issue", issue), attribute.StringSlice("requested", ids))

	var exec Execution
	steps := make([]crew.Step, 0, len(ids))
	for _, id := range ids {
		d, ok := e.registry.Lookup(id)
		if !ok {
			e.logger.Warn(ctx, "skipping unknown agent", zap.String("agent", id))
			metrics.Get().DroppedAgents.Inc()
			continue
		}
		step, err := d.Step(issue)
		if err != nil {
			e.logger.Warn(ctx, "skipping agent with unrenderable task",
				zap.String("agent", id), zap.Error(err))
			continue
		}
		exec.Agents = append(exec.Agents, d)
		steps = append(steps, step)
	}

	if len(steps) == 0 {
		e.logger.Info(ctx, "no agents to execute")
		exec.Result = crew.Result{Kind: crew.Empty}
		return exec, nil
	}

	e.logger.Info(ctx, "executing team", zap.Int("steps", len(steps)), zap.Duration("timeout", e.timeout))
	var abandoned atomic.Bool
	report := func(i int, r crew.Result) {
		if onStep == nil || abandoned.Load() {
			return
		}
		onStep(i, r)
	}
	res, err := crew.RunWithTimeout(ctx, e.timeout, func(ctx context.Context) (crew.Result, error) {
		return e.engine.Kickoff(ctx, steps, report)
	})
	if err != nil {
		abandoned.Store(true)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return exec, err
	}
	span.SetAttributes(attribute.String("result.kind", res.Kind.String()))
	exec.Result = res
	return exec, nil
}
