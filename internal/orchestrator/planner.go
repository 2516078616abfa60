package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewd/internal/agents"
	"github.com/fyrsmithlabs/crewd/internal/crew"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/metrics"
	"github.com/fyrsmithlabs/crewd/internal/usage"
)

const instrumentationName = "github.com/fyrsmithlabs/crewd/internal/orchestrator"

// DefaultPhaseTimeout caps planning and execution when no timeout is configured.
const DefaultPhaseTimeout = 600 * time.Second

// Fallback reasons recorded on Plan and in crewd_plan_fallbacks_total.
const (
	FallbackTimeout = "timeout"
	FallbackError   = "error"
	FallbackParse   = "parse"
	FallbackEmpty   = "empty"
)

// Plan is the outcome of the planning phase.
type Plan struct {
	// Team is the ordered list of agent ids to execute. Never empty.
	Team []string
	// Output is what the planner produced, if anything.
	Output crew.Result
	// FallbackReason is set when Team is the default team.
	FallbackReason string
}

// Planner asks the planning agent which teammates should act on an issue.
type Planner struct {
	engine   crew.Engine
	registry *agents.Registry
	timeout  time.Duration
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewPlanner returns a planner. A zero timeout means DefaultPhaseTimeout.
func NewPlanner(engine crew.Engine, registry *agents.Registry, timeout time.Duration, logger *logging.Logger) *Planner {
	if timeout <= 0 {
		timeout = DefaultPhaseTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Planner{
		engine:   engine,
		registry: registry,
		timeout:  timeout,
		logger:   logger.Named("planner"),
		tracer:   otel.Tracer(instrumentationName),
	}
}

// Plan runs the planner for issue. It never fails: any problem yields the
// default team with FallbackReason set.
func (p *Planner) Plan(ctx context.Context, issue int) Plan {
	ctx, span := p.tracer.Start(ctx, "orchestrator.plan")
	defer span.End()
	span.SetAttributes(attribute.Int("issue", issue))

	plan := p.plan(ctx, issue)
	span.SetAttributes(
		attribute.StringSlice("team", plan.Team),
		attribute.String("fallback", plan.FallbackReason),
	)
	return plan
}

func (p *Planner) plan(ctx context.Context, issue int) Plan {
	planner := p.registry.Planner()
	step, err := planner.Step(issue)
	if err != nil {
		p.logger.Error(ctx, "building planner task", zap.Error(err))
		return p.fallback(ctx, FallbackError, crew.Result{})
	}

	out, err := crew.RunWithTimeout(ctx, p.timeout, func(ctx context.Context) (crew.Result, error) {
		return p.engine.Kickoff(logging.WithAgent(ctx, planner.ID), []crew.Step{step}, nil)
	})
	switch {
	case errors.Is(err, crew.ErrTimeout):
		p.logger.Warn(ctx, "planning timed out", zap.Duration("timeout", p.timeout))
		return p.fallback(ctx, FallbackTimeout, crew.Result{})
	case err != nil:
		p.logger.Warn(ctx, "planning failed", zap.Error(err))
		return p.fallback(ctx, FallbackError, crew.Result{})
	}

	ids, err := ParseTeam(out.String())
	if err != nil {
		p.logger.Warn(ctx, "planner output had no team selection",
			zap.String("output", usage.Truncate(out.String(), 500)))
		return p.fallback(ctx, FallbackParse, out)
	}

	team := p.filter(ctx, ids)
	if len(team) == 0 {
		p.logger.Info(ctx, "planner selected no usable agents")
		return p.fallback(ctx, FallbackEmpty, out)
	}

	p.logger.Info(ctx, "team selected", zap.Strings("team", team))
	return Plan{Team: team, Output: out}
}

// filter keeps registered non-planner ids, first occurrence only.
func (p *Planner) filter(ctx context.Context, ids []string) []string {
	plannerID := p.registry.Planner().ID
	seen := make(map[string]bool, len(ids))
	team := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == plannerID || seen[id] {
			continue
		}
		if _, ok := p.registry.Lookup(id); !ok {
			p.logger.Warn(ctx, "planner selected unknown agent", zap.String("agent", id))
			metrics.Get().DroppedAgents.Inc()
			continue
		}
		seen[id] = true
		team = append(team, id)
	}
	return team
}

func (p *Planner) fallback(ctx context.Context, reason string, out crew.Result) Plan {
	metrics.Get().PlanFallbacks.WithLabelValues(reason).Inc()
	team := p.registry.DefaultTeam()
	p.logger.Info(ctx, "using default team",
		zap.String("reason", reason),
		zap.Strings("team", team))
	return Plan{Team: team, Output: out, FallbackReason: reason}
}
