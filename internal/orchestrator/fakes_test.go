package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crewd/internal/agents"
	"github.com/fyrsmithlabs/crewd/internal/crew"
	"github.com/fyrsmithlabs/crewd/internal/notify"
	"github.com/fyrsmithlabs/crewd/internal/tracker"
)

// scriptedEngine answers Kickoff with a per-call script.
type scriptedEngine struct {
	mu     sync.Mutex
	calls  [][]crew.Step
	script func(ctx context.Context, steps []crew.Step, onStep crew.StepFunc) (crew.Result, error)
}

func (e *scriptedEngine) Kickoff(ctx context.Context, steps []crew.Step, onStep crew.StepFunc) (crew.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, steps)
	e.mu.Unlock()
	return e.script(ctx, steps, onStep)
}

func (e *scriptedEngine) Calls() [][]crew.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]crew.Step(nil), e.calls...)
}

func answer(text string) *scriptedEngine {
	return &scriptedEngine{script: func(context.Context, []crew.Step, crew.StepFunc) (crew.Result, error) {
		return crew.TextResult(text), nil
	}}
}

func failing(err error) *scriptedEngine {
	return &scriptedEngine{script: func(context.Context, []crew.Step, crew.StepFunc) (crew.Result, error) {
		return crew.Result{}, err
	}}
}

// blocking waits for cancellation, like a model call that never returns.
func blocking() *scriptedEngine {
	return &scriptedEngine{script: func(ctx context.Context, _ []crew.Step, _ crew.StepFunc) (crew.Result, error) {
		<-ctx.Done()
		return crew.Result{}, ctx.Err()
	}}
}

// teamEngine plays a whole run: the planner answers with selection and every
// agent not in silent comments its header on the issue before completing.
func teamEngine(t *testing.T, tr tracker.Tracker, reg *agents.Registry, issue int, selection string, silent ...string) *scriptedEngine {
	t.Helper()
	quiet := make(map[string]bool, len(silent))
	for _, id := range silent {
		quiet[id] = true
	}
	return &scriptedEngine{script: func(ctx context.Context, steps []crew.Step, onStep crew.StepFunc) (crew.Result, error) {
		var last crew.Result
		for i, step := range steps {
			d, ok := reg.Lookup(step.Agent.ID)
			require.True(t, ok)
			if !quiet[d.ID] {
				if err := tr.AppendComment(ctx, issue, d.Header+"\nwork by "+d.ID); err != nil {
					return crew.Result{}, err
				}
			}
			last = crew.TextResult(d.ID + " finished")
			if d.ID == reg.Planner().ID {
				last = crew.TextResult("spec written\n```json\n" + selection + "\n```")
			}
			if onStep != nil {
				onStep(i, last)
			}
		}
		return last, nil
	}}
}

func mustRegistry(t *testing.T) *agents.Registry {
	t.Helper()
	reg, err := agents.Load(agents.Settings{})
	require.NoError(t, err)
	return reg
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.RunEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func (p *recordingPublisher) Last() notify.RunEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fixedQuota bool

func (q fixedQuota) OverLimit() bool { return bool(q) }
