package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crewd/internal/crew"
	"github.com/fyrsmithlabs/crewd/internal/notify"
	"github.com/fyrsmithlabs/crewd/internal/runstate"
	"github.com/fyrsmithlabs/crewd/internal/telemetry"
	"github.com/fyrsmithlabs/crewd/internal/tracker"
	"github.com/fyrsmithlabs/crewd/internal/tracker/trackertest"
	"github.com/fyrsmithlabs/crewd/internal/usage"
)

type runnerFixture struct {
	tracker   *trackertest.Fake
	store     *runstate.Store
	publisher *recordingPublisher
	notifier  *mockNotifier
	runner    *Runner
}

func newRunnerFixture(t *testing.T, engine crew.Engine, execTimeout time.Duration, quota Quota) *runnerFixture {
	t.Helper()
	reg := mustRegistry(t)
	f := &runnerFixture{
		tracker:   trackertest.New(),
		store:     runstate.New(),
		publisher: &recordingPublisher{},
		notifier:  &mockNotifier{},
	}
	r, err := NewRunner(Config{
		Tracker:   f.tracker,
		Store:     f.store,
		Registry:  reg,
		Planner:   NewPlanner(engine, reg, time.Second, nil),
		Executor:  NewExecutor(engine, reg, execTimeout, nil),
		Verifier:  NewVerifier(f.tracker, nil, nil),
		Quota:     quota,
		Notifier:  f.notifier,
		Publisher: f.publisher,
	})
	require.NoError(t, err)
	f.runner = r
	return f
}

func TestProcessIssue_EndToEnd(t *testing.T) {
	reg := mustRegistry(t)
	tr := trackertest.New()
	tr.AddIssue(tracker.Ticket{Number: 42, Title: "Add a landing page"}, "please build it")
	engine := teamEngine(t, tr, reg, 42, `{"agents": ["dev", "qa"]}`)

	store := runstate.New()
	pub := &recordingPublisher{}
	r, err := NewRunner(Config{
		Tracker:   tr,
		Store:     store,
		Registry:  reg,
		Planner:   NewPlanner(engine, reg, time.Second, nil),
		Executor:  NewExecutor(engine, reg, time.Second, nil),
		Verifier:  NewVerifier(tr, nil, nil),
		Publisher: pub,
	})
	require.NoError(t, err)

	out, err := r.ProcessIssue(t.Context(), 42)
	require.NoError(t, err)

	assert.Equal(t, []string{"dev", "qa"}, out.Team)
	assert.Empty(t, out.Missing)
	assert.Empty(t, out.FallbackReason)
	assert.Equal(t, "qa finished", out.Result.Text)
	assert.NotEmpty(t, out.RunID)

	// original comment plus manager, dev and qa; no compensation
	bodies := tr.CommentBodies(42)
	require.Len(t, bodies, 4)
	for _, b := range bodies {
		assert.NotContains(t, b, "compensating")
	}

	snap := store.Snapshot()
	assert.Nil(t, snap.CurrentRun)
	assert.False(t, r.Running())
	assert.Equal(t, 1, snap.CompletedRuns)
	assert.Equal(t, "qa finished", snap.LastResult)
	require.Len(t, snap.ActiveAgents, 3)
	for _, a := range snap.ActiveAgents {
		assert.Equal(t, runstate.StateDone, a.State, a.ID)
	}
	assert.Len(t, snap.AllAgents, len(reg.Roster()))

	assert.Equal(t, []string{notify.EventRunStarted, notify.EventRunFinished}, pub.Types())
	assert.Equal(t, "ok", pub.Last().Outcome)
}

func TestProcessIssue_CompensatesForSilentAgent(t *testing.T) {
	reg := mustRegistry(t)
	tr := trackertest.New()
	tr.AddIssue(tracker.Ticket{Number: 8})
	engine := teamEngine(t, tr, reg, 8, `{"agents": ["dev", "qa"]}`, "dev")

	r, err := NewRunner(Config{
		Tracker:  tr,
		Store:    runstate.New(),
		Registry: reg,
		Planner:  NewPlanner(engine, reg, time.Second, nil),
		Executor: NewExecutor(engine, reg, time.Second, nil),
		Verifier: NewVerifier(tr, nil, nil),
	})
	require.NoError(t, err)

	out, err := r.ProcessIssue(t.Context(), 8)
	require.NoError(t, err)

	dev, _ := reg.Lookup("dev")
	assert.Equal(t, []string{dev.Header}, out.Missing)

	var compensations int
	for _, b := range tr.CommentBodies(8) {
		if strings.Contains(b, "compensating") {
			compensations++
		}
	}
	assert.Equal(t, 1, compensations)
}

func TestProcessIssue_PlanningFallback(t *testing.T) {
	reg := mustRegistry(t)
	tr := trackertest.New()
	tr.AddIssue(tracker.Ticket{Number: 3})
	engine := teamEngine(t, tr, reg, 3, "no json here")

	r, err := NewRunner(Config{
		Tracker:  tr,
		Store:    runstate.New(),
		Registry: reg,
		Planner:  NewPlanner(engine, reg, time.Second, nil),
		Executor: NewExecutor(engine, reg, time.Second, nil),
		Verifier: NewVerifier(tr, nil, nil),
	})
	require.NoError(t, err)

	out, err := r.ProcessIssue(t.Context(), 3)
	require.NoError(t, err)
	assert.Equal(t, reg.DefaultTeam(), out.Team)
	assert.Equal(t, FallbackParse, out.FallbackReason)
}

func TestProcessIssue_ExecutionTimeout(t *testing.T) {
	reg := mustRegistry(t)
	planned := false
	engine := &scriptedEngine{}
	engine.script = func(ctx context.Context, steps []crew.Step, onStep crew.StepFunc) (crew.Result, error) {
		if steps[0].Agent.ID == reg.Planner().ID {
			planned = true
			return crew.TextResult(`{"agents": ["dev"]}`), nil
		}
		<-ctx.Done()
		return crew.Result{}, ctx.Err()
	}
	f := newRunnerFixture(t, engine, 30*time.Millisecond, nil)
	f.tracker.AddIssue(tracker.Ticket{Number: 11})
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "#11") && strings.Contains(s, "timed out")
	})).Return(nil).Once()

	_, err := f.runner.ProcessIssue(t.Context(), 11)

	require.ErrorIs(t, err, crew.ErrTimeout)
	assert.Equal(t, SeverityTicket, SeverityOf(err))
	assert.True(t, planned)
	f.notifier.AssertExpectations(t)

	bodies := f.tracker.CommentBodies(11)
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "processing failed")

	snap := f.store.Snapshot()
	assert.Nil(t, snap.CurrentRun)
	assert.Contains(t, snap.LastResult, "timed out")
	for _, a := range snap.AllAgents {
		assert.Equal(t, runstate.StateIdle, a.State)
	}
	assert.Equal(t, "failed", f.publisher.Last().Outcome)
}

func TestProcessIssue_LateStepFromTimedOutRunIsDropped(t *testing.T) {
	reg := mustRegistry(t)
	release := make(chan struct{})
	staleDone := make(chan struct{})
	inFlight := make(chan struct{})
	finish := make(chan struct{})
	engine := &scriptedEngine{}
	engine.script = func(ctx context.Context, steps []crew.Step, onStep crew.StepFunc) (crew.Result, error) {
		if steps[0].Agent.ID == reg.Planner().ID {
			return crew.TextResult(`{"agents": ["dev", "qa"]}`), nil
		}
		if strings.Contains(steps[0].Task.Description, "feature/issue-1") {
			// ignores ctx and reports after its run has timed out
			<-release
			onStep(0, crew.TextResult("stale dev output"))
			close(staleDone)
			return crew.TextResult("late"), nil
		}
		close(inFlight)
		<-finish
		for i, step := range steps {
			onStep(i, crew.TextResult(step.Agent.ID+" finished"))
		}
		return crew.TextResult("done"), nil
	}
	f := newRunnerFixture(t, engine, 300*time.Millisecond, nil)
	f.tracker.AddIssue(tracker.Ticket{Number: 1})
	f.tracker.AddIssue(tracker.Ticket{Number: 2})
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	_, err := f.runner.ProcessIssue(t.Context(), 1)
	require.ErrorIs(t, err, crew.ErrTimeout)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.runner.ProcessIssue(t.Context(), 2)
		errCh <- err
	}()
	<-inFlight
	before := f.store.Snapshot()
	require.NotNil(t, before.CurrentRun)
	assert.Equal(t, 2, before.CurrentRun.Issue)

	close(release)
	<-staleDone
	after := f.store.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, []runstate.AgentState{runstate.StateDone, runstate.StateWorking, runstate.StateIdle},
		agentStates(after.ActiveAgents))
	for _, step := range after.CurrentRun.Steps {
		assert.NotEqual(t, "stale dev output", step.Summary)
	}

	close(finish)
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, f.store.Snapshot().CompletedRuns)
}

func TestProcessIssue_MissingIssueIsTicketFatal(t *testing.T) {
	f := newRunnerFixture(t, answer("unused"), time.Second, nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("discord down"))

	_, err := f.runner.ProcessIssue(t.Context(), 404)

	require.ErrorIs(t, err, tracker.ErrNotFound)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "fetch", runErr.Op)
	assert.False(t, f.runner.Running())
}

func TestProcessIssue_FailureTextIsTruncated(t *testing.T) {
	long := errors.New(strings.Repeat("e", 4000))
	reg := mustRegistry(t)
	engine := &scriptedEngine{}
	engine.script = func(ctx context.Context, steps []crew.Step, onStep crew.StepFunc) (crew.Result, error) {
		if steps[0].Agent.ID == reg.Planner().ID {
			return crew.TextResult(`{"agents": ["qa"]}`), nil
		}
		return crew.Result{}, long
	}
	f := newRunnerFixture(t, engine, time.Second, nil)
	f.tracker.AddIssue(tracker.Ticket{Number: 2})
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	_, err := f.runner.ProcessIssue(t.Context(), 2)
	require.ErrorIs(t, err, long)

	assert.Equal(t, MaxFailureText, len([]rune(f.store.Snapshot().LastResult)))
	body := f.tracker.CommentBodies(2)[0]
	assert.Less(t, len(body), MaxFailureText+100)
}

func TestProcessIssue_RejectsConcurrentRun(t *testing.T) {
	f := newRunnerFixture(t, answer("x"), time.Second, nil)
	_, err := f.store.Begin(99)
	require.NoError(t, err)

	_, err = f.runner.ProcessIssue(t.Context(), 1)
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestTrigger(t *testing.T) {
	t.Run("over quota", func(t *testing.T) {
		f := newRunnerFixture(t, answer("x"), time.Second, fixedQuota(true))
		err := f.runner.Trigger(t.Context(), 1)
		require.ErrorIs(t, err, ErrQuotaExceeded)
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)
		assert.False(t, f.runner.Running())
	})

	t.Run("already running wins over quota", func(t *testing.T) {
		f := newRunnerFixture(t, answer("x"), time.Second, fixedQuota(true))
		_, err := f.store.Begin(5)
		require.NoError(t, err)
		assert.ErrorIs(t, f.runner.Trigger(t.Context(), 1), ErrRunInProgress)
	})

	t.Run("starts background run", func(t *testing.T) {
		reg := mustRegistry(t)
		release := make(chan struct{})
		engine := &scriptedEngine{}
		engine.script = func(ctx context.Context, steps []crew.Step, onStep crew.StepFunc) (crew.Result, error) {
			if steps[0].Agent.ID == reg.Planner().ID {
				<-release
				return crew.TextResult(`{"agents": ["qa"]}`), nil
			}
			return crew.TextResult("done"), nil
		}
		f := newRunnerFixture(t, engine, time.Second, fixedQuota(false))
		f.tracker.AddIssue(tracker.Ticket{Number: 6})

		require.NoError(t, f.runner.Trigger(t.Context(), 6))
		assert.True(t, f.runner.Running())
		assert.ErrorIs(t, f.runner.Trigger(t.Context(), 7), ErrRunInProgress)

		close(release)
		require.Eventually(t, func() bool { return !f.runner.Running() }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, f.store.Snapshot().CompletedRuns)
		require.NoError(t, f.runner.Shutdown(t.Context()))
	})
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(Config{})
	assert.Error(t, err)
}

func TestProcessIssue_RecordsPhaseSpans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	restore := tt.Install()
	defer restore()

	reg := mustRegistry(t)
	tr := trackertest.New()
	tr.AddIssue(tracker.Ticket{Number: 12})
	engine := teamEngine(t, tr, reg, 12, `{"agents": ["critic"]}`)
	r, err := NewRunner(Config{
		Tracker:  tr,
		Store:    runstate.New(),
		Registry: reg,
		Planner:  NewPlanner(engine, reg, time.Second, nil),
		Executor: NewExecutor(engine, reg, time.Second, nil),
		Verifier: NewVerifier(tr, nil, nil),
	})
	require.NoError(t, err)

	_, err = r.ProcessIssue(t.Context(), 12)
	require.NoError(t, err)

	for _, name := range []string{"orchestrator.run", "orchestrator.plan", "orchestrator.execute", "orchestrator.verify"} {
		tt.AssertSpanExists(t, name)
	}
	tt.AssertSpanAttribute(t, "orchestrator.verify", "missing", int64(0))
}

func agentStates(agents []runstate.Agent) []runstate.AgentState {
	out := make([]runstate.AgentState, len(agents))
	for i, a := range agents {
		out[i] = a.State
	}
	return out
}
