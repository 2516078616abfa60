// Package runstate tracks the agent roster and the run in flight.
//
// A Store is written by the orchestrator and read concurrently by the status
// API. Every method takes the same lock and none of them does I/O.
package runstate

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned by Begin while another run holds the slot.
var ErrRunInProgress = errors.New("a run is already in progress")

// AgentState is the lifecycle of an agent within a run.
type AgentState string

const (
	StateIdle    AgentState = "idle"
	StateWorking AgentState = "working"
	StateDone    AgentState = "done"
)

// StepDone marks CurrentRun.StepIndex once every step has completed.
const StepDone = -1

// Agent is a roster entry.
type Agent struct {
	ID    string     `json:"id"`
	Role  string     `json:"role"`
	State AgentState `json:"state"`
}

// StepSummary records one completed pipeline step.
type StepSummary struct {
	AgentID    string    `json:"agent_id"`
	Summary    string    `json:"summary"`
	FinishedAt time.Time `json:"finished_at"`
}

// CurrentRun describes the run in flight.
type CurrentRun struct {
	RunID     string        `json:"run_id"`
	Issue     int           `json:"issue_number"`
	StepIndex int           `json:"step_index"`
	StartedAt time.Time     `json:"started_at"`
	Steps     []StepSummary `json:"steps"`
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	AllAgents     []Agent     `json:"all_agents"`
	ActiveAgents  []Agent     `json:"active_agents"`
	CurrentRun    *CurrentRun `json:"current_run"`
	LastResult    string      `json:"last_result"`
	LastRunAt     time.Time   `json:"last_run_at,omitempty"`
	CompletedRuns int         `json:"completed_runs"`
}

// Store is the lock-protected run state.
type Store struct {
	mu            sync.Mutex
	rosterSet     bool
	all           []Agent
	active        []Agent
	current       *CurrentRun
	lastResult    string
	lastRunAt     time.Time
	completedRuns int
	now           func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// RegisterRoster records the fixed agent roster. Only the first call counts.
func (s *Store) RegisterRoster(agents []Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rosterSet {
		return
	}
	s.all = resetStates(agents, -1)
	s.rosterSet = true
}

// Begin claims the single run slot for issue. It fails with ErrRunInProgress,
// leaving the store untouched, when a run is already active.
func (s *Store) Begin(issue int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return "", ErrRunInProgress
	}
	id := uuid.NewString()
	s.current = &CurrentRun{
		RunID:     id,
		Issue:     issue,
		StepIndex: 0,
		StartedAt: s.now(),
	}
	s.active = nil
	return id, nil
}

// StartTeam replaces the active agents with team. Step 0 is marked working,
// or the run is marked all-done when team is empty.
func (s *Store) StartTeam(team []Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := 0
	if len(team) == 0 {
		step = StepDone
	}
	s.active = resetStates(team, step)
	if s.current != nil {
		s.current.StepIndex = step
	}
	s.syncRosterLocked()
}

// CompleteStep marks step i of run runID done and moves to i+1, or to
// StepDone after the last step. Calls for a run that no longer holds the
// slot are ignored.
func (s *Store) CompleteStep(runID string, i int, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.RunID != runID {
		return
	}
	if i < 0 || i >= len(s.active) {
		return
	}
	s.active[i].State = StateDone
	next := StepDone
	if i+1 < len(s.active) {
		next = i + 1
		s.active[next].State = StateWorking
	}
	s.current.StepIndex = next
	s.current.Steps = append(s.current.Steps, StepSummary{
		AgentID:    s.active[i].ID,
		Summary:    summary,
		FinishedAt: s.now(),
	})
	s.syncRosterLocked()
}

// Finish records the outcome and clears the current run. The completed run
// count only moves when a run was actually active.
func (s *Store) Finish(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = summary
	s.lastRunAt = s.now()
	if s.current != nil {
		s.completedRuns++
	}
	s.current = nil
}

// SetIdle returns every agent to idle.
func (s *Store) SetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.active {
		s.active[i].State = StateIdle
	}
	for i := range s.all {
		s.all[i].State = StateIdle
	}
}

// Running reports whether a run holds the slot.
func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Snapshot returns a deep copy safe to hand to other goroutines.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		AllAgents:     append([]Agent{}, s.all...),
		ActiveAgents:  append([]Agent{}, s.active...),
		LastResult:    s.lastResult,
		LastRunAt:     s.lastRunAt,
		CompletedRuns: s.completedRuns,
	}
	if s.current != nil {
		cur := *s.current
		cur.Steps = append([]StepSummary{}, s.current.Steps...)
		snap.CurrentRun = &cur
	}
	return snap
}

// syncRosterLocked mirrors active agent states onto the roster.
func (s *Store) syncRosterLocked() {
	states := make(map[string]AgentState, len(s.active))
	for _, a := range s.active {
		states[a.ID] = a.State
	}
	for i := range s.all {
		if st, ok := states[s.all[i].ID]; ok {
			s.all[i].State = st
		} else {
			s.all[i].State = StateIdle
		}
	}
}

// resetStates copies agents with step working and everything else idle.
func resetStates(agents []Agent, step int) []Agent {
	out := make([]Agent, len(agents))
	for i, a := range agents {
		a.State = StateIdle
		if i == step {
			a.State = StateWorking
		}
		out[i] = a
	}
	return out
}
