// Package crew runs agent tasks against a chat model.
//
// An Agent is the immutable capability handle (role, prompt, model tier and
// tool names). A Step pairs an agent with one Task. Engines run steps strictly
// in order; each step sees the outputs of the steps before it.
package crew

import (
	"context"
	"errors"
)

// ErrTimeout is returned when a bounded run exceeds its deadline.
var ErrTimeout = errors.New("run timed out")

// Tier selects which configured model an agent uses.
type Tier string

const (
	TierStrong Tier = "strong"
	TierFast   Tier = "fast"
	TierReason Tier = "reason"
)

// Agent describes who performs a task.
type Agent struct {
	ID        string
	Role      string
	Goal      string
	Backstory string
	Tier      Tier
	Tools     []string
}

// Task is the work an agent is asked to perform.
type Task struct {
	Description    string
	ExpectedOutput string
}

// Step is one entry of a sequential pipeline.
type Step struct {
	Agent Agent
	Task  Task
}

// StepFunc is called after every completed step with its index and result.
type StepFunc func(index int, result Result)

// Engine executes a pipeline and returns the result of the last step.
type Engine interface {
	Kickoff(ctx context.Context, steps []Step, onStep StepFunc) (Result, error)
}
