package orchestrator

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/crewd/internal/runstate"
	"github.com/fyrsmithlabs/crewd/internal/usage"
)

var (
	// ErrQuotaExceeded is returned by Trigger when the usage ledger is over limit.
	ErrQuotaExceeded = fmt.Errorf("usage quota exceeded: %w", usage.ErrLimitExceeded)

	// ErrRunInProgress is returned when another run holds the slot.
	ErrRunInProgress = runstate.ErrRunInProgress

	// ErrNoTeam is returned by ParseTeam when the text names no team.
	ErrNoTeam = errors.New("no team selection found")
)

// Severity indicates how far a failure reaches.
type Severity string

const (
	SeverityRecoverable Severity = "recoverable"
	SeverityTicket      Severity = "ticket"
	SeverityProcess     Severity = "process"
)

// RunError is a classified failure of one operation on one issue.
type RunError struct {
	Op       string
	Issue    int
	Severity Severity
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s issue #%d: %v", e.Op, e.Issue, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func ticketError(op string, issue int, err error) error {
	return &RunError{Op: op, Issue: issue, Severity: SeverityTicket, Err: err}
}

// SeverityOf returns the severity of err. Unclassified errors are ticket scoped.
func SeverityOf(err error) Severity {
	var re *RunError
	if errors.As(err, &re) {
		return re.Severity
	}
	return SeverityTicket
}
