// Package orchestrator runs the plan, execute and verify protocol for one
// issue at a time.
//
// # Phases
//
//	Plan → Execute → Verify
//
// Planning asks the planner agent which teammates should act and falls back
// to the default team on any failure. Execution runs the selected agents as a
// strictly sequential pipeline under a wall-clock cap. Verification checks
// that every agent that ran left a comment carrying its header, and posts one
// compensating comment when any are missing.
//
// # Failures
//
// Errors are classified with a Severity:
//   - SeverityRecoverable: absorbed locally with a fallback (default team,
//     dropped id, compensating comment, ignored label error).
//   - SeverityTicket: aborts the current issue; the failure is reported to the
//     notifier and written on the issue before the error is returned.
//   - SeverityProcess: configuration problems that stop the process.
//
// # Concurrency
//
// At most one run is active. Runner.Trigger rejects a second request with
// runstate.ErrRunInProgress instead of queueing it.
package orchestrator
