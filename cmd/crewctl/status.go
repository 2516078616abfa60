package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	crewhttp "github.com/fyrsmithlabs/crewd/internal/http"
	"github.com/fyrsmithlabs/crewd/internal/monitor"
	"github.com/fyrsmithlabs/crewd/internal/runstate"
)

// printStatus writes a plain-text summary of a status reply.
func printStatus(w io.Writer, s *crewhttp.StatusResponse, now time.Time) {
	state := "idle"
	if s.Running {
		state = "running"
	}
	fmt.Fprintf(w, "State:          %s\n", state)
	fmt.Fprintf(w, "Completed runs: %d\n", s.CompletedRuns)
	fmt.Fprintf(w, "Last run:       %s\n", monitor.FormatSince(s.LastRunAt, now))

	if run := s.CurrentRun; run != nil {
		step := "complete"
		if run.StepIndex != runstate.StepDone {
			step = fmt.Sprintf("%d of %d", run.StepIndex+1, len(s.ActiveAgents))
		}
		fmt.Fprintf(w, "\nCurrent run %s on issue #%d (step %s, %s elapsed)\n",
			run.RunID, run.Issue, step, monitor.FormatDuration(now.Sub(run.StartedAt)))
	}

	states := make(map[string]runstate.AgentState, len(s.ActiveAgents))
	for _, a := range s.ActiveAgents {
		states[a.ID] = a.State
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tROLE\tSTATE")
	for _, a := range s.AllAgents {
		st, ok := states[a.ID]
		if !ok {
			st = runstate.StateIdle
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Role, st)
	}
	_ = tw.Flush()

	u := s.Usage
	fmt.Fprintf(w, "\nTokens: %s (in %d, out %d)\n",
		monitor.FormatLimit(u.TotalTokens, u.Limits.Tokens), u.InputTokens, u.OutputTokens)
	fmt.Fprintf(w, "Calls:  %s\n", monitor.FormatLimit(u.Calls, u.Limits.Calls))
	fmt.Fprintf(w, "Cost:   %s (%s)\n", monitor.FormatCost(u.EstimatedCostUSD), u.CostModel)
	if u.OverLimit {
		fmt.Fprintln(w, "Usage limit exceeded; reset usage to run again")
	}

	if s.LastResult != "" {
		fmt.Fprintf(w, "\nLast result:\n%s\n", strings.TrimSpace(s.LastResult))
	}
}
