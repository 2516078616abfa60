package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/crewd/internal/config"
	crewhttp "github.com/fyrsmithlabs/crewd/internal/http"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/runstate"
	"github.com/fyrsmithlabs/crewd/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct{ issues []int }

func (r *recordingRunner) Trigger(_ context.Context, issue int) error {
	r.issues = append(r.issues, issue)
	return nil
}

type dashboard struct {
	url    string
	store  *runstate.Store
	ledger *usage.Ledger
	runner *recordingRunner
}

func startDashboard(t *testing.T) *dashboard {
	t.Helper()
	store := runstate.New()
	store.RegisterRoster([]runstate.Agent{{ID: "pm", Role: "Pat, Project Manager"}, {ID: "dev", Role: "Dana, Developer"}})
	ledger, err := usage.Open(filepath.Join(t.TempDir(), "usage.json"), usage.Limits{Calls: 10})
	require.NoError(t, err)
	runner := &recordingRunner{}

	srv, err := crewhttp.NewServer(store, ledger, logging.Nop(), config.DashboardConfig{
		Host: "127.0.0.1", Port: 8765, RateLimit: 100, RateBurst: 100,
	}, crewhttp.WithRunner(runner))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &dashboard{url: ts.URL, store: store, ledger: ledger, runner: runner}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// flags are package level; reset them between runs
	asJSON = false
	timeout = 10 * time.Second

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestHealth(t *testing.T) {
	d := startDashboard(t)

	out, err := execute(t, "health", "--server", d.url)
	require.NoError(t, err)
	assert.Equal(t, "Server Status: ok\n", out)
}

func TestStatus(t *testing.T) {
	d := startDashboard(t)
	require.NoError(t, d.ledger.Add(t.Context(), 1500, 500, 4))
	_, err := d.store.Begin(42)
	require.NoError(t, err)
	d.store.StartTeam([]runstate.Agent{{ID: "pm"}, {ID: "dev"}})

	out, err := execute(t, "status", "--server", d.url)
	require.NoError(t, err)
	assert.Contains(t, out, "State:          running")
	assert.Contains(t, out, "issue #42")
	assert.Contains(t, out, "step 1 of 2")
	assert.Contains(t, out, "Dana, Developer")
	assert.Contains(t, out, "2.0K / unlimited")
	assert.Contains(t, out, "Calls:  4 / 10")
}

func TestStatus_JSON(t *testing.T) {
	d := startDashboard(t)

	out, err := execute(t, "status", "--json", "--server", d.url)
	require.NoError(t, err)
	assert.Contains(t, out, `"all_agents"`)
	assert.Contains(t, out, `"usage"`)
}

func TestTrigger(t *testing.T) {
	d := startDashboard(t)

	out, err := execute(t, "trigger", "42", "--server", d.url)
	require.NoError(t, err)
	assert.Equal(t, "Run started for issue #42\n", out)
	assert.Equal(t, []int{42}, d.runner.issues)
}

func TestTrigger_InvalidIssue(t *testing.T) {
	d := startDashboard(t)

	_, err := execute(t, "trigger", "abc", "--server", d.url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issue number")
	assert.Empty(t, d.runner.issues)
}

func TestTrigger_Rejected(t *testing.T) {
	d := startDashboard(t)
	require.NoError(t, d.ledger.Add(t.Context(), 0, 0, 10))

	_, err := execute(t, "trigger", "7", "--server", d.url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Usage limit exceeded")
}

func TestUsageReset(t *testing.T) {
	d := startDashboard(t)
	require.NoError(t, d.ledger.Add(t.Context(), 100, 50, 10))

	out, err := execute(t, "usage", "reset", "--server", d.url)
	require.NoError(t, err)
	assert.Equal(t, "Usage reset: 0 / unlimited tokens, 0 calls\n", out)
	assert.False(t, d.ledger.OverLimit())
}
