package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crewd/internal/config"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/orchestrator"
	"github.com/fyrsmithlabs/crewd/internal/runstate"
	"github.com/fyrsmithlabs/crewd/internal/usage"
)

type fakeUsage struct {
	mu       sync.Mutex
	snap     usage.Snapshot
	resetErr error
	resets   int
}

func (f *fakeUsage) Snapshot() usage.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeUsage) OverLimit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.OverLimit
}

func (f *fakeUsage) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets++
	f.snap = usage.Snapshot{Limits: f.snap.Limits}
	return nil
}

type fakeRunner struct {
	mu     sync.Mutex
	err    error
	issues []int
}

func (f *fakeRunner) Trigger(_ context.Context, issue int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.issues = append(f.issues, issue)
	return nil
}

type testServer struct {
	*Server
	store  *runstate.Store
	usage  *fakeUsage
	runner *fakeRunner
}

func setupTestServer(t *testing.T, withRunner bool) *testServer {
	t.Helper()
	ts := &testServer{
		store:  runstate.New(),
		usage:  &fakeUsage{},
		runner: &fakeRunner{},
	}
	ts.store.RegisterRoster([]runstate.Agent{{ID: "manager", Role: "Vice, Project Manager"}, {ID: "dev", Role: "Fleur, Developer"}})

	var opts []Option
	if withRunner {
		opts = append(opts, WithRunner(ts.runner))
	}
	srv, err := NewServer(ts.store, ts.usage, logging.Nop(), config.DashboardConfig{RateLimit: 100, RateBurst: 100}, opts...)
	require.NoError(t, err)
	ts.Server = srv
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("requires run state", func(t *testing.T) {
		_, err := NewServer(nil, &fakeUsage{}, logging.Nop(), config.DashboardConfig{})
		assert.ErrorContains(t, err, "run state")
	})
	t.Run("requires usage", func(t *testing.T) {
		_, err := NewServer(runstate.New(), nil, logging.Nop(), config.DashboardConfig{})
		assert.ErrorContains(t, err, "usage")
	})
	t.Run("requires logger", func(t *testing.T) {
		_, err := NewServer(runstate.New(), &fakeUsage{}, nil, config.DashboardConfig{})
		assert.ErrorContains(t, err, "logger is required")
	})
	t.Run("applies address defaults", func(t *testing.T) {
		srv, err := NewServer(runstate.New(), &fakeUsage{}, logging.Nop(), config.DashboardConfig{})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:8765", srv.config.Addr())
	})
}

func TestHandleHealth(t *testing.T) {
	rec := setupTestServer(t, false).do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleStatus(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.usage.snap = usage.Snapshot{Counters: usage.Counters{InputTokens: 10, OutputTokens: 5, Calls: 2}, TotalTokens: 15}
	_, err := ts.store.Begin(42)
	require.NoError(t, err)
	ts.store.StartTeam([]runstate.Agent{{ID: "manager"}, {ID: "dev"}})

	rec := ts.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"running", "all_agents", "active_agents", "current_run", "last_result", "completed_runs", "usage"} {
		assert.Contains(t, raw, key)
	}

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Running)
	require.NotNil(t, resp.CurrentRun)
	assert.Equal(t, 42, resp.CurrentRun.Issue)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
	assert.Equal(t, runstate.StateWorking, resp.AllAgents[0].State)
}

func TestHandleRun(t *testing.T) {
	t.Run("starts run", func(t *testing.T) {
		ts := setupTestServer(t, true)
		rec := ts.do(http.MethodPost, "/api/run", `{"issue_number": 42}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		var resp RunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, RunResponse{OK: true, Issue: 42}, resp)
		assert.Equal(t, []int{42}, ts.runner.issues)
	})

	t.Run("accepts issue alias", func(t *testing.T) {
		ts := setupTestServer(t, true)
		rec := ts.do(http.MethodPost, "/api/run", `{"issue": 7}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []int{7}, ts.runner.issues)
	})

	t.Run("rejects bad bodies", func(t *testing.T) {
		ts := setupTestServer(t, true)
		for _, body := range []string{`{"issue_number": "x"}`, `{}`, `{"issue_number": -1}`, `not json`} {
			rec := ts.do(http.MethodPost, "/api/run", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		assert.Empty(t, ts.runner.issues)
	})

	t.Run("conflict while running", func(t *testing.T) {
		ts := setupTestServer(t, true)
		ts.usage.snap.OverLimit = true
		_, err := ts.store.Begin(1)
		require.NoError(t, err)

		rec := ts.do(http.MethodPost, "/api/run", `{"issue_number": 2}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "Already running")
	})

	t.Run("forbidden over usage", func(t *testing.T) {
		ts := setupTestServer(t, false)
		ts.usage.snap.OverLimit = true

		rec := ts.do(http.MethodPost, "/api/run", `{"issue_number": 2}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unavailable without runner", func(t *testing.T) {
		ts := setupTestServer(t, false)
		rec := ts.do(http.MethodPost, "/api/run", `{"issue_number": 2}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "runner not registered")
	})

	t.Run("maps runner errors", func(t *testing.T) {
		cases := map[error]int{
			orchestrator.ErrRunInProgress: http.StatusConflict,
			orchestrator.ErrQuotaExceeded: http.StatusForbidden,
			errors.New("boom"):            http.StatusInternalServerError,
		}
		for err, code := range cases {
			ts := setupTestServer(t, true)
			ts.runner.err = err
			rec := ts.do(http.MethodPost, "/api/run", `{"issue_number": 3}`)
			assert.Equal(t, code, rec.Code, err.Error())
		}
	})
}

func TestHandleRun_RateLimited(t *testing.T) {
	store := runstate.New()
	srv, err := NewServer(store, &fakeUsage{}, logging.Nop(),
		config.DashboardConfig{RateLimit: 0.001, RateBurst: 1}, WithRunner(&fakeRunner{}))
	require.NoError(t, err)
	ts := &testServer{Server: srv}

	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/run", `{"issue_number": 1}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodPost, "/api/run", `{"issue_number": 1}`).Code)
	// reads are not limited
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/status", "").Code)
}

func TestHandleUsageReset(t *testing.T) {
	ts := setupTestServer(t, false)
	ts.usage.snap = usage.Snapshot{Counters: usage.Counters{Calls: 9}, OverLimit: true, Limits: usage.Limits{Calls: 9}}

	rec := ts.do(http.MethodPost, "/api/usage/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UsageResetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Zero(t, resp.Usage.Calls)
	assert.False(t, resp.Usage.OverLimit)
	assert.Equal(t, int64(9), resp.Usage.Limits.Calls)
	assert.Equal(t, 1, ts.usage.resets)

	ts.usage.resetErr = errors.New("disk full")
	assert.Equal(t, http.StatusInternalServerError, ts.do(http.MethodPost, "/api/usage/reset", "").Code)
}

func TestHandleIndex(t *testing.T) {
	ts := setupTestServer(t, false)
	ts.store.Finish("shipped <b>it</b>")

	rec := ts.do(http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Idle")
	assert.Contains(t, body, "Fleur, Developer")
	assert.Contains(t, body, "shipped &lt;b&gt;it&lt;/b&gt;")
}

func TestMetricsEndpoint(t *testing.T) {
	rec := setupTestServer(t, false).do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestID(t *testing.T) {
	rec := setupTestServer(t, false).do(http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
