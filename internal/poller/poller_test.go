package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/orchestrator"
	"github.com/fyrsmithlabs/crewd/internal/tracker"
	"github.com/fyrsmithlabs/crewd/internal/tracker/trackertest"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]error
}

func (f *fakeProcessor) ProcessIssue(_ context.Context, issue int) (*orchestrator.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, issue)
	if err := f.fail[issue]; err != nil {
		return nil, err
	}
	return &orchestrator.Outcome{Issue: issue}, nil
}

func (f *fakeProcessor) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

// quotaAfter goes over limit after n checks.
type quotaAfter struct {
	mu sync.Mutex
	n  int
}

func (q *quotaAfter) OverLimit() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n <= 0 {
		return true
	}
	q.n--
	return false
}

func labelled(tr *trackertest.Fake, numbers ...int) {
	for _, n := range numbers {
		tr.AddIssue(tracker.Ticket{Number: n, Title: "task", Labels: []string{"agent-todo"}})
	}
}

func TestScan_ProcessesAndSwapsLabels(t *testing.T) {
	tr := trackertest.New()
	labelled(tr, 1, 2)
	tr.AddIssue(tracker.Ticket{Number: 3, Labels: []string{"bug"}})
	proc := &fakeProcessor{}
	p := New(tr, proc, nil, Config{}, nil)

	res, err := p.Scan(t.Context())
	require.NoError(t, err)

	assert.Equal(t, ScanResult{Found: 2, Processed: 2}, res)
	assert.Equal(t, []int{1, 2}, proc.Calls())
	assert.Equal(t, []string{"agent-done"}, tr.Labels(1))
	assert.Equal(t, []string{"agent-done"}, tr.Labels(2))
	assert.Equal(t, []string{"bug"}, tr.Labels(3))
	assert.Equal(t, 2, p.ProcessedCount())
}

func TestScan_SkipsProcessed(t *testing.T) {
	tr := trackertest.New()
	labelled(tr, 1)
	// label removal fails, so the issue stays visible to the next scan
	tr.FailOn("RemoveLabel", errors.New("forbidden"))
	proc := &fakeProcessor{}
	log := logging.NewTestLogger()
	p := New(tr, proc, nil, Config{}, log.Logger)

	_, err := p.Scan(t.Context())
	require.NoError(t, err)
	res, err := p.Scan(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []int{1}, proc.Calls())
	assert.Equal(t, 1, res.Skipped)
	log.AssertLogged(t, zapcore.WarnLevel, "removing trigger label")
}

func TestScan_FailedIssueRetriedNextScan(t *testing.T) {
	tr := trackertest.New()
	labelled(tr, 4)
	proc := &fakeProcessor{fail: map[int]error{4: errors.New("model down")}}
	p := New(tr, proc, nil, Config{}, nil)

	res, err := p.Scan(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"agent-todo"}, tr.Labels(4))

	proc.mu.Lock()
	proc.fail = nil
	proc.mu.Unlock()

	res, err = p.Scan(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []int{4, 4}, proc.Calls())
}

func TestScan_StopsWhenOverQuota(t *testing.T) {
	tr := trackertest.New()
	labelled(tr, 1, 2, 3)
	proc := &fakeProcessor{}
	p := New(tr, proc, &quotaAfter{n: 1}, Config{}, nil)

	res, err := p.Scan(t.Context())
	require.NoError(t, err)

	assert.True(t, res.QuotaHit)
	assert.Equal(t, []int{1}, proc.Calls())
}

func TestScan_RunInProgressDefers(t *testing.T) {
	tr := trackertest.New()
	labelled(tr, 1, 2)
	proc := &fakeProcessor{fail: map[int]error{1: orchestrator.ErrRunInProgress}}
	p := New(tr, proc, nil, Config{}, nil)

	res, err := p.Scan(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, proc.Calls())
	assert.Zero(t, res.Failed)
	assert.Zero(t, p.ProcessedCount())
}

func TestScan_ListError(t *testing.T) {
	tr := trackertest.New()
	tr.FailOn("ListOpen", errors.New("github down"))
	p := New(tr, &fakeProcessor{}, nil, Config{}, nil)

	_, err := p.Scan(t.Context())
	assert.ErrorContains(t, err, "github down")
}

func TestRun_RetriesAfterScanErrorAndStops(t *testing.T) {
	tr := trackertest.New()
	labelled(tr, 9)
	tr.FailOn("ListOpen", errors.New("github down"))
	proc := &fakeProcessor{}
	log := logging.NewTestLogger()
	p := New(tr, proc, nil, Config{Interval: 10 * time.Millisecond}, log.Logger)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(log.FilterMessage("scan failed").All()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	tr.FailOn("ListOpen", nil)
	require.Eventually(t, func() bool { return p.ProcessedCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, []int{9}, proc.Calls())
}
