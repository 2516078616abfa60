package crew

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithTimeout_Completes(t *testing.T) {
	v, err := RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestRunWithTimeout_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunWithTimeout_TimesOutAndCancels(t *testing.T) {
	cancelled := make(chan struct{})
	start := time.Now()

	_, err := RunWithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		time.Sleep(200 * time.Millisecond) // keeps running after the caller gave up
		return 1, nil
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "caller must not wait for fn")
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("fn context was not cancelled")
	}
}

func TestRunWithTimeout_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunWithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithTimeout_Panic(t *testing.T) {
	_, err := RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		panic("nil map")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: nil map")
}
