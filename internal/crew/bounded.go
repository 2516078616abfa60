package crew

import (
	"context"
	"fmt"
	"time"
)

// RunWithTimeout runs fn with a deadline of d.
//
// When d elapses the context passed to fn is cancelled and RunWithTimeout
// returns an error wrapping ErrTimeout without waiting for fn. Model and
// tracker calls honour the context, so fn normally stops promptly; anything
// that ignores it finishes in the background and its result is discarded.
// Side effects of fn are not undone; callers that hand fn a callback must
// stop honouring it themselves.
// A panic inside fn is returned as an error.
func RunWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome{val: zero, err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(runCtx)
		done <- outcome{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		cancel()
		return out.val, out.err
	case <-timer.C:
		cancel()
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}
