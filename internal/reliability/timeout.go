package reliability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimeoutError reports a stage that exceeded its governing deadline.
type TimeoutError struct {
	Stage string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %ss", e.Stage, strconv.FormatFloat(e.After.Seconds(), 'f', -1, 64))
}

// Timeout lets net-style checks treat the error as a timeout.
func (e *TimeoutError) Timeout() bool { return true }

// RunWithTimeout runs fn under a deadline of d and returns a *TimeoutError
// naming stage when the deadline fires first. Cancellation of the parent
// context is returned unchanged. A non-positive d disables the deadline.
func RunWithTimeout[T any](ctx context.Context, d time.Duration, stage string, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	cause := &TimeoutError{Stage: stage, After: d}
	runCtx, cancel := context.WithTimeoutCause(ctx, d, cause)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(runCtx)
		done <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && context.Cause(runCtx) == cause {
			return zero, cause
		}
		return r.v, r.err
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, cause
	}
}

// IsTimeout reports whether err is a stage timeout or a context deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
