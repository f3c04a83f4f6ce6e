package voice

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/vaani/internal/conversation"
	"github.com/ent0n29/vaani/internal/tutor"
)

// ErrAttemptTimeout is the cancellation cause of a first attempt that ran
// out of time.
var ErrAttemptTimeout = errors.New("first response attempt timed out")

// RetryPolicy is the two-step response strategy: a short attempt with a
// small history window, then one retry with an even smaller window bounded
// only by the responder's own ceilings.
type RetryPolicy struct {
	FirstWindow  int
	FirstTimeout time.Duration
	RetryWindow  int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{FirstWindow: 2, FirstTimeout: 10 * time.Second, RetryWindow: 1}
}

// AttemptFunc generates a response from a trimmed history.
type AttemptFunc func(ctx context.Context, history []conversation.Message) (tutor.Response, error)

// Run retries only when the first attempt's own timer fired. Any other
// error, including cancellation of ctx, is returned as is.
func (p RetryPolicy) Run(ctx context.Context, history []conversation.Message, attempt AttemptFunc) (tutor.Response, error) {
	first := p.FirstTimeout
	if first <= 0 {
		first = DefaultRetryPolicy().FirstTimeout
	}
	attemptCtx, cancel := context.WithTimeoutCause(ctx, first, ErrAttemptTimeout)
	resp, err := attempt(attemptCtx, lastN(history, p.FirstWindow))
	timedOut := errors.Is(context.Cause(attemptCtx), ErrAttemptTimeout)
	cancel()
	if err == nil || !timedOut || ctx.Err() != nil {
		return resp, err
	}
	return attempt(ctx, lastN(history, p.RetryWindow))
}

func lastN(history []conversation.Message, n int) []conversation.Message {
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return append([]conversation.Message(nil), history...)
}
