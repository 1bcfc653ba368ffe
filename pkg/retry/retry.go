// Package retry provides the generic retry combinator used by adapters:
// exponential backoff with a cap and a predicate-driven retry decision.
// Jitter is deliberately absent here; penalty jitter is the rate governor's
// concern.
package retry

import (
	"context"
	"time"

	"github.com/interlock-labs/conduit/pkg/envelope"
)

// Defaults for Policy zero values.
const (
	DefaultRetries      = 2
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultMultiplier   = 2.0
)

// Policy configures Do.
type Policy struct {
	Retries      int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// ShouldRetry decides whether a failure envelope is retriable.
	// Defaults to DefaultShouldRetry.
	ShouldRetry func(*envelope.Response) bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, delay time.Duration, resp *envelope.Response)

	// Sleep is the cancel-aware sleeper; tests may replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultShouldRetry retries failures with status 429, any 5xx, or status 0
// (transport failure before an HTTP status was observed).
func DefaultShouldRetry(resp *envelope.Response) bool {
	if resp == nil || resp.Success {
		return false
	}
	if resp.Kind == envelope.KindCanceled {
		return false
	}
	return resp.StatusCode == 429 || resp.StatusCode >= 500 || resp.StatusCode == 0
}

// Operation is a retriable unit of work. A returned error is converted into
// a failure envelope and subjected to the same predicate.
type Operation func(ctx context.Context) (*envelope.Response, error)

// Do runs op with the policy's backoff schedule and returns the last
// observed envelope. Cancellation propagates immediately and is never
// retried.
func (p Policy) Do(ctx context.Context, op Operation) *envelope.Response {
	retries := p.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	if retries < 0 {
		retries = 0
	}
	initial := p.InitialDelay
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var resp *envelope.Response
	delay := initial
	for attempt := 0; ; attempt++ {
		var err error
		resp, err = op(ctx)
		if err != nil {
			resp = envelope.FromError(err)
		}
		if resp == nil {
			resp = envelope.Failure(envelope.KindUnknown, "operation returned no response", 0)
		}

		if resp.Success || attempt >= retries || !shouldRetry(resp) {
			return resp
		}
		if ctx.Err() != nil {
			return envelope.FromError(ctx.Err())
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, resp)
		}
		if err := sleep(ctx, delay); err != nil {
			return envelope.FromError(err)
		}
		delay = time.Duration(float64(delay) * mult)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
