package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interlock-labs/conduit/pkg/envelope"
)

func instantSleep(sleeps *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return ctx.Err()
	}
}

func TestDo_RetryLadder(t *testing.T) {
	statuses := []int{503, 502, 200}
	var sleeps []time.Duration
	var retries int

	i := 0
	resp := Policy{
		Sleep:   instantSleep(&sleeps),
		OnRetry: func(attempt int, delay time.Duration, r *envelope.Response) { retries++ },
	}.Do(context.Background(), func(ctx context.Context) (*envelope.Response, error) {
		status := statuses[i]
		i++
		if status == 200 {
			return envelope.OK(nil, 200, nil), nil
		}
		return envelope.Failure(envelope.KindTransient, "upstream sad", status), nil
	})

	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, i, "three attempts total")
	assert.Equal(t, 2, retries)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeps)
}

func TestDo_DelayCap(t *testing.T) {
	var sleeps []time.Duration
	Policy{
		Retries: 5,
		Sleep:   instantSleep(&sleeps),
	}.Do(context.Background(), func(ctx context.Context) (*envelope.Response, error) {
		return envelope.Failure(envelope.KindTransient, "boom", 500), nil
	})

	require.Len(t, sleeps, 5)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second,
	}, sleeps)
}

func TestDefaultShouldRetry(t *testing.T) {
	assert.True(t, DefaultShouldRetry(envelope.Failure(envelope.KindRateLimited, "x", 429)))
	assert.True(t, DefaultShouldRetry(envelope.Failure(envelope.KindTransient, "x", 500)))
	assert.True(t, DefaultShouldRetry(envelope.Failure(envelope.KindTransient, "x", 0)))
	assert.False(t, DefaultShouldRetry(envelope.Failure(envelope.KindAuth, "x", 401)))
	assert.False(t, DefaultShouldRetry(envelope.Failure(envelope.KindPermanent, "x", 404)))
	assert.False(t, DefaultShouldRetry(envelope.OK(nil, 200, nil)))
	assert.False(t, DefaultShouldRetry(envelope.Failure(envelope.KindCanceled, "canceled", 0)))
}

func TestDo_ErrorsBecomeEnvelopes(t *testing.T) {
	var sleeps []time.Duration
	calls := 0
	resp := Policy{
		Retries: 1,
		Sleep:   instantSleep(&sleeps),
	}.Do(context.Background(), func(ctx context.Context) (*envelope.Response, error) {
		calls++
		return nil, errors.New("connection reset")
	})

	assert.False(t, resp.Success)
	assert.Equal(t, "connection reset", resp.Error)
	assert.Equal(t, 0, resp.StatusCode)
	assert.Equal(t, 2, calls, "statusCode 0 is retriable")
}

func TestDo_CancellationNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	resp := Policy{Retries: 3}.Do(ctx, func(ctx context.Context) (*envelope.Response, error) {
		calls++
		cancel()
		return nil, ctx.Err()
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, "canceled", resp.Error)
	assert.Equal(t, envelope.KindCanceled, resp.Kind)
}

func TestDo_NonRetriableReturnsVerbatim(t *testing.T) {
	calls := 0
	resp := Policy{}.Do(context.Background(), func(ctx context.Context) (*envelope.Response, error) {
		calls++
		return envelope.Failure(envelope.KindPermanent, "HTTP 404: Not Found", 404), nil
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, "HTTP 404: Not Found", resp.Error)
}
