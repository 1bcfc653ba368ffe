package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances instantly on sleep and records requested waits.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func midJitter() float64 { return 0.5 } // multiplier exactly 1.0

func TestAcquire_PermissiveWithoutRules(t *testing.T) {
	g := NewGovernor()
	adm, err := g.Acquire(context.Background(), Key{ConnectorID: "asana"}, Rules{})
	require.NoError(t, err)
	adm.Release()
	adm.Release() // idempotent
}

func TestAcquire_ConcurrencyCap(t *testing.T) {
	g := NewGovernor()
	rules := Rules{Scope: ScopeConnector, Concurrency: 2}
	key := Key{ConnectorID: "asana"}

	var inflight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := g.Acquire(context.Background(), key, rules)
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt64(&inflight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inflight, -1)
			adm.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestObserveResponse_PenaltyFromRetryAfter(t *testing.T) {
	clock := newFakeClock()
	g := NewGovernor(WithClock(clock.Now, clock.Sleep), WithJitter(midJitter))
	rules := Rules{Scope: ScopeConnector, Concurrency: 2}
	key := Key{ConnectorID: "asana"}

	h := http.Header{}
	h.Set("Retry-After", "1")
	g.ObserveResponse(key, rules, 429, h)

	// Next acquire waits out the penalty on the fake clock.
	adm, err := g.Acquire(context.Background(), key, rules)
	require.NoError(t, err)
	defer adm.Release()

	sleeps := clock.Sleeps()
	require.NotEmpty(t, sleeps)
	// retryAfterMs = 1000 with neutral jitter.
	assert.Equal(t, time.Second, sleeps[0])
	assert.GreaterOrEqual(t, adm.Attempts, 2)
}

func TestAcquire_PenaltyScheduledWhileParked(t *testing.T) {
	clock := newFakeClock()
	g := NewGovernor(WithClock(clock.Now, clock.Sleep), WithJitter(midJitter))
	rules := Rules{Scope: ScopeConnector, Concurrency: 1}
	key := Key{ConnectorID: "c"}

	holder, err := g.Acquire(context.Background(), key, rules)
	require.NoError(t, err)

	admitted := make(chan *Admission, 1)
	errs := make(chan error, 1)
	go func() {
		adm, err := g.Acquire(context.Background(), key, rules)
		if err != nil {
			errs <- err
			return
		}
		admitted <- adm
	}()

	// Let the second caller park on the concurrency slot, land a penalty,
	// then free the slot. Admission must still wait the penalty out.
	time.Sleep(20 * time.Millisecond)
	h := http.Header{}
	h.Set("Retry-After", "1")
	g.ObserveResponse(key, rules, 429, h)
	holder.Release()

	select {
	case adm := <-admitted:
		adm.Release()
	case err := <-errs:
		t.Fatal(err)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never admitted")
	}

	sleeps := clock.Sleeps()
	require.NotEmpty(t, sleeps, "admitted without waiting out the penalty")
	assert.Equal(t, time.Second, sleeps[0])
}

func TestObserveResponse_JitterWindow(t *testing.T) {
	for _, j := range []float64{0.0, 0.999} {
		clock := newFakeClock()
		g := NewGovernor(WithClock(clock.Now, clock.Sleep), WithJitter(func() float64 { return j }))
		key := Key{ConnectorID: "c"}
		rules := Rules{}

		h := http.Header{}
		h.Set("Retry-After", "1")
		g.ObserveResponse(key, rules, 429, h)

		adm, err := g.Acquire(context.Background(), key, rules)
		require.NoError(t, err)
		adm.Release()

		sleeps := clock.Sleeps()
		require.NotEmpty(t, sleeps)
		assert.GreaterOrEqual(t, sleeps[0], 750*time.Millisecond)
		assert.Less(t, sleeps[0], 1250*time.Millisecond)
	}
}

func TestObserveResponse_BackoffMonotonicity(t *testing.T) {
	clock := newFakeClock()
	var penalties []time.Duration
	sink := &recordingSink{}
	g := NewGovernor(WithClock(clock.Now, clock.Sleep), WithJitter(midJitter), WithMetrics(sink))
	key := Key{ConnectorID: "c"}

	for i := 0; i < 8; i++ {
		g.ObserveResponse(key, Rules{}, 429, http.Header{})
	}
	penalties = sink.penalties()

	require.Len(t, penalties, 8)
	for i := 1; i < len(penalties); i++ {
		assert.GreaterOrEqual(t, penalties[i], penalties[i-1],
			"penalty %d regressed", i)
	}
	// Level caps at 6: base 1s<<5 = 32s; further 429s stay at 32s.
	assert.Equal(t, 32*time.Second, penalties[7])
}

func TestObserveResponse_LevelResetsOnSuccess(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}
	g := NewGovernor(WithClock(clock.Now, clock.Sleep), WithJitter(midJitter), WithMetrics(sink))
	key := Key{ConnectorID: "c"}

	g.ObserveResponse(key, Rules{}, 429, http.Header{})
	g.ObserveResponse(key, Rules{}, 429, http.Header{})
	g.ObserveResponse(key, Rules{}, 200, http.Header{}) // resets backoff level

	g.ObserveResponse(key, Rules{}, 429, http.Header{})
	p := sink.penalties()
	require.Len(t, p, 3)
	assert.Equal(t, time.Second, p[2], "level restarts at 1 after a clean response")
}

func TestObserveResponse_RecordsHeaderInfo(t *testing.T) {
	g := NewGovernor()
	key := Key{ConnectorID: "c"}
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "100")
	h.Set("X-RateLimit-Remaining", "8")

	info := g.ObserveResponse(key, Rules{}, 200, h)
	assert.Equal(t, 8, info.Remaining)

	last := g.LastInfo(key, Rules{})
	assert.Equal(t, 100, last.Limit)
	assert.True(t, last.HasRemaining)
}

func TestAcquire_Cancellation(t *testing.T) {
	g := NewGovernor()
	rules := Rules{Scope: ScopeConnector, Concurrency: 1}
	key := Key{ConnectorID: "c"}

	adm, err := g.Acquire(context.Background(), key, rules)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, key, rules)
	assert.Error(t, err)

	adm.Release()
	adm2, err := g.Acquire(context.Background(), key, rules)
	require.NoError(t, err)
	adm2.Release()
}

type recordingSink struct {
	mu sync.Mutex
	ps []time.Duration
}

func (s *recordingSink) ObserveAdmission(string, time.Duration) {}
func (s *recordingSink) ObserveHeaders(string, Info)            {}
func (s *recordingSink) ObservePenalty(_ string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ps = append(s.ps, d)
}

func (s *recordingSink) penalties() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.ps))
	copy(out, s.ps)
	return out
}
