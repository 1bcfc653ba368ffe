// Package ratelimit implements the per-connector rate-limit governor: a
// token bucket plus concurrency semaphore keyed by scope, fed back by vendor
// rate-limit headers, with penalty scheduling after 429 / Retry-After.
package ratelimit

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Scope selects the key under which rate-limit state accumulates.
type Scope string

const (
	ScopeConnector    Scope = "connector"
	ScopeConnection   Scope = "connection"
	ScopeOrganization Scope = "organization"
)

// Rules is the per-connector governor configuration. A zero Rules value is
// permissive: requests are admitted immediately and only header-derived
// state is tracked.
type Rules struct {
	Scope           Scope             `json:"scope,omitempty" yaml:"scope,omitempty"`
	Concurrency     int               `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Window          time.Duration     `json:"window,omitempty" yaml:"window,omitempty"`
	TokensPerWindow int               `json:"tokensPerWindow,omitempty" yaml:"tokensPerWindow,omitempty"`
	HeaderOverrides map[string]string `json:"headerOverrides,omitempty" yaml:"headerOverrides,omitempty"`
}

// Key identifies the (connector, connection, organization) triple of one
// in-flight request.
type Key struct {
	ConnectorID    string
	ConnectionID   string
	OrganizationID string
}

func (k Key) scopeKey(s Scope) string {
	switch s {
	case ScopeConnection:
		return "connection:" + k.ConnectorID + ":" + k.ConnectionID
	case ScopeOrganization:
		return "organization:" + k.OrganizationID
	default:
		return "connector:" + k.ConnectorID
	}
}

// MetricsSink receives governor telemetry. Implementations are write-only
// collaborators; the governor never awaits them.
type MetricsSink interface {
	ObserveAdmission(scope string, wait time.Duration)
	ObservePenalty(scope string, d time.Duration)
	ObserveHeaders(scope string, info Info)
}

type noopSink struct{}

func (noopSink) ObserveAdmission(string, time.Duration) {}
func (noopSink) ObservePenalty(string, time.Duration)   {}
func (noopSink) ObserveHeaders(string, Info)            {}

const (
	maxBackoffLevel = 6
	maxPenaltyBase  = 60 * time.Second
)

type scopeState struct {
	bucket       *rate.Limiter
	sem          *semaphore.Weighted
	penaltyUntil time.Time
	backoffLevel int
	lastInfo     Info
}

// Governor holds process-wide rate-limit state keyed by scope.
type Governor struct {
	mu      sync.Mutex
	scopes  map[string]*scopeState
	metrics MetricsSink
	logger  *slog.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// Option configures a Governor.
type Option func(*Governor)

// WithMetrics installs the telemetry sink.
func WithMetrics(sink MetricsSink) Option {
	return func(g *Governor) {
		if sink != nil {
			g.metrics = sink
		}
	}
}

// WithClock overrides the clock and sleeper. Tests use this to avoid
// wall-clock waits.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// WithJitter overrides the jitter source (values in [0,1)).
func WithJitter(fn func() float64) Option {
	return func(g *Governor) {
		if fn != nil {
			g.jitter = fn
		}
	}
}

func NewGovernor(opts ...Option) *Governor {
	g := &Governor{
		scopes:  make(map[string]*scopeState),
		metrics: noopSink{},
		logger:  slog.Default().With("component", "ratelimit"),
		now:     time.Now,
		sleep:   sleepCtx,
		jitter:  rand.Float64,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Admission is the result of a successful Acquire. Release must be invoked
// on every exit path; it is idempotent.
type Admission struct {
	Release  func()
	Wait     time.Duration
	Attempts int
}

// Acquire admits one request at the rules' scope. It blocks, cancel-aware,
// until any active penalty has expired, a concurrency slot is free, and a
// bucket token is available.
func (g *Governor) Acquire(ctx context.Context, key Key, rules Rules) (*Admission, error) {
	skey := key.scopeKey(rules.Scope)
	st := g.state(skey, rules)
	start := g.now()
	attempts := 0

	for {
		attempts++
		g.mu.Lock()
		until := st.penaltyUntil
		g.mu.Unlock()

		if wait := until.Sub(g.now()); wait > 0 {
			g.logger.Debug("penalty active, waiting", "scope", skey, "wait", wait)
			if err := g.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if st.sem != nil {
			if err := st.sem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
		}
		if st.bucket != nil {
			if err := st.bucket.Wait(ctx); err != nil {
				if st.sem != nil {
					st.sem.Release(1)
				}
				return nil, err
			}
		}

		// A penalty may land while this caller is parked on the slot or
		// bucket; give the slot back and wait it out before admitting.
		g.mu.Lock()
		until = st.penaltyUntil
		g.mu.Unlock()
		if until.After(g.now()) {
			if st.sem != nil {
				st.sem.Release(1)
			}
			continue
		}
		break
	}

	waited := g.now().Sub(start)
	g.metrics.ObserveAdmission(skey, waited)

	var once sync.Once
	release := func() {
		once.Do(func() {
			if st.sem != nil {
				st.sem.Release(1)
			}
		})
	}
	return &Admission{Release: release, Wait: waited, Attempts: attempts}, nil
}

// ObserveResponse feeds vendor response headers back into the governor and
// schedules a penalty on 429 or an explicit Retry-After. It returns the
// parsed header info for the response middleware chain.
func (g *Governor) ObserveResponse(key Key, rules Rules, statusCode int, headers http.Header) Info {
	skey := key.scopeKey(rules.Scope)
	st := g.state(skey, rules)
	now := g.now()
	info := ParseHeaders(headers, rules.HeaderOverrides, now)

	g.mu.Lock()
	st.lastInfo = info

	penalized := statusCode == http.StatusTooManyRequests || info.RetryAfter > 0
	if penalized {
		if statusCode == http.StatusTooManyRequests {
			if st.backoffLevel < maxBackoffLevel {
				st.backoffLevel++
			}
		} else if st.backoffLevel < 1 {
			st.backoffLevel = 1
		}

		base := info.RetryAfter
		if base <= 0 {
			base = time.Second << (st.backoffLevel - 1)
			if base > maxPenaltyBase {
				base = maxPenaltyBase
			}
		}
		// Multiplicative jitter in [0.75, 1.25).
		d := time.Duration(float64(base) * (0.75 + 0.5*g.jitter()))
		until := now.Add(d)
		if until.After(st.penaltyUntil) {
			st.penaltyUntil = until
		}
		level := st.backoffLevel
		g.mu.Unlock()

		g.metrics.ObservePenalty(skey, d)
		g.logger.Warn("rate limit penalty scheduled",
			"scope", skey, "status", statusCode, "penalty", d, "backoff_level", level)
	} else {
		st.backoffLevel = 0
		g.mu.Unlock()
	}

	g.metrics.ObserveHeaders(skey, info)
	return info
}

// LastInfo returns the most recently observed header state for the scope.
func (g *Governor) LastInfo(key Key, rules Rules) Info {
	st := g.state(key.scopeKey(rules.Scope), rules)
	g.mu.Lock()
	defer g.mu.Unlock()
	return st.lastInfo
}

// state returns the scope's state, creating it on first use. Bucket and
// semaphore shape is fixed by the first rules seen for a scope; the rules
// registry is initialized at startup so this is stable.
func (g *Governor) state(skey string, rules Rules) *scopeState {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.scopes[skey]
	if ok {
		return st
	}
	st = &scopeState{}
	if rules.TokensPerWindow > 0 && rules.Window > 0 {
		refill := rate.Limit(float64(rules.TokensPerWindow) / rules.Window.Seconds())
		st.bucket = rate.NewLimiter(refill, rules.TokensPerWindow)
	}
	if rules.Concurrency > 0 {
		st.sem = semaphore.NewWeighted(int64(rules.Concurrency))
	}
	g.scopes[skey] = st
	return st
}
