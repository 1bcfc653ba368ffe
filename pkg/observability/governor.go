package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/interlock-labs/conduit/pkg/ratelimit"
)

// GovernorSink feeds rate-limit governor telemetry into the meter. It
// satisfies ratelimit.MetricsSink so the governor stays decoupled from
// the OpenTelemetry SDK.
type GovernorSink struct {
	admissionWait metric.Float64Histogram
	penalties     metric.Int64Counter
	remaining     metric.Int64Gauge
}

// NewGovernorSink builds the sink against the provider's meter.
func NewGovernorSink(p *Provider) (*GovernorSink, error) {
	meter := p.Meter()

	wait, err := meter.Float64Histogram("conduit.ratelimit.admission.wait",
		metric.WithDescription("Time spent waiting for rate-limit admission in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0),
	)
	if err != nil {
		return nil, err
	}

	penalties, err := meter.Int64Counter("conduit.ratelimit.penalties.total",
		metric.WithDescription("Total number of penalty windows scheduled after 429 responses"),
		metric.WithUnit("{penalty}"),
	)
	if err != nil {
		return nil, err
	}

	remaining, err := meter.Int64Gauge("conduit.ratelimit.remaining",
		metric.WithDescription("Most recent vendor-reported remaining quota per scope"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &GovernorSink{admissionWait: wait, penalties: penalties, remaining: remaining}, nil
}

func (s *GovernorSink) ObserveAdmission(scope string, wait time.Duration) {
	s.admissionWait.Record(context.Background(), wait.Seconds(),
		metric.WithAttributes(AttrRateLimitScope.String(scope)))
}

func (s *GovernorSink) ObservePenalty(scope string, d time.Duration) {
	s.penalties.Add(context.Background(), 1,
		metric.WithAttributes(AttrRateLimitScope.String(scope)))
}

func (s *GovernorSink) ObserveHeaders(scope string, info ratelimit.Info) {
	if !info.HasRemaining {
		return
	}
	s.remaining.Record(context.Background(), int64(info.Remaining),
		metric.WithAttributes(AttrRateLimitScope.String(scope)))
}

var _ ratelimit.MetricsSink = (*GovernorSink)(nil)
