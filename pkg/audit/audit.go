// Package audit provides a write-only sink for security-relevant events
// (egress denials, credential refreshes, execution retries). The core never
// awaits sink internals; implementations may batch.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single audit record.
type Event struct {
	ID             string         `json:"id"`
	Time           time.Time      `json:"time"`
	Action         string         `json:"action"`
	Reason         string         `json:"reason,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
	ConnectionID   string         `json:"connectionId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// SlogSink writes audit events to structured logs.
type SlogSink struct {
	Logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger.With("component", "audit")}
}

func (s *SlogSink) Record(ctx context.Context, e Event) {
	fill(&e)
	s.Logger.InfoContext(ctx, "audit event",
		"audit_id", e.ID,
		"action", e.Action,
		"reason", e.Reason,
		"organization_id", e.OrganizationID,
		"connection_id", e.ConnectionID,
		"user_id", e.UserID,
		"details", e.Details,
	)
}

// Recorder is an in-memory sink for tests and the local audit timeline.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(ctx context.Context, e Event) {
	fill(&e)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func fill(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
}
