// Package executions records workflow execution history: one row per
// run plus a node-level timeline, with retry bookkeeping.
package executions

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Execution statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// ErrNotFound marks a missing execution or node within the caller's
// organization.
var ErrNotFound = errors.New("execution not found")

// Execution is one workflow run.
type Execution struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflowId"`
	OrganizationID string     `json:"organizationId"`
	Status         string     `json:"status"`
	Trigger        string     `json:"trigger,omitempty"`
	RetryOf        string     `json:"retryOf,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// NodeRun is one node invocation within an execution.
type NodeRun struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"executionId"`
	NodeID      string          `json:"nodeId"`
	ConnectorID string          `json:"connectorId,omitempty"`
	OperationID string          `json:"operationId,omitempty"`
	Status      string          `json:"status"`
	Attempt     int             `json:"attempt"`
	Error       string          `json:"error,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Filter narrows execution listings.
type Filter struct {
	WorkflowID string
	Status     string
	Limit      int
	Offset     int
}

// Store persists executions and their timelines.
type Store interface {
	Create(ctx context.Context, ex *Execution) error
	Get(ctx context.Context, organizationID, id string) (*Execution, error)
	List(ctx context.Context, organizationID string, f Filter) ([]*Execution, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	RecordNode(ctx context.Context, run *NodeRun) error
	Timeline(ctx context.Context, organizationID, executionID string) ([]*NodeRun, error)
	// Retry clones the execution into a new pending run.
	Retry(ctx context.Context, organizationID, id string) (*Execution, error)
	// RetryNode appends a new pending attempt for one node.
	RetryNode(ctx context.Context, organizationID, executionID, nodeID string) (*NodeRun, error)
}

// MemoryStore is the in-process Store used in tests and single-node
// deployments without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	nodes      map[string][]*NodeRun
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*Execution),
		nodes:      make(map[string][]*NodeRun),
		now:        time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, ex *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.Status == "" {
		ex.Status = StatusPending
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = s.now()
	}
	copied := *ex
	s.executions[ex.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, organizationID, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executions[id]
	if !ok || ex.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	copied := *ex
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context, organizationID string, f Filter) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Execution
	for _, ex := range s.executions {
		if ex.OrganizationID != organizationID {
			continue
		}
		if f.WorkflowID != "" && ex.WorkflowID != f.WorkflowID {
			continue
		}
		if f.Status != "" && ex.Status != f.Status {
			continue
		}
		copied := *ex
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executions[id]
	if !ok {
		return ErrNotFound
	}
	ex.Status = status
	ex.Error = errMsg
	now := s.now()
	switch status {
	case StatusRunning:
		ex.StartedAt = &now
	case StatusSucceeded, StatusFailed, StatusCanceled:
		ex.FinishedAt = &now
	}
	return nil
}

func (s *MemoryStore) RecordNode(ctx context.Context, run *NodeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[run.ExecutionID]; !ok {
		return ErrNotFound
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Attempt == 0 {
		run.Attempt = 1
	}
	copied := *run
	s.nodes[run.ExecutionID] = append(s.nodes[run.ExecutionID], &copied)
	return nil
}

func (s *MemoryStore) Timeline(ctx context.Context, organizationID, executionID string) ([]*NodeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executions[executionID]
	if !ok || ex.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	runs := s.nodes[executionID]
	out := make([]*NodeRun, len(runs))
	for i, run := range runs {
		copied := *run
		out[i] = &copied
	}
	return out, nil
}

func (s *MemoryStore) Retry(ctx context.Context, organizationID, id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	original, ok := s.executions[id]
	if !ok || original.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	clone := &Execution{
		ID:             uuid.NewString(),
		WorkflowID:     original.WorkflowID,
		OrganizationID: original.OrganizationID,
		Status:         StatusPending,
		Trigger:        "retry",
		RetryOf:        original.ID,
		CreatedAt:      s.now(),
	}
	s.executions[clone.ID] = clone
	copied := *clone
	return &copied, nil
}

func (s *MemoryStore) RetryNode(ctx context.Context, organizationID, executionID, nodeID string) (*NodeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executions[executionID]
	if !ok || ex.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	attempt := 0
	var template *NodeRun
	for _, run := range s.nodes[executionID] {
		if run.NodeID == nodeID {
			template = run
			if run.Attempt > attempt {
				attempt = run.Attempt
			}
		}
	}
	if template == nil {
		return nil, ErrNotFound
	}
	retry := &NodeRun{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		ConnectorID: template.ConnectorID,
		OperationID: template.OperationID,
		Status:      StatusPending,
		Attempt:     attempt + 1,
	}
	s.nodes[executionID] = append(s.nodes[executionID], retry)
	copied := *retry
	return &copied, nil
}
