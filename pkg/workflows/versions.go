// Package workflows tracks published workflow versions per environment
// and computes node-level diffs between draft and deployed definitions.
package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Environments.
const (
	EnvDraft      = "draft"
	EnvStaging    = "staging"
	EnvProduction = "production"
)

var (
	ErrNotFound       = errors.New("workflow version not found")
	ErrNoPrevious     = errors.New("no previous version to roll back to")
	ErrBadEnvironment = errors.New("unknown environment")
)

// Version is one published workflow snapshot.
type Version struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflowId"`
	OrganizationID string          `json:"organizationId"`
	Environment    string          `json:"environment"`
	Version        int             `json:"version"`
	Definition     json.RawMessage `json:"definition"`
	PublishedBy    string          `json:"publishedBy,omitempty"`
	PublishedAt    time.Time       `json:"publishedAt"`
}

// Diff is the node-level delta between two definitions.
type Diff struct {
	FromVersion int      `json:"fromVersion"`
	ToVersion   int      `json:"toVersion"`
	Added       []string `json:"added"`
	Removed     []string `json:"removed"`
	Changed     []string `json:"changed"`
	InSync      bool     `json:"inSync"`
}

func validEnvironment(env string) bool {
	return env == EnvDraft || env == EnvStaging || env == EnvProduction
}

// VersionStore keeps the full publish history per (workflow, environment).
type VersionStore struct {
	mu       sync.RWMutex
	versions map[string][]*Version // workflowID|env -> ascending history
	now      func() time.Time
}

func NewVersionStore() *VersionStore {
	return &VersionStore{
		versions: make(map[string][]*Version),
		now:      time.Now,
	}
}

func key(workflowID, env string) string { return workflowID + "|" + env }

// Publish appends a new version to the environment's history.
func (s *VersionStore) Publish(ctx context.Context, organizationID, workflowID, env, publishedBy string, definition json.RawMessage) (*Version, error) {
	if !validEnvironment(env) {
		return nil, ErrBadEnvironment
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.versions[key(workflowID, env)]
	next := 1
	if len(history) > 0 {
		last := history[len(history)-1]
		if last.OrganizationID != organizationID {
			return nil, ErrNotFound
		}
		next = last.Version + 1
	}

	v := &Version{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		OrganizationID: organizationID,
		Environment:    env,
		Version:        next,
		Definition:     append(json.RawMessage(nil), definition...),
		PublishedBy:    publishedBy,
		PublishedAt:    s.now(),
	}
	s.versions[key(workflowID, env)] = append(history, v)
	return v, nil
}

// Current returns the environment's latest version.
func (s *VersionStore) Current(ctx context.Context, organizationID, workflowID, env string) (*Version, error) {
	if !validEnvironment(env) {
		return nil, ErrBadEnvironment
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.versions[key(workflowID, env)]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	last := history[len(history)-1]
	if last.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	copied := *last
	return &copied, nil
}

// Rollback republishes the previous version as a new head so history
// stays append-only.
func (s *VersionStore) Rollback(ctx context.Context, organizationID, workflowID, env string) (*Version, error) {
	if !validEnvironment(env) {
		return nil, ErrBadEnvironment
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.versions[key(workflowID, env)]
	if len(history) == 0 || history[len(history)-1].OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	if len(history) < 2 {
		return nil, ErrNoPrevious
	}

	previous := history[len(history)-2]
	head := history[len(history)-1]
	restored := &Version{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		OrganizationID: organizationID,
		Environment:    env,
		Version:        head.Version + 1,
		Definition:     append(json.RawMessage(nil), previous.Definition...),
		PublishedBy:    previous.PublishedBy,
		PublishedAt:    s.now(),
	}
	s.versions[key(workflowID, env)] = append(history, restored)
	copied := *restored
	return &copied, nil
}

// DiffAgainstDraft compares the draft head with the environment head.
func (s *VersionStore) DiffAgainstDraft(ctx context.Context, organizationID, workflowID, env string) (*Diff, error) {
	draft, err := s.Current(ctx, organizationID, workflowID, EnvDraft)
	if err != nil {
		return nil, err
	}
	deployed, err := s.Current(ctx, organizationID, workflowID, env)
	if err != nil {
		return nil, err
	}

	diff := diffDefinitions(deployed.Definition, draft.Definition)
	diff.FromVersion = deployed.Version
	diff.ToVersion = draft.Version
	return diff, nil
}

// diffDefinitions compares the node lists of two definitions. Nodes are
// matched by id; bodies are compared as canonical JSON.
func diffDefinitions(from, to json.RawMessage) *Diff {
	fromNodes := nodesByID(from)
	toNodes := nodesByID(to)

	diff := &Diff{Added: []string{}, Removed: []string{}, Changed: []string{}}
	for id, node := range toNodes {
		prev, ok := fromNodes[id]
		switch {
		case !ok:
			diff.Added = append(diff.Added, id)
		case !bytes.Equal(prev, node):
			diff.Changed = append(diff.Changed, id)
		}
	}
	for id := range fromNodes {
		if _, ok := toNodes[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	diff.InSync = len(diff.Added) == 0 && len(diff.Removed) == 0 && len(diff.Changed) == 0
	return diff
}

func nodesByID(definition json.RawMessage) map[string]json.RawMessage {
	var doc struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(definition, &doc); err != nil {
		return out
	}
	for _, raw := range doc.Nodes {
		var meta struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil || meta.ID == "" {
			continue
		}
		out[meta.ID] = canonical(raw)
	}
	return out
}

// canonical re-marshals JSON so key order does not produce phantom diffs.
func canonical(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
