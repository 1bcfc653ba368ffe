package connectors

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/interlock-labs/conduit/pkg/options"
	"github.com/interlock-labs/conduit/pkg/ratelimit"
)

// Registry is the process-wide connector table, populated at startup
// from catalog files and code-registered entries.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	coreVersion *semver.Version
}

func NewRegistry(coreVersion string) (*Registry, error) {
	version, err := semver.NewVersion(coreVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid core version %q: %w", coreVersion, err)
	}
	return &Registry{
		entries:     make(map[string]*Entry),
		coreVersion: version,
	}, nil
}

// Register adds one connector. Entries demanding a newer core are
// rejected so a stale deployment never exposes operations it cannot run.
func (r *Registry) Register(entry *Entry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("connector entry requires an id")
	}
	if entry.MinCoreVersion != "" {
		constraint, err := semver.NewConstraint(">= " + entry.MinCoreVersion)
		if err != nil {
			return fmt.Errorf("connector %s: invalid minCoreVersion %q: %w",
				entry.ID, entry.MinCoreVersion, err)
		}
		if !constraint.Check(r.coreVersion) {
			return fmt.Errorf("connector %s requires core >= %s, running %s",
				entry.ID, entry.MinCoreVersion, r.coreVersion)
		}
	}

	id := strings.ToLower(entry.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("connector %s already registered", id)
	}
	r.entries[id] = entry
	return nil
}

// RegisterAll registers every entry, failing on the first rejection.
func (r *Registry) RegisterAll(entries []*Entry) error {
	for _, entry := range entries {
		if err := r.Register(entry); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up a connector by id, case-insensitively.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[strings.ToLower(id)]
	return entry, ok
}

// IDs returns registered connector ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rules returns the connector's governor configuration, permissive when
// the connector is unknown or declares none.
func (r *Registry) Rules(id string) ratelimit.Rules {
	entry, ok := r.Get(id)
	if !ok || entry.RateLimit == nil {
		return ratelimit.Rules{}
	}
	return *entry.RateLimit
}

// OptionConfig implements options.ConfigLookup.
func (r *Registry) OptionConfig(connectorID, operationType, operationID, parameterPath string) (*options.Config, bool) {
	entry, ok := r.Get(connectorID)
	if !ok {
		return nil, false
	}
	for i := range entry.DynamicOptions {
		cfg := &entry.DynamicOptions[i]
		if cfg.OperationType == operationType &&
			cfg.OperationID == operationID &&
			cfg.ParameterPath == parameterPath {
			return cfg, true
		}
	}
	return nil, false
}

// PublicCatalog returns the catalog view stripped of tier and scope
// detail, sorted by id.
func (r *Registry) PublicCatalog() []PublicEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PublicEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		public := PublicEntry{
			ID:           entry.ID,
			DisplayName:  entry.DisplayName,
			Category:     entry.Category,
			Availability: entry.Availability,
			Lifecycle:    entry.Lifecycle,
			AuthType:     entry.Authentication.Type,
		}
		for _, op := range entry.Actions {
			public.Actions = append(public.Actions, op.ID)
		}
		for _, op := range entry.Triggers {
			public.Triggers = append(public.Triggers, op.ID)
		}
		out = append(out, public)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Capabilities reports runtime feature flags for the capabilities route.
func (r *Registry) Capabilities() map[string]any {
	r.mu.RLock()
	count := len(r.entries)
	r.mu.RUnlock()
	return map[string]any{
		"coreVersion":    r.coreVersion.String(),
		"connectorCount": count,
		"dynamicOptions": true,
		"metadata":       true,
		"pagination":     true,
	}
}
