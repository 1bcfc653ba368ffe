// Package dispatch maps operation ids onto handler functions for one
// adapter instance and provides the central execute entry point.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/interlock-labs/conduit/pkg/envelope"
)

// Handler executes one named operation. Handlers always return an envelope;
// the registry converts panics into failure envelopes so no exception
// escapes the dispatch boundary.
type Handler func(ctx context.Context, params map[string]any) *envelope.Response

// Registry is a case-insensitive operationId -> handler map.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a single operation id.
func (r *Registry) Register(id string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(id)] = fn
}

// RegisterAll binds a batch of operations.
func (r *Registry) RegisterAll(handlers map[string]Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, fn := range handlers {
		r.handlers[strings.ToLower(id)] = fn
	}
}

// RegisterAliases binds alias -> existing operation id. It fails fast when
// the target operation is not registered.
func (r *Registry) RegisterAliases(aliases map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for alias, target := range aliases {
		fn, ok := r.handlers[strings.ToLower(target)]
		if !ok {
			return fmt.Errorf("alias %q targets unregistered handler %q", alias, target)
		}
		r.handlers[strings.ToLower(alias)] = fn
	}
	return nil
}

// Has reports whether an operation id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[strings.ToLower(id)]
	return ok
}

// IDs returns the registered operation ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Execute dispatches an operation by id. Unknown ids and handler panics
// become failure envelopes.
func (r *Registry) Execute(ctx context.Context, operationID string, params map[string]any) (resp *envelope.Response) {
	r.mu.RLock()
	fn, ok := r.handlers[strings.ToLower(operationID)]
	r.mu.RUnlock()

	if !ok {
		return envelope.Failuref(envelope.KindValidation, 0, "Unknown function handler: %s", operationID)
	}

	defer func() {
		if rec := recover(); rec != nil {
			resp = envelope.Failuref(envelope.KindUnknown, 0, "handler %s panicked: %v", operationID, rec)
		}
	}()

	resp = fn(ctx, params)
	if resp == nil {
		resp = envelope.Failuref(envelope.KindUnknown, 0, "handler %s returned no response", operationID)
	}
	return resp
}
