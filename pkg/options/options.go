// Package options resolves dynamic {value,label} option lists for form
// fields populated from live vendor calls, with per-key TTL caching.
package options

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// Option is one selectable entry.
type Option struct {
	Value any    `json:"value"`
	Label string `json:"label"`
	Data  any    `json:"data,omitempty"`
}

// Result is the normalized dynamic-option response.
type Result struct {
	Success    bool     `json:"success"`
	Options    []Option `json:"options"`
	NextCursor string   `json:"nextCursor,omitempty"`
	TotalCount int      `json:"totalCount,omitempty"`
	Error      string   `json:"error,omitempty"`
	Cached     bool     `json:"cached,omitempty"`
}

// Context carries the caller's dependencies and paging state into a
// provider handler.
type Context struct {
	Dependencies     map[string]any `json:"dependencies,omitempty"`
	Search           string         `json:"search,omitempty"`
	Cursor           string         `json:"cursor,omitempty"`
	Limit            int            `json:"limit,omitempty"`
	AdditionalConfig map[string]any `json:"additionalConfig,omitempty"`
	UserID           string         `json:"-"`
	OrganizationID   string         `json:"-"`
	ConnectionID     string         `json:"-"`
}

// Config is one connector dynamic-option binding, keyed by
// (operationType, operationId, parameterPath).
type Config struct {
	HandlerID     string        `json:"handlerId" yaml:"handlerId"`
	OperationType string        `json:"operationType" yaml:"operationType"`
	OperationID   string        `json:"operationId" yaml:"operationId"`
	ParameterPath string        `json:"parameterPath" yaml:"parameterPath"`
	DependsOn     []string      `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	LabelField    string        `json:"labelField,omitempty" yaml:"labelField,omitempty"`
	ValueField    string        `json:"valueField,omitempty" yaml:"valueField,omitempty"`
	SearchParam   string        `json:"searchParam,omitempty" yaml:"searchParam,omitempty"`
	CacheTTL      time.Duration `json:"cacheTtlMs,omitempty" yaml:"cacheTtlMs,omitempty"`
}

// Provider produces options for a handler id. Adapters implement this.
type Provider interface {
	DynamicOptions(ctx context.Context, handlerID string, octx Context) *Result
}

// ExtractOptions maps raw list items onto options via the config's label
// and value fields, for adapters that delegate to a generic list endpoint.
func ExtractOptions(items []any, valueField, labelField string) []Option {
	if valueField == "" {
		valueField = "id"
	}
	if labelField == "" {
		labelField = "name"
	}
	out := make([]Option, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label, _ := m[labelField].(string)
		out = append(out, Option{Value: m[valueField], Label: label, Data: m})
	}
	return out
}

// cacheKey hashes the identifying request state over canonical JSON so
// semantically equal requests share an entry.
func cacheKey(connectorID, connectionID, handlerID string, octx Context) (string, error) {
	payload := map[string]any{
		"connectorId":  connectorID,
		"connectionId": connectionID,
		"handlerId":    handlerID,
		"dependencies": octx.Dependencies,
		"search":       octx.Search,
		"cursor":       octx.Cursor,
		"limit":        octx.Limit,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "dynopts:" + hex.EncodeToString(sum[:]), nil
}

// MissingDependenciesError lists dependsOn keys absent from the request.
type MissingDependenciesError struct {
	Keys []string
}

func (e *MissingDependenciesError) Error() string {
	return fmt.Sprintf("missing required dependencies: %s", strings.Join(e.Keys, ", "))
}

// NotFoundError marks an unknown dynamic-option binding.
type NotFoundError struct {
	ConnectorID   string
	OperationID   string
	ParameterPath string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no dynamic option config for %s/%s parameter %q",
		e.ConnectorID, e.OperationID, e.ParameterPath)
}
