package connectors

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/interlock-labs/conduit/pkg/options"
	"github.com/interlock-labs/conduit/pkg/ratelimit"
)

// Catalog YAML uses millisecond integers for durations, so the file
// format stays language-neutral. These raw shapes convert into Entry.
type rawCatalog struct {
	Connectors []rawEntry `yaml:"connectors"`
}

type rawEntry struct {
	ID             string            `yaml:"id"`
	DisplayName    string            `yaml:"displayName"`
	Category       string            `yaml:"category"`
	PricingTier    string            `yaml:"pricingTier"`
	Availability   string            `yaml:"availability"`
	Lifecycle      string            `yaml:"lifecycle"`
	MinCoreVersion string            `yaml:"minCoreVersion"`
	BaseURL        string            `yaml:"baseUrl"`
	Scopes         []string          `yaml:"scopes"`
	Authentication Authentication    `yaml:"authentication"`
	Actions        []Operation       `yaml:"actions"`
	Triggers       []Operation       `yaml:"triggers"`
	DynamicOptions []rawOptionConfig `yaml:"dynamicOptionConfigs"`
	RateLimit      *rawRateLimit     `yaml:"rateLimit"`
}

type rawOptionConfig struct {
	HandlerID      string   `yaml:"handlerId"`
	OperationType  string   `yaml:"operationType"`
	OperationID    string   `yaml:"operationId"`
	ParameterPath  string   `yaml:"parameterPath"`
	DependsOn      []string `yaml:"dependsOn"`
	LabelField     string   `yaml:"labelField"`
	ValueField     string   `yaml:"valueField"`
	SearchParam    string   `yaml:"searchParam"`
	CacheTTLMillis int64    `yaml:"cacheTtlMs"`
}

type rawRateLimit struct {
	Scope           string            `yaml:"scope"`
	Concurrency     int               `yaml:"concurrency"`
	WindowMillis    int64             `yaml:"windowMs"`
	TokensPerWindow int               `yaml:"tokensPerWindow"`
	HeaderOverrides map[string]string `yaml:"headerOverrides"`
}

func (r rawEntry) toEntry() *Entry {
	entry := &Entry{
		ID:             r.ID,
		DisplayName:    r.DisplayName,
		Category:       r.Category,
		PricingTier:    r.PricingTier,
		Availability:   r.Availability,
		Lifecycle:      r.Lifecycle,
		MinCoreVersion: r.MinCoreVersion,
		BaseURL:        r.BaseURL,
		Scopes:         r.Scopes,
		Authentication: r.Authentication,
		Actions:        r.Actions,
		Triggers:       r.Triggers,
	}
	for _, raw := range r.DynamicOptions {
		entry.DynamicOptions = append(entry.DynamicOptions, options.Config{
			HandlerID:     raw.HandlerID,
			OperationType: raw.OperationType,
			OperationID:   raw.OperationID,
			ParameterPath: raw.ParameterPath,
			DependsOn:     raw.DependsOn,
			LabelField:    raw.LabelField,
			ValueField:    raw.ValueField,
			SearchParam:   raw.SearchParam,
			CacheTTL:      time.Duration(raw.CacheTTLMillis) * time.Millisecond,
		})
	}
	if r.RateLimit != nil {
		entry.RateLimit = &ratelimit.Rules{
			Scope:           ratelimit.Scope(r.RateLimit.Scope),
			Concurrency:     r.RateLimit.Concurrency,
			Window:          time.Duration(r.RateLimit.WindowMillis) * time.Millisecond,
			TokensPerWindow: r.RateLimit.TokensPerWindow,
			HeaderOverrides: r.RateLimit.HeaderOverrides,
		}
	}
	return entry
}

// ParseCatalog decodes one catalog document.
func ParseCatalog(data []byte) ([]*Entry, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	entries := make([]*Entry, 0, len(raw.Connectors))
	for _, r := range raw.Connectors {
		if r.ID == "" {
			return nil, fmt.Errorf("parse catalog: connector entry without id")
		}
		entries = append(entries, r.toEntry())
	}
	return entries, nil
}

// LoadCatalogDir reads every *.yaml and *.yml file in dir, sorted by
// name for deterministic registration order.
func LoadCatalogDir(dir string) ([]*Entry, error) {
	names, err := filepath.Glob(filepath.Join(dir, "*.y*ml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var entries []*Entry
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", name, err)
		}
		parsed, err := ParseCatalog(data)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", filepath.Base(name), err)
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}
