package options

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCacheTTL applies when a config carries no TTL of its own.
const DefaultCacheTTL = 5 * time.Minute

// ConfigLookup finds the connector's dynamic-option binding.
type ConfigLookup func(connectorID, operationType, operationID, parameterPath string) (*Config, bool)

// ProviderResolver materializes the adapter for a connection within the
// caller's organization. The facade supplies this so the service stays
// decoupled from adapter construction.
type ProviderResolver func(ctx context.Context, organizationID, connectorID, connectionID string) (Provider, error)

// Request identifies one dynamic-option resolution.
type Request struct {
	ConnectorID    string
	ConnectionID   string
	UserID         string
	OrganizationID string

	OperationType string
	OperationID   string
	ParameterPath string

	Dependencies     map[string]any
	Search           string
	Cursor           string
	Limit            int
	ForceRefresh     bool
	CacheTTL         time.Duration // overrides the config's TTL when > 0
	AdditionalConfig map[string]any
}

// Service resolves dynamic options through adapter handlers with TTL
// caching keyed by the canonical request state.
type Service struct {
	lookup  ConfigLookup
	resolve ProviderResolver
	cache   Cache
	logger  *slog.Logger
}

func NewService(lookup ConfigLookup, resolve ProviderResolver, cache Cache, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		lookup:  lookup,
		resolve: resolve,
		cache:   cache,
		logger:  logger.With("component", "options"),
	}
}

// Get resolves one option list. Unknown bindings return *NotFoundError;
// missing dependsOn keys return *MissingDependenciesError.
func (s *Service) Get(ctx context.Context, req Request) (*Result, error) {
	cfg, ok := s.lookup(req.ConnectorID, req.OperationType, req.OperationID, req.ParameterPath)
	if !ok {
		return nil, &NotFoundError{
			ConnectorID:   req.ConnectorID,
			OperationID:   req.OperationID,
			ParameterPath: req.ParameterPath,
		}
	}

	var missing []string
	for _, dep := range cfg.DependsOn {
		v, present := req.Dependencies[dep]
		if !present || v == nil || v == "" {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingDependenciesError{Keys: missing}
	}

	octx := Context{
		Dependencies:     req.Dependencies,
		Search:           req.Search,
		Cursor:           req.Cursor,
		Limit:            req.Limit,
		AdditionalConfig: req.AdditionalConfig,
		UserID:           req.UserID,
		OrganizationID:   req.OrganizationID,
		ConnectionID:     req.ConnectionID,
	}

	key, err := cacheKey(req.ConnectorID, req.ConnectionID, cfg.HandlerID, octx)
	if err != nil {
		return nil, err
	}

	ttl := cfg.CacheTTL
	if req.CacheTTL > 0 {
		ttl = req.CacheTTL
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	if !req.ForceRefresh {
		if cached, hit := s.cache.Get(ctx, key); hit {
			cached.Cached = true
			return cached, nil
		}
	}

	provider, err := s.resolve(ctx, req.OrganizationID, req.ConnectorID, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	result := provider.DynamicOptions(ctx, cfg.HandlerID, octx)
	if result == nil {
		result = &Result{Success: false, Error: "option handler returned no result"}
	}
	if result.Success {
		s.cache.Set(ctx, key, result, ttl)
	} else {
		s.logger.WarnContext(ctx, "dynamic option resolution failed",
			"connector", req.ConnectorID, "handler", cfg.HandlerID, "error", result.Error)
	}
	return result, nil
}
