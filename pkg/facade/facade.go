// Package facade glues the connector registry, dispatch, dynamic options,
// and metadata resolution onto the request pipeline for one caller
// context. It is the public execution surface routes and workers use.
package facade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/interlock-labs/conduit/pkg/allowlist"
	"github.com/interlock-labs/conduit/pkg/connectors"
	"github.com/interlock-labs/conduit/pkg/credentials"
	"github.com/interlock-labs/conduit/pkg/envelope"
	"github.com/interlock-labs/conduit/pkg/metadata"
	"github.com/interlock-labs/conduit/pkg/oauth"
	"github.com/interlock-labs/conduit/pkg/options"
	"github.com/interlock-labs/conduit/pkg/pipeline"
	"github.com/interlock-labs/conduit/pkg/ratelimit"
	"github.com/interlock-labs/conduit/pkg/schema"
)

// Connection is the stored record the connection store resolves for one
// connection id.
type Connection struct {
	ID             string
	OrganizationID string
	UserID         string
	ConnectorID    string
	Credentials    map[string]any
	// OnTokenRefreshed persists refreshed tokens back to the store.
	OnTokenRefreshed credentials.RefreshCallback
	// NetworkAllowlist is the organization's egress policy.
	NetworkAllowlist allowlist.Rules
}

// Factory builds facades from stored connections. One factory lives in
// the composition root; facades are per-execution values.
type Factory struct {
	registry  *connectors.Registry
	lookup    ConnectionLookup
	gate      *allowlist.Gate
	governor  *ratelimit.Governor
	refresher *oauth.Manager
	validator *schema.Validator
	logger    *slog.Logger
}

// ConnectionLookup loads a connection record owned by the organization.
// Implementations must reject lookups outside the caller's organization.
type ConnectionLookup func(ctx context.Context, organizationID, connectionID string) (*Connection, error)

type FactoryConfig struct {
	Registry  *connectors.Registry
	Lookup    ConnectionLookup
	Gate      *allowlist.Gate
	Governor  *ratelimit.Governor
	Refresher *oauth.Manager
	Validator *schema.Validator
	Logger    *slog.Logger
}

func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Validator == nil {
		cfg.Validator = schema.NewValidator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{
		registry:  cfg.Registry,
		lookup:    cfg.Lookup,
		gate:      cfg.Gate,
		governor:  cfg.Governor,
		refresher: cfg.Refresher,
		validator: cfg.Validator,
		logger:    cfg.Logger.With("component", "facade"),
	}
}

// ForConnection resolves the stored connection and builds its facade.
func (f *Factory) ForConnection(ctx context.Context, organizationID, connectionID string) (*Facade, error) {
	conn, err := f.lookup(ctx, organizationID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve connection %s: %w", connectionID, err)
	}
	return f.Build(conn)
}

// Build assembles a facade from an already-resolved connection record.
func (f *Factory) Build(conn *Connection) (*Facade, error) {
	entry, ok := f.registry.Get(conn.ConnectorID)
	if !ok {
		return nil, fmt.Errorf("unknown connector %q", conn.ConnectorID)
	}

	bag := credentials.New(conn.Credentials)
	bag.Set(credentials.SystemOrganizationID, conn.OrganizationID)
	bag.Set(credentials.SystemConnectionID, conn.ID)
	bag.Set(credentials.SystemUserID, conn.UserID)
	if !conn.NetworkAllowlist.Empty() {
		bag.Set(credentials.SystemNetworkAllowlist, conn.NetworkAllowlist)
	}
	if conn.OnTokenRefreshed != nil {
		bag.SetRefreshCallback(conn.OnTokenRefreshed)
	}

	client := pipeline.New(pipeline.Config{
		ConnectorID: entry.ID,
		BaseURL:     entry.BaseURL,
		AuthHeaders: connectors.AuthHeaders(entry.Authentication),
		Rules:       f.registry.Rules(entry.ID),
		Logger:      f.logger,
	}, bag, f.gate, f.governor, f.refresher)

	adapter, err := connectors.NewGenericAdapter(entry, client, f.validator)
	if err != nil {
		return nil, err
	}
	return &Facade{entry: entry, adapter: adapter, bag: bag}, nil
}

// ProviderResolver adapts the factory for the dynamic options service.
// Connection resolution stays scoped to the calling organization.
func (f *Factory) ProviderResolver() options.ProviderResolver {
	return func(ctx context.Context, organizationID, connectorID, connectionID string) (options.Provider, error) {
		fc, err := f.ForConnection(ctx, organizationID, connectionID)
		if err != nil {
			return nil, err
		}
		if fc.entry.ID != connectorID {
			return nil, fmt.Errorf("connection %s belongs to connector %s, not %s",
				connectionID, fc.entry.ID, connectorID)
		}
		return fc.adapter, nil
	}
}

// MetadataClientFactory builds pipeline-backed clients for the metadata
// resolvers so discovery calls share allowlist and governor enforcement.
func (f *Factory) MetadataClientFactory() metadata.ClientFactory {
	return func(connectorID, baseURL string, creds *credentials.Bag) metadata.Doer {
		return pipeline.New(pipeline.Config{
			ConnectorID: connectorID,
			BaseURL:     baseURL,
			Rules:       f.registry.Rules(connectorID),
			Logger:      f.logger,
		}, creds, f.gate, f.governor, nil)
	}
}

// Facade is the per-connection execution surface.
type Facade struct {
	entry   *connectors.Entry
	adapter *connectors.GenericAdapter
	bag     *credentials.Bag
}

// ConnectorID returns the bound connector.
func (f *Facade) ConnectorID() string { return f.entry.ID }

// Operations lists the dispatchable operation ids.
func (f *Facade) Operations() []string { return f.adapter.Operations() }

// Execute runs one named operation. Always returns an envelope.
func (f *Facade) Execute(ctx context.Context, operationID string, params map[string]any) *envelope.Response {
	return f.adapter.Execute(ctx, operationID, params)
}

// GetDynamicOptions resolves one option list through the adapter.
func (f *Facade) GetDynamicOptions(ctx context.Context, handlerID string, octx options.Context) *options.Result {
	return f.adapter.DynamicOptions(ctx, handlerID, octx)
}

// ResolveMetadata introspects the vendor through the shared resolver
// service using this connection's credentials.
func (f *Facade) ResolveMetadata(ctx context.Context, svc *metadata.Service, params map[string]any) *metadata.Result {
	return svc.Resolve(ctx, f.entry.ID, &metadata.Request{
		Credentials: f.bag,
		Params:      params,
	})
}

// UpdateCredentials merges a partial credential update into the working
// bag, typically after an OAuth flow completes.
func (f *Facade) UpdateCredentials(partial map[string]any) {
	f.bag.Merge(partial)
}

// Credentials exposes the working bag.
func (f *Facade) Credentials() *credentials.Bag { return f.bag }
