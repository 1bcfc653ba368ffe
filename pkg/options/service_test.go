package options

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls   int
	handler string
	result  *Result
}

func (p *fakeProvider) DynamicOptions(ctx context.Context, handlerID string, octx Context) *Result {
	p.calls++
	p.handler = handlerID
	return p.result
}

func testConfigLookup(cfg *Config) ConfigLookup {
	return func(connectorID, operationType, operationID, parameterPath string) (*Config, bool) {
		if cfg == nil {
			return nil, false
		}
		return cfg, true
	}
}

func TestService_MissingDependenciesSkipsProvider(t *testing.T) {
	provider := &fakeProvider{result: &Result{Success: true}}
	svc := NewService(
		testConfigLookup(&Config{HandlerID: "listTables", DependsOn: []string{"projectId"}}),
		func(ctx context.Context, organizationID, connectorID, connectionID string) (Provider, error) { return provider, nil },
		NewMemoryCache(), nil)

	_, err := svc.Get(context.Background(), Request{
		ConnectorID:  "bigquery",
		Dependencies: map[string]any{},
	})

	var missing *MissingDependenciesError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"projectId"}, missing.Keys)
	assert.Equal(t, 0, provider.calls, "no adapter call before dependencies are satisfied")
}

func TestService_ResolvesThenServesFromCache(t *testing.T) {
	provider := &fakeProvider{result: &Result{
		Success: true,
		Options: []Option{{Value: "t1", Label: "Table One"}},
	}}
	svc := NewService(
		testConfigLookup(&Config{
			HandlerID: "listTables",
			DependsOn: []string{"projectId"},
			CacheTTL:  time.Minute,
		}),
		func(ctx context.Context, organizationID, connectorID, connectionID string) (Provider, error) { return provider, nil },
		NewMemoryCache(), nil)

	req := Request{
		ConnectorID:  "bigquery",
		ConnectionID: "conn-1",
		Dependencies: map[string]any{"projectId": "p-42"},
	}

	first, err := svc.Get(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.False(t, first.Cached)
	assert.Equal(t, "listTables", provider.handler)
	assert.Equal(t, 1, provider.calls)

	second, err := svc.Get(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Options, second.Options)
	assert.Equal(t, 1, provider.calls, "cache hit skips the adapter")
}

func TestService_ForceRefreshBypassesCache(t *testing.T) {
	provider := &fakeProvider{result: &Result{Success: true, Options: []Option{{Value: 1, Label: "a"}}}}
	svc := NewService(
		testConfigLookup(&Config{HandlerID: "h", CacheTTL: time.Minute}),
		func(ctx context.Context, organizationID, connectorID, connectionID string) (Provider, error) { return provider, nil },
		NewMemoryCache(), nil)

	req := Request{ConnectorID: "x", ConnectionID: "c"}
	_, err := svc.Get(context.Background(), req)
	require.NoError(t, err)

	req.ForceRefresh = true
	res, err := svc.Get(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, provider.calls)
}

func TestService_DistinctDependenciesGetDistinctEntries(t *testing.T) {
	provider := &fakeProvider{result: &Result{Success: true}}
	svc := NewService(
		testConfigLookup(&Config{HandlerID: "h", DependsOn: []string{"projectId"}, CacheTTL: time.Minute}),
		func(ctx context.Context, organizationID, connectorID, connectionID string) (Provider, error) { return provider, nil },
		NewMemoryCache(), nil)

	_, err := svc.Get(context.Background(), Request{ConnectorID: "x", Dependencies: map[string]any{"projectId": "a"}})
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), Request{ConnectorID: "x", Dependencies: map[string]any{"projectId": "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestService_FailedResultsAreNotCached(t *testing.T) {
	provider := &fakeProvider{result: &Result{Success: false, Error: "upstream 500"}}
	svc := NewService(
		testConfigLookup(&Config{HandlerID: "h", CacheTTL: time.Minute}),
		func(ctx context.Context, organizationID, connectorID, connectionID string) (Provider, error) { return provider, nil },
		NewMemoryCache(), nil)

	req := Request{ConnectorID: "x"}
	res, err := svc.Get(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)

	_, err = svc.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls, "failures are re-attempted")
}

func TestService_ResolverReceivesCallerOrganization(t *testing.T) {
	provider := &fakeProvider{result: &Result{Success: true}}
	var resolvedOrg string
	svc := NewService(
		testConfigLookup(&Config{HandlerID: "h"}),
		func(ctx context.Context, organizationID, connectorID, connectionID string) (Provider, error) {
			resolvedOrg = organizationID
			return provider, nil
		},
		NewMemoryCache(), nil)

	_, err := svc.Get(context.Background(), Request{
		ConnectorID:    "slack",
		ConnectionID:   "conn-1",
		OrganizationID: "org-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "org-1", resolvedOrg)
}

func TestService_UnknownBinding(t *testing.T) {
	svc := NewService(testConfigLookup(nil),
		func(ctx context.Context, organizationID, connectorID, connectionID string) (Provider, error) { return nil, nil },
		NewMemoryCache(), nil)

	_, err := svc.Get(context.Background(), Request{ConnectorID: "ghost", OperationID: "op", ParameterPath: "p"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.ConnectorID)
}

func TestExtractOptions_DefaultFields(t *testing.T) {
	items := []any{
		map[string]any{"id": "1", "name": "First"},
		map[string]any{"id": "2", "name": "Second"},
		"not a map",
	}
	opts := ExtractOptions(items, "", "")
	require.Len(t, opts, 2)
	assert.Equal(t, "1", opts[0].Value)
	assert.Equal(t, "First", opts[0].Label)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set(context.Background(), "k", &Result{Success: true}, time.Minute)
	_, hit := c.Get(context.Background(), "k")
	require.True(t, hit)

	base = base.Add(2 * time.Minute)
	_, hit = c.Get(context.Background(), "k")
	assert.False(t, hit)
}
