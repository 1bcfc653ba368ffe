package connectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interlock-labs/conduit/pkg/options"
	"github.com/interlock-labs/conduit/pkg/ratelimit"
)

func testEntry(id string) *Entry {
	return &Entry{
		ID:          id,
		DisplayName: id,
		BaseURL:     "https://api." + id + ".com",
		Authentication: Authentication{
			Type: AuthOAuth2,
		},
		Actions: []Operation{
			{ID: "list_items", Method: "GET", Path: "/items"},
		},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg, err := NewRegistry("1.4.0")
	require.NoError(t, err)
	require.NoError(t, reg.Register(testEntry("asana")))

	entry, ok := reg.Get("Asana")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "asana", entry.ID)

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	assert.Error(t, reg.Register(testEntry("asana")), "duplicate registration rejected")
}

func TestRegistry_MinCoreVersionGate(t *testing.T) {
	reg, err := NewRegistry("1.4.0")
	require.NoError(t, err)

	old := testEntry("slack")
	old.MinCoreVersion = "1.2.0"
	assert.NoError(t, reg.Register(old))

	future := testEntry("notion")
	future.MinCoreVersion = "2.0.0"
	err = reg.Register(future)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires core >= 2.0.0")

	bad := testEntry("jira")
	bad.MinCoreVersion = "not-a-version"
	assert.Error(t, reg.Register(bad))
}

func TestRegistry_Rules(t *testing.T) {
	reg, err := NewRegistry("1.0.0")
	require.NoError(t, err)

	limited := testEntry("hubspot")
	limited.RateLimit = &ratelimit.Rules{
		Scope:           ratelimit.ScopeConnection,
		Concurrency:     4,
		Window:          time.Second,
		TokensPerWindow: 10,
	}
	require.NoError(t, reg.Register(limited))
	require.NoError(t, reg.Register(testEntry("github")))

	assert.Equal(t, 4, reg.Rules("hubspot").Concurrency)
	assert.Equal(t, ratelimit.Rules{}, reg.Rules("github"), "no rules is permissive")
	assert.Equal(t, ratelimit.Rules{}, reg.Rules("unknown"))
}

func TestRegistry_OptionConfig(t *testing.T) {
	reg, err := NewRegistry("1.0.0")
	require.NoError(t, err)

	entry := testEntry("linear")
	entry.DynamicOptions = []options.Config{{
		HandlerID:     "listIssues",
		OperationType: "action",
		OperationID:   "create_comment",
		ParameterPath: "issueId",
		DependsOn:     []string{"projectId"},
	}}
	require.NoError(t, reg.Register(entry))

	cfg, ok := reg.OptionConfig("linear", "action", "create_comment", "issueId")
	require.True(t, ok)
	assert.Equal(t, "listIssues", cfg.HandlerID)

	_, ok = reg.OptionConfig("linear", "action", "create_comment", "assigneeId")
	assert.False(t, ok)
	_, ok = reg.OptionConfig("ghost", "action", "create_comment", "issueId")
	assert.False(t, ok)
}

func TestRegistry_PublicCatalogOmitsTierAndScopes(t *testing.T) {
	reg, err := NewRegistry("1.0.0")
	require.NoError(t, err)

	entry := testEntry("stripe")
	entry.PricingTier = "enterprise"
	entry.Scopes = []string{"charges:write"}
	require.NoError(t, reg.Register(entry))
	require.NoError(t, reg.Register(testEntry("airtable")))

	catalog := reg.PublicCatalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "airtable", catalog[0].ID, "sorted by id")
	assert.Equal(t, []string{"list_items"}, catalog[1].Actions)
}

func TestParseCatalog(t *testing.T) {
	doc := []byte(`
connectors:
  - id: pipedrive
    displayName: Pipedrive
    baseUrl: https://api.pipedrive.com/v1
    minCoreVersion: 1.0.0
    authentication:
      type: query_key
      queryParam: api_token
    actions:
      - id: list_deals
        method: GET
        path: /deals
        paginated: true
    dynamicOptionConfigs:
      - handlerId: list_deals
        operationType: action
        operationId: update_deal
        parameterPath: dealId
        labelField: title
        cacheTtlMs: 60000
    rateLimit:
      scope: connection
      concurrency: 2
      windowMs: 1000
      tokensPerWindow: 10
`)

	entries, err := ParseCatalog(doc)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "pipedrive", entry.ID)
	assert.Equal(t, AuthQueryKey, entry.Authentication.Type)
	assert.Equal(t, "api_token", entry.Authentication.QueryParam)
	require.Len(t, entry.DynamicOptions, 1)
	assert.Equal(t, time.Minute, entry.DynamicOptions[0].CacheTTL)
	require.NotNil(t, entry.RateLimit)
	assert.Equal(t, time.Second, entry.RateLimit.Window)
	assert.True(t, entry.Actions[0].Paginated)
}

func TestParseCatalog_RejectsMissingID(t *testing.T) {
	_, err := ParseCatalog([]byte("connectors:\n  - displayName: Nameless\n"))
	assert.Error(t, err)
}
