// Package connectors holds the connector registry: declarative entries
// binding operation ids to vendor HTTP calls, their auth schemes, rate
// limit rules, and dynamic option configs.
package connectors

import (
	"github.com/interlock-labs/conduit/pkg/options"
	"github.com/interlock-labs/conduit/pkg/ratelimit"
)

// Authentication scheme types.
const (
	AuthOAuth2   = "oauth2"
	AuthAPIKey   = "api_key"
	AuthBasic    = "basic"
	AuthQueryKey = "query_key"
)

// Authentication declares how a connector signs requests.
type Authentication struct {
	Type string `json:"type" yaml:"type"`
	// Header is the API key header name (api_key scheme).
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
	// QueryParam carries the token on the query string (query_key scheme).
	QueryParam string `json:"queryParam,omitempty" yaml:"queryParam,omitempty"`
	// UsernameField and PasswordField name the credential fields composed
	// into HTTP Basic auth. PasswordSuffix covers vendors that expect a
	// fixed filler password (e.g. "X").
	UsernameField  string `json:"usernameField,omitempty" yaml:"usernameField,omitempty"`
	PasswordField  string `json:"passwordField,omitempty" yaml:"passwordField,omitempty"`
	PasswordSuffix string `json:"passwordSuffix,omitempty" yaml:"passwordSuffix,omitempty"`
	// TokenURL overrides the credential bag's token endpoint (oauth2).
	TokenURL string   `json:"tokenUrl,omitempty" yaml:"tokenUrl,omitempty"`
	Scopes   []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Operation is one declarative operation binding. Path segments of the
// form {param} are interpolated from call params.
type Operation struct {
	ID            string            `json:"id" yaml:"id"`
	DisplayName   string            `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Method        string            `json:"method" yaml:"method"`
	Path          string            `json:"path" yaml:"path"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	PayloadSchema map[string]any    `json:"payloadSchema,omitempty" yaml:"payloadSchema,omitempty"`
	Paginated     bool              `json:"paginated,omitempty" yaml:"paginated,omitempty"`
	ItemsField    string            `json:"itemsField,omitempty" yaml:"itemsField,omitempty"`
	Aliases       []string          `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Entry is one registered connector.
type Entry struct {
	ID             string           `json:"id" yaml:"id"`
	DisplayName    string           `json:"displayName" yaml:"displayName"`
	Category       string           `json:"category,omitempty" yaml:"category,omitempty"`
	PricingTier    string           `json:"pricingTier,omitempty" yaml:"pricingTier,omitempty"`
	Availability   string           `json:"availability,omitempty" yaml:"availability,omitempty"`
	Lifecycle      string           `json:"lifecycle,omitempty" yaml:"lifecycle,omitempty"`
	MinCoreVersion string           `json:"minCoreVersion,omitempty" yaml:"minCoreVersion,omitempty"`
	BaseURL        string           `json:"baseUrl" yaml:"baseUrl"`
	Scopes         []string         `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Authentication Authentication   `json:"authentication" yaml:"authentication"`
	Actions        []Operation      `json:"actions,omitempty" yaml:"actions,omitempty"`
	Triggers       []Operation      `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	DynamicOptions []options.Config `json:"dynamicOptionConfigs,omitempty" yaml:"dynamicOptionConfigs,omitempty"`
	RateLimit      *ratelimit.Rules `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
}

// Operations returns actions and triggers as one list.
func (e *Entry) Operations() []Operation {
	out := make([]Operation, 0, len(e.Actions)+len(e.Triggers))
	out = append(out, e.Actions...)
	out = append(out, e.Triggers...)
	return out
}

// PublicEntry is the catalog view exposed without tier or scope detail.
type PublicEntry struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"displayName"`
	Category     string   `json:"category,omitempty"`
	Availability string   `json:"availability,omitempty"`
	Lifecycle    string   `json:"lifecycle,omitempty"`
	AuthType     string   `json:"authType"`
	Actions      []string `json:"actions,omitempty"`
	Triggers     []string `json:"triggers,omitempty"`
}
