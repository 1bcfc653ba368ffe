// Package metadata introspects vendor APIs to produce a normalized
// table-like schema descriptor: column lists, header rows, a sample
// record, and per-field type information.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/interlock-labs/conduit/pkg/credentials"
	"github.com/interlock-labs/conduit/pkg/envelope"
)

// Doer issues one outbound vendor call. pipeline.Client satisfies this.
type Doer interface {
	Request(ctx context.Context, method, endpoint string, body any, headers map[string]string) *envelope.Response
}

// ClientFactory builds a Doer bound to a connector and base URL. The
// facade wires this to the request pipeline so metadata calls inherit
// allowlist and rate-limit enforcement.
type ClientFactory func(connectorID, baseURL string, creds *credentials.Bag) Doer

// NodeMetadata is the normalized descriptor handed back to workflow
// editors. Schema values are per-vendor field attribute maps.
type NodeMetadata struct {
	Columns     []string                  `json:"columns"`
	Headers     []string                  `json:"headers,omitempty"`
	Sample      any                       `json:"sample,omitempty"`
	Schema      map[string]map[string]any `json:"schema,omitempty"`
	DerivedFrom []string                  `json:"derivedFrom"`
}

// Result is the resolution outcome. Status carries the vendor HTTP
// status on failure so routes can map it faithfully.
type Result struct {
	Success  bool           `json:"success"`
	Metadata *NodeMetadata  `json:"metadata,omitempty"`
	Extras   map[string]any `json:"extras,omitempty"`
	Error    string         `json:"error,omitempty"`
	Status   int            `json:"status,omitempty"`
}

// Request carries the credentials and per-connector parameters for one
// resolution.
type Request struct {
	Credentials *credentials.Bag
	Params      map[string]any
	Options     map[string]any
}

type resolverFunc func(ctx context.Context, s *Service, req *Request) *Result

// connectorAliases folds legacy and shorthand ids onto canonical ones.
var connectorAliases = map[string]string{
	"sheets":         "google-sheets",
	"googlesheets":   "google-sheets",
	"gmail-enhanced": "gmail",
}

// Service dispatches to per-connector resolvers.
type Service struct {
	factory   ClientFactory
	logger    *slog.Logger
	resolvers map[string]resolverFunc
}

func NewService(factory ClientFactory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		factory: factory,
		logger:  logger.With("component", "metadata"),
		resolvers: map[string]resolverFunc{
			"google-sheets": resolveSheets,
			"gmail":         resolveGmail,
			"salesforce":    resolveSalesforce,
			"hubspot":       resolveHubSpot,
			"airtable":      resolveAirtable,
		},
	}
}

// Normalize maps a caller-supplied connector id onto its canonical form.
func Normalize(connectorID string) string {
	id := strings.ToLower(strings.TrimSpace(connectorID))
	if canonical, ok := connectorAliases[id]; ok {
		return canonical
	}
	return id
}

// Supported reports whether a resolver exists for the connector.
func (s *Service) Supported(connectorID string) bool {
	_, ok := s.resolvers[Normalize(connectorID)]
	return ok
}

// Resolve runs the connector's resolver. Unknown connectors yield a
// failed Result rather than an error so routes emit one shape.
func (s *Service) Resolve(ctx context.Context, connectorID string, req *Request) *Result {
	id := Normalize(connectorID)
	resolver, ok := s.resolvers[id]
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("no metadata resolver for connector %q", connectorID), Status: 404}
	}
	if req == nil {
		req = &Request{}
	}
	if req.Credentials == nil {
		req.Credentials = credentials.New(nil)
	}
	result := resolver(ctx, s, req)
	if !result.Success {
		s.logger.WarnContext(ctx, "metadata resolution failed",
			"connector", id, "status", result.Status, "error", result.Error)
	}
	return result
}

// client builds the vendor Doer for one resolver call.
func (s *Service) client(connectorID, baseURL string, creds *credentials.Bag) Doer {
	return s.factory(connectorID, baseURL, creds)
}

func badRequest(msg string) *Result {
	return &Result{Success: false, Error: msg, Status: 400}
}

// authFailure translates vendor 401/403 responses. Returns nil when the
// response is not an auth failure.
func authFailure(vendor string, resp *envelope.Response) *Result {
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("%s authentication failed", vendor),
			Status:  resp.StatusCode,
		}
	}
	return nil
}

func upstreamFailure(vendor string, resp *envelope.Response) *Result {
	return &Result{
		Success: false,
		Error:   fmt.Sprintf("%s metadata request failed: %s", vendor, resp.Error),
		Status:  resp.StatusCode,
	}
}

// stringParam returns the first non-empty string under any of the keys.
func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func requireAccessToken(bag *credentials.Bag, vendor string) (string, *Result) {
	token := bag.GetString(credentials.FieldAccessToken)
	if token == "" {
		return "", badRequest(fmt.Sprintf("%s access token is required", vendor))
	}
	return token, nil
}

func bearerHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// dataMap coerces an envelope data payload into a JSON object.
func dataMap(resp *envelope.Response) map[string]any {
	m, _ := resp.Data.(map[string]any)
	return m
}
