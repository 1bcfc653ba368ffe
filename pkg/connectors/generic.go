package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/interlock-labs/conduit/pkg/credentials"
	"github.com/interlock-labs/conduit/pkg/dispatch"
	"github.com/interlock-labs/conduit/pkg/envelope"
	"github.com/interlock-labs/conduit/pkg/options"
	"github.com/interlock-labs/conduit/pkg/pipeline"
	"github.com/interlock-labs/conduit/pkg/retry"
	"github.com/interlock-labs/conduit/pkg/schema"
)

// GenericAdapter executes a connector's declarative operation bindings
// over the request pipeline. Vendors with bespoke behavior ship their own
// Adapter; everything REST-shaped runs on this one.
type GenericAdapter struct {
	entry     *Entry
	client    *pipeline.Client
	registry  *dispatch.Registry
	validator *schema.Validator
	policy    retry.Policy
}

func NewGenericAdapter(entry *Entry, client *pipeline.Client, validator *schema.Validator) (*GenericAdapter, error) {
	a := &GenericAdapter{
		entry:     entry,
		client:    client,
		registry:  dispatch.NewRegistry(),
		validator: validator,
		policy:    retry.Policy{},
	}

	aliases := map[string]string{}
	for _, op := range entry.Operations() {
		op := op
		schemaDoc := ""
		if op.PayloadSchema != nil {
			raw, err := json.Marshal(op.PayloadSchema)
			if err != nil {
				return nil, fmt.Errorf("connector %s op %s: bad payload schema: %w", entry.ID, op.ID, err)
			}
			schemaDoc = string(raw)
		}
		a.registry.Register(op.ID, a.operationHandler(op, schemaDoc))
		for _, alias := range op.Aliases {
			aliases[alias] = op.ID
		}
	}
	if err := a.registry.RegisterAliases(aliases); err != nil {
		return nil, fmt.Errorf("connector %s: %w", entry.ID, err)
	}
	return a, nil
}

// Client exposes the underlying pipeline, for credential updates and
// metadata calls sharing the connection.
func (a *GenericAdapter) Client() *pipeline.Client { return a.client }

// Execute dispatches one operation and always returns an envelope.
func (a *GenericAdapter) Execute(ctx context.Context, operationID string, params map[string]any) *envelope.Response {
	return a.registry.Execute(ctx, operationID, params)
}

// Operations lists the dispatchable operation ids.
func (a *GenericAdapter) Operations() []string { return a.registry.IDs() }

func (a *GenericAdapter) operationHandler(op Operation, schemaDoc string) dispatch.Handler {
	return func(ctx context.Context, params map[string]any) *envelope.Response {
		if schemaDoc != "" {
			if err := a.validator.Validate(schemaDoc, params); err != nil {
				return envelope.Failure(envelope.KindValidation, err.Error(), 0)
			}
		}

		endpoint, remaining, err := interpolatePath(op.Path, params)
		if err != nil {
			return envelope.Failure(envelope.KindValidation, err.Error(), 0)
		}
		endpoint = a.applyQueryAuth(endpoint)

		method := strings.ToUpper(op.Method)
		var body any
		switch method {
		case "GET", "DELETE", "HEAD":
			endpoint = appendQuery(endpoint, remaining)
		default:
			if len(remaining) > 0 {
				body = remaining
			}
		}

		if op.Paginated && method == "GET" {
			return a.client.GetAllPages(ctx, endpoint, pipeline.PageOptions{Headers: op.Headers})
		}
		return a.policy.Do(ctx, func(ctx context.Context) (*envelope.Response, error) {
			return a.client.Request(ctx, method, endpoint, body, op.Headers), nil
		})
	}
}

// applyQueryAuth appends the credential token for query-string schemes.
func (a *GenericAdapter) applyQueryAuth(endpoint string) string {
	auth := a.entry.Authentication
	if auth.Type != AuthQueryKey || auth.QueryParam == "" {
		return endpoint
	}
	token := a.client.Credentials().GetString(credentials.FieldAPIKey)
	if token == "" {
		return endpoint
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + auth.QueryParam + "=" + url.QueryEscape(token)
}

// DynamicOptions implements options.Provider. The handler id names a
// list operation whose response is mapped through the config's value and
// label fields.
func (a *GenericAdapter) DynamicOptions(ctx context.Context, handlerID string, octx options.Context) *options.Result {
	var cfg *options.Config
	for i := range a.entry.DynamicOptions {
		if a.entry.DynamicOptions[i].HandlerID == handlerID {
			cfg = &a.entry.DynamicOptions[i]
			break
		}
	}
	if cfg == nil {
		return &options.Result{Success: false, Error: fmt.Sprintf("unknown option handler %q", handlerID)}
	}

	params := make(map[string]any, len(octx.Dependencies)+3)
	for k, v := range octx.Dependencies {
		params[k] = v
	}
	if octx.Search != "" {
		searchParam := cfg.SearchParam
		if searchParam == "" {
			searchParam = "search"
		}
		params[searchParam] = octx.Search
	}
	if octx.Cursor != "" {
		params["cursor"] = octx.Cursor
	}
	if octx.Limit > 0 {
		params["limit"] = octx.Limit
	}

	resp := a.Execute(ctx, handlerID, params)
	if !resp.Success {
		return &options.Result{Success: false, Error: resp.Error}
	}

	items, nextCursor := listItems(resp.Data)
	return &options.Result{
		Success:    true,
		Options:    options.ExtractOptions(items, cfg.ValueField, cfg.LabelField),
		NextCursor: nextCursor,
		TotalCount: len(items),
	}
}

// listItems digs the item slice and follow-up cursor out of a list
// response body.
func listItems(data any) ([]any, string) {
	switch d := data.(type) {
	case []any:
		return d, ""
	case map[string]any:
		var cursor string
		for _, key := range []string{"nextCursor", "next_cursor", "next"} {
			if s, ok := d[key].(string); ok && s != "" {
				cursor = s
				break
			}
		}
		for _, key := range []string{"items", "data", "results", "records"} {
			if list, ok := d[key].([]any); ok {
				return list, cursor
			}
		}
		return nil, cursor
	default:
		return nil, ""
	}
}

// interpolatePath substitutes {param} path segments from params and
// returns the remaining params. Missing path params are a validation
// failure.
func interpolatePath(path string, params map[string]any) (string, map[string]any, error) {
	remaining := make(map[string]any, len(params))
	for k, v := range params {
		remaining[k] = v
	}

	var out strings.Builder
	rest := path
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			out.WriteString(rest)
			break
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			return "", nil, fmt.Errorf("unbalanced path template %q", path)
		}
		name := rest[open+1 : open+closing]
		value, ok := remaining[name]
		if !ok || value == nil || value == "" {
			return "", nil, fmt.Errorf("missing required parameter %q", name)
		}
		out.WriteString(rest[:open])
		out.WriteString(url.PathEscape(fmt.Sprintf("%v", value)))
		delete(remaining, name)
		rest = rest[open+closing+1:]
	}
	return out.String(), remaining, nil
}

// appendQuery encodes leftover params onto a GET-style endpoint.
func appendQuery(endpoint string, params map[string]any) string {
	if len(params) == 0 {
		return endpoint
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, fmt.Sprintf("%v", v))
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + values.Encode()
}
