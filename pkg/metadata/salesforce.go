package metadata

import (
	"context"
	"fmt"

	"github.com/interlock-labs/conduit/pkg/credentials"
)

const salesforceAPIVersion = "v59.0"

// resolveSalesforce describes one sObject and maps its field attributes.
func resolveSalesforce(ctx context.Context, s *Service, req *Request) *Result {
	token, fail := requireAccessToken(req.Credentials, "Salesforce")
	if fail != nil {
		return fail
	}
	instanceURL := req.Credentials.GetString(credentials.FieldInstanceURL)
	if instanceURL == "" {
		return badRequest("Salesforce instanceUrl is required")
	}
	object := stringParam(req.Params, "object", "sobject", "objectType")
	if object == "" {
		object = "Contact"
	}

	client := s.client("salesforce", instanceURL, req.Credentials)
	resp := client.Request(ctx, "GET",
		fmt.Sprintf("/services/data/%s/sobjects/%s/describe", salesforceAPIVersion, object),
		nil, bearerHeaders(token))
	if !resp.Success {
		if fail := authFailure("Salesforce", resp); fail != nil {
			return fail
		}
		return upstreamFailure("Salesforce", resp)
	}

	fields, _ := dataMap(resp)["fields"].([]any)
	columns := make([]string, 0, len(fields))
	schema := make(map[string]map[string]any, len(fields))
	for _, field := range fields {
		m, _ := field.(map[string]any)
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		columns = append(columns, name)
		required := false
		if nillable, ok := m["nillable"].(bool); ok {
			required = !nillable
		}
		schema[name] = map[string]any{
			"type":       m["type"],
			"label":      m["label"],
			"updateable": m["updateable"],
			"creatable":  m["createable"],
			"required":   required,
		}
	}

	return &Result{
		Success: true,
		Metadata: &NodeMetadata{
			Columns:     columns,
			Schema:      schema,
			DerivedFrom: []string{"api:salesforce"},
		},
		Extras: map[string]any{"object": object},
	}
}
