package metadata

import (
	"context"
	"fmt"
)

const hubspotBaseURL = "https://api.hubapi.com"

// resolveHubSpot lists CRM properties for one object type.
func resolveHubSpot(ctx context.Context, s *Service, req *Request) *Result {
	token, fail := requireAccessToken(req.Credentials, "HubSpot")
	if fail != nil {
		return fail
	}
	objectType := stringParam(req.Params, "objectType", "object")
	if objectType == "" {
		objectType = "contacts"
	}

	client := s.client("hubspot", hubspotBaseURL, req.Credentials)
	resp := client.Request(ctx, "GET",
		fmt.Sprintf("/crm/v3/properties/%s", objectType), nil, bearerHeaders(token))
	if !resp.Success {
		if fail := authFailure("HubSpot", resp); fail != nil {
			return fail
		}
		return upstreamFailure("HubSpot", resp)
	}

	results, _ := dataMap(resp)["results"].([]any)
	columns := make([]string, 0, len(results))
	schema := make(map[string]map[string]any, len(results))
	for _, property := range results {
		m, _ := property.(map[string]any)
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		columns = append(columns, name)
		schema[name] = map[string]any{
			"type":        m["type"],
			"label":       m["label"],
			"description": m["description"],
		}
	}

	return &Result{
		Success: true,
		Metadata: &NodeMetadata{
			Columns:     columns,
			Schema:      schema,
			DerivedFrom: []string{"api:hubspot"},
		},
		Extras: map[string]any{"objectType": objectType},
	}
}
