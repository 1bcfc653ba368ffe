package metadata

import (
	"context"
	"fmt"
)

const airtableBaseURL = "https://api.airtable.com/v0"

// resolveAirtable lists a base's tables and describes the selected one.
func resolveAirtable(ctx context.Context, s *Service, req *Request) *Result {
	token, fail := requireAccessToken(req.Credentials, "Airtable")
	if fail != nil {
		return fail
	}
	baseID := stringParam(req.Params, "baseId")
	if baseID == "" {
		return badRequest("baseId is required")
	}

	client := s.client("airtable", airtableBaseURL, req.Credentials)
	resp := client.Request(ctx, "GET",
		fmt.Sprintf("/meta/bases/%s/tables", baseID), nil, bearerHeaders(token))
	if !resp.Success {
		if fail := authFailure("Airtable", resp); fail != nil {
			return fail
		}
		return upstreamFailure("Airtable", resp)
	}

	tables, _ := dataMap(resp)["tables"].([]any)
	if len(tables) == 0 {
		return &Result{Success: false, Error: "Airtable base has no tables", Status: 422}
	}

	selected, _ := tables[0].(map[string]any)
	wantName := stringParam(req.Params, "tableName")
	wantID := stringParam(req.Params, "tableId")
	tableNames := make([]string, 0, len(tables))
	for _, table := range tables {
		m, _ := table.(map[string]any)
		name, _ := m["name"].(string)
		id, _ := m["id"].(string)
		tableNames = append(tableNames, name)
		if (wantName != "" && name == wantName) || (wantID != "" && id == wantID) {
			selected = m
		}
	}

	fields, _ := selected["fields"].([]any)
	columns := make([]string, 0, len(fields))
	schema := make(map[string]map[string]any, len(fields))
	for _, field := range fields {
		m, _ := field.(map[string]any)
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		columns = append(columns, name)
		schema[name] = map[string]any{
			"type":        m["type"],
			"description": m["description"],
			"options":     m["options"],
		}
	}

	return &Result{
		Success: true,
		Metadata: &NodeMetadata{
			Columns:     columns,
			Schema:      schema,
			DerivedFrom: []string{"api:airtable"},
		},
		Extras: map[string]any{
			"tables":      tableNames,
			"activeTable": selected["name"],
		},
	}
}
