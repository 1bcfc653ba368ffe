package metadata

import (
	"context"
	"fmt"
	"net/url"
)

const sheetsBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// resolveSheets walks a spreadsheet's tabs, reads the first row as
// headers and the second row as a sample record.
func resolveSheets(ctx context.Context, s *Service, req *Request) *Result {
	token, fail := requireAccessToken(req.Credentials, "Google Sheets")
	if fail != nil {
		return fail
	}
	spreadsheetID := stringParam(req.Params, "spreadsheetId", "documentId")
	if spreadsheetID == "" {
		return badRequest("spreadsheetId is required")
	}

	client := s.client("google-sheets", sheetsBaseURL, req.Credentials)
	headers := bearerHeaders(token)

	tabsResp := client.Request(ctx, "GET",
		fmt.Sprintf("/%s?fields=sheets.properties.title", spreadsheetID), nil, headers)
	if !tabsResp.Success {
		if fail := authFailure("Google Sheets", tabsResp); fail != nil {
			return fail
		}
		return upstreamFailure("Google Sheets", tabsResp)
	}

	tabs := sheetTitles(dataMap(tabsResp))
	if len(tabs) == 0 {
		return &Result{Success: false, Error: "spreadsheet has no sheets", Status: 422}
	}
	tab := tabs[0]
	if requested := stringParam(req.Params, "sheetName", "tabName"); requested != "" {
		for _, t := range tabs {
			if t == requested {
				tab = t
				break
			}
		}
	}

	headerRow := sheetRow(ctx, client, headers, spreadsheetID, tab, 1)
	sampleRow := sheetRow(ctx, client, headers, spreadsheetID, tab, 2)

	columns := make([]string, 0, len(headerRow))
	for _, h := range headerRow {
		if text, ok := h.(string); ok {
			columns = append(columns, text)
		}
	}

	sample := map[string]any{}
	for i, col := range columns {
		if i < len(sampleRow) {
			sample[col] = sampleRow[i]
		}
	}

	return &Result{
		Success: true,
		Metadata: &NodeMetadata{
			Columns:     columns,
			Headers:     columns,
			Sample:      sample,
			DerivedFrom: []string{"api:google-sheets"},
		},
		Extras: map[string]any{
			"tabs":      tabs,
			"sheetName": tab,
		},
	}
}

// sheetRow fetches one 1-indexed row; failures degrade to an empty row
// since headers and samples are best-effort once tabs resolved.
func sheetRow(ctx context.Context, client Doer, headers map[string]string, spreadsheetID, tab string, row int) []any {
	rangeRef := url.PathEscape(fmt.Sprintf("%s!%d:%d", tab, row, row))
	resp := client.Request(ctx, "GET",
		fmt.Sprintf("/%s/values/%s", spreadsheetID, rangeRef), nil, headers)
	if !resp.Success {
		return nil
	}
	values, _ := dataMap(resp)["values"].([]any)
	if len(values) == 0 {
		return nil
	}
	first, _ := values[0].([]any)
	return first
}

func sheetTitles(doc map[string]any) []string {
	sheets, _ := doc["sheets"].([]any)
	titles := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		m, _ := sheet.(map[string]any)
		props, _ := m["properties"].(map[string]any)
		if title, ok := props["title"].(string); ok && title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}
