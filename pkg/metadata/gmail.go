package metadata

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// resolveGmail lists labels and decodes a recent message into a flat
// sample record.
func resolveGmail(ctx context.Context, s *Service, req *Request) *Result {
	token, fail := requireAccessToken(req.Credentials, "Gmail")
	if fail != nil {
		return fail
	}

	client := s.client("gmail", gmailBaseURL, req.Credentials)
	headers := bearerHeaders(token)

	labelsResp := client.Request(ctx, "GET", "/users/me/labels", nil, headers)
	if !labelsResp.Success {
		if fail := authFailure("Gmail", labelsResp); fail != nil {
			return fail
		}
		return upstreamFailure("Gmail", labelsResp)
	}
	labels := gmailLabelNames(dataMap(labelsResp))

	listEndpoint := "/users/me/messages?maxResults=5"
	if q := stringParam(req.Params, "query", "q"); q != "" {
		listEndpoint += "&q=" + url.QueryEscape(q)
	}

	columns := []string{"From", "To", "Subject", "Date", "Snippet", "Body"}
	sample := map[string]any{}

	listResp := client.Request(ctx, "GET", listEndpoint, nil, headers)
	if listResp.Success {
		if id := firstMessageID(dataMap(listResp)); id != "" {
			msgResp := client.Request(ctx, "GET",
				fmt.Sprintf("/users/me/messages/%s?format=full", id), nil, headers)
			if msgResp.Success {
				sample = gmailSample(dataMap(msgResp))
			}
		}
	}

	return &Result{
		Success: true,
		Metadata: &NodeMetadata{
			Columns:     columns,
			Sample:      sample,
			DerivedFrom: []string{"api:gmail"},
		},
		Extras: map[string]any{"labels": labels},
	}
}

func gmailLabelNames(doc map[string]any) []string {
	raw, _ := doc["labels"].([]any)
	names := make([]string, 0, len(raw))
	for _, entry := range raw {
		m, _ := entry.(map[string]any)
		if name, ok := m["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

func firstMessageID(doc map[string]any) string {
	messages, _ := doc["messages"].([]any)
	if len(messages) == 0 {
		return ""
	}
	first, _ := messages[0].(map[string]any)
	id, _ := first["id"].(string)
	return id
}

// gmailSample flattens a format=full message into the sample columns.
func gmailSample(msg map[string]any) map[string]any {
	payload, _ := msg["payload"].(map[string]any)
	sample := map[string]any{
		"Snippet": msg["snippet"],
	}
	for _, header := range headerList(payload) {
		name, _ := header["name"].(string)
		value, _ := header["value"].(string)
		switch strings.ToLower(name) {
		case "from":
			sample["From"] = value
		case "to":
			sample["To"] = value
		case "subject":
			sample["Subject"] = value
		case "date":
			sample["Date"] = value
		}
	}
	if body := decodeBody(payload); body != "" {
		sample["Body"] = body
	}
	return sample
}

func headerList(payload map[string]any) []map[string]any {
	raw, _ := payload["headers"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// decodeBody prefers a text/plain part, falling back to the top-level
// body. Gmail bodies are base64url without padding.
func decodeBody(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if data := bodyData(payload); data != "" {
		return decodeBase64URL(data)
	}
	parts, _ := payload["parts"].([]any)
	var fallback string
	for _, part := range parts {
		m, _ := part.(map[string]any)
		mime, _ := m["mimeType"].(string)
		data := bodyData(m)
		if data == "" {
			continue
		}
		if mime == "text/plain" {
			return decodeBase64URL(data)
		}
		if fallback == "" {
			fallback = data
		}
	}
	return decodeBase64URL(fallback)
}

func bodyData(part map[string]any) string {
	body, _ := part["body"].(map[string]any)
	data, _ := body["data"].(string)
	return data
}

func decodeBase64URL(data string) string {
	if data == "" {
		return ""
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}
