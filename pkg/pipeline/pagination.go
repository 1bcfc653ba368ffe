package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/interlock-labs/conduit/pkg/envelope"
)

// DefaultMaxPages bounds every pagination scan to prevent runaways.
const DefaultMaxPages = 50

// PageOptions configures page-number pagination.
type PageOptions struct {
	PageParam  string // default "page"
	LimitParam string // default "limit"
	Limit      int    // default 100
	MaxPages   int    // default DefaultMaxPages
	Headers    map[string]string
}

// GetAllPages walks page-number pagination, accumulating items in order.
// It stops when a page returns fewer than limit items, the page envelope
// reports hasMore=false, or the page bound is reached. Any page failure is
// returned verbatim.
func (c *Client) GetAllPages(ctx context.Context, endpoint string, opts PageOptions) *envelope.Response {
	pageParam := opts.PageParam
	if pageParam == "" {
		pageParam = "page"
	}
	limitParam := opts.LimitParam
	if limitParam == "" {
		limitParam = "limit"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var all []any
	for page := 1; page <= maxPages; page++ {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		pageURL := fmt.Sprintf("%s%s%s=%d&%s=%d", endpoint, sep, pageParam, page, limitParam, limit)

		resp := c.Request(ctx, "GET", pageURL, nil, opts.Headers)
		if !resp.Success {
			return resp
		}

		items, hasMore, hasMoreKnown := extractPage(resp.Data)
		all = append(all, items...)

		if hasMoreKnown && !hasMore {
			break
		}
		if len(items) < limit {
			break
		}
	}
	return envelope.OK(all, 200, nil)
}

// CursorPagination configures cursor-based pagination. The adapter supplies
// the fetch and extraction functions; the core only bounds and accumulates.
type CursorPagination struct {
	FetchPage     func(ctx context.Context, cursor string) *envelope.Response
	ExtractItems  func(resp *envelope.Response) []any
	ExtractCursor func(resp *envelope.Response) string
	InitialCursor string
	MaxPages      int // default DefaultMaxPages
	OnPage        func(page int, items []any)
}

// CollectCursorPaginated walks cursor pagination until the extractor
// returns an empty cursor or the page bound is reached. Page failures
// propagate verbatim.
func CollectCursorPaginated(ctx context.Context, p CursorPagination) *envelope.Response {
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var all []any
	cursor := p.InitialCursor
	for page := 1; page <= maxPages; page++ {
		resp := p.FetchPage(ctx, cursor)
		if resp == nil {
			return envelope.Failure(envelope.KindUnknown, "fetchPage returned no response", 0)
		}
		if !resp.Success {
			return resp
		}

		items := p.ExtractItems(resp)
		all = append(all, items...)
		if p.OnPage != nil {
			p.OnPage(page, items)
		}

		cursor = p.ExtractCursor(resp)
		if cursor == "" {
			break
		}
	}
	return envelope.OK(all, 200, nil)
}

// extractPage pulls the item slice and optional hasMore flag out of a page
// payload. Arrays are used directly; objects are probed for the
// conventional collection keys.
func extractPage(data any) (items []any, hasMore, hasMoreKnown bool) {
	switch d := data.(type) {
	case []any:
		return d, false, false
	case map[string]any:
		for _, key := range []string{"items", "data", "results"} {
			if arr, ok := d[key].([]any); ok {
				items = arr
				break
			}
		}
		if hm, ok := d["hasMore"].(bool); ok {
			return items, hm, true
		}
		return items, false, false
	default:
		return nil, false, false
	}
}
