// Package pipeline composes the outbound request path shared by every
// connector: allowlist gate, token refresh, rate-limit admission, transport,
// response middleware, and the uniform envelope.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/interlock-labs/conduit/pkg/allowlist"
	"github.com/interlock-labs/conduit/pkg/credentials"
	"github.com/interlock-labs/conduit/pkg/envelope"
	"github.com/interlock-labs/conduit/pkg/oauth"
	"github.com/interlock-labs/conduit/pkg/ratelimit"
)

// DefaultUserAgent identifies the runtime on outbound calls.
const DefaultUserAgent = "conduit/1.0"

// AuthHeaderFunc produces the connector's authentication headers from the
// working credential bag.
type AuthHeaderFunc func(ctx context.Context, bag *credentials.Bag) (map[string]string, error)

// ResponseContext is handed to every response middleware, in registration
// order, before the envelope is returned to the adapter.
type ResponseContext struct {
	Response       *http.Response
	RequestMethod  string
	RequestURL     string
	ConnectorID    string
	ConnectionID   string
	OrganizationID string
	RateLimit      *ratelimit.Info
}

// ResponseMiddleware observes a completed HTTP exchange.
type ResponseMiddleware func(ctx context.Context, rc *ResponseContext)

// Config shapes a pipeline client for one connector instance.
type Config struct {
	ConnectorID string
	BaseURL     string
	UserAgent   string
	AuthHeaders AuthHeaderFunc
	Rules       ratelimit.Rules
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client is the per-connection request pipeline. Adapters call Request; the
// cross-cutting policies run in a fixed order around the transport.
type Client struct {
	cfg         Config
	creds       *credentials.Bag
	gate        *allowlist.Gate
	governor    *ratelimit.Governor
	refresher   *oauth.Manager
	middlewares []ResponseMiddleware
}

func New(cfg Config, creds *credentials.Bag, gate *allowlist.Gate, governor *ratelimit.Governor, refresher *oauth.Manager) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "pipeline", "connector", cfg.ConnectorID)
	}

	c := &Client{
		cfg:       cfg,
		creds:     creds,
		gate:      gate,
		governor:  governor,
		refresher: refresher,
	}
	if governor != nil {
		c.middlewares = append(c.middlewares, c.governorFeedback)
	}
	return c
}

// Use appends a response middleware. Middlewares run in registration order.
func (c *Client) Use(mw ResponseMiddleware) {
	c.middlewares = append(c.middlewares, mw)
}

// Credentials exposes the working credential bag.
func (c *Client) Credentials() *credentials.Bag { return c.creds }

// ConnectorID returns the connector this client is bound to.
func (c *Client) ConnectorID() string { return c.cfg.ConnectorID }

// Request performs one HTTP call through the full policy pipeline and
// always returns an envelope; no error escapes.
func (c *Client) Request(ctx context.Context, method, endpoint string, body any, extraHeaders map[string]string) *envelope.Response {
	target := c.resolveURL(endpoint)

	if c.gate != nil {
		meta := allowlist.Meta{
			OrganizationID: c.creds.OrganizationID(),
			ConnectionID:   c.creds.ConnectionID(),
			UserID:         c.creds.UserID(),
		}
		if err := c.gate.Check(ctx, target, c.creds.NetworkAllowlist(), meta); err != nil {
			return envelope.Failure(envelope.KindNetworkBlocked, err.Error(), 0)
		}
	}

	if c.refresher != nil {
		if err := c.refresher.EnsureFresh(ctx, c.creds); err != nil {
			return envelope.Failure(envelope.KindRefresh, err.Error(), http.StatusUnauthorized)
		}
	}

	key := ratelimit.Key{
		ConnectorID:    c.cfg.ConnectorID,
		ConnectionID:   c.creds.ConnectionID(),
		OrganizationID: c.creds.OrganizationID(),
	}
	if c.governor != nil {
		adm, err := c.governor.Acquire(ctx, key, c.cfg.Rules)
		if err != nil {
			return envelope.FromError(err)
		}
		defer adm.Release()
	}

	reader, bodyCT, suppressCT := encodeBody(body)

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return envelope.Failure(envelope.KindValidation, err.Error(), 0)
	}

	// Header precedence, later wins: defaults < auth headers < caller's.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if bodyCT != "" {
		req.Header.Set("Content-Type", bodyCT)
	}
	if c.cfg.AuthHeaders != nil {
		auth, err := c.cfg.AuthHeaders(ctx, c.creds)
		if err != nil {
			return envelope.Failure(envelope.KindAuth, err.Error(), 0)
		}
		for k, v := range auth {
			req.Header.Set(k, v)
		}
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	if suppressCT && !callerSetsContentType(extraHeaders) {
		// Multipart bodies carry their own boundary; the transport sets it.
		req.Header.Del("Content-Type")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return envelope.Failure(envelope.KindCanceled, "canceled", 0)
		}
		return envelope.Failure(envelope.KindTransient, err.Error(), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, readErr := io.ReadAll(resp.Body)

	rc := &ResponseContext{
		Response:       resp,
		RequestMethod:  method,
		RequestURL:     target,
		ConnectorID:    c.cfg.ConnectorID,
		ConnectionID:   c.creds.ConnectionID(),
		OrganizationID: c.creds.OrganizationID(),
	}
	for _, mw := range c.middlewares {
		mw(ctx, rc)
	}

	if readErr != nil {
		if ctx.Err() != nil {
			return envelope.Failure(envelope.KindCanceled, "canceled", 0)
		}
		return envelope.Failure(envelope.KindTransient, readErr.Error(), 0)
	}

	data := parseBody(raw)
	headers := flattenHeaders(resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return envelope.OK(data, resp.StatusCode, headers)
	}

	out := envelope.Failure(
		envelope.KindForStatus(resp.StatusCode),
		fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		resp.StatusCode,
	)
	out.Data = data
	out.Headers = headers
	return out
}

// governorFeedback is the built-in middleware that feeds vendor headers
// back into the rate governor and triggers 429 penalty scheduling.
func (c *Client) governorFeedback(ctx context.Context, rc *ResponseContext) {
	key := ratelimit.Key{
		ConnectorID:    rc.ConnectorID,
		ConnectionID:   rc.ConnectionID,
		OrganizationID: rc.OrganizationID,
	}
	info := c.governor.ObserveResponse(key, c.cfg.Rules, rc.Response.StatusCode, rc.Response.Header)
	rc.RateLimit = &info
}

// resolveURL uses absolute endpoints verbatim and joins relative ones to
// the base URL with exactly one slash.
func (c *Client) resolveURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// encodeBody serializes the request body. Returns the reader, a content
// type override (form encoding), and whether the default content type must
// be suppressed (multipart raw readers).
func encodeBody(body any) (io.Reader, string, bool) {
	switch b := body.(type) {
	case nil:
		return nil, "", false
	case string:
		return strings.NewReader(b), "", false
	case []byte:
		return bytes.NewReader(b), "", false
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded", false
	case io.Reader:
		return b, "", true
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			// Let the transport surface it as a request build failure.
			return errorReader{err}, "", false
		}
		return bytes.NewReader(raw), "", false
	}
}

// callerSetsContentType reports whether extraHeaders names Content-Type
// under any casing.
func callerSetsContentType(extraHeaders map[string]string) bool {
	for k, v := range extraHeaders {
		if v != "" && strings.EqualFold(k, "Content-Type") {
			return true
		}
	}
	return false
}

type errorReader struct{ err error }

func (r errorReader) Read([]byte) (int, error) { return 0, r.err }

// parseBody returns parsed JSON when the body is JSON, the raw text
// otherwise, and nil for an empty body.
func parseBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err == nil {
		return data
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
