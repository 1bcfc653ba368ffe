// Package oauth manages the access-token lifecycle for OAuth connections:
// near-expiry detection, single-flight refresh against the vendor token
// endpoint, and persistence through the credential bag's refresh callback.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/interlock-labs/conduit/pkg/credentials"
)

// DefaultRefreshSkew is how close to expiry a token may get before it is
// refreshed ahead of an outbound call.
const DefaultRefreshSkew = 60 * time.Second

// TokenResponse is the vendor token endpoint's JSON reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// RefreshError marks a failed token refresh. Callers surface it as an
// auth-style failure; it is never retried by the pipeline.
type RefreshError struct {
	Status int
	Body   string
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: status %d: %s", e.Status, e.Body)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Manager performs single-flight token refreshes per credential bag.
type Manager struct {
	client *http.Client
	group  singleflight.Group
	skew   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.client = c
		}
	}
}

// WithSkew overrides the refresh skew.
func WithSkew(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.skew = d
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		client: &http.Client{Timeout: 30 * time.Second},
		skew:   DefaultRefreshSkew,
		logger: slog.Default().With("component", "oauth"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureFresh refreshes the bag's access token when it is missing or near
// expiry and the refresh material is complete. Concurrent callers for the
// same credential share one in-flight refresh; a failed flight is forgotten
// so the next caller may retry.
func (m *Manager) EnsureFresh(ctx context.Context, bag *credentials.Bag) error {
	if !m.needsRefresh(bag) {
		return nil
	}

	key := bag.ConnectionID()
	if key == "" {
		key = bag.GetString(credentials.FieldRefreshToken)
	}

	_, err, _ := m.group.Do(key, func() (any, error) {
		// Another flight may have completed while this caller queued.
		if !m.needsRefresh(bag) {
			return nil, nil
		}
		return nil, m.refresh(ctx, bag)
	})
	return err
}

// needsRefresh implements the refresh policy: all of refreshToken, clientId,
// clientSecret and tokenUrl must be present, and either the access token is
// missing or expiry is within the skew. A credential with no known expiry
// stays as-is.
func (m *Manager) needsRefresh(bag *credentials.Bag) bool {
	if bag.GetString(credentials.FieldRefreshToken) == "" ||
		bag.GetString(credentials.FieldClientID) == "" ||
		bag.GetString(credentials.FieldClientSecret) == "" ||
		bag.GetString(credentials.FieldTokenURL) == "" {
		return false
	}
	if bag.GetString(credentials.FieldAccessToken) == "" {
		return true
	}
	expiresAt, ok := bag.ExpiresAt()
	if !ok {
		return false
	}
	return expiresAt.Sub(m.now()) < m.skew
}

func (m *Manager) refresh(ctx context.Context, bag *credentials.Bag) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {bag.GetString(credentials.FieldRefreshToken)},
		"client_id":     {bag.GetString(credentials.FieldClientID)},
		"client_secret": {bag.GetString(credentials.FieldClientSecret)},
	}

	tokenURL := bag.GetString(credentials.FieldTokenURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &RefreshError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return &RefreshError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &RefreshError{Status: resp.StatusCode, Body: string(body)}
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return &RefreshError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tok.AccessToken == "" {
		return &RefreshError{Err: fmt.Errorf("token endpoint returned no access_token")}
	}

	expiresAt := m.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	bag.SetTokens(tok.AccessToken, tok.RefreshToken, expiresAt)

	if err := bag.NotifyRefreshed(ctx); err != nil {
		m.logger.ErrorContext(ctx, "token refresh persisted callback failed",
			"connection_id", bag.ConnectionID(), "error", err)
		return &RefreshError{Err: fmt.Errorf("persist refreshed token: %w", err)}
	}

	m.logger.InfoContext(ctx, "access token refreshed",
		"connection_id", bag.ConnectionID(), "expires_in", tok.ExpiresIn)
	return nil
}
