// Package credentials holds the string-keyed credential bag a connection
// carries through one execution. The caller owns the canonical record; the
// pipeline holds a mutable working copy and reports token changes back
// through the refresh callback.
package credentials

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/interlock-labs/conduit/pkg/allowlist"
)

// Well-known credential fields.
const (
	FieldAPIKey       = "apiKey"
	FieldAccessToken  = "accessToken"
	FieldRefreshToken = "refreshToken"
	FieldClientID     = "clientId"
	FieldClientSecret = "clientSecret"
	FieldTokenURL     = "tokenUrl"
	FieldExpiresAt    = "expiresAt"

	// Vendor-specific additions used by metadata resolvers.
	FieldInstanceURL = "instanceUrl"
)

// Reserved system fields that travel on every call.
const (
	SystemOrganizationID   = "__organizationId"
	SystemConnectionID     = "__connectionId"
	SystemUserID           = "__userId"
	SystemNetworkAllowlist = "__organizationNetworkAllowlist"
)

// RefreshCallback is invoked after a successful token refresh so the
// credential store can persist the new tokens. The snapshot contains the
// full updated bag minus reserved system fields.
type RefreshCallback func(ctx context.Context, updated map[string]any) error

// Bag is a thread-safe credential bag. The refresh manager mutates it; all
// other components read it.
type Bag struct {
	mu          sync.RWMutex
	values      map[string]any
	onRefreshed RefreshCallback
}

// New builds a bag from the caller's credential record. The map is copied.
func New(values map[string]any) *Bag {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Bag{values: copied}
}

// SetRefreshCallback installs the persistence hook.
func (b *Bag) SetRefreshCallback(fn RefreshCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRefreshed = fn
}

// Get returns the raw value for key.
func (b *Bag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// GetString returns the value for key as a string, or "".
func (b *Bag) GetString(key string) string {
	v, ok := b.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set stores a single value.
func (b *Bag) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
}

// Merge overlays partial onto the bag. Useful after OAuth flows.
func (b *Bag) Merge(partial map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range partial {
		b.values[k] = v
	}
}

// Snapshot returns a copy of the bag without reserved system fields.
func (b *Bag) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		switch k {
		case SystemOrganizationID, SystemConnectionID, SystemUserID, SystemNetworkAllowlist:
			continue
		}
		out[k] = v
	}
	return out
}

// OrganizationID returns the reserved organization id field.
func (b *Bag) OrganizationID() string { return b.GetString(SystemOrganizationID) }

// ConnectionID returns the reserved connection id field.
func (b *Bag) ConnectionID() string { return b.GetString(SystemConnectionID) }

// UserID returns the reserved user id field.
func (b *Bag) UserID() string { return b.GetString(SystemUserID) }

// NetworkAllowlist returns the organization egress rules carried on the bag.
func (b *Bag) NetworkAllowlist() allowlist.Rules {
	v, ok := b.Get(SystemNetworkAllowlist)
	if !ok {
		return allowlist.Rules{}
	}
	switch t := v.(type) {
	case allowlist.Rules:
		return t
	case *allowlist.Rules:
		if t != nil {
			return *t
		}
	case map[string]any:
		return allowlist.Rules{
			Domains:  toStrings(t["domains"]),
			IPRanges: toStrings(t["ipRanges"]),
		}
	}
	return allowlist.Rules{}
}

// ExpiresAt parses the expiresAt field: epoch milliseconds (number or
// numeric string) or RFC 3339. Returns false when absent or unparseable.
func (b *Bag) ExpiresAt() (time.Time, bool) {
	v, ok := b.Get(FieldExpiresAt)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case float64:
		return time.UnixMilli(int64(t)), true
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	case string:
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// SetTokens records the result of a token refresh. An empty refreshToken
// keeps the previous one.
func (b *Bag) SetTokens(accessToken, refreshToken string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[FieldAccessToken] = accessToken
	if refreshToken != "" {
		b.values[FieldRefreshToken] = refreshToken
	}
	if !expiresAt.IsZero() {
		b.values[FieldExpiresAt] = expiresAt.UnixMilli()
	}
}

// NotifyRefreshed awaits the persistence callback, if installed.
func (b *Bag) NotifyRefreshed(ctx context.Context) error {
	b.mu.RLock()
	fn := b.onRefreshed
	b.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, b.Snapshot())
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
