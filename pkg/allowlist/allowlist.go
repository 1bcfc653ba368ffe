// Package allowlist enforces organization-level network egress policy.
// Every outbound URL is checked against the organization's allowed domain
// suffixes and CIDR ranges before any credentials are materialized.
package allowlist

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/interlock-labs/conduit/pkg/audit"
)

// Rules is a per-organization egress allowlist. An empty rule set admits
// every host.
type Rules struct {
	Domains  []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	IPRanges []string `json:"ipRanges,omitempty" yaml:"ipRanges,omitempty"`
}

// Empty reports whether no restrictions are configured.
func (r Rules) Empty() bool {
	return len(r.Domains) == 0 && len(r.IPRanges) == 0
}

// Meta identifies the caller for audit purposes.
type Meta struct {
	OrganizationID string
	ConnectionID   string
	UserID         string
}

// DeniedError is returned when a host falls outside the allowlist.
type DeniedError struct {
	Host string
	URL  string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("host %q is not allowlisted for this organization", e.Host)
}

// Gate checks outbound hosts and records denials through the audit sink.
type Gate struct {
	Audit audit.Sink
}

func NewGate(sink audit.Sink) *Gate {
	return &Gate{Audit: sink}
}

// Check admits or denies the outbound URL under the given rules. A denial
// records one audit event and returns a *DeniedError.
func (g *Gate) Check(ctx context.Context, rawURL string, rules Rules, meta Meta) error {
	if rules.Empty() {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse outbound url: %w", err)
	}
	host := strings.ToLower(u.Hostname())

	if Allowed(rules, host) {
		return nil
	}

	if g.Audit != nil {
		g.Audit.Record(ctx, audit.Event{
			Action:         "network_egress_denied",
			Reason:         "host_not_allowlisted",
			OrganizationID: meta.OrganizationID,
			ConnectionID:   meta.ConnectionID,
			UserID:         meta.UserID,
			Details: map[string]any{
				"attemptedHost": host,
				"attemptedUrl":  rawURL,
				"allowlist":     rules,
			},
		})
	}
	return &DeniedError{Host: host, URL: rawURL}
}

// Allowed reports whether host matches any domain rule or any IP rule.
func Allowed(rules Rules, host string) bool {
	host = strings.ToLower(host)
	for _, d := range rules.Domains {
		if matchDomain(strings.ToLower(strings.TrimSpace(d)), host) {
			return true
		}
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, r := range rules.IPRanges {
			if matchIP(strings.TrimSpace(r), addr) {
				return true
			}
		}
	}
	return false
}

// matchDomain implements suffix semantics: "*" matches anything, a bare
// entry matches itself and all subdomains, and "*.suffix" matches the
// suffix itself and all subdomains.
func matchDomain(entry, host string) bool {
	if entry == "" {
		return false
	}
	if entry == "*" {
		return true
	}
	if rest, ok := strings.CutPrefix(entry, "*."); ok {
		return host == rest || strings.HasSuffix(host, "."+rest)
	}
	return host == entry || strings.HasSuffix(host, "."+entry)
}

// matchIP tests bare-IP equality or CIDR membership for v4 and v6.
func matchIP(entry string, addr netip.Addr) bool {
	if entry == "" {
		return false
	}
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return false
		}
		return prefix.Contains(addr)
	}
	other, err := netip.ParseAddr(entry)
	if err != nil {
		return false
	}
	return other.Unmap() == addr
}
