package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Info is the header-derived rate-limit state for one response. It is
// recreated on every response.
type Info struct {
	Limit        int
	HasLimit     bool
	Remaining    int
	HasRemaining bool
	ResetAt      time.Time
	HasReset     bool
	RetryAfter   time.Duration
}

// Default header aliases, checked in order. Per-connector overrides are
// consulted first.
var (
	limitHeaders     = []string{"X-RateLimit-Limit", "X-Rate-Limit-Limit", "RateLimit-Limit"}
	remainingHeaders = []string{"X-RateLimit-Remaining", "X-Rate-Limit-Remaining", "RateLimit-Remaining"}
	resetHeaders     = []string{"X-RateLimit-Reset", "X-Rate-Limit-Reset", "RateLimit-Reset"}
)

// Override keys understood in Rules.HeaderOverrides.
const (
	OverrideLimit      = "limit"
	OverrideRemaining  = "remaining"
	OverrideReset      = "reset"
	OverrideRetryAfter = "retryAfter"
)

// ParseHeaders derives rate-limit info from vendor response headers,
// honoring per-connector overrides before the defaults.
func ParseHeaders(h http.Header, overrides map[string]string, now time.Time) Info {
	var info Info

	if raw := lookup(h, overrides[OverrideLimit], limitHeaders); raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			info.Limit = n
			info.HasLimit = true
		}
	}
	if raw := lookup(h, overrides[OverrideRemaining], remainingHeaders); raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			info.Remaining = n
			info.HasRemaining = true
		}
	}
	if raw := lookup(h, overrides[OverrideReset], resetHeaders); raw != "" {
		if at, ok := parseReset(strings.TrimSpace(raw), now); ok {
			info.ResetAt = at
			info.HasReset = true
		}
	}
	if raw := lookup(h, overrides[OverrideRetryAfter], []string{"Retry-After"}); raw != "" {
		info.RetryAfter = parseRetryAfter(strings.TrimSpace(raw), now)
	}
	return info
}

func lookup(h http.Header, override string, defaults []string) string {
	if override != "" {
		if v := h.Get(override); v != "" {
			return v
		}
	}
	for _, name := range defaults {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// parseReset interprets a reset value by magnitude:
//
//	> 1e12  absolute epoch milliseconds
//	> 1e9   absolute epoch seconds
//	>= 1e6  relative milliseconds from now
//	>= 0    relative seconds from now
//
// Values in the ambiguous 1e6..1e9 band are read as relative milliseconds.
// Non-numeric values are parsed as an HTTP-date.
func parseReset(raw string, now time.Time) (time.Time, bool) {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		switch {
		case n > 1e12:
			return time.UnixMilli(int64(n)), true
		case n > 1e9:
			return time.Unix(int64(n), 0), true
		case n >= 1e6:
			return now.Add(time.Duration(n) * time.Millisecond), true
		case n >= 0:
			return now.Add(time.Duration(n * float64(time.Second))), true
		default:
			return time.Time{}, false
		}
	}
	if at, err := http.ParseTime(raw); err == nil {
		return at, true
	}
	return time.Time{}, false
}

// parseRetryAfter interprets Retry-After: numeric seconds, else HTTP-date.
func parseRetryAfter(raw string, now time.Time) time.Duration {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if n <= 0 {
			return 0
		}
		return time.Duration(n * float64(time.Second))
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
