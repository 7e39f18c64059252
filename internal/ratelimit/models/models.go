package models

import (
	"strings"
	"time"
)

// EndpointClass categorizes endpoints for differentiated rate limiting.
type EndpointClass string

const (
	// ClassAuth: login, refresh, revoke (10 req/min)
	ClassAuth EndpointClass = "auth"
	// ClassFinancial: risk evaluation and other money-moving calls (30 req/min)
	ClassFinancial EndpointClass = "financial"
	// ClassRead: introspection and audit queries (100 req/min)
	ClassRead EndpointClass = "read"
)

// IsValid checks if the endpoint class is one of the supported enum values.
func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassAuth, ClassFinancial, ClassRead:
		return true
	}
	return false
}

// Limit is the request budget of one class.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// Window is the fixed-window counter state for one key.
type Window struct {
	Count int
	Start time.Time
}

// Expired reports whether the window has elapsed at now.
func (w Window) Expired(now time.Time, window time.Duration) bool {
	return w.Start.IsZero() || now.Sub(w.Start) >= window
}

// HitResult is what a window store reports for one admission attempt.
type HitResult struct {
	Allowed bool
	Count   int
	Start   time.Time
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
	// Degraded is set when the window store was unreachable and the request
	// was admitted without counting.
	Degraded bool `json:"degraded,omitempty"`
}

// Key builds the window key for an identity within a class.
func Key(class EndpointClass, identity string) string {
	return "rl:" + string(class) + ":" + SanitizeKeySegment(identity)
}

var keySegmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// SanitizeKeySegment percent-escapes ':' and '%' in a key segment. The
// escaping is reversible, so distinct identities never share a window.
func SanitizeKeySegment(s string) string {
	return keySegmentEscaper.Replace(s)
}
