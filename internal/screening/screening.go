// Package screening evaluates inbound authentication requests against a set of
// risk rules before they reach the auth handlers.
//
// Four rule kinds exist: a generic attack shield, bot detection, sliding-window
// rate limiting, and email reputation checks. Sign-up requests get the full
// treatment (email + bot + restrictive window); all other auth traffic gets
// shield + bot + a lax window. Every applicable rule is evaluated exactly once
// per request regardless of the final verdict, so rate-limit budgets are
// consumed even when another rule denies.
package screening

import (
	"encoding/json"
)

// Mode controls how a triggered rule affects the decision.
type Mode string

const (
	// ModeEnforce denies the request when the rule triggers. Evaluator errors
	// fail closed.
	ModeEnforce Mode = "enforce"
	// ModeMonitor logs would-be denials but always allows. Evaluator errors
	// fail open.
	ModeMonitor Mode = "monitor"
)

// RuleSet names a group of rules applied together.
type RuleSet string

const (
	// RuleSetSignup covers account creation: shield, email reputation, bot
	// detection, and the restrictive rate-limit window.
	RuleSetSignup RuleSet = "signup"
	// RuleSetGeneral covers all other auth traffic: shield, bot detection, and
	// the lax rate-limit window.
	RuleSetGeneral RuleSet = "general"
)

// EmailType categorizes an email reputation failure.
type EmailType string

const (
	EmailInvalid    EmailType = "INVALID"
	EmailDisposable EmailType = "DISPOSABLE"
	EmailNoMX       EmailType = "NO_MX_RECORDS"
)

// ReasonKind is the typed cause of a denial.
type ReasonKind string

const (
	ReasonRateLimit ReasonKind = "RATE_LIMIT"
	ReasonEmail     ReasonKind = "EMAIL"
	ReasonBot       ReasonKind = "BOT"
	ReasonShield    ReasonKind = "SHIELD"
	ReasonError     ReasonKind = "ERROR"
)

// denyPriority orders simultaneous triggers: rate limiting is the cheapest to
// explain to a client, so it wins; shield and internal errors report last.
var denyPriority = map[ReasonKind]int{
	ReasonRateLimit: 0,
	ReasonEmail:     1,
	ReasonBot:       2,
	ReasonShield:    3,
	ReasonError:     4,
}

// Reason describes why a request was denied.
type Reason struct {
	Kind       ReasonKind  `json:"type"`
	Rule       string      `json:"rule,omitempty"`
	EmailTypes []EmailType `json:"emailTypes,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

// IsRateLimit reports whether the denial was caused by rate limiting.
func (r *Reason) IsRateLimit() bool { return r != nil && r.Kind == ReasonRateLimit }

// IsEmail reports whether the denial was caused by email reputation.
func (r *Reason) IsEmail() bool { return r != nil && r.Kind == ReasonEmail }

// IsBot reports whether the denial was caused by bot detection.
func (r *Reason) IsBot() bool { return r != nil && r.Kind == ReasonBot }

// HasEmailType reports whether the given category contributed to the denial.
func (r *Reason) HasEmailType(t EmailType) bool {
	if r == nil {
		return false
	}
	for _, et := range r.EmailTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Decision is the aggregate verdict for one request. Computed fresh per
// request; never cached.
type Decision struct {
	RuleSet RuleSet `json:"ruleSet"`
	Denied  bool    `json:"denied"`
	Reason  *Reason `json:"reason,omitempty"`

	// Triggered holds every rule that fired, in evaluation order, including
	// monitor-mode rules that did not affect the verdict.
	Triggered []Reason `json:"-"`
}

// IsDenied reports whether the request must be rejected.
func (d *Decision) IsDenied() bool { return d != nil && d.Denied }

// ReasonJSON renders the deny reason for inclusion in an error response body.
func (d *Decision) ReasonJSON() json.RawMessage {
	if d == nil || d.Reason == nil {
		return json.RawMessage(`{}`)
	}
	b, err := json.Marshal(d.Reason)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func allow(set RuleSet, triggered []Reason) *Decision {
	return &Decision{RuleSet: set, Triggered: triggered}
}

func deny(set RuleSet, reason Reason, triggered []Reason) *Decision {
	r := reason
	return &Decision{RuleSet: set, Denied: true, Reason: &r, Triggered: triggered}
}
