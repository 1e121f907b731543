// Package gate installs the screening engine in front of the auth endpoints
// as gin middleware. It buffers request bodies so the rules can inspect them
// without consuming the stream, resolves the caller's identity for rate-limit
// accounting, and turns deny decisions into client responses.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rsolberg/authgate/internal/auth"
	"github.com/rsolberg/authgate/internal/logging"
	"github.com/rsolberg/authgate/internal/metrics"
	"github.com/rsolberg/authgate/internal/screening"
)

// maxBufferedBody caps how much of a request body screening will read.
const maxBufferedBody = 1 << 20 // 1 MiB

// SessionResolver resolves the authenticated user from request headers. The
// auth manager satisfies this.
type SessionResolver interface {
	GetSession(ctx context.Context, headers http.Header, cookieName string) (*auth.Session, *auth.User, error)
}

// Gate screens auth traffic before it reaches the handlers.
type Gate struct {
	engine     *screening.Engine
	sessions   SessionResolver
	cookieName string
}

// New creates a gate. sessions may be nil, in which case identity falls back
// to the client IP.
func New(engine *screening.Engine, sessions SessionResolver, cookieName string) *Gate {
	return &Gate{engine: engine, sessions: sessions, cookieName: cookieName}
}

// Middleware returns the gin middleware enforcing the screening decision.
// Read-only requests pass through untouched: screening protects the mutating
// surface.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		req := g.buildRequest(c)
		set := ruleSetFor(c.Request.URL.Path)

		decision := g.engine.Protect(ctx, req, g.identityKey(c), set)
		recordDecision(decision)

		if !decision.IsDenied() {
			c.Next()
			return
		}

		logging.L(ctx).Info("request denied by screening",
			"path", c.Request.URL.Path,
			"ruleSet", string(decision.RuleSet),
			"reason", string(decision.Reason.Kind),
			"rule", decision.Reason.Rule)
		g.writeDenial(c, decision)
	}
}

// buildRequest snapshots the parts of the request the rules inspect. The body
// is buffered and restored so the downstream handler still gets to read it.
func (g *Gate) buildRequest(c *gin.Context) *screening.Request {
	req := &screening.Request{
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
		Headers:  c.Request.Header,
	}

	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBufferedBody))
		if err == nil {
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))

			var body map[string]any
			if json.Unmarshal(raw, &body) == nil {
				req.Body = body
				if email, ok := body["email"].(string); ok {
					req.Email = strings.TrimSpace(email)
				}
			}
		}
	}
	return req
}

// identityKey picks the rate-limit bucket for this caller: the signed-in user
// when a session is present, the client IP otherwise, with a loopback
// fallback so local traffic without either still buckets consistently.
func (g *Gate) identityKey(c *gin.Context) string {
	if g.sessions != nil {
		if _, user, err := g.sessions.GetSession(c.Request.Context(), c.Request.Header, g.cookieName); err == nil {
			return "user:" + user.ID
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:127.0.0.1"
}

// ruleSetFor selects the rule set by endpoint: account creation gets the
// restrictive treatment, everything else the general one.
func ruleSetFor(path string) screening.RuleSet {
	if strings.Contains(path, "/sign-up") {
		return screening.RuleSetSignup
	}
	return screening.RuleSetGeneral
}

// writeDenial renders the decision as an HTTP error response.
func (g *Gate) writeDenial(c *gin.Context, d *screening.Decision) {
	reason := d.Reason

	// Every deny body carries the machine-readable reason next to the
	// human-readable error string.
	switch {
	case reason.IsRateLimit():
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":  "Too Many Requests",
			"reason": d.ReasonJSON(),
		})
	case reason.IsEmail():
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":  emailDenialMessage(reason),
			"reason": d.ReasonJSON(),
		})
	case reason.IsBot():
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":  "No bots allowed",
			"reason": d.ReasonJSON(),
		})
	default:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":  "Forbidden",
			"reason": d.ReasonJSON(),
		})
	}
}

// emailDenialMessage picks the most specific complaint about the address.
func emailDenialMessage(r *screening.Reason) string {
	switch {
	case r.HasEmailType(screening.EmailInvalid):
		return "Email address format is invalid."
	case r.HasEmailType(screening.EmailDisposable):
		return "Disposable email addresses are not allowed."
	case r.HasEmailType(screening.EmailNoMX):
		return "Email domain is not valid."
	default:
		return "Invalid email."
	}
}

func recordDecision(d *screening.Decision) {
	outcome := "allow"
	reason := "none"
	if d.IsDenied() {
		outcome = "deny"
		reason = string(d.Reason.Kind)
	}
	metrics.ScreeningDecisionsTotal.WithLabelValues(string(d.RuleSet), outcome, reason).Inc()
}
