package screening

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Request carries the slice of an inbound HTTP request that screening needs.
// The gate constructs it from a buffered copy of the real request, so rules
// can inspect the body without consuming it.
type Request struct {
	Path     string
	RawQuery string
	Headers  http.Header

	// Body is the parsed JSON object, or nil when the body was absent or not
	// an object.
	Body map[string]any

	// Email is the sign-up email extracted from the body, or "" when missing.
	// An empty email skips the email rule (graceful degradation, not an
	// error).
	Email string
}

// Engine evaluates requests against the configured policies. Stateless across
// requests apart from the injected window counter.
type Engine struct {
	policies *Policies
	counter  Counter
	resolve  MXResolver
	logger   *slog.Logger
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithMXResolver overrides the DNS resolver used by the email rule.
func WithMXResolver(r MXResolver) EngineOption {
	return func(e *Engine) { e.resolve = r }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a screening engine.
func NewEngine(policies *Policies, counter Counter, opts ...EngineOption) *Engine {
	e := &Engine{
		policies: policies,
		counter:  counter,
		resolve:  DefaultMXResolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// evaluator is one rule instance bound to this request. Returns the triggered
// reason (nil if the rule passed) and its mode.
type evaluator struct {
	name string
	mode Mode
	run  func(ctx context.Context) (*Reason, error)
}

// Protect evaluates the selected rule set against the request and returns a
// single decision. Every applicable rule runs exactly once, even after an
// earlier rule has already triggered, so each rule's budget is consumed
// uniformly. When several rules trigger, the reported reason follows the fixed
// priority: rate limit, email, bot, then shield/error.
func (e *Engine) Protect(ctx context.Context, req *Request, identityKey string, set RuleSet) *Decision {
	evaluators := e.ruleSet(req, identityKey, set)

	var triggered []Reason
	for _, ev := range evaluators {
		reason, err := ev.run(ctx)
		if err != nil {
			if ev.mode == ModeMonitor {
				// Monitor mode fails open.
				e.logger.Warn("screening rule error (monitor, allowing)",
					"rule", ev.name, "error", err)
				continue
			}
			// Enforce mode fails closed.
			e.logger.Error("screening rule error (enforce, denying)",
				"rule", ev.name, "error", err)
			triggered = append(triggered, Reason{
				Kind:   ReasonError,
				Rule:   ev.name,
				Detail: "rule evaluation failed",
			})
			continue
		}
		if reason == nil {
			continue
		}
		reason.Rule = ev.name
		if ev.mode == ModeMonitor {
			e.logger.Info("screening rule triggered (monitor, allowing)",
				"rule", ev.name, "reason", reason.Kind)
			continue
		}
		triggered = append(triggered, *reason)
	}

	if len(triggered) == 0 {
		return allow(set, nil)
	}

	best := triggered[0]
	for _, r := range triggered[1:] {
		if denyPriority[r.Kind] < denyPriority[best.Kind] {
			best = r
		}
	}
	return deny(set, best, triggered)
}

// ruleSet builds the ordered evaluator list for this request. Construction is
// per request: rules close over the request data, and the email rule is only
// included when a usable email is present.
func (e *Engine) ruleSet(req *Request, identityKey string, set RuleSet) []evaluator {
	var evs []evaluator

	if set == RuleSetSignup {
		if req.Email != "" {
			// All four rule kinds apply to a sign-up with a usable email.
			// Without one, coverage degrades to bot + window only.
			evs = append(evs,
				e.shieldRule(req),
				e.emailRule(req.Email),
			)
		}
		evs = append(evs,
			e.botRule(req.Headers),
			e.windowRule(e.policies.Restrictive, identityKey),
		)
		return evs
	}

	return append(evs,
		e.shieldRule(req),
		e.botRule(req.Headers),
		e.windowRule(e.policies.Lax, identityKey),
	)
}

func (e *Engine) shieldRule(req *Request) evaluator {
	cfg := e.policies.Shield
	return evaluator{
		name: "shield",
		mode: cfg.Mode,
		run: func(context.Context) (*Reason, error) {
			if pattern := detectAttack(req.Path, req.RawQuery, req.Body); pattern != "" {
				return &Reason{Kind: ReasonShield, Detail: pattern}, nil
			}
			return nil, nil
		},
	}
}

func (e *Engine) botRule(headers http.Header) evaluator {
	cfg := e.policies.Bot
	return evaluator{
		name: "bot",
		mode: cfg.Mode,
		run: func(context.Context) (*Reason, error) {
			if sig := detectBot(cfg, headers); sig != "" {
				return &Reason{Kind: ReasonBot, Detail: sig}, nil
			}
			return nil, nil
		},
	}
}

func (e *Engine) windowRule(cfg WindowConfig, identityKey string) evaluator {
	return evaluator{
		name: "window:" + cfg.Name,
		mode: cfg.Mode,
		run: func(ctx context.Context) (*Reason, error) {
			count, err := e.counter.Hit(ctx, cfg.Name, identityKey, cfg.Interval)
			if err != nil {
				return nil, fmt.Errorf("window %s: %w", cfg.Name, err)
			}
			if count > cfg.Max {
				return &Reason{
					Kind:   ReasonRateLimit,
					Detail: fmt.Sprintf("%d requests in %s (max %d)", count, cfg.Interval, cfg.Max),
				}, nil
			}
			return nil, nil
		},
	}
}

func (e *Engine) emailRule(email string) evaluator {
	cfg := e.policies.Email
	return evaluator{
		name: "email",
		mode: cfg.Mode,
		run: func(ctx context.Context) (*Reason, error) {
			types := classifyEmail(ctx, e.resolve, email)

			var denied []EmailType
			for _, t := range types {
				if cfg.denies(t) {
					denied = append(denied, t)
				}
			}
			if len(denied) == 0 {
				return nil, nil
			}
			return &Reason{Kind: ReasonEmail, EmailTypes: denied}, nil
		},
	}
}
