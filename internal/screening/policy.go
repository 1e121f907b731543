package screening

import "time"

// ShieldConfig configures the generic attack-pattern rule.
type ShieldConfig struct {
	Mode Mode
}

// BotConfig configures bot detection. An empty allow list blocks every
// detected bot.
type BotConfig struct {
	Mode  Mode
	Allow []string
}

// WindowConfig configures a sliding-window rate limit.
type WindowConfig struct {
	Name     string
	Mode     Mode
	Max      int64
	Interval time.Duration
}

// EmailConfig configures email reputation checks. Deny lists the reputation
// categories that cause rejection.
type EmailConfig struct {
	Mode Mode
	Deny []EmailType
}

// Policies is the immutable rule configuration registry. Built once at process
// start and shared by reference; never mutated afterwards.
type Policies struct {
	Shield      ShieldConfig
	Bot         BotConfig
	Restrictive WindowConfig
	Lax         WindowConfig
	Email       EmailConfig
}

// DefaultPolicies returns the standard rule registry with every rule in the
// given mode. Sign-up traffic gets 10 requests per 10 minutes per identity;
// general auth traffic gets 60 per minute.
func DefaultPolicies(mode Mode) *Policies {
	return &Policies{
		Shield: ShieldConfig{Mode: mode},
		Bot:    BotConfig{Mode: mode, Allow: nil},
		Restrictive: WindowConfig{
			Name:     "signup",
			Mode:     mode,
			Max:      10,
			Interval: 10 * time.Minute,
		},
		Lax: WindowConfig{
			Name:     "auth",
			Mode:     mode,
			Max:      60,
			Interval: time.Minute,
		},
		Email: EmailConfig{
			Mode: mode,
			Deny: []EmailType{EmailDisposable, EmailInvalid, EmailNoMX},
		},
	}
}

func (c EmailConfig) denies(t EmailType) bool {
	for _, d := range c.Deny {
		if d == t {
			return true
		}
	}
	return false
}
