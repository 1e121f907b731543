// Package hooks wires lifecycle side effects onto completed auth operations.
package hooks

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rsolberg/authgate/internal/auth"
)

// WelcomeSender dispatches the one-time welcome greeting.
type WelcomeSender interface {
	SendWelcome(ctx context.Context, name, email string)
}

// Welcome returns an after-hook that greets newly registered users. It fires
// once per sign-up operation, for both email and social registration paths.
//
// The recipient comes from the operation's user when a session was
// established, falling back to the submitted body fields otherwise. Dispatch
// is best-effort: the sender owns its failures.
func Welcome(sender WelcomeSender, logger *slog.Logger) auth.AfterHook {
	return func(ctx context.Context, hc *auth.HookContext) {
		if !strings.HasPrefix(hc.Path, "/sign-up") {
			return
		}

		var name, email string
		if hc.NewSession != nil && hc.User != nil {
			name, email = hc.User.Name, hc.User.Email
		} else if hc.Body != nil {
			name, _ = hc.Body["name"].(string)
			email, _ = hc.Body["email"].(string)
		}

		if email == "" {
			logger.Warn("welcome hook fired without a recipient", "path", hc.Path)
			return
		}

		logger.Info("dispatching welcome email", "path", hc.Path, "email", email)
		sender.SendWelcome(ctx, name, email)
	}
}
