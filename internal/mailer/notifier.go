package mailer

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/rsolberg/authgate/internal/auth"
)

// sendTimeout bounds one asynchronous delivery, including the sender's own
// retries.
const sendTimeout = time.Minute

// Notifier renders the auth flows' transactional emails and hands them to a
// Sender. It implements auth.Notifier; every method is best-effort and
// dispatches asynchronously so the request path never waits on the mail
// provider.
type Notifier struct {
	sender  Sender
	appName string
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a notifier on top of the given sender.
func NewNotifier(sender Sender, appName string, logger *slog.Logger) *Notifier {
	if appName == "" {
		appName = "authgate"
	}
	return &Notifier{sender: sender, appName: appName, logger: logger}
}

// sendAsync delivers the message from a goroutine. The delivery context is
// detached from the request's cancellation (the response goes out before the
// email does) but bounded by sendTimeout.
func (n *Notifier) sendAsync(ctx context.Context, msg Message) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		instrument(sendCtx, n.sender, n.logger, msg)
	}()
}

// Flush blocks until every dispatched message has been handed to the sender.
// Called on shutdown so in-flight emails are not dropped.
func (n *Notifier) Flush() {
	n.wg.Wait()
}

func (n *Notifier) SendVerification(ctx context.Context, user *auth.User, verifyURL string) {
	n.sendAsync(ctx, Message{
		To:       user.Email,
		Subject:  "Verify your email address",
		Template: "verify-email",
		HTML: fmt.Sprintf(
			`<p>Hi %s,</p><p>Confirm your email address to finish signing up for %s.</p><p><a href="%s">Verify email</a></p><p>The link expires in 24 hours.</p>`,
			html.EscapeString(user.Name), html.EscapeString(n.appName), verifyURL),
	})
}

func (n *Notifier) SendPasswordReset(ctx context.Context, user *auth.User, resetURL string) {
	n.sendAsync(ctx, Message{
		To:       user.Email,
		Subject:  "Reset your password",
		Template: "reset-password",
		HTML: fmt.Sprintf(
			`<p>Hi %s,</p><p>Someone asked to reset the password for your %s account. If that was you, follow the link below. Otherwise you can ignore this email.</p><p><a href="%s">Reset password</a></p><p>The link expires in 1 hour.</p>`,
			html.EscapeString(user.Name), html.EscapeString(n.appName), resetURL),
	})
}

func (n *Notifier) SendEmailChangeVerification(ctx context.Context, user *auth.User, newEmail, verifyURL string) {
	// The link goes to the new address: possession of the inbox is the proof.
	n.sendAsync(ctx, Message{
		To:       newEmail,
		Subject:  "Confirm your new email address",
		Template: "change-email",
		HTML: fmt.Sprintf(
			`<p>Hi %s,</p><p>Confirm that you want to use this address for your %s account.</p><p><a href="%s">Confirm new email</a></p>`,
			html.EscapeString(user.Name), html.EscapeString(n.appName), verifyURL),
	})
}

func (n *Notifier) SendAccountDeletionVerification(ctx context.Context, user *auth.User, confirmURL string) {
	n.sendAsync(ctx, Message{
		To:       user.Email,
		Subject:  "Confirm account deletion",
		Template: "delete-account",
		HTML: fmt.Sprintf(
			`<p>Hi %s,</p><p>You asked to delete your %s account. This cannot be undone.</p><p><a href="%s">Delete my account</a></p><p>If you did not request this, change your password now.</p>`,
			html.EscapeString(user.Name), html.EscapeString(n.appName), confirmURL),
	})
}

// SendWelcome greets a freshly registered user. Invoked from the sign-up
// lifecycle hook rather than the auth flows themselves.
func (n *Notifier) SendWelcome(ctx context.Context, name, email string) {
	if email == "" {
		n.logger.Warn("welcome email skipped, no address", "name", name)
		return
	}
	if name == "" {
		name = "there"
	}
	n.sendAsync(ctx, Message{
		To:       email,
		Subject:  fmt.Sprintf("Welcome to %s!", n.appName),
		Template: "welcome",
		HTML: fmt.Sprintf(
			`<p>Hi %s,</p><p>Welcome aboard! Your %s account is ready.</p>`,
			html.EscapeString(name), html.EscapeString(n.appName)),
	})
}
