// Package mailer delivers transactional email through an HTTP mail provider
// API. Delivery is best-effort: callers never see an error, failures are
// logged and counted.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rsolberg/authgate/internal/metrics"
	"github.com/rsolberg/authgate/internal/retry"
)

// Message is one outbound email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTML     string `json:"html"`
	Template string `json:"-"` // metrics label only
}

// Sender delivers a message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// APIClient sends mail through a Resend-compatible HTTP API.
type APIClient struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

// NewAPIClient creates a mail API client. baseURL defaults to the Resend API.
func NewAPIClient(baseURL, apiKey, from string) *APIClient {
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	return &APIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the message to the provider, retrying transient failures.
// Client errors (4xx) are not retried.
func (a *APIClient) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"from":    a.from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	return retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/emails", bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.apiKey)

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("mail api request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.Permanent(fmt.Errorf("mail api rejected message: status %d: %s", resp.StatusCode, body))
		default:
			return fmt.Errorf("mail api error: status %d", resp.StatusCode)
		}
	})
}

// LogSender writes would-be emails to the log. Used in development when no
// mail API key is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (l *LogSender) Send(_ context.Context, msg Message) error {
	l.Logger.Info("email (not sent, no mail provider configured)",
		"to", msg.To, "subject", msg.Subject, "template", msg.Template)
	return nil
}

// instrument wraps a raw send with metrics and error logging.
func instrument(ctx context.Context, s Sender, logger *slog.Logger, msg Message) {
	if err := s.Send(ctx, msg); err != nil {
		metrics.EmailsSentTotal.WithLabelValues(msg.Template, "failure").Inc()
		logger.Error("send email", "to", msg.To, "template", msg.Template, "error", err)
		return
	}
	metrics.EmailsSentTotal.WithLabelValues(msg.Template, "success").Inc()
}
