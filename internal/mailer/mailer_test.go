package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsolberg/authgate/internal/auth"
	"github.com/rsolberg/authgate/internal/logging"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func TestAPIClientSend(t *testing.T) {
	var got map[string]any
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/emails", r.URL.Path)
		authz = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewAPIClient(srv.URL, "key-123", "noreply@authgate.example")
	err := c.Send(context.Background(), Message{
		To:      "ada@example.com",
		Subject: "Hello",
		HTML:    "<p>Hi</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer key-123", authz)
	assert.Equal(t, "noreply@authgate.example", got["from"])
	assert.Equal(t, []any{"ada@example.com"}, got["to"])
	assert.Equal(t, "Hello", got["subject"])
}

func TestAPIClientRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewAPIClient(srv.URL, "key", "noreply@authgate.example")
	err := c.Send(context.Background(), Message{To: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAPIClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	c := NewAPIClient(srv.URL, "key", "noreply@authgate.example")
	err := c.Send(context.Background(), Message{To: "bad"})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "4xx responses must not be retried")
}

func TestAPIClientHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewAPIClient(srv.URL, "key", "noreply@authgate.example")
	err := c.Send(ctx, Message{To: "ada@example.com"})
	assert.Error(t, err)
}

func TestNotifierRendersTemplates(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier(rec, "authgate", logging.Discard())
	user := &auth.User{Name: "Ada", Email: "ada@example.com"}
	ctx := context.Background()

	// Flush between sends: delivery is asynchronous and order is otherwise
	// not guaranteed.
	n.SendVerification(ctx, user, "http://x/verify?token=t1")
	n.Flush()
	n.SendPasswordReset(ctx, user, "http://x/reset?token=t2")
	n.Flush()
	n.SendEmailChangeVerification(ctx, user, "new@example.com", "http://x/change?token=t3")
	n.Flush()
	n.SendAccountDeletionVerification(ctx, user, "http://x/delete?token=t4")
	n.Flush()
	n.SendWelcome(ctx, "Ada", "ada@example.com")
	n.Flush()

	msgs := rec.messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "verify-email", msgs[0].Template)
	assert.Contains(t, msgs[0].HTML, "http://x/verify?token=t1")
	assert.Equal(t, "reset-password", msgs[1].Template)
	assert.Equal(t, "new@example.com", msgs[2].To, "change-email link goes to the new address")
	assert.Equal(t, "delete-account", msgs[3].Template)
	assert.Equal(t, "welcome", msgs[4].Template)
	assert.Contains(t, msgs[4].Subject, "Welcome")
}

func TestNotifierEscapesUserContent(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier(rec, "authgate", logging.Discard())

	n.SendWelcome(context.Background(), `<script>alert(1)</script>`, "ada@example.com")
	n.Flush()

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].HTML, "<script>")
}

func TestNotifierSwallowsSendErrors(t *testing.T) {
	rec := &recordingSender{err: errors.New("provider down")}
	n := NewNotifier(rec, "authgate", logging.Discard())

	// Must not panic or propagate
	n.SendWelcome(context.Background(), "Ada", "ada@example.com")
	n.SendVerification(context.Background(), &auth.User{Email: "ada@example.com"}, "http://x")
	n.Flush()
}

func TestSendWelcomeSkipsEmptyAddress(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier(rec, "authgate", logging.Discard())

	n.SendWelcome(context.Background(), "Ada", "")
	n.Flush()
	assert.Empty(t, rec.messages())
}

type blockingSender struct {
	release chan struct{}
	sent    chan Message
}

func (b *blockingSender) Send(_ context.Context, msg Message) error {
	<-b.release
	b.sent <- msg
	return nil
}

func TestNotifierDispatchDoesNotBlockCaller(t *testing.T) {
	s := &blockingSender{release: make(chan struct{}), sent: make(chan Message, 1)}
	n := NewNotifier(s, "authgate", logging.Discard())

	done := make(chan struct{})
	go func() {
		n.SendWelcome(context.Background(), "Ada", "ada@example.com")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch must return before the provider delivers")
	}

	close(s.release)
	n.Flush()
	msg := <-s.sent
	assert.Equal(t, "welcome", msg.Template)
}

type ctxCheckingSender struct {
	recordingSender
}

func (c *ctxCheckingSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.recordingSender.Send(ctx, msg)
}

func TestNotifierDeliversAfterRequestContextCanceled(t *testing.T) {
	rec := &ctxCheckingSender{}
	n := NewNotifier(rec, "authgate", logging.Discard())

	// The response goes out (and its context dies) before delivery finishes.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.SendWelcome(ctx, "Ada", "ada@example.com")
	n.Flush()

	require.Len(t, rec.messages(), 1)
}
