package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := New(level, "json")
		assert.NotNil(t, logger, "level %s", level)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestID(ctx))
}

func TestLoggerRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := New("info", "text")

	ctx = WithLogger(ctx, logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestFromContextDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestLAttachesRequestID(t *testing.T) {
	ctx := WithLogger(context.Background(), Discard())
	ctx = WithRequestID(ctx, "req-456")
	assert.NotNil(t, L(ctx))
}
