package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger_JSONAndConsole(t *testing.T) {
	l, err := NewLogger("debug", "json", "")
	require.NoError(t, err)
	require.NotNil(t, l)

	l, err = NewLogger("info", "console", "")
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNewLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	l, err := NewLogger("not-a-level", "json", "")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, zap.InfoLevel, l.Level())
}

func TestNewComponentLogger(t *testing.T) {
	l, err := NewComponentLogger("info", "json", "", ComponentProxy)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestContextFieldRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithClientIP(ctx, "127.0.0.1")
	ctx = WithUserAgent(ctx, "test-agent")
	ctx = WithComponent(ctx, ComponentListener)

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "corr-1", GetCorrelationID(ctx))

	fields := ExtractContextFields(ctx)
	assert.Len(t, fields, 5)
}

func TestExtractContextFields_Empty(t *testing.T) {
	fields := ExtractContextFields(context.Background())
	assert.Empty(t, fields)
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	l, err := NewLogger("info", "json", "")
	require.NoError(t, err)
	got := WithContext(l, context.Background())
	assert.Same(t, l, got)
}
