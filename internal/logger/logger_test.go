package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_RedactsSecrets(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.Info("calling provider", "api_key", "sk-123", "Authorization", "Bearer x", "summary_id", "s1")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "[REDACTED]", fields["Authorization"])
	assert.Equal(t, "s1", fields["summary_id"])
}

func TestLogger_WithKeepsRedaction(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core)).With("token", "abc")

	log.Warn("x")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "[REDACTED]", logs.All()[0].ContextMap()["token"])
}

func TestLogger_OddKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	assert.NotPanics(t, func() { log.Error("odd", "k1", "v1", "dangling") })
	assert.Equal(t, 1, logs.Len())
}

func TestNewNop(t *testing.T) {
	assert.NotPanics(t, func() { NewNop().Info("discarded", "k", "v") })
}
