package logutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetLogger_DefaultsToNop(t *testing.T) {
	logger.Store(nil)
	assert.NotNil(t, GetLogger())
}

func TestInitLogger_RejectsUnknownLevel(t *testing.T) {
	err := InitLogger("loud", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestInitLogger_SetsLevel(t *testing.T) {
	require.NoError(t, InitLogger("warn", false))
	t.Cleanup(func() { logger.Store(nil) })

	assert.False(t, GetLogger().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, GetLogger().Core().Enabled(zapcore.WarnLevel))
}

func TestSetLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { logger.Store(nil) })

	GetLogger().Info("hello", zap.Int("n", 1))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello", logs.All()[0].Message)
}
