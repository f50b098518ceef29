package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crmhub/backend/internal/infrastructure/telemetry"
)

func TestLoggerProvider_Disabled(t *testing.T) {
	lp, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{
		Enabled: false,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.Nil(t, lp.GetLoggerProvider())
	assert.NoError(t, lp.Shutdown(context.Background()))
	assert.NoError(t, lp.ForceFlush(context.Background()))
}

func TestNewZapOTELCore_DisabledProvider(t *testing.T) {
	lp, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{
		Enabled: false,
	}, zap.NewNop())
	require.NoError(t, err)

	core := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    "crmhub-backend",
		LoggerProvider: lp,
		Level:          zapcore.InfoLevel,
	})

	// Disabled export falls back to a no-op core
	assert.NotNil(t, core)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
}

func TestNewZapOTELCore_NilProvider(t *testing.T) {
	core := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName: "crmhub-backend",
	})
	assert.NotNil(t, core)
}

func TestCreateBridgedLoggerFromConfig(t *testing.T) {
	lp, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{
		Enabled: false,
	}, zap.NewNop())
	require.NoError(t, err)

	logger, err := telemetry.CreateBridgedLoggerFromConfig(
		telemetry.DefaultBaseLoggerConfig(), lp, "crmhub-backend")
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.NotPanics(t, func() {
		logger.Info("bridged logger works", zap.String("connection_id", "test"))
	})
}

func TestDefaultBaseLoggerConfig(t *testing.T) {
	cfg := telemetry.DefaultBaseLoggerConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.NotEmpty(t, cfg.TimeFormat)
}
