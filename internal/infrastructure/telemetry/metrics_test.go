package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/infrastructure/telemetry"
)

func TestMeterProvider_Disabled(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled: false,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("test"))
	assert.NoError(t, mp.Shutdown(context.Background()))
	assert.NoError(t, mp.ForceFlush(context.Background()))
}

func TestInstrumentHelpers(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	ctx := context.Background()

	t.Run("counter", func(t *testing.T) {
		c, err := telemetry.NewCounter(meter, "test_total", "test counter", "{items}")
		require.NoError(t, err)
		assert.NotPanics(t, func() {
			c.Inc(ctx, telemetry.AttrStatus.String("ok"))
			c.Add(ctx, 5)
		})
	})

	t.Run("histogram", func(t *testing.T) {
		h, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
			Name:        "test_duration_seconds",
			Description: "test histogram",
			Unit:        "s",
			Boundaries:  telemetry.SyncDurationBuckets,
		})
		require.NoError(t, err)
		assert.NotPanics(t, func() {
			h.Record(ctx, 1.5)
			h.RecordDuration(ctx, 250*time.Millisecond)
		})
	})

	t.Run("gauge", func(t *testing.T) {
		g, err := telemetry.NewGauge(meter, "test_size", "test gauge", "{items}")
		require.NoError(t, err)
		assert.NotPanics(t, func() {
			g.Record(ctx, 42)
		})
	})

	t.Run("float gauge", func(t *testing.T) {
		g, err := telemetry.NewFloatGauge(meter, "test_ratio", "test float gauge", "1")
		require.NoError(t, err)
		assert.NotPanics(t, func() {
			g.Record(ctx, 0.75)
		})
	})
}
