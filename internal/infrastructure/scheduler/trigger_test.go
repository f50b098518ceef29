package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/infrastructure/config"
	"github.com/crmhub/backend/internal/infrastructure/connector"
)

type fakeSweeper struct {
	calls int32
	err   error
}

func (f *fakeSweeper) SyncAllIntegrations(context.Context) (*connector.SweepResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &connector.SweepResult{Total: 2, Synced: 2}, nil
}

type fakeRetrier struct {
	calls int32
}

func (f *fakeRetrier) RetryFailedWebhooks(context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return 1, nil
}

func TestSweepTrigger_RunsEnabledLoops(t *testing.T) {
	sweeper := &fakeSweeper{}
	retrier := &fakeRetrier{}
	trigger := NewSweepTrigger(sweeper, retrier,
		config.SyncConfig{Enabled: true, CheckInterval: 10 * time.Millisecond},
		config.WebhookConfig{SweepEnabled: true, SweepInterval: 10 * time.Millisecond},
		zap.NewNop(),
	)

	ctx := context.Background()
	require.NoError(t, trigger.Start(ctx))
	// Start again should be idempotent
	require.NoError(t, trigger.Start(ctx))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&sweeper.calls) >= 2 && atomic.LoadInt32(&retrier.calls) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(stopCtx))
	// Stop again should be idempotent
	require.NoError(t, trigger.Stop(stopCtx))
}

func TestSweepTrigger_DisabledLoopsNeverRun(t *testing.T) {
	sweeper := &fakeSweeper{}
	retrier := &fakeRetrier{}
	trigger := NewSweepTrigger(sweeper, retrier,
		config.SyncConfig{Enabled: false, CheckInterval: time.Millisecond},
		config.WebhookConfig{SweepEnabled: false, SweepInterval: time.Millisecond},
		zap.NewNop(),
	)

	ctx := context.Background()
	require.NoError(t, trigger.Start(ctx))

	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(stopCtx))

	assert.Equal(t, int32(0), atomic.LoadInt32(&sweeper.calls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&retrier.calls))
}

func TestSweepTrigger_SweepFailureKeepsLooping(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("database gone")}
	trigger := NewSweepTrigger(sweeper, &fakeRetrier{},
		config.SyncConfig{Enabled: true, CheckInterval: 10 * time.Millisecond},
		config.WebhookConfig{},
		zap.NewNop(),
	)

	ctx := context.Background()
	require.NoError(t, trigger.Start(ctx))

	// Errors are logged, not fatal: the loop keeps ticking
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&sweeper.calls) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(stopCtx))
}
