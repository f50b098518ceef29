package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/infrastructure/config"
	"github.com/crmhub/backend/internal/infrastructure/connector"
)

// SyncSweeper runs one sync pass over all active connections that are due
type SyncSweeper interface {
	SyncAllIntegrations(ctx context.Context) (*connector.SweepResult, error)
}

// WebhookRetrier re-attempts failed webhook deliveries whose backoff has
// elapsed and reports how many were attempted
type WebhookRetrier interface {
	RetryFailedWebhooks(ctx context.Context) (int, error)
}

// SweepTrigger drives the periodic background sweeps. The sync loop asks
// the sweeper to sync every due connection; the retry loop re-attempts
// failed webhook deliveries. Each loop runs on its own ticker.
type SweepTrigger struct {
	syncer  SyncSweeper
	retrier WebhookRetrier
	logger  *zap.Logger

	syncEnabled   bool
	syncInterval  time.Duration
	syncTimeout   time.Duration
	sweepEnabled  bool
	sweepInterval time.Duration

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSweepTrigger creates a trigger from the sync and webhook sections of
// the application config
func NewSweepTrigger(
	syncer SyncSweeper,
	retrier WebhookRetrier,
	syncCfg config.SyncConfig,
	webhookCfg config.WebhookConfig,
	logger *zap.Logger,
) *SweepTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	syncInterval := syncCfg.CheckInterval
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}
	sweepInterval := webhookCfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &SweepTrigger{
		syncer:        syncer,
		retrier:       retrier,
		logger:        logger,
		syncEnabled:   syncCfg.Enabled,
		syncInterval:  syncInterval,
		syncTimeout:   syncCfg.JobTimeout,
		sweepEnabled:  webhookCfg.SweepEnabled,
		sweepInterval: sweepInterval,
	}
}

// Start launches the enabled sweep loops
func (t *SweepTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	if t.syncEnabled {
		t.wg.Add(1)
		go t.syncLoop(ctx)
	}
	if t.sweepEnabled {
		t.wg.Add(1)
		go t.retryLoop(ctx)
	}

	t.logger.Info("sweep trigger started",
		zap.Bool("sync_enabled", t.syncEnabled),
		zap.Duration("sync_interval", t.syncInterval),
		zap.Bool("webhook_sweep_enabled", t.sweepEnabled),
		zap.Duration("webhook_sweep_interval", t.sweepInterval),
	)

	return nil
}

// Stop gracefully stops the sweep loops
func (t *SweepTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("sweep trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// syncLoop periodically syncs every due connection
func (t *SweepTrigger) syncLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.syncInterval)
	defer ticker.Stop()

	// Run immediately on start
	t.runSyncSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runSyncSweep(ctx)
		}
	}
}

func (t *SweepTrigger) runSyncSweep(ctx context.Context) {
	if t.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.syncTimeout)
		defer cancel()
	}

	sweep, err := t.syncer.SyncAllIntegrations(ctx)
	if err != nil {
		t.logger.Error("sync sweep failed", zap.Error(err))
		return
	}
	if sweep.Synced > 0 || sweep.Failed > 0 {
		t.logger.Info("sync sweep completed",
			zap.Int("total", sweep.Total),
			zap.Int("synced", sweep.Synced),
			zap.Int("failed", sweep.Failed),
			zap.Int("skipped", sweep.Skipped),
		)
	}
}

// retryLoop periodically re-attempts failed webhook deliveries
func (t *SweepTrigger) retryLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runRetrySweep(ctx)
		}
	}
}

func (t *SweepTrigger) runRetrySweep(ctx context.Context) {
	attempted, err := t.retrier.RetryFailedWebhooks(ctx)
	if err != nil {
		t.logger.Error("webhook retry sweep failed", zap.Error(err))
		return
	}
	if attempted > 0 {
		t.logger.Debug("webhook retry sweep completed", zap.Int("attempted", attempted))
	}
}
