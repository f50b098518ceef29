package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.opentelemetry.io/otel/metric"
)

// IntegrationMetrics tracks sync and webhook activity across all CRM
// connections: pass outcomes, per-record outcomes, inbound webhook results
// and outbound delivery attempts, plus connector cache occupancy.
type IntegrationMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	syncPassesTotal        *Counter
	syncRecordsTotal       *Counter
	webhookEventsTotal     *Counter
	webhookDeliveriesTotal *Counter

	syncDuration     *Histogram
	deliveryDuration *Histogram

	connectorCacheSize *Gauge
	activeConnections  *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	cacheStats      ConnectorCacheStats
	connectionStats ConnectionStats
}

// ConnectorCacheStats reports connector cache occupancy. Satisfied by the
// connector manager.
type ConnectorCacheStats interface {
	CacheSize() int
}

// ConnectionStats reports active connection counts grouped by integration
// type, for the periodic gauge collection.
type ConnectionStats interface {
	CountActiveByType(ctx context.Context) (map[string]int64, error)
}

// IntegrationMetricsConfig holds configuration for integration metrics.
type IntegrationMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // default 1 minute
	CacheStats      ConnectorCacheStats
	ConnectionStats ConnectionStats
}

// NewIntegrationMetrics creates the instruments on the given meter.
func NewIntegrationMetrics(cfg IntegrationMetricsConfig) (*IntegrationMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	im := &IntegrationMetrics{
		meter:           cfg.Meter,
		logger:          logger,
		stopChan:        make(chan struct{}),
		cacheStats:      cfg.CacheStats,
		connectionStats: cfg.ConnectionStats,
	}

	var err error

	im.syncPassesTotal, err = NewCounter(
		cfg.Meter,
		"crm_sync_passes_total",
		"Total sync passes by outcome",
		"{passes}",
	)
	if err != nil {
		return nil, err
	}

	im.syncRecordsTotal, err = NewCounter(
		cfg.Meter,
		"crm_sync_records_total",
		"Total records processed by sync passes, by outcome",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	im.webhookEventsTotal, err = NewCounter(
		cfg.Meter,
		"crm_webhook_events_total",
		"Total inbound webhook events by result",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	im.webhookDeliveriesTotal, err = NewCounter(
		cfg.Meter,
		"crm_webhook_deliveries_total",
		"Total outbound webhook delivery attempts by status",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	im.syncDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "crm_sync_duration_seconds",
		Description: "Duration of sync passes",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	im.deliveryDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "crm_webhook_delivery_duration_seconds",
		Description: "Duration of outbound webhook delivery attempts",
		Unit:        "s",
		Boundaries:  WebhookDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	im.connectorCacheSize, err = NewGauge(
		cfg.Meter,
		"crm_connector_cache_size",
		"Connectors currently held in the cache",
		"{connectors}",
	)
	if err != nil {
		return nil, err
	}

	im.activeConnections, err = NewGauge(
		cfg.Meter,
		"crm_active_connections",
		"Active integration connections by type",
		"{connections}",
	)
	if err != nil {
		return nil, err
	}

	return im, nil
}

// ---------------------------------------------------------------------------
// Sync metrics
// ---------------------------------------------------------------------------

// SyncPassStatus labels the outcome of a sync pass.
type SyncPassStatus string

const (
	SyncPassSuccess SyncPassStatus = "success"
	SyncPassPartial SyncPassStatus = "partial"
	SyncPassFailed  SyncPassStatus = "failed"
)

// RecordOutcome labels what happened to an individual record during a pass.
type RecordOutcome string

const (
	RecordOutcomeCreated RecordOutcome = "created"
	RecordOutcomeUpdated RecordOutcome = "updated"
	RecordOutcomeFailed  RecordOutcome = "failed"
)

// RecordSyncPass records one completed sync pass and its duration.
func (im *IntegrationMetrics) RecordSyncPass(ctx context.Context, tenantID uuid.UUID, integrationType string, status SyncPassStatus, duration time.Duration) {
	im.syncPassesTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrIntegrationType.String(integrationType),
		AttrStatus.String(string(status)),
	)
	im.syncDuration.RecordDuration(ctx, duration,
		AttrIntegrationType.String(integrationType),
		AttrStatus.String(string(status)),
	)
}

// RecordSyncRecords records the per-record tallies of a pass. Zero counts
// are skipped so dashboards only see series that actually moved.
func (im *IntegrationMetrics) RecordSyncRecords(ctx context.Context, tenantID uuid.UUID, integrationType, entityType string, created, updated, failed int64) {
	outcomes := []struct {
		outcome RecordOutcome
		count   int64
	}{
		{RecordOutcomeCreated, created},
		{RecordOutcomeUpdated, updated},
		{RecordOutcomeFailed, failed},
	}

	for _, o := range outcomes {
		if o.count <= 0 {
			continue
		}
		im.syncRecordsTotal.Add(ctx, o.count,
			AttrTenantID.String(tenantID.String()),
			AttrIntegrationType.String(integrationType),
			AttrEntityType.String(entityType),
			AttrOutcome.String(string(o.outcome)),
		)
	}
}

// ---------------------------------------------------------------------------
// Webhook metrics
// ---------------------------------------------------------------------------

// WebhookResult labels how an inbound webhook event was handled.
type WebhookResult string

const (
	WebhookResultProcessed WebhookResult = "processed"
	WebhookResultDuplicate WebhookResult = "duplicate"
	WebhookResultRejected  WebhookResult = "rejected"
)

// RecordWebhookEvent records one inbound webhook event.
func (im *IntegrationMetrics) RecordWebhookEvent(ctx context.Context, integrationType string, result WebhookResult) {
	im.webhookEventsTotal.Inc(ctx,
		AttrIntegrationType.String(integrationType),
		AttrStatus.String(string(result)),
	)
}

// RecordWebhookDelivery records one outbound delivery attempt with the
// delivery status it ended in (delivered, retrying, failed).
func (im *IntegrationMetrics) RecordWebhookDelivery(ctx context.Context, eventType, status string, duration time.Duration) {
	im.webhookDeliveriesTotal.Inc(ctx,
		AttrEventType.String(eventType),
		AttrStatus.String(status),
	)
	im.deliveryDuration.RecordDuration(ctx, duration,
		AttrEventType.String(eventType),
		AttrStatus.String(status),
	)
}

// ---------------------------------------------------------------------------
// Periodic gauge collection
// ---------------------------------------------------------------------------

// StartPeriodicCollection starts the gauge collection loop. Non-blocking;
// call Stop to end it. Subsequent calls are no-ops.
func (im *IntegrationMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	im.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}
		go im.runPeriodicCollection(ctx, interval)
	})
}

func (im *IntegrationMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	im.collectGauges(ctx)

	for {
		select {
		case <-im.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			im.collectGauges(ctx)
		}
	}
}

func (im *IntegrationMetrics) collectGauges(ctx context.Context) {
	if im.cacheStats != nil {
		im.connectorCacheSize.Record(ctx, int64(im.cacheStats.CacheSize()))
	}

	if im.connectionStats != nil {
		counts, err := im.connectionStats.CountActiveByType(ctx)
		if err != nil {
			im.logger.Warn("failed to collect active connection counts", zap.Error(err))
			return
		}
		for integrationType, count := range counts {
			im.activeConnections.Record(ctx, count,
				AttrIntegrationType.String(integrationType),
			)
		}
	}
}

// Stop ends the periodic collection loop.
func (im *IntegrationMetrics) Stop() {
	im.stopOnce.Do(func() {
		close(im.stopChan)
	})
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ErrMeterNil is returned when the meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewIntegrationMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics setup error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
