package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
)

// Manager resolves, caches, and orchestrates connectors. Cached
// connectors keep session state (tokens) across calls; the cache entry
// must be invalidated whenever a connection's config or credentials
// change so the next call rebuilds the connector from fresh state.
type Manager struct {
	registry    integration.ConnectorRegistry
	connections integration.ConnectionRepository
	helpers     *Helpers
	log         *zap.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]integration.Connector
}

// NewManager creates a connector manager
func NewManager(registry integration.ConnectorRegistry, connections integration.ConnectionRepository, helpers *Helpers, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		registry:    registry,
		connections: connections,
		helpers:     helpers,
		log:         log,
		cache:       make(map[uuid.UUID]integration.Connector),
	}
}

// GetConnector returns the connector for a connection the tenant owns,
// resolving and caching one on first use. Ownership is re-checked on
// every call: the cache only short-circuits connector construction,
// never the tenant lookup, so a cached connector is unreachable under a
// foreign tenant id.
func (m *Manager) GetConnector(ctx context.Context, tenantID, connectionID uuid.UUID) (integration.Connector, error) {
	conn, err := m.connections.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	return m.connectorFor(conn)
}

// connectorFor resolves a connector for an already-loaded connection,
// consulting and filling the cache
func (m *Manager) connectorFor(conn *integration.Connection) (integration.Connector, error) {
	if !conn.IsActive {
		return nil, integration.ErrConnectionDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.cache[conn.ID]; ok {
		return cached, nil
	}

	connector, err := m.registry.Resolve(conn)
	if err != nil {
		return nil, err
	}
	m.cache[conn.ID] = connector
	return connector, nil
}

// Invalidate evicts a connection's cached connector. Call after any
// config or credential update, and after disabling a connection.
func (m *Manager) Invalidate(connectionID uuid.UUID) {
	m.mu.Lock()
	delete(m.cache, connectionID)
	m.mu.Unlock()
}

// CacheSize returns the number of cached connectors (for monitoring)
func (m *Manager) CacheSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// TestIntegration verifies connectivity for a connection without
// mutating its sync state
func (m *Manager) TestIntegration(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error) {
	connector, err := m.GetConnector(ctx, tenantID, connectionID)
	if err != nil {
		return false, err
	}
	return connector.TestConnection(ctx), nil
}

// AuthenticateIntegration establishes a session for a connection
func (m *Manager) AuthenticateIntegration(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error) {
	connector, err := m.GetConnector(ctx, tenantID, connectionID)
	if err != nil {
		return false, err
	}
	return connector.Authenticate(ctx), nil
}

// ProcessWebhook routes an inbound webhook payload to the owning
// connection's connector
func (m *Manager) ProcessWebhook(ctx context.Context, tenantID, connectionID uuid.UUID, payload *integration.WebhookPayload) error {
	connector, err := m.GetConnector(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}
	return m.helpers.ProcessWebhook(ctx, connector, payload)
}

// SyncIntegration runs a full sync pass for one connection
func (m *Manager) SyncIntegration(ctx context.Context, tenantID, connectionID uuid.UUID) (*integration.SyncResult, error) {
	conn, err := m.connections.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	return m.syncConnection(ctx, conn)
}

// syncConnection syncs every configured entity type of one connection.
// The connection transitions pending/... -> syncing -> success|error;
// syncing is never a resting state. Per-entity results are aggregated
// into one connection-level result.
func (m *Manager) syncConnection(ctx context.Context, conn *integration.Connection) (*integration.SyncResult, error) {
	if !conn.IsActive {
		return nil, integration.ErrConnectionDisabled
	}

	connector, err := m.connectorFor(conn)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	conn.BeginSync()
	if err := m.helpers.UpdateSyncStatus(ctx, conn.ID, conn.SyncStatus, conn.LastError, nil); err != nil {
		return nil, err
	}
	m.helpers.LogSyncActivity(ctx, conn.TenantID, conn.ID, "", integration.SyncOperationStart, map[string]any{
		"entity_types": conn.SyncConfig.EntityTypes,
	})

	aggregate := &integration.SyncResult{}
	for _, entityType := range conn.SyncConfig.EntityTypes {
		result, err := connector.SyncData(ctx, entityType, conn.SyncConfig)
		if err != nil {
			// Pass-level failure for this entity type; remaining entity
			// types still get their chance
			aggregate.RecordsFailed++
			if aggregate.ErrorMessage == "" {
				aggregate.ErrorMessage = fmt.Sprintf("%s: %v", entityType, err)
			}
			m.helpers.LogSyncActivity(ctx, conn.TenantID, conn.ID, entityType, integration.SyncOperationError, map[string]any{
				"error": err.Error(),
			})
			continue
		}

		aggregate.RecordsCreated += result.RecordsCreated
		aggregate.RecordsUpdated += result.RecordsUpdated
		aggregate.RecordsFailed += result.RecordsFailed
		if aggregate.ErrorMessage == "" && result.ErrorMessage != "" {
			aggregate.ErrorMessage = fmt.Sprintf("%s: %s", entityType, result.ErrorMessage)
		}

		m.helpers.LogSyncActivity(ctx, conn.TenantID, conn.ID, entityType, integration.SyncOperationComplete, map[string]any{
			"records_processed": result.RecordsProcessed,
			"records_created":   result.RecordsCreated,
			"records_updated":   result.RecordsUpdated,
			"records_failed":    result.RecordsFailed,
			"duration_ms":       result.Duration.Milliseconds(),
		})
	}
	aggregate.Finalize(started)

	conn.CompleteSync(aggregate)
	if err := m.helpers.UpdateSyncStatus(ctx, conn.ID, conn.SyncStatus, conn.LastError, conn.LastSyncAt); err != nil {
		return aggregate, err
	}

	m.log.Info("sync pass finished",
		zap.String("connection_id", conn.ID.String()),
		zap.String("status", conn.SyncStatus.String()),
		zap.Int("records_processed", aggregate.RecordsProcessed),
		zap.Int("records_failed", aggregate.RecordsFailed),
		zap.Duration("duration", aggregate.Duration),
	)
	return aggregate, nil
}

// SweepResult summarizes one sweep over all active connections
type SweepResult struct {
	Total   int
	Synced  int
	Failed  int
	Skipped int
}

// SyncAllIntegrations syncs every active connection that is due, across
// all tenants. Reserved for the background trigger; tenant-facing
// callers go through SyncTenantIntegrations. One connector's failure
// (or panic) never affects the others.
func (m *Manager) SyncAllIntegrations(ctx context.Context) (*SweepResult, error) {
	conns, err := m.connections.FindAllActive(ctx)
	if err != nil {
		return nil, err
	}
	return m.sweep(ctx, conns), nil
}

// SyncTenantIntegrations syncs the tenant's own active connections that
// are due, with the same per-connector isolation as the global sweep
func (m *Manager) SyncTenantIntegrations(ctx context.Context, tenantID uuid.UUID) (*SweepResult, error) {
	conns, err := m.connections.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return m.sweep(ctx, conns), nil
}

func (m *Manager) sweep(ctx context.Context, conns []integration.Connection) *SweepResult {
	sweep := &SweepResult{Total: len(conns)}
	now := time.Now()
	for i := range conns {
		conn := &conns[i]
		if !conn.DueForSync(now) {
			sweep.Skipped++
			continue
		}

		if err := m.syncConnectionIsolated(ctx, conn); err != nil {
			sweep.Failed++
			m.log.Error("sync failed for connection",
				zap.String("connection_id", conn.ID.String()),
				zap.String("type", conn.Type.String()),
				zap.Error(err),
			)
			continue
		}
		sweep.Synced++
	}

	m.log.Info("sync sweep finished",
		zap.Int("total", sweep.Total),
		zap.Int("synced", sweep.Synced),
		zap.Int("failed", sweep.Failed),
		zap.Int("skipped", sweep.Skipped),
	)
	return sweep
}

// syncConnectionIsolated converts a panicking connector into an error so
// the sweep survives misbehaving adapters
func (m *Manager) syncConnectionIsolated(ctx context.Context, conn *integration.Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connector panicked: %v", r)
			conn.MarkError(err.Error())
			if statusErr := m.helpers.UpdateSyncStatus(ctx, conn.ID, conn.SyncStatus, conn.LastError, conn.LastSyncAt); statusErr != nil {
				m.log.Error("failed to record panic status",
					zap.String("connection_id", conn.ID.String()),
					zap.Error(statusErr),
				)
			}
		}
	}()

	result, err := m.syncConnection(ctx, conn)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("sync completed with %d failed records: %s", result.RecordsFailed, result.ErrorMessage)
	}
	return nil
}
