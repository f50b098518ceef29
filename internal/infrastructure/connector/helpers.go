// Package connector implements the adapters that talk to external CRM
// and ERP systems. Each adapter satisfies the integration.Connector port;
// behavior shared across adapters (status bookkeeping, activity logging,
// webhook dispatch, field transformation, sync cursors) lives in Helpers
// so concrete connectors only carry protocol-specific code.
package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/retry"
	"github.com/crmhub/backend/internal/infrastructure/transform"
)

// Helpers is the shared behavior composed into every concrete connector.
type Helpers struct {
	connections integration.ConnectionRepository
	syncLogs    integration.SyncLogRepository
	cursors     integration.SyncCursorRepository
	entities    integration.LocalEntityStore
	transformer *transform.Transformer
	log         *zap.Logger
}

// NewHelpers creates the shared connector helpers
func NewHelpers(
	connections integration.ConnectionRepository,
	syncLogs integration.SyncLogRepository,
	cursors integration.SyncCursorRepository,
	entities integration.LocalEntityStore,
	transformer *transform.Transformer,
	log *zap.Logger,
) *Helpers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Helpers{
		connections: connections,
		syncLogs:    syncLogs,
		cursors:     cursors,
		entities:    entities,
		transformer: transformer,
		log:         log,
	}
}

// UpdateSyncStatus writes the connection's sync bookkeeping columns
func (h *Helpers) UpdateSyncStatus(ctx context.Context, connectionID uuid.UUID, status integration.SyncStatus, errorMessage string, lastSyncAt *time.Time) error {
	if err := h.connections.UpdateSyncStatus(ctx, connectionID, status, errorMessage, lastSyncAt); err != nil {
		h.log.Error("failed to update sync status",
			zap.String("connection_id", connectionID.String()),
			zap.String("status", status.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// LogSyncActivity appends one entry to the sync activity trail. Logging
// failures are reported but never fail the sync that produced them.
func (h *Helpers) LogSyncActivity(ctx context.Context, tenantID, connectionID uuid.UUID, entityType integration.EntityType, op integration.SyncOperation, details map[string]any) {
	entry := integration.NewSyncLog(tenantID, connectionID, entityType, op, details)
	if err := h.syncLogs.Append(ctx, entry); err != nil {
		h.log.Warn("failed to append sync activity log",
			zap.String("connection_id", connectionID.String()),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}
}

// HandleSyncError records a pass-level sync failure: the connection lands
// on error status and the failure is written to the activity trail.
// Returns the original error wrapped with connection context.
func (h *Helpers) HandleSyncError(ctx context.Context, tenantID, connectionID uuid.UUID, entityType integration.EntityType, syncErr error) error {
	now := time.Now()
	if err := h.connections.UpdateSyncStatus(ctx, connectionID, integration.SyncStatusError, syncErr.Error(), &now); err != nil {
		h.log.Error("failed to record sync error status",
			zap.String("connection_id", connectionID.String()),
			zap.Error(err),
		)
	}

	h.LogSyncActivity(ctx, tenantID, connectionID, entityType, integration.SyncOperationError, map[string]any{
		"error": syncErr.Error(),
	})

	return fmt.Errorf("sync failed for connection %s: %w", connectionID, syncErr)
}

// TransformData applies the field mapping rules to one remote record
func (h *Helpers) TransformData(source integration.EntityRecord, rules []integration.FieldMapping) (integration.EntityRecord, error) {
	return h.transformer.Apply(source, rules)
}

// ProcessWebhook validates an inbound payload and dispatches it to the
// connector's per-event handler. Unknown event types are logged and
// ignored so new remote event kinds never break the inbound pipeline.
func (h *Helpers) ProcessWebhook(ctx context.Context, c integration.Connector, payload *integration.WebhookPayload) error {
	if payload == nil {
		return integration.ErrInvalidPayload
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	h.LogSyncActivity(ctx, payload.TenantID, c.ConnectionID(), payload.EntityType, integration.SyncOperationWebhookReceived, map[string]any{
		"event_id":   payload.EventID,
		"event_type": string(payload.EventType),
		"entity_id":  payload.EntityID,
	})

	var err error
	switch payload.EventType {
	case integration.WebhookEventCreate:
		err = c.HandleWebhookCreate(ctx, payload)
	case integration.WebhookEventUpdate:
		err = c.HandleWebhookUpdate(ctx, payload)
	case integration.WebhookEventDelete:
		err = c.HandleWebhookDelete(ctx, payload)
	default:
		h.log.Warn("ignoring webhook with unknown event type",
			zap.String("connection_id", c.ConnectionID().String()),
			zap.String("event_type", string(payload.EventType)),
		)
		return nil
	}
	if err != nil {
		return err
	}

	h.LogSyncActivity(ctx, payload.TenantID, c.ConnectionID(), payload.EntityType, integration.SyncOperationWebhookProcessed, map[string]any{
		"event_id":   payload.EventID,
		"event_type": string(payload.EventType),
		"entity_id":  payload.EntityID,
	})
	return nil
}

// SyncWindowStart returns the instant a changed-since pull should start
// from: the persisted cursor when one exists, otherwise the trailing
// lookback window.
func (h *Helpers) SyncWindowStart(ctx context.Context, connectionID uuid.UUID, entityType integration.EntityType, lookback time.Duration) time.Time {
	cursor, err := h.cursors.Find(ctx, connectionID, entityType)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.log.Warn("failed to load sync cursor, falling back to lookback window",
				zap.String("connection_id", connectionID.String()),
				zap.String("entity_type", entityType.String()),
				zap.Error(err),
			)
		}
		return time.Now().Add(-lookback)
	}
	return cursor.LastSyncedAt
}

// AdvanceCursor persists the sync high-water mark after a successful pass
func (h *Helpers) AdvanceCursor(ctx context.Context, connectionID uuid.UUID, entityType integration.EntityType, mark time.Time) error {
	return h.cursors.Save(ctx, &integration.SyncCursor{
		ConnectionID: connectionID,
		EntityType:   entityType,
		LastSyncedAt: mark,
	})
}

// UpsertLocal writes one transformed remote record into the local store,
// correlated by external id. Returns true when a new record was created.
func (h *Helpers) UpsertLocal(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string, record integration.EntityRecord) (bool, error) {
	_, err := h.entities.FindByExternalID(ctx, tenantID, entityType, externalID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			if err := h.entities.Create(ctx, tenantID, entityType, externalID, record); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, err
	}

	if err := h.entities.Update(ctx, tenantID, entityType, externalID, record); err != nil {
		return false, err
	}
	return false, nil
}

// UpsertRemoteRecords is the shared write half of a sync pass: each raw
// remote record is transformed under the mapping rules, correlated by
// the remote id key, and upserted locally in fixed-size batches. Failures
// are counted per record and never abort the remaining records; the
// returned result still needs Finalize.
func (h *Helpers) UpsertRemoteRecords(ctx context.Context, conn *integration.Connection, entityType integration.EntityType, cfg integration.SyncConfig, remote []integration.EntityRecord, remoteIDKey string) *integration.SyncResult {
	rules := cfg.FieldMappings[entityType]
	result := &integration.SyncResult{}

	recordFailure := func(externalID string, err error, msg string) {
		result.RecordsFailed++
		if result.ErrorMessage == "" {
			result.ErrorMessage = err.Error()
		}
		h.log.Warn(msg,
			zap.String("connection_id", conn.ID.String()),
			zap.String("entity_type", entityType.String()),
			zap.String("external_id", externalID),
			zap.Error(err),
		)
	}

	for _, batch := range retry.Batch(remote, cfg.BatchSize) {
		for _, raw := range batch {
			externalID, _ := raw[remoteIDKey].(string)
			if externalID == "" {
				recordFailure("", fmt.Errorf("remote record missing %q", remoteIDKey), "skipping remote record without id")
				continue
			}

			record, err := h.TransformData(raw, rules)
			if err != nil {
				recordFailure(externalID, err, "failed to transform remote record")
				continue
			}
			record[cfg.ExternalIDField] = externalID

			created, err := h.UpsertLocal(ctx, conn.TenantID, entityType, externalID, record)
			if err != nil {
				recordFailure(externalID, err, "failed to upsert local record")
				continue
			}
			if created {
				result.RecordsCreated++
			} else {
				result.RecordsUpdated++
			}
		}
	}
	return result
}

// DeleteLocal removes the local record correlated to the external id
func (h *Helpers) DeleteLocal(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string) error {
	return h.entities.Delete(ctx, tenantID, entityType, externalID)
}

// applyInboundChange is the shared webhook create/update path: transform
// the payload data under the connection's mapping rules and upsert it.
func (h *Helpers) applyInboundChange(ctx context.Context, conn *integration.Connection, payload *integration.WebhookPayload) error {
	rules := conn.SyncConfig.FieldMappings[payload.EntityType]

	record, err := h.TransformData(integration.EntityRecord(payload.Data), rules)
	if err != nil {
		return err
	}
	record[conn.SyncConfig.ExternalIDField] = payload.EntityID

	_, err = h.UpsertLocal(ctx, payload.TenantID, payload.EntityType, payload.EntityID, record)
	return err
}
