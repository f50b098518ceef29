package integration

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crmhub/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Connection Aggregate
// ---------------------------------------------------------------------------

// Connection is one tenant's configured link to an external system.
// It is mutated by every sync attempt (status, timestamp, error) and by
// explicit config/credential updates; it is never hard-deleted in normal
// operation, only soft-disabled via IsActive.
type Connection struct {
	shared.TenantEntity
	Name string
	Type IntegrationType

	// Config and Credentials are opaque blobs at this level; each concrete
	// connector parses and validates its own typed shape on load.
	Config      map[string]any
	Credentials map[string]any

	SyncConfig SyncConfig

	IsActive             bool
	SyncStatus           SyncStatus
	LastSyncAt           *time.Time
	LastError            string
	SyncFrequencyMinutes int
}

// NewConnection creates a new connection in pending state
func NewConnection(tenantID uuid.UUID, name string, integrationType IntegrationType) (*Connection, error) {
	if !integrationType.IsValid() {
		return nil, ErrUnsupportedIntegrationType
	}
	if name == "" {
		return nil, shared.ErrInvalidInput
	}

	conn := &Connection{
		TenantEntity:         shared.NewTenantEntity(tenantID),
		Name:                 name,
		Type:                 integrationType,
		Config:               make(map[string]any),
		Credentials:          make(map[string]any),
		IsActive:             true,
		SyncStatus:           SyncStatusPending,
		SyncFrequencyMinutes: 60,
	}
	conn.SyncConfig.ApplyDefaults()
	return conn, nil
}

// BeginSync transitions the connection into the transient syncing state
func (c *Connection) BeginSync() {
	c.SyncStatus = SyncStatusSyncing
	c.LastError = ""
	c.Touch()
}

// CompleteSync records the outcome of a sync pass. The connection always
// lands on success or error; syncing is never a resting state.
func (c *Connection) CompleteSync(result *SyncResult) {
	now := time.Now()
	c.LastSyncAt = &now
	if result.Success {
		c.SyncStatus = SyncStatusSuccess
		c.LastError = ""
	} else {
		c.SyncStatus = SyncStatusError
		c.LastError = result.ErrorMessage
	}
	c.Touch()
}

// MarkError records a sync failure that prevented the pass from completing
func (c *Connection) MarkError(message string) {
	now := time.Now()
	c.LastSyncAt = &now
	c.SyncStatus = SyncStatusError
	c.LastError = message
	c.Touch()
}

// Disable soft-disables the connection; the sync trigger skips it
func (c *Connection) Disable() {
	c.IsActive = false
	c.SyncStatus = SyncStatusDisabled
	c.Touch()
}

// Enable re-activates a disabled connection
func (c *Connection) Enable() {
	c.IsActive = true
	c.SyncStatus = SyncStatusPending
	c.Touch()
}

// SyncInterval returns the configured sync frequency as a duration
func (c *Connection) SyncInterval() time.Duration {
	if c.SyncFrequencyMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.SyncFrequencyMinutes) * time.Minute
}

// DueForSync returns true if the connection should be synced at the given
// instant, based on its frequency and last sync time
func (c *Connection) DueForSync(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.LastSyncAt == nil {
		return true
	}
	return now.Sub(*c.LastSyncAt) >= c.SyncInterval()
}

// ---------------------------------------------------------------------------
// Sync Activity Log
// ---------------------------------------------------------------------------

// SyncOperation names a sync lifecycle event in the activity log
type SyncOperation string

const (
	SyncOperationStart            SyncOperation = "sync_start"
	SyncOperationComplete         SyncOperation = "sync_complete"
	SyncOperationError            SyncOperation = "sync_error"
	SyncOperationWebhookReceived  SyncOperation = "webhook_received"
	SyncOperationWebhookProcessed SyncOperation = "webhook_processed"
)

// SyncLog is one append-only audit entry of the sync lifecycle
type SyncLog struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ConnectionID uuid.UUID
	EntityType   EntityType
	Operation    SyncOperation
	Details      map[string]any
	CreatedAt    time.Time
}

// NewSyncLog creates a log entry for a connection
func NewSyncLog(tenantID, connectionID uuid.UUID, entityType EntityType, op SyncOperation, details map[string]any) *SyncLog {
	return &SyncLog{
		ID:           uuid.New(),
		TenantID:     tenantID,
		ConnectionID: connectionID,
		EntityType:   entityType,
		Operation:    op,
		Details:      details,
		CreatedAt:    time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Sync Cursor
// ---------------------------------------------------------------------------

// SyncCursor is the per-(connection, entity type) high-water mark of the
// last successful pull. It replaces a fixed trailing change window once a
// first sync has succeeded.
type SyncCursor struct {
	ConnectionID uuid.UUID
	EntityType   EntityType
	LastSyncedAt time.Time
	UpdatedAt    time.Time
}

// ---------------------------------------------------------------------------
// Repository Interfaces
// ---------------------------------------------------------------------------

// ConnectionFilter narrows connection queries
type ConnectionFilter struct {
	Type       *IntegrationType
	IsActive   *bool
	SyncStatus *SyncStatus
	Page       int
	PageSize   int
}

// ConnectionRepository persists Connection aggregates
type ConnectionRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Connection, error)
	FindAll(ctx context.Context, tenantID uuid.UUID, filter ConnectionFilter) ([]Connection, error)
	Count(ctx context.Context, tenantID uuid.UUID, filter ConnectionFilter) (int64, error)
	FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]Connection, error)
	// FindAllActive returns active connections across all tenants, for the
	// periodic sync sweep
	FindAllActive(ctx context.Context) ([]Connection, error)
	Save(ctx context.Context, conn *Connection) error
	// UpdateSyncStatus writes only the sync bookkeeping columns so
	// concurrent config edits are not clobbered mid-sync
	UpdateSyncStatus(ctx context.Context, id uuid.UUID, status SyncStatus, errorMessage string, lastSyncAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// SyncLogRepository is the append-only sync activity trail
type SyncLogRepository interface {
	Append(ctx context.Context, entry *SyncLog) error
	FindByConnection(ctx context.Context, tenantID, connectionID uuid.UUID, limit int) ([]SyncLog, error)
}

// SyncCursorRepository persists sync high-water marks
type SyncCursorRepository interface {
	Find(ctx context.Context, connectionID uuid.UUID, entityType EntityType) (*SyncCursor, error)
	Save(ctx context.Context, cursor *SyncCursor) error
}

// LocalEntityStore is the persistence side of a sync pass: the local CRM
// records that remote records are correlated against and upserted into.
// The relational schema behind it is not this subsystem's concern.
type LocalEntityStore interface {
	// FindByExternalID looks up a local record by the remote correlation id
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, entityType EntityType, externalID string) (EntityRecord, error)
	Create(ctx context.Context, tenantID uuid.UUID, entityType EntityType, externalID string, record EntityRecord) error
	Update(ctx context.Context, tenantID uuid.UUID, entityType EntityType, externalID string, record EntityRecord) error
	Delete(ctx context.Context, tenantID uuid.UUID, entityType EntityType, externalID string) error
}
