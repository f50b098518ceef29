package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// Factory/registry errors
	ErrUnsupportedIntegrationType = errors.New("integration: unsupported integration type")
	ErrConnectionNotFound         = errors.New("integration: connection not found")
	ErrConnectionDisabled         = errors.New("integration: connection is disabled")

	// Remote system errors
	ErrRemoteUnavailable     = errors.New("integration: remote system temporarily unavailable")
	ErrRemoteRequestFailed   = errors.New("integration: remote system request failed")
	ErrRemoteInvalidResponse = errors.New("integration: invalid remote system response")
	ErrRemoteAuthFailed      = errors.New("integration: remote system authentication failed")
	ErrNotAuthenticated      = errors.New("integration: connector not authenticated")
	ErrEntityNotFound        = errors.New("integration: remote entity not found")
	ErrEntityTypeNotMapped   = errors.New("integration: entity type not mapped for this connector")

	// Webhook errors
	ErrWebhookConfigNotFound = errors.New("integration: webhook configuration not found")
	ErrDeliveryNotFound      = errors.New("integration: webhook delivery not found")
	ErrInvalidSignature      = errors.New("integration: invalid webhook signature")
	ErrInvalidPayload        = errors.New("integration: invalid webhook payload")
)

// MissingRequiredFieldError indicates that a field mapping marked required
// had no value in the source record. Only an absent key counts as missing;
// an empty-but-present value is allowed.
type MissingRequiredFieldError struct {
	Field string
}

// Error implements the error interface
func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("integration: required field %q missing from source record", e.Field)
}

// ---------------------------------------------------------------------------
// IntegrationType
// ---------------------------------------------------------------------------

// IntegrationType identifies the kind of external system a connection
// talks to.
type IntegrationType string

const (
	// IntegrationTypeSalesforce is the Salesforce CRM REST API
	IntegrationTypeSalesforce IntegrationType = "SALESFORCE"
	// IntegrationTypeMonday is the Monday.com board API
	IntegrationTypeMonday IntegrationType = "MONDAY"
	// IntegrationTypeSAP is the SAP ERP OData API
	IntegrationTypeSAP IntegrationType = "SAP"
	// IntegrationTypeOracle is the Oracle ERP Cloud API
	IntegrationTypeOracle IntegrationType = "ORACLE"
	// IntegrationTypeWorkday is the Workday HCM API
	IntegrationTypeWorkday IntegrationType = "WORKDAY"
	// IntegrationTypeCustom is a generic webhook-only integration
	IntegrationTypeCustom IntegrationType = "CUSTOM"
)

// IsValid returns true if the integration type is valid
func (t IntegrationType) IsValid() bool {
	switch t {
	case IntegrationTypeSalesforce, IntegrationTypeMonday, IntegrationTypeSAP,
		IntegrationTypeOracle, IntegrationTypeWorkday, IntegrationTypeCustom:
		return true
	default:
		return false
	}
}

// String returns the string representation of IntegrationType
func (t IntegrationType) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType names a local CRM entity kind that can be synced with a
// remote system.
type EntityType string

const (
	// EntityTypeContact is a person record
	EntityTypeContact EntityType = "contact"
	// EntityTypeAccount is a company record
	EntityTypeAccount EntityType = "account"
	// EntityTypeDeal is an opportunity/deal record
	EntityTypeDeal EntityType = "deal"
)

// IsValid returns true if the entity type is valid
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeContact, EntityTypeAccount, EntityTypeDeal:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// SyncStatus
// ---------------------------------------------------------------------------

// SyncStatus represents the synchronization status of a connection.
// "syncing" is transient: a connection is guaranteed to land on "success"
// or "error" by the time a sync call returns.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSyncing  SyncStatus = "syncing"
	SyncStatusSuccess  SyncStatus = "success"
	SyncStatusError    SyncStatus = "error"
	SyncStatusDisabled SyncStatus = "disabled"
)

// IsValid returns true if the status is valid
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSyncing, SyncStatusSuccess, SyncStatusError, SyncStatusDisabled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status is a resting state (not mid-sync)
func (s SyncStatus) IsTerminal() bool {
	return s != SyncStatusSyncing
}

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Value Objects
// ---------------------------------------------------------------------------

// EntityRecord is a schemaless record exchanged with a remote system.
// Field transformation rules decide which keys survive the translation.
type EntityRecord map[string]any

// SyncResult summarizes one sync pass for one entity type.
type SyncResult struct {
	// Success is true iff no record failed
	Success bool
	// RecordsProcessed = RecordsCreated + RecordsUpdated + RecordsFailed
	RecordsProcessed int
	RecordsCreated   int
	RecordsUpdated   int
	RecordsFailed    int
	// ErrorMessage carries the first or most representative failure
	ErrorMessage string
	// Duration is how long the pass took
	Duration time.Duration
}

// Finalize computes the derived fields from the per-record counters.
func (r *SyncResult) Finalize(started time.Time) {
	r.RecordsProcessed = r.RecordsCreated + r.RecordsUpdated + r.RecordsFailed
	r.Success = r.RecordsFailed == 0
	r.Duration = time.Since(started)
}

// SyncConfig controls one connector's sync behavior. It is persisted as a
// JSON blob on the connection and parsed into this typed form on load.
type SyncConfig struct {
	// EntityTypes lists the entity kinds this connection syncs
	EntityTypes []EntityType `json:"entity_types"`
	// FieldMappings holds the per-entity mapping rules, remote -> local
	FieldMappings map[EntityType][]FieldMapping `json:"field_mappings"`
	// ExternalIDField is the local field holding the remote record id,
	// used to correlate remote records with local ones
	ExternalIDField string `json:"external_id_field"`
	// BatchSize bounds how many records are written per batch
	BatchSize int `json:"batch_size"`
	// LookbackWindow is the trailing change window used on a first sync,
	// before any cursor has been persisted
	LookbackWindow time.Duration `json:"lookback_window"`
}

// ApplyDefaults fills zero values with safe defaults
func (c *SyncConfig) ApplyDefaults() {
	if c.ExternalIDField == "" {
		c.ExternalIDField = "external_id"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LookbackWindow <= 0 {
		c.LookbackWindow = 24 * time.Hour
	}
}

// ---------------------------------------------------------------------------
// Connector Port Interface
// ---------------------------------------------------------------------------

// Connector is the port every external-system adapter implements.
// Implementations live in internal/infrastructure/connector.
//
// Authenticate and TestConnection report connectivity and credential
// failures as false rather than as errors: callers must check the boolean.
// Data-level failures during SyncData are counted per record and never
// abort the remaining records; a pass with partial failures returns
// Success=false but still reports how many records went through.
type Connector interface {
	// Type returns the integration type this connector handles
	Type() IntegrationType

	// ConnectionID returns the id of the connection this connector serves
	ConnectionID() uuid.UUID

	// Authenticate obtains whatever session state the remote system
	// requires (bearer token, endpoint discovery)
	Authenticate(ctx context.Context) bool

	// TestConnection verifies connectivity without mutating sync state
	TestConnection(ctx context.Context) bool

	// SyncData pulls remote changes for one entity type and upserts them
	// locally under the given sync configuration
	SyncData(ctx context.Context, entityType EntityType, cfg SyncConfig) (*SyncResult, error)

	// GetEntityData fetches a single remote record by its remote id
	GetEntityData(ctx context.Context, entityType EntityType, externalID string) (EntityRecord, error)

	// CreateEntity creates a remote record and returns its remote id
	CreateEntity(ctx context.Context, entityType EntityType, record EntityRecord) (string, error)

	// UpdateEntity updates a remote record in place
	UpdateEntity(ctx context.Context, entityType EntityType, externalID string, record EntityRecord) error

	// DeleteEntity deletes a remote record
	DeleteEntity(ctx context.Context, entityType EntityType, externalID string) error

	// Webhook handlers invoked when the remote system notifies us of a
	// change. Dispatch by event type is shared behavior (connector.Helpers).
	HandleWebhookCreate(ctx context.Context, payload *WebhookPayload) error
	HandleWebhookUpdate(ctx context.Context, payload *WebhookPayload) error
	HandleWebhookDelete(ctx context.Context, payload *WebhookPayload) error
}

// ConnectorRegistry resolves integration types to connector constructors.
// New connector types register themselves at startup instead of extending
// a factory switch.
type ConnectorRegistry interface {
	// Resolve instantiates a connector for the given connection
	Resolve(conn *Connection) (Connector, error)

	// SupportedTypes lists the registered integration types
	SupportedTypes() []IntegrationType
}
