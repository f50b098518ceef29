package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
)

// ConnectionModel is the persistence model for the Connection aggregate.
// Config, credentials, and sync configuration are stored as JSON blobs;
// each connector parses its own typed shape on load.
type ConnectionModel struct {
	TenantModel
	Name                 string                      `gorm:"type:varchar(255);not null"`
	Type                 integration.IntegrationType `gorm:"type:varchar(20);not null;index"`
	ConfigJSON           string                      `gorm:"type:jsonb;column:config"`
	CredentialsJSON      string                      `gorm:"type:jsonb;column:credentials"`
	SyncConfigJSON       string                      `gorm:"type:jsonb;column:sync_config"`
	IsActive             bool                        `gorm:"not null;default:true;index"`
	SyncStatus           integration.SyncStatus      `gorm:"type:varchar(20);not null;default:'pending'"`
	LastSyncAt           *time.Time                  `gorm:"index"`
	LastError            string                      `gorm:"type:text"`
	SyncFrequencyMinutes int                         `gorm:"not null;default:60"`
}

// TableName returns the table name for GORM
func (ConnectionModel) TableName() string {
	return "integration_connections"
}

// ToDomain converts the persistence model to a domain Connection
func (m *ConnectionModel) ToDomain() *integration.Connection {
	conn := &integration.Connection{
		TenantEntity:         m.ToDomainTenantEntity(),
		Name:                 m.Name,
		Type:                 m.Type,
		Config:               make(map[string]any),
		Credentials:          make(map[string]any),
		IsActive:             m.IsActive,
		SyncStatus:           m.SyncStatus,
		LastSyncAt:           m.LastSyncAt,
		LastError:            m.LastError,
		SyncFrequencyMinutes: m.SyncFrequencyMinutes,
	}

	if m.ConfigJSON != "" {
		_ = json.Unmarshal([]byte(m.ConfigJSON), &conn.Config)
	}
	if m.CredentialsJSON != "" {
		_ = json.Unmarshal([]byte(m.CredentialsJSON), &conn.Credentials)
	}
	if m.SyncConfigJSON != "" {
		_ = json.Unmarshal([]byte(m.SyncConfigJSON), &conn.SyncConfig)
	}
	conn.SyncConfig.ApplyDefaults()

	return conn
}

// FromDomain populates the persistence model from a domain Connection
func (m *ConnectionModel) FromDomain(conn *integration.Connection) {
	m.FromDomainTenantEntity(conn.TenantEntity)
	m.Name = conn.Name
	m.Type = conn.Type
	m.IsActive = conn.IsActive
	m.SyncStatus = conn.SyncStatus
	m.LastSyncAt = conn.LastSyncAt
	m.LastError = conn.LastError
	m.SyncFrequencyMinutes = conn.SyncFrequencyMinutes

	m.ConfigJSON = marshalBlob(conn.Config)
	m.CredentialsJSON = marshalBlob(conn.Credentials)
	if data, err := json.Marshal(conn.SyncConfig); err == nil {
		m.SyncConfigJSON = string(data)
	}
}

// ConnectionModelFromDomain creates a persistence model from a domain Connection
func ConnectionModelFromDomain(conn *integration.Connection) *ConnectionModel {
	m := &ConnectionModel{}
	m.FromDomain(conn)
	return m
}

// SyncLogModel is the persistence model for the append-only sync activity log
type SyncLogModel struct {
	ID           uuid.UUID                 `gorm:"type:uuid;primary_key"`
	TenantID     uuid.UUID                 `gorm:"type:uuid;not null;index:idx_sync_logs_tenant_conn,priority:1"`
	ConnectionID uuid.UUID                 `gorm:"type:uuid;not null;index:idx_sync_logs_tenant_conn,priority:2"`
	EntityType   integration.EntityType    `gorm:"type:varchar(20)"`
	Operation    integration.SyncOperation `gorm:"type:varchar(30);not null"`
	DetailsJSON  string                    `gorm:"type:jsonb;column:details"`
	CreatedAt    time.Time                 `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (SyncLogModel) TableName() string {
	return "integration_sync_logs"
}

// ToDomain converts the persistence model to a domain SyncLog
func (m *SyncLogModel) ToDomain() *integration.SyncLog {
	entry := &integration.SyncLog{
		ID:           m.ID,
		TenantID:     m.TenantID,
		ConnectionID: m.ConnectionID,
		EntityType:   m.EntityType,
		Operation:    m.Operation,
		Details:      make(map[string]any),
		CreatedAt:    m.CreatedAt,
	}
	if m.DetailsJSON != "" {
		_ = json.Unmarshal([]byte(m.DetailsJSON), &entry.Details)
	}
	return entry
}

// SyncLogModelFromDomain creates a persistence model from a domain SyncLog
func SyncLogModelFromDomain(entry *integration.SyncLog) *SyncLogModel {
	return &SyncLogModel{
		ID:           entry.ID,
		TenantID:     entry.TenantID,
		ConnectionID: entry.ConnectionID,
		EntityType:   entry.EntityType,
		Operation:    entry.Operation,
		DetailsJSON:  marshalBlob(entry.Details),
		CreatedAt:    entry.CreatedAt,
	}
}

// SyncCursorModel is the persistence model for per-entity sync high-water marks.
// One row per (connection, entity type) pair.
type SyncCursorModel struct {
	ConnectionID uuid.UUID              `gorm:"type:uuid;primary_key"`
	EntityType   integration.EntityType `gorm:"type:varchar(20);primary_key"`
	LastSyncedAt time.Time              `gorm:"not null"`
	UpdatedAt    time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncCursorModel) TableName() string {
	return "integration_sync_cursors"
}

// ToDomain converts the persistence model to a domain SyncCursor
func (m *SyncCursorModel) ToDomain() *integration.SyncCursor {
	return &integration.SyncCursor{
		ConnectionID: m.ConnectionID,
		EntityType:   m.EntityType,
		LastSyncedAt: m.LastSyncedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// SyncCursorModelFromDomain creates a persistence model from a domain SyncCursor
func SyncCursorModelFromDomain(cursor *integration.SyncCursor) *SyncCursorModel {
	return &SyncCursorModel{
		ConnectionID: cursor.ConnectionID,
		EntityType:   cursor.EntityType,
		LastSyncedAt: cursor.LastSyncedAt,
		UpdatedAt:    cursor.UpdatedAt,
	}
}

// WebhookConfigModel is the persistence model for webhook subscriber endpoints
type WebhookConfigModel struct {
	TenantModel
	IntegrationID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Name           string    `gorm:"type:varchar(255);not null"`
	TargetURL      string    `gorm:"type:text;not null"`
	Secret         string    `gorm:"type:text;not null"`
	EventsJSON     string    `gorm:"type:jsonb;column:events"`
	IsActive       bool      `gorm:"not null;default:true;index"`
	RetryAttempts  int       `gorm:"not null;default:3"`
	RetryDelaySecs int       `gorm:"not null;default:30;column:retry_delay_seconds"`
	TimeoutSecs    int       `gorm:"not null;default:10;column:timeout_seconds"`
}

// TableName returns the table name for GORM
func (WebhookConfigModel) TableName() string {
	return "webhook_configurations"
}

// ToDomain converts the persistence model to a domain WebhookConfig
func (m *WebhookConfigModel) ToDomain() *integration.WebhookConfig {
	cfg := &integration.WebhookConfig{
		TenantEntity:  m.ToDomainTenantEntity(),
		IntegrationID: m.IntegrationID,
		Name:          m.Name,
		TargetURL:     m.TargetURL,
		Secret:        m.Secret,
		Events:        make([]integration.WebhookEventType, 0),
		IsActive:      m.IsActive,
		RetryAttempts: m.RetryAttempts,
		RetryDelay:    time.Duration(m.RetryDelaySecs) * time.Second,
		Timeout:       time.Duration(m.TimeoutSecs) * time.Second,
	}
	if m.EventsJSON != "" {
		_ = json.Unmarshal([]byte(m.EventsJSON), &cfg.Events)
	}
	return cfg
}

// FromDomain populates the persistence model from a domain WebhookConfig
func (m *WebhookConfigModel) FromDomain(cfg *integration.WebhookConfig) {
	m.FromDomainTenantEntity(cfg.TenantEntity)
	m.IntegrationID = cfg.IntegrationID
	m.Name = cfg.Name
	m.TargetURL = cfg.TargetURL
	m.Secret = cfg.Secret
	m.IsActive = cfg.IsActive
	m.RetryAttempts = cfg.RetryAttempts
	m.RetryDelaySecs = int(cfg.RetryDelay / time.Second)
	m.TimeoutSecs = int(cfg.Timeout / time.Second)

	if data, err := json.Marshal(cfg.Events); err == nil {
		m.EventsJSON = string(data)
	} else {
		m.EventsJSON = "[]"
	}
}

// WebhookConfigModelFromDomain creates a persistence model from a domain WebhookConfig
func WebhookConfigModelFromDomain(cfg *integration.WebhookConfig) *WebhookConfigModel {
	m := &WebhookConfigModel{}
	m.FromDomain(cfg)
	return m
}

// WebhookDeliveryModel is the persistence model for delivery attempts.
// The payload is snapshotted as JSON so retries survive restarts.
type WebhookDeliveryModel struct {
	TenantModel
	ConfigID      uuid.UUID                  `gorm:"type:uuid;not null;index"`
	PayloadJSON   string                     `gorm:"type:jsonb;column:payload"`
	Status        integration.DeliveryStatus `gorm:"type:varchar(20);not null;index:idx_webhook_deliveries_retry,priority:1"`
	Attempts      int                        `gorm:"not null;default:0"`
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time `gorm:"index:idx_webhook_deliveries_retry,priority:2"`
	ErrorMessage  string     `gorm:"type:text"`
	ResponseCode  *int
	ResponseBody  string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (WebhookDeliveryModel) TableName() string {
	return "webhook_deliveries"
}

// ToDomain converts the persistence model to a domain WebhookDelivery
func (m *WebhookDeliveryModel) ToDomain() *integration.WebhookDelivery {
	d := &integration.WebhookDelivery{
		TenantEntity:  m.ToDomainTenantEntity(),
		ConfigID:      m.ConfigID,
		Status:        m.Status,
		Attempts:      m.Attempts,
		LastAttemptAt: m.LastAttemptAt,
		NextRetryAt:   m.NextRetryAt,
		ErrorMessage:  m.ErrorMessage,
		ResponseCode:  m.ResponseCode,
		ResponseBody:  m.ResponseBody,
	}
	if m.PayloadJSON != "" {
		_ = json.Unmarshal([]byte(m.PayloadJSON), &d.Payload)
	}
	return d
}

// FromDomain populates the persistence model from a domain WebhookDelivery
func (m *WebhookDeliveryModel) FromDomain(d *integration.WebhookDelivery) {
	m.FromDomainTenantEntity(d.TenantEntity)
	m.ConfigID = d.ConfigID
	m.Status = d.Status
	m.Attempts = d.Attempts
	m.LastAttemptAt = d.LastAttemptAt
	m.NextRetryAt = d.NextRetryAt
	m.ErrorMessage = d.ErrorMessage
	m.ResponseCode = d.ResponseCode
	m.ResponseBody = d.ResponseBody

	if data, err := json.Marshal(d.Payload); err == nil {
		m.PayloadJSON = string(data)
	}
}

// WebhookDeliveryModelFromDomain creates a persistence model from a domain WebhookDelivery
func WebhookDeliveryModelFromDomain(d *integration.WebhookDelivery) *WebhookDeliveryModel {
	m := &WebhookDeliveryModel{}
	m.FromDomain(d)
	return m
}

// CRMRecordModel is the persistence model behind the local entity store:
// the tenant's contacts, accounts, and deals that remote records are
// correlated against by external id.
type CRMRecordModel struct {
	BaseModel
	TenantID   uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_crm_records_external,priority:1"`
	EntityType integration.EntityType `gorm:"type:varchar(20);not null;uniqueIndex:idx_crm_records_external,priority:2"`
	ExternalID string                 `gorm:"type:varchar(100);not null;uniqueIndex:idx_crm_records_external,priority:3"`
	FieldsJSON string                 `gorm:"type:jsonb;column:fields"`
}

// FromDomainTenantEntity populates the model from a domain TenantEntity
func (m *CRMRecordModel) FromDomainTenantEntity(e shared.TenantEntity) {
	m.FromDomainBaseEntity(e.BaseEntity)
	m.TenantID = e.TenantID
}

// TableName returns the table name for GORM
func (CRMRecordModel) TableName() string {
	return "crm_records"
}

// ToRecord returns the stored fields as a schemaless entity record
func (m *CRMRecordModel) ToRecord() integration.EntityRecord {
	record := make(integration.EntityRecord)
	if m.FieldsJSON != "" {
		_ = json.Unmarshal([]byte(m.FieldsJSON), &record)
	}
	return record
}

func marshalBlob(blob map[string]any) string {
	if len(blob) == 0 {
		return "{}"
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return "{}"
	}
	return string(data)
}
