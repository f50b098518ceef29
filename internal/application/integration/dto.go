package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/infrastructure/scheduler"
)

// ---------------------------------------------------------------------------
// Connection DTOs
// ---------------------------------------------------------------------------

// ConnectionResponse represents a connection in API responses. Credentials
// never leave the service layer; only their presence is reported.
type ConnectionResponse struct {
	ID                   uuid.UUID                   `json:"id"`
	TenantID             uuid.UUID                   `json:"tenant_id"`
	Name                 string                      `json:"name"`
	Type                 integration.IntegrationType `json:"type"`
	Config               map[string]any              `json:"config"`
	HasCredentials       bool                        `json:"has_credentials"`
	SyncConfig           SyncConfigResponse          `json:"sync_config"`
	IsActive             bool                        `json:"is_active"`
	SyncStatus           integration.SyncStatus      `json:"sync_status"`
	LastSyncAt           *time.Time                  `json:"last_sync_at,omitempty"`
	LastError            string                      `json:"last_error,omitempty"`
	SyncFrequencyMinutes int                         `json:"sync_frequency_minutes"`
	CreatedAt            time.Time                   `json:"created_at"`
	UpdatedAt            time.Time                   `json:"updated_at"`
}

// SyncConfigResponse mirrors the connection's sync configuration
type SyncConfigResponse struct {
	EntityTypes     []integration.EntityType                              `json:"entity_types"`
	FieldMappings   map[integration.EntityType][]integration.FieldMapping `json:"field_mappings,omitempty"`
	ExternalIDField string                                                `json:"external_id_field"`
	BatchSize       int                                                   `json:"batch_size"`
	LookbackMinutes int                                                   `json:"lookback_minutes"`
}

// CreateConnectionRequest creates a new connection
type CreateConnectionRequest struct {
	Name                 string             `json:"name" binding:"required"`
	Type                 string             `json:"type" binding:"required"`
	Config               map[string]any     `json:"config"`
	Credentials          map[string]any     `json:"credentials"`
	SyncConfig           *SyncConfigRequest `json:"sync_config,omitempty"`
	SyncFrequencyMinutes int                `json:"sync_frequency_minutes,omitempty"`
}

// UpdateConnectionRequest updates an existing connection; nil fields are
// left untouched
type UpdateConnectionRequest struct {
	Name                 *string            `json:"name,omitempty"`
	Config               map[string]any     `json:"config,omitempty"`
	Credentials          map[string]any     `json:"credentials,omitempty"`
	SyncConfig           *SyncConfigRequest `json:"sync_config,omitempty"`
	SyncFrequencyMinutes *int               `json:"sync_frequency_minutes,omitempty"`
}

// SyncConfigRequest carries sync configuration in requests
type SyncConfigRequest struct {
	EntityTypes     []string                                              `json:"entity_types"`
	FieldMappings   map[integration.EntityType][]integration.FieldMapping `json:"field_mappings,omitempty"`
	ExternalIDField string                                                `json:"external_id_field,omitempty"`
	BatchSize       int                                                   `json:"batch_size,omitempty"`
	LookbackMinutes int                                                   `json:"lookback_minutes,omitempty"`
}

// ConnectionListFilter narrows connection list queries
type ConnectionListFilter struct {
	Type       string `form:"type"`
	IsActive   *bool  `form:"is_active"`
	SyncStatus string `form:"sync_status"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}

// ToDomainFilter converts the list filter to a domain filter
func (f ConnectionListFilter) ToDomainFilter() integration.ConnectionFilter {
	filter := integration.ConnectionFilter{
		IsActive: f.IsActive,
		Page:     f.Page,
		PageSize: f.PageSize,
	}
	if f.Type != "" {
		t := integration.IntegrationType(f.Type)
		if t.IsValid() {
			filter.Type = &t
		}
	}
	if f.SyncStatus != "" {
		s := integration.SyncStatus(f.SyncStatus)
		if s.IsValid() {
			filter.SyncStatus = &s
		}
	}
	return filter
}

// ToConnectionResponse converts a domain connection to a response DTO
func ToConnectionResponse(c *integration.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:             c.ID,
		TenantID:       c.TenantID,
		Name:           c.Name,
		Type:           c.Type,
		Config:         c.Config,
		HasCredentials: len(c.Credentials) > 0,
		SyncConfig: SyncConfigResponse{
			EntityTypes:     c.SyncConfig.EntityTypes,
			FieldMappings:   c.SyncConfig.FieldMappings,
			ExternalIDField: c.SyncConfig.ExternalIDField,
			BatchSize:       c.SyncConfig.BatchSize,
			LookbackMinutes: int(c.SyncConfig.LookbackWindow.Minutes()),
		},
		IsActive:             c.IsActive,
		SyncStatus:           c.SyncStatus,
		LastSyncAt:           c.LastSyncAt,
		LastError:            c.LastError,
		SyncFrequencyMinutes: c.SyncFrequencyMinutes,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

// ToConnectionResponses converts a slice of domain connections
func ToConnectionResponses(conns []integration.Connection) []ConnectionResponse {
	responses := make([]ConnectionResponse, len(conns))
	for i := range conns {
		responses[i] = ToConnectionResponse(&conns[i])
	}
	return responses
}

// ---------------------------------------------------------------------------
// Sync DTOs
// ---------------------------------------------------------------------------

// SyncResultResponse represents the outcome of a synchronous sync pass
type SyncResultResponse struct {
	Success          bool   `json:"success"`
	RecordsProcessed int    `json:"records_processed"`
	RecordsCreated   int    `json:"records_created"`
	RecordsUpdated   int    `json:"records_updated"`
	RecordsFailed    int    `json:"records_failed"`
	ErrorMessage     string `json:"error_message,omitempty"`
	DurationMs       int64  `json:"duration_ms"`
}

// ToSyncResultResponse converts a domain sync result
func ToSyncResultResponse(r *integration.SyncResult) SyncResultResponse {
	return SyncResultResponse{
		Success:          r.Success,
		RecordsProcessed: r.RecordsProcessed,
		RecordsCreated:   r.RecordsCreated,
		RecordsUpdated:   r.RecordsUpdated,
		RecordsFailed:    r.RecordsFailed,
		ErrorMessage:     r.ErrorMessage,
		DurationMs:       r.Duration.Milliseconds(),
	}
}

// SyncJobResponse represents a queued or finished sync job
type SyncJobResponse struct {
	ID           uuid.UUID           `json:"id"`
	TenantID     uuid.UUID           `json:"tenant_id"`
	ConnectionID uuid.UUID           `json:"connection_id"`
	Status       string              `json:"status"`
	Error        string              `json:"error,omitempty"`
	RetryCount   int                 `json:"retry_count"`
	MaxRetries   int                 `json:"max_retries"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	NextRetryAt  *time.Time          `json:"next_retry_at,omitempty"`
	Result       *SyncResultResponse `json:"result,omitempty"`
}

// ToSyncJobResponse converts a scheduler job
func ToSyncJobResponse(job *scheduler.SyncJob) SyncJobResponse {
	resp := SyncJobResponse{
		ID:           job.ID,
		TenantID:     job.TenantID,
		ConnectionID: job.ConnectionID,
		Status:       string(job.Status),
		Error:        job.Error,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		NextRetryAt:  job.NextRetryAt,
	}
	if job.Result != nil {
		result := ToSyncResultResponse(job.Result)
		resp.Result = &result
	}
	return resp
}

// ToSyncJobResponses converts a slice of scheduler jobs
func ToSyncJobResponses(jobs []*scheduler.SyncJob) []SyncJobResponse {
	responses := make([]SyncJobResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = ToSyncJobResponse(job)
	}
	return responses
}

// SyncLogResponse represents one sync activity log entry
type SyncLogResponse struct {
	ID           uuid.UUID                 `json:"id"`
	ConnectionID uuid.UUID                 `json:"connection_id"`
	EntityType   integration.EntityType    `json:"entity_type,omitempty"`
	Operation    integration.SyncOperation `json:"operation"`
	Details      map[string]any            `json:"details,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
}

// ToSyncLogResponses converts domain sync log entries
func ToSyncLogResponses(logs []integration.SyncLog) []SyncLogResponse {
	responses := make([]SyncLogResponse, len(logs))
	for i, entry := range logs {
		responses[i] = SyncLogResponse{
			ID:           entry.ID,
			ConnectionID: entry.ConnectionID,
			EntityType:   entry.EntityType,
			Operation:    entry.Operation,
			Details:      entry.Details,
			CreatedAt:    entry.CreatedAt,
		}
	}
	return responses
}

// ---------------------------------------------------------------------------
// Webhook DTOs
// ---------------------------------------------------------------------------

// WebhookConfigResponse represents a webhook subscription. The signing
// secret is never echoed back.
type WebhookConfigResponse struct {
	ID            uuid.UUID                     `json:"id"`
	TenantID      uuid.UUID                     `json:"tenant_id"`
	IntegrationID uuid.UUID                     `json:"integration_id"`
	Name          string                        `json:"name"`
	TargetURL     string                        `json:"target_url"`
	Events        []integration.WebhookEventType `json:"events"`
	IsActive      bool                          `json:"is_active"`
	RetryAttempts int                           `json:"retry_attempts"`
	RetryDelaySec int                           `json:"retry_delay_seconds"`
	TimeoutSec    int                           `json:"timeout_seconds"`
	CreatedAt     time.Time                     `json:"created_at"`
	UpdatedAt     time.Time                     `json:"updated_at"`
}

// ToWebhookConfigResponse converts a domain webhook config
func ToWebhookConfigResponse(c *integration.WebhookConfig) WebhookConfigResponse {
	return WebhookConfigResponse{
		ID:            c.ID,
		TenantID:      c.TenantID,
		IntegrationID: c.IntegrationID,
		Name:          c.Name,
		TargetURL:     c.TargetURL,
		Events:        c.Events,
		IsActive:      c.IsActive,
		RetryAttempts: c.RetryAttempts,
		RetryDelaySec: int(c.RetryDelay.Seconds()),
		TimeoutSec:    int(c.Timeout.Seconds()),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// ToWebhookConfigResponses converts a slice of domain webhook configs
func ToWebhookConfigResponses(configs []integration.WebhookConfig) []WebhookConfigResponse {
	responses := make([]WebhookConfigResponse, len(configs))
	for i := range configs {
		responses[i] = ToWebhookConfigResponse(&configs[i])
	}
	return responses
}

// CreateWebhookRequest registers a subscriber endpoint
type CreateWebhookRequest struct {
	// IntegrationID comes from the URL path, not the request body
	IntegrationID uuid.UUID `json:"-"`
	Name          string    `json:"name" binding:"required"`
	TargetURL     string    `json:"target_url" binding:"required"`
	Secret        string    `json:"secret" binding:"required"`
	Events        []string  `json:"events" binding:"required,min=1"`
}

// UpdateWebhookRequest updates a subscriber endpoint; nil fields are left
// untouched
type UpdateWebhookRequest struct {
	Name          *string  `json:"name,omitempty"`
	TargetURL     *string  `json:"target_url,omitempty"`
	Secret        *string  `json:"secret,omitempty"`
	Events        []string `json:"events,omitempty"`
	IsActive      *bool    `json:"is_active,omitempty"`
	RetryAttempts *int     `json:"retry_attempts,omitempty"`
	RetryDelaySec *int     `json:"retry_delay_seconds,omitempty"`
	TimeoutSec    *int     `json:"timeout_seconds,omitempty"`
}

// WebhookDeliveryResponse represents one delivery attempt sequence
type WebhookDeliveryResponse struct {
	ID            uuid.UUID                  `json:"id"`
	ConfigID      uuid.UUID                  `json:"config_id"`
	EventID       string                     `json:"event_id,omitempty"`
	EventType     integration.WebhookEventType `json:"event_type"`
	EntityType    integration.EntityType     `json:"entity_type"`
	EntityID      string                     `json:"entity_id"`
	Status        integration.DeliveryStatus `json:"status"`
	Attempts      int                        `json:"attempts"`
	LastAttemptAt *time.Time                 `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time                 `json:"next_retry_at,omitempty"`
	ErrorMessage  string                     `json:"error_message,omitempty"`
	ResponseCode  *int                       `json:"response_code,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// ToWebhookDeliveryResponses converts domain deliveries
func ToWebhookDeliveryResponses(deliveries []integration.WebhookDelivery) []WebhookDeliveryResponse {
	responses := make([]WebhookDeliveryResponse, len(deliveries))
	for i := range deliveries {
		d := &deliveries[i]
		responses[i] = WebhookDeliveryResponse{
			ID:            d.ID,
			ConfigID:      d.ConfigID,
			EventID:       d.Payload.EventID,
			EventType:     d.Payload.EventType,
			EntityType:    d.Payload.EntityType,
			EntityID:      d.Payload.EntityID,
			Status:        d.Status,
			Attempts:      d.Attempts,
			LastAttemptAt: d.LastAttemptAt,
			NextRetryAt:   d.NextRetryAt,
			ErrorMessage:  d.ErrorMessage,
			ResponseCode:  d.ResponseCode,
			CreatedAt:     d.CreatedAt,
		}
	}
	return responses
}
