package integration

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crmhub/backend/internal/domain/shared"
)

// MaxDeliveryAttempts is the hard ceiling on delivery attempts across all
// retry sweeps, regardless of a config's own retry budget.
const MaxDeliveryAttempts = 5

// ---------------------------------------------------------------------------
// Webhook Events
// ---------------------------------------------------------------------------

// WebhookEventType is the kind of change a payload announces
type WebhookEventType string

const (
	WebhookEventCreate WebhookEventType = "create"
	WebhookEventUpdate WebhookEventType = "update"
	WebhookEventDelete WebhookEventType = "delete"
)

// IsValid returns true if the event type is one this hub routes.
// Unknown event types are logged and ignored, never fatal.
func (t WebhookEventType) IsValid() bool {
	switch t {
	case WebhookEventCreate, WebhookEventUpdate, WebhookEventDelete:
		return true
	default:
		return false
	}
}

// String returns the string representation of WebhookEventType
func (t WebhookEventType) String() string {
	return string(t)
}

// WebhookPayload is a change notification, inbound from an external system
// or emitted internally. It is transient: routing, delivery, and logging
// consume it, only delivery snapshots persist it.
type WebhookPayload struct {
	// EventID uniquely identifies the event for dedup; empty means the
	// sender offers no idempotency key
	EventID    string           `json:"event_id,omitempty"`
	EventType  WebhookEventType `json:"event_type"`
	EntityType EntityType       `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Data       map[string]any   `json:"data"`
	Timestamp  time.Time        `json:"timestamp"`
	TenantID   uuid.UUID        `json:"organization_id"`
}

// Validate checks the payload carries the minimum routable shape
func (p *WebhookPayload) Validate() error {
	if p.EventType == "" || p.EntityType == "" || p.EntityID == "" {
		return ErrInvalidPayload
	}
	if p.TenantID == uuid.Nil {
		return ErrInvalidPayload
	}
	return nil
}

// ---------------------------------------------------------------------------
// Webhook Configuration
// ---------------------------------------------------------------------------

// WebhookConfig is one subscriber endpoint registered by an admin.
type WebhookConfig struct {
	shared.TenantEntity
	IntegrationID uuid.UUID
	Name          string
	TargetURL     string
	// Secret signs outbound payloads (HMAC-SHA256) and validates inbound ones
	Secret        string
	Events        []WebhookEventType
	IsActive      bool
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// NewWebhookConfig creates a webhook config with default retry settings
func NewWebhookConfig(tenantID, integrationID uuid.UUID, name, targetURL, secret string, events []WebhookEventType) (*WebhookConfig, error) {
	cfg := &WebhookConfig{
		TenantEntity:  shared.NewTenantEntity(tenantID),
		IntegrationID: integrationID,
		Name:          name,
		TargetURL:     targetURL,
		Secret:        secret,
		Events:        events,
		IsActive:      true,
		RetryAttempts: 3,
		RetryDelay:    30 * time.Second,
		Timeout:       10 * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config is deliverable
func (c *WebhookConfig) Validate() error {
	if c.TargetURL == "" || c.Secret == "" {
		return shared.ErrInvalidInput
	}
	if len(c.Events) == 0 {
		return shared.ErrInvalidInput
	}
	for _, e := range c.Events {
		if !e.IsValid() {
			return shared.ErrInvalidInput
		}
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > MaxDeliveryAttempts {
		return shared.ErrInvalidInput
	}
	return nil
}

// SubscribesTo returns true if the config wants this event type
func (c *WebhookConfig) SubscribesTo(eventType WebhookEventType) bool {
	for _, e := range c.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Webhook Delivery
// ---------------------------------------------------------------------------

// DeliveryStatus is the state of one delivery attempt sequence
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// IsTerminal returns true once no further attempts will be made
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// WebhookDelivery tracks one payload's attempts against one config.
// Invariant: Attempts never exceeds the owning config's RetryAttempts
// budget; once the budget is exhausted without a 2xx the delivery is
// terminally failed.
type WebhookDelivery struct {
	shared.TenantEntity
	ConfigID      uuid.UUID
	Payload       WebhookPayload
	Status        DeliveryStatus
	Attempts      int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	ErrorMessage  string
	ResponseCode  *int
	ResponseBody  string
}

// NewWebhookDelivery creates a pending delivery for a config/payload pair
func NewWebhookDelivery(cfg *WebhookConfig, payload WebhookPayload) *WebhookDelivery {
	return &WebhookDelivery{
		TenantEntity: shared.NewTenantEntity(cfg.TenantID),
		ConfigID:     cfg.ID,
		Payload:      payload,
		Status:       DeliveryStatusPending,
	}
}

// CanAttempt returns true if another attempt is allowed under the budget
func (d *WebhookDelivery) CanAttempt(budget int) bool {
	if d.Status.IsTerminal() {
		return false
	}
	if budget > MaxDeliveryAttempts {
		budget = MaxDeliveryAttempts
	}
	return d.Attempts < budget
}

// RecordSuccess marks the delivery as delivered after a 2xx response
func (d *WebhookDelivery) RecordSuccess(responseCode int, responseBody string) {
	now := time.Now()
	d.Attempts++
	d.LastAttemptAt = &now
	d.NextRetryAt = nil
	d.Status = DeliveryStatusDelivered
	d.ResponseCode = &responseCode
	d.ResponseBody = responseBody
	d.ErrorMessage = ""
	d.Touch()
}

// RecordFailure records a failed attempt. While budget remains the
// delivery moves to retrying with nextRetryAt = now + retryDelay*attempt
// (linear backoff); once the budget is exhausted it is terminally failed.
func (d *WebhookDelivery) RecordFailure(responseCode *int, responseBody, errorMessage string, budget int, retryDelay time.Duration) {
	now := time.Now()
	d.Attempts++
	d.LastAttemptAt = &now
	d.ResponseCode = responseCode
	d.ResponseBody = responseBody
	d.ErrorMessage = errorMessage

	if budget > MaxDeliveryAttempts {
		budget = MaxDeliveryAttempts
	}
	if d.Attempts >= budget {
		d.Status = DeliveryStatusFailed
		d.NextRetryAt = nil
	} else {
		d.Status = DeliveryStatusRetrying
		next := now.Add(retryDelay * time.Duration(d.Attempts))
		d.NextRetryAt = &next
	}
	d.Touch()
}

// DueForRetry returns true if a retry sweep should pick this delivery up
func (d *WebhookDelivery) DueForRetry(now time.Time) bool {
	if d.Status != DeliveryStatusRetrying {
		return false
	}
	if d.Attempts >= MaxDeliveryAttempts {
		return false
	}
	return d.NextRetryAt == nil || !now.Before(*d.NextRetryAt)
}

// ---------------------------------------------------------------------------
// Repository Interfaces
// ---------------------------------------------------------------------------

// WebhookConfigRepository persists webhook configurations
type WebhookConfigRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*WebhookConfig, error)
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*WebhookConfig, error)
	FindByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) ([]WebhookConfig, error)
	// FindActiveSubscribers returns active configs for the integration that
	// subscribe to the given event type
	FindActiveSubscribers(ctx context.Context, integrationID uuid.UUID, eventType WebhookEventType) ([]WebhookConfig, error)
	Save(ctx context.Context, cfg *WebhookConfig) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// WebhookDeliveryRepository persists delivery records
type WebhookDeliveryRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*WebhookDelivery, error)
	FindByConfig(ctx context.Context, tenantID, configID uuid.UUID, limit int) ([]WebhookDelivery, error)
	// FindDueForRetry selects retrying deliveries whose nextRetryAt has
	// elapsed and whose attempt count is below the hard ceiling
	FindDueForRetry(ctx context.Context, now time.Time, limit int) ([]WebhookDelivery, error)
	Save(ctx context.Context, delivery *WebhookDelivery) error
}
