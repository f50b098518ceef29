package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *WebhookConfig {
	t.Helper()
	cfg, err := NewWebhookConfig(uuid.New(), uuid.New(), "billing hook", "https://example.com/hook", "s3cret",
		[]WebhookEventType{WebhookEventCreate, WebhookEventUpdate})
	require.NoError(t, err)
	return cfg
}

func TestWebhookConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WebhookConfig)
		wantErr bool
	}{
		{"valid", func(c *WebhookConfig) {}, false},
		{"missing url", func(c *WebhookConfig) { c.TargetURL = "" }, true},
		{"missing secret", func(c *WebhookConfig) { c.Secret = "" }, true},
		{"no events", func(c *WebhookConfig) { c.Events = nil }, true},
		{"invalid event", func(c *WebhookConfig) { c.Events = []WebhookEventType{"reticulate"} }, true},
		{"zero retries", func(c *WebhookConfig) { c.RetryAttempts = 0 }, true},
		{"over ceiling", func(c *WebhookConfig) { c.RetryAttempts = MaxDeliveryAttempts + 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWebhookConfig_SubscribesTo(t *testing.T) {
	cfg := newTestConfig(t)
	assert.True(t, cfg.SubscribesTo(WebhookEventCreate))
	assert.True(t, cfg.SubscribesTo(WebhookEventUpdate))
	assert.False(t, cfg.SubscribesTo(WebhookEventDelete))
}

func TestWebhookPayload_Validate(t *testing.T) {
	valid := WebhookPayload{
		EventType:  WebhookEventUpdate,
		EntityType: EntityTypeContact,
		EntityID:   "003xx0001",
		TenantID:   uuid.New(),
		Timestamp:  time.Now(),
	}
	assert.NoError(t, valid.Validate())

	missingEntity := valid
	missingEntity.EntityID = ""
	assert.ErrorIs(t, missingEntity.Validate(), ErrInvalidPayload)

	missingTenant := valid
	missingTenant.TenantID = uuid.Nil
	assert.ErrorIs(t, missingTenant.Validate(), ErrInvalidPayload)
}

func TestWebhookDelivery_StateMachine(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RetryAttempts = 3
	payload := WebhookPayload{
		EventType:  WebhookEventCreate,
		EntityType: EntityTypeDeal,
		EntityID:   "d-1",
		TenantID:   cfg.TenantID,
		Timestamp:  time.Now(),
	}

	t.Run("delivered on first 2xx", func(t *testing.T) {
		d := NewWebhookDelivery(cfg, payload)
		assert.Equal(t, DeliveryStatusPending, d.Status)
		assert.True(t, d.CanAttempt(cfg.RetryAttempts))

		d.RecordSuccess(200, `{"ok":true}`)
		assert.Equal(t, DeliveryStatusDelivered, d.Status)
		assert.Equal(t, 1, d.Attempts)
		assert.True(t, d.Status.IsTerminal())
		assert.False(t, d.CanAttempt(cfg.RetryAttempts))
		assert.Nil(t, d.NextRetryAt)
	})

	t.Run("failed after budget exhausted", func(t *testing.T) {
		d := NewWebhookDelivery(cfg, payload)
		code := 500

		d.RecordFailure(&code, "boom", "HTTP 500", cfg.RetryAttempts, time.Minute)
		assert.Equal(t, DeliveryStatusRetrying, d.Status)
		assert.Equal(t, 1, d.Attempts)
		require.NotNil(t, d.NextRetryAt)

		d.RecordFailure(&code, "boom", "HTTP 500", cfg.RetryAttempts, time.Minute)
		assert.Equal(t, DeliveryStatusRetrying, d.Status)
		assert.Equal(t, 2, d.Attempts)

		d.RecordFailure(&code, "boom", "HTTP 500", cfg.RetryAttempts, time.Minute)
		assert.Equal(t, DeliveryStatusFailed, d.Status)
		assert.Equal(t, 3, d.Attempts)
		assert.Nil(t, d.NextRetryAt)
		assert.False(t, d.CanAttempt(cfg.RetryAttempts))
	})

	t.Run("linear backoff schedule", func(t *testing.T) {
		d := NewWebhookDelivery(cfg, payload)
		code := 503

		d.RecordFailure(&code, "", "HTTP 503", cfg.RetryAttempts, time.Minute)
		first := d.NextRetryAt
		require.NotNil(t, first)

		d.RecordFailure(&code, "", "HTTP 503", cfg.RetryAttempts, time.Minute)
		second := d.NextRetryAt
		require.NotNil(t, second)

		// Second retry is scheduled roughly 2x the base delay out
		gap := second.Sub(*d.LastAttemptAt)
		assert.InDelta(t, (2 * time.Minute).Seconds(), gap.Seconds(), 1)
	})

	t.Run("budget never exceeds hard ceiling", func(t *testing.T) {
		d := NewWebhookDelivery(cfg, payload)
		code := 500
		for i := 0; i < MaxDeliveryAttempts; i++ {
			d.RecordFailure(&code, "", "HTTP 500", MaxDeliveryAttempts+10, time.Second)
		}
		assert.Equal(t, DeliveryStatusFailed, d.Status)
		assert.Equal(t, MaxDeliveryAttempts, d.Attempts)
	})
}

func TestWebhookDelivery_DueForRetry(t *testing.T) {
	cfg := newTestConfig(t)
	payload := WebhookPayload{
		EventType:  WebhookEventUpdate,
		EntityType: EntityTypeAccount,
		EntityID:   "a-1",
		TenantID:   cfg.TenantID,
	}
	now := time.Now()

	d := NewWebhookDelivery(cfg, payload)
	assert.False(t, d.DueForRetry(now), "pending deliveries are dispatched, not swept")

	code := 500
	d.RecordFailure(&code, "", "HTTP 500", 3, time.Minute)
	assert.False(t, d.DueForRetry(now), "backoff has not elapsed yet")
	assert.True(t, d.DueForRetry(now.Add(2*time.Minute)))

	d.RecordSuccess(204, "")
	assert.False(t, d.DueForRetry(now.Add(time.Hour)))
}
