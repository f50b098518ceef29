package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/crmhub/backend/internal/domain/integration"
)

func TestGormWebhookConfigRepository_FindActiveSubscribers(t *testing.T) {
	t.Run("filters by subscribed event type in memory", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormWebhookConfigRepository(gormDB)

		integrationID := uuid.New()
		tenantID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "tenant_id", "integration_id", "name", "target_url", "secret", "events", "is_active", "retry_attempts", "retry_delay_seconds", "timeout_seconds"}).
			AddRow(uuid.New(), tenantID, integrationID, "creates only", "https://a.example.com", "s1", `["create"]`, true, 3, 30, 10).
			AddRow(uuid.New(), tenantID, integrationID, "all events", "https://b.example.com", "s2", `["create","update","delete"]`, true, 3, 30, 10)

		mock.ExpectQuery(`SELECT \* FROM "webhook_configurations" WHERE integration_id = \$1 AND is_active = \$2`).
			WithArgs(integrationID, true).
			WillReturnRows(rows)

		subscribers, err := repo.FindActiveSubscribers(context.Background(), integrationID, integration.WebhookEventUpdate)

		require.NoError(t, err)
		require.Len(t, subscribers, 1)
		assert.Equal(t, "all events", subscribers[0].Name)
		assert.Equal(t, 30*time.Second, subscribers[0].RetryDelay)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormWebhookConfigRepository_FindByIDForTenant(t *testing.T) {
	t.Run("missing config maps to domain error", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormWebhookConfigRepository(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "webhook_configurations"`).
			WillReturnError(gorm.ErrRecordNotFound)

		cfg, err := repo.FindByIDForTenant(context.Background(), uuid.New(), uuid.New())

		assert.Nil(t, cfg)
		assert.ErrorIs(t, err, integration.ErrWebhookConfigNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormWebhookDeliveryRepository_FindDueForRetry(t *testing.T) {
	t.Run("selects retrying deliveries under the attempt ceiling", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormWebhookDeliveryRepository(gormDB)

		now := time.Now()
		due := now.Add(-time.Minute)

		rows := sqlmock.NewRows([]string{"id", "tenant_id", "config_id", "payload", "status", "attempts", "next_retry_at"}).
			AddRow(uuid.New(), uuid.New(), uuid.New(),
				`{"event_type":"update","entity_type":"contact","entity_id":"c-1"}`,
				"retrying", 2, due)

		mock.ExpectQuery(`SELECT \* FROM "webhook_deliveries" WHERE status = \$1 AND attempts < \$2 AND \(next_retry_at IS NULL OR next_retry_at <= \$3\) ORDER BY next_retry_at ASC LIMIT .*`).
			WithArgs(integration.DeliveryStatusRetrying, integration.MaxDeliveryAttempts, now, 100).
			WillReturnRows(rows)

		deliveries, err := repo.FindDueForRetry(context.Background(), now, 0)

		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		assert.Equal(t, integration.DeliveryStatusRetrying, deliveries[0].Status)
		assert.Equal(t, 2, deliveries[0].Attempts)
		assert.Equal(t, integration.WebhookEventUpdate, deliveries[0].Payload.EventType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormWebhookDeliveryRepository_Save(t *testing.T) {
	gormDB, mock, mockDB := newMockDB(t)
	defer mockDB.Close()
	repo := NewGormWebhookDeliveryRepository(gormDB)

	cfg, err := integration.NewWebhookConfig(uuid.New(), uuid.New(), "hook", "https://example.com", "secret",
		[]integration.WebhookEventType{integration.WebhookEventCreate})
	require.NoError(t, err)

	delivery := integration.NewWebhookDelivery(cfg, integration.WebhookPayload{
		EventType:  integration.WebhookEventCreate,
		EntityType: integration.EntityTypeContact,
		EntityID:   "c-1",
		TenantID:   cfg.TenantID,
		Timestamp:  time.Now(),
	})

	// Save issues an UPDATE first and falls back to INSERT for new rows
	mock.ExpectExec(`UPDATE "webhook_deliveries" SET .*`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "webhook_deliveries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Save(context.Background(), delivery)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
