package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/infrastructure/persistence/models"
)

// GormWebhookConfigRepository implements integration.WebhookConfigRepository using GORM
type GormWebhookConfigRepository struct {
	db *gorm.DB
}

var _ integration.WebhookConfigRepository = (*GormWebhookConfigRepository)(nil)

// NewGormWebhookConfigRepository creates a new GormWebhookConfigRepository
func NewGormWebhookConfigRepository(db *gorm.DB) *GormWebhookConfigRepository {
	return &GormWebhookConfigRepository{db: db}
}

// FindByID finds a webhook config by its ID
func (r *GormWebhookConfigRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.WebhookConfig, error) {
	var model models.WebhookConfigModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrWebhookConfigNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDForTenant finds a webhook config by ID within a tenant
func (r *GormWebhookConfigRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*integration.WebhookConfig, error) {
	var model models.WebhookConfigModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrWebhookConfigNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIntegration returns all webhook configs registered against an
// integration connection within a tenant
func (r *GormWebhookConfigRepository) FindByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) ([]integration.WebhookConfig, error) {
	var configModels []models.WebhookConfigModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND integration_id = ?", tenantID, integrationID).
		Order("created_at DESC").
		Find(&configModels).Error; err != nil {
		return nil, err
	}

	configs := make([]integration.WebhookConfig, len(configModels))
	for i, model := range configModels {
		configs[i] = *model.ToDomain()
	}
	return configs, nil
}

// FindActiveSubscribers returns active configs for the integration that
// subscribe to the given event type. Event subscriptions are stored as a
// JSON array, so the event filter runs in memory after the indexed fetch.
func (r *GormWebhookConfigRepository) FindActiveSubscribers(ctx context.Context, integrationID uuid.UUID, eventType integration.WebhookEventType) ([]integration.WebhookConfig, error) {
	var configModels []models.WebhookConfigModel
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND is_active = ?", integrationID, true).
		Find(&configModels).Error; err != nil {
		return nil, err
	}

	var subscribers []integration.WebhookConfig
	for _, model := range configModels {
		cfg := model.ToDomain()
		if cfg.SubscribesTo(eventType) {
			subscribers = append(subscribers, *cfg)
		}
	}
	return subscribers, nil
}

// Save creates or updates a webhook config
func (r *GormWebhookConfigRepository) Save(ctx context.Context, cfg *integration.WebhookConfig) error {
	model := models.WebhookConfigModelFromDomain(cfg)
	return r.db.WithContext(ctx).Save(model).Error
}

// Delete removes a webhook config
func (r *GormWebhookConfigRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.WebhookConfigModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrWebhookConfigNotFound
	}
	return nil
}

// GormWebhookDeliveryRepository implements integration.WebhookDeliveryRepository using GORM
type GormWebhookDeliveryRepository struct {
	db *gorm.DB
}

var _ integration.WebhookDeliveryRepository = (*GormWebhookDeliveryRepository)(nil)

// NewGormWebhookDeliveryRepository creates a new GormWebhookDeliveryRepository
func NewGormWebhookDeliveryRepository(db *gorm.DB) *GormWebhookDeliveryRepository {
	return &GormWebhookDeliveryRepository{db: db}
}

// FindByID finds a delivery by its ID
func (r *GormWebhookDeliveryRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.WebhookDelivery, error) {
	var model models.WebhookDeliveryModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrDeliveryNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByConfig returns the most recent deliveries for a webhook config
func (r *GormWebhookDeliveryRepository) FindByConfig(ctx context.Context, tenantID, configID uuid.UUID, limit int) ([]integration.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}

	var deliveryModels []models.WebhookDeliveryModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND config_id = ?", tenantID, configID).
		Order("created_at DESC").
		Limit(limit).
		Find(&deliveryModels).Error; err != nil {
		return nil, err
	}

	deliveries := make([]integration.WebhookDelivery, len(deliveryModels))
	for i, model := range deliveryModels {
		deliveries[i] = *model.ToDomain()
	}
	return deliveries, nil
}

// FindDueForRetry selects retrying deliveries whose next_retry_at has
// elapsed and whose attempt count is below the hard ceiling
func (r *GormWebhookDeliveryRepository) FindDueForRetry(ctx context.Context, now time.Time, limit int) ([]integration.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}

	var deliveryModels []models.WebhookDeliveryModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND attempts < ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			integration.DeliveryStatusRetrying, integration.MaxDeliveryAttempts, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&deliveryModels).Error; err != nil {
		return nil, err
	}

	deliveries := make([]integration.WebhookDelivery, len(deliveryModels))
	for i, model := range deliveryModels {
		deliveries[i] = *model.ToDomain()
	}
	return deliveries, nil
}

// Save creates or updates a delivery record
func (r *GormWebhookDeliveryRepository) Save(ctx context.Context, delivery *integration.WebhookDelivery) error {
	model := models.WebhookDeliveryModelFromDomain(delivery)
	return r.db.WithContext(ctx).Save(model).Error
}
