package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/persistence/models"
)

// GormCRMRecordStore implements integration.LocalEntityStore over the
// crm_records table. Records are schemaless JSON; the external id is the
// correlation key to the remote system.
type GormCRMRecordStore struct {
	db *gorm.DB
}

var _ integration.LocalEntityStore = (*GormCRMRecordStore)(nil)

// NewGormCRMRecordStore creates a new GormCRMRecordStore
func NewGormCRMRecordStore(db *gorm.DB) *GormCRMRecordStore {
	return &GormCRMRecordStore{db: db}
}

// FindByExternalID looks up a local record by the remote correlation id
func (s *GormCRMRecordStore) FindByExternalID(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string) (integration.EntityRecord, error) {
	var model models.CRMRecordModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND external_id = ?", tenantID, entityType, externalID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToRecord(), nil
}

// Create inserts a new local record correlated to the given external id
func (s *GormCRMRecordStore) Create(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string, record integration.EntityRecord) error {
	fields, err := json.Marshal(record)
	if err != nil {
		return err
	}

	model := models.CRMRecordModel{
		EntityType: entityType,
		ExternalID: externalID,
		FieldsJSON: string(fields),
	}
	model.FromDomainTenantEntity(shared.NewTenantEntity(tenantID))

	return s.db.WithContext(ctx).Create(&model).Error
}

// Update replaces the fields of an existing local record
func (s *GormCRMRecordStore) Update(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string, record integration.EntityRecord) error {
	fields, err := json.Marshal(record)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&models.CRMRecordModel{}).
		Where("tenant_id = ? AND entity_type = ? AND external_id = ?", tenantID, entityType, externalID).
		Update("fields", string(fields))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes the local record correlated to the given external id.
// Deleting an already-absent record is not an error.
func (s *GormCRMRecordStore) Delete(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND external_id = ?", tenantID, entityType, externalID).
		Delete(&models.CRMRecordModel{}).Error
}
