package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/persistence/models"
)

// GormConnectionRepository implements integration.ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

var _ integration.ConnectionRepository = (*GormConnectionRepository)(nil)

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// FindByID finds a connection by its ID
func (r *GormConnectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Connection, error) {
	var model models.ConnectionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDForTenant finds a connection by ID within a tenant
func (r *GormConnectionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*integration.Connection, error) {
	var model models.ConnectionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll finds all connections for a tenant matching the filter
func (r *GormConnectionRepository) FindAll(ctx context.Context, tenantID uuid.UUID, filter integration.ConnectionFilter) ([]integration.Connection, error) {
	var connModels []models.ConnectionModel
	query := r.applyFilter(
		r.db.WithContext(ctx).Model(&models.ConnectionModel{}).Where("tenant_id = ?", tenantID),
		filter,
	)

	if err := query.Order("created_at DESC").Find(&connModels).Error; err != nil {
		return nil, err
	}

	connections := make([]integration.Connection, len(connModels))
	for i, model := range connModels {
		connections[i] = *model.ToDomain()
	}
	return connections, nil
}

// Count counts connections for a tenant matching the filter
func (r *GormConnectionRepository) Count(ctx context.Context, tenantID uuid.UUID, filter integration.ConnectionFilter) (int64, error) {
	var count int64
	filter.Page = 0
	filter.PageSize = 0
	query := r.applyFilter(
		r.db.WithContext(ctx).Model(&models.ConnectionModel{}).Where("tenant_id = ?", tenantID),
		filter,
	)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindActiveByTenant finds all active connections for a tenant
func (r *GormConnectionRepository) FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]integration.Connection, error) {
	active := true
	return r.FindAll(ctx, tenantID, integration.ConnectionFilter{IsActive: &active})
}

// FindAllActive returns active connections across all tenants
func (r *GormConnectionRepository) FindAllActive(ctx context.Context) ([]integration.Connection, error) {
	var connModels []models.ConnectionModel
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&connModels).Error
	if err != nil {
		return nil, err
	}

	connections := make([]integration.Connection, len(connModels))
	for i, model := range connModels {
		connections[i] = *model.ToDomain()
	}
	return connections, nil
}

// CountActiveByType returns the number of active connections grouped by
// integration type, feeding the periodic telemetry gauges
func (r *GormConnectionRepository) CountActiveByType(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Type  string
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.ConnectionModel{}).
		Select("type, COUNT(*) AS count").
		Where("is_active = ?", true).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Count
	}
	return counts, nil
}

// Save creates or updates a connection
func (r *GormConnectionRepository) Save(ctx context.Context, conn *integration.Connection) error {
	model := models.ConnectionModelFromDomain(conn)
	return r.db.WithContext(ctx).Save(model).Error
}

// UpdateSyncStatus writes only the sync bookkeeping columns so concurrent
// config edits are not clobbered mid-sync
func (r *GormConnectionRepository) UpdateSyncStatus(ctx context.Context, id uuid.UUID, status integration.SyncStatus, errorMessage string, lastSyncAt *time.Time) error {
	updates := map[string]any{
		"sync_status": status,
		"last_error":  errorMessage,
		"updated_at":  time.Now(),
	}
	if lastSyncAt != nil {
		updates["last_sync_at"] = *lastSyncAt
	}

	result := r.db.WithContext(ctx).
		Model(&models.ConnectionModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrConnectionNotFound
	}
	return nil
}

// Delete removes a connection
func (r *GormConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.ConnectionModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrConnectionNotFound
	}
	return nil
}

func (r *GormConnectionRepository) applyFilter(query *gorm.DB, filter integration.ConnectionFilter) *gorm.DB {
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if filter.SyncStatus != nil {
		query = query.Where("sync_status = ?", *filter.SyncStatus)
	}
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Limit(filter.PageSize).Offset((page - 1) * filter.PageSize)
	}
	return query
}

// GormSyncLogRepository implements integration.SyncLogRepository using GORM
type GormSyncLogRepository struct {
	db *gorm.DB
}

var _ integration.SyncLogRepository = (*GormSyncLogRepository)(nil)

// NewGormSyncLogRepository creates a new GormSyncLogRepository
func NewGormSyncLogRepository(db *gorm.DB) *GormSyncLogRepository {
	return &GormSyncLogRepository{db: db}
}

// Append writes a log entry. The log is append-only; entries are never
// updated or deleted by application code.
func (r *GormSyncLogRepository) Append(ctx context.Context, entry *integration.SyncLog) error {
	model := models.SyncLogModelFromDomain(entry)
	return r.db.WithContext(ctx).Create(model).Error
}

// FindByConnection returns the most recent log entries for a connection
func (r *GormSyncLogRepository) FindByConnection(ctx context.Context, tenantID, connectionID uuid.UUID, limit int) ([]integration.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var logModels []models.SyncLogModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND connection_id = ?", tenantID, connectionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logModels).Error; err != nil {
		return nil, err
	}

	logs := make([]integration.SyncLog, len(logModels))
	for i, model := range logModels {
		logs[i] = *model.ToDomain()
	}
	return logs, nil
}

// GormSyncCursorRepository implements integration.SyncCursorRepository using GORM
type GormSyncCursorRepository struct {
	db *gorm.DB
}

var _ integration.SyncCursorRepository = (*GormSyncCursorRepository)(nil)

// NewGormSyncCursorRepository creates a new GormSyncCursorRepository
func NewGormSyncCursorRepository(db *gorm.DB) *GormSyncCursorRepository {
	return &GormSyncCursorRepository{db: db}
}

// Find returns the cursor for a (connection, entity type) pair, or
// shared.ErrNotFound before the first successful sync
func (r *GormSyncCursorRepository) Find(ctx context.Context, connectionID uuid.UUID, entityType integration.EntityType) (*integration.SyncCursor, error) {
	var model models.SyncCursorModel
	if err := r.db.WithContext(ctx).
		Where("connection_id = ? AND entity_type = ?", connectionID, entityType).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save upserts the cursor for a (connection, entity type) pair
func (r *GormSyncCursorRepository) Save(ctx context.Context, cursor *integration.SyncCursor) error {
	cursor.UpdatedAt = time.Now()
	model := models.SyncCursorModelFromDomain(cursor)
	return r.db.WithContext(ctx).Save(model).Error
}
