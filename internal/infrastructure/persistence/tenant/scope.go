// Package tenant provides multi-tenant database scoping for GORM.
//
// Every integration table carries a tenant_id column. This package adds
// WHERE tenant_id = ? conditions so a connection, sync log, or webhook
// of one organization can never leak into another organization's
// queries, either through explicit scopes or through GORM callbacks.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmhub/backend/internal/infrastructure/logger"
)

// ErrTenantIDRequired is returned when tenant_id is required but not found
var ErrTenantIDRequired = errors.New("tenant_id is required but not found in context")

// ErrInvalidTenantID is returned when the tenant_id format is invalid
var ErrInvalidTenantID = errors.New("invalid tenant_id format")

// Scope applies tenant filtering to a GORM query
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// ScopeString applies tenant filtering using a string tenant id
func ScopeString(tenantID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// DB wraps a GORM DB with automatic tenant scoping
type DB struct {
	db       *gorm.DB
	required bool
}

// Config holds configuration for the tenant-scoped DB
type Config struct {
	// Required determines whether a missing tenant id is an error
	Required bool
}

// DefaultConfig returns the default tenant DB configuration
func DefaultConfig() Config {
	return Config{Required: true}
}

// NewDB creates a tenant-scoped DB with default configuration
func NewDB(db *gorm.DB) *DB {
	return NewDBWithConfig(db, DefaultConfig())
}

// NewDBWithConfig creates a tenant-scoped DB with custom configuration
func NewDBWithConfig(db *gorm.DB, cfg Config) *DB {
	return &DB{db: db, required: cfg.Required}
}

// WithContext returns a GORM DB scoped to the tenant carried in the
// context. When no tenant is present and Required is set, the returned
// DB errors on first use instead of silently querying across tenants.
func (t *DB) WithContext(ctx context.Context) *gorm.DB {
	tenantID := logger.GetTenantID(ctx)

	if tenantID == "" {
		db := t.db.WithContext(ctx)
		if t.required {
			_ = db.AddError(ErrTenantIDRequired)
		}
		return db
	}

	if _, err := uuid.Parse(tenantID); err != nil {
		db := t.db.WithContext(ctx)
		_ = db.AddError(ErrInvalidTenantID)
		return db
	}

	return t.db.WithContext(ctx).Scopes(ScopeString(tenantID))
}

// WithTenant returns a GORM DB scoped to a specific tenant id
func (t *DB) WithTenant(tenantID uuid.UUID) *gorm.DB {
	if tenantID == uuid.Nil {
		db := t.db
		if t.required {
			_ = db.AddError(ErrTenantIDRequired)
		}
		return db
	}
	return t.db.Scopes(Scope(tenantID))
}

// Transaction runs fn inside a transaction scoped to the context tenant
func (t *DB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tenantID := logger.GetTenantID(ctx)
	if tenantID == "" && t.required {
		return ErrTenantIDRequired
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tenantID != "" {
			tx = tx.Scopes(ScopeString(tenantID))
		}
		return fn(tx)
	})
}

// Unscoped returns the underlying DB without tenant scoping. Only for
// system-level operations such as the sync sweep and migrations.
func (t *DB) Unscoped() *gorm.DB {
	return t.db
}
