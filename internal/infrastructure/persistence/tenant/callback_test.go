package tenant

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallback_AddsTenantFilter(t *testing.T) {
	tenantID := uuid.New()
	db, mock, mockDB := setupMockDB(t)
	defer mockDB.Close()

	EnableAutoTenantFilter(db, true)

	mock.ExpectQuery(`SELECT \* FROM "sync_audits" WHERE "sync_audits"\."tenant_id" = \$1`).
		WithArgs(tenantID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "entry"}))

	var rows []syncAuditModel
	err := db.WithContext(tenantContext(tenantID.String())).Find(&rows).Error

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_SkipsWhenFilterAlreadyPresent(t *testing.T) {
	tenantID := uuid.New()
	db, mock, mockDB := setupMockDB(t)
	defer mockDB.Close()

	EnableAutoTenantFilter(db, true)

	// The explicit condition must not be duplicated by the callback
	mock.ExpectQuery(`SELECT \* FROM "sync_audits" WHERE tenant_id = \$1`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "entry"}))

	var rows []syncAuditModel
	err := db.WithContext(tenantContext(tenantID.String())).
		Where("tenant_id = ?", tenantID).
		Find(&rows).Error

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_RequiresTenant(t *testing.T) {
	db, _, mockDB := setupMockDB(t)
	defer mockDB.Close()

	EnableAutoTenantFilter(db, true)

	var rows []syncAuditModel
	err := db.WithContext(context.Background()).Find(&rows).Error

	assert.ErrorIs(t, err, ErrTenantIDRequired)
}

func TestCallback_OptionalTenant(t *testing.T) {
	db, mock, mockDB := setupMockDB(t)
	defer mockDB.Close()

	EnableAutoTenantFilter(db, false)

	mock.ExpectQuery(`SELECT \* FROM "sync_audits"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "entry"}))

	var rows []syncAuditModel
	err := db.WithContext(context.Background()).Find(&rows).Error

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_RejectsMalformedTenant(t *testing.T) {
	db, _, mockDB := setupMockDB(t)
	defer mockDB.Close()

	EnableAutoTenantFilter(db, true)

	var rows []syncAuditModel
	err := db.WithContext(tenantContext("garbage")).Find(&rows).Error

	assert.ErrorIs(t, err, ErrInvalidTenantID)
}

func TestDisableAutoTenantFilter(t *testing.T) {
	db, mock, mockDB := setupMockDB(t)
	defer mockDB.Close()

	EnableAutoTenantFilter(db, true)
	DisableAutoTenantFilter(db)

	mock.ExpectQuery(`SELECT \* FROM "sync_audits"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "entry"}))

	var rows []syncAuditModel
	err := db.WithContext(context.Background()).Find(&rows).Error

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
