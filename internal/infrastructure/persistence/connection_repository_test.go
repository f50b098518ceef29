package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
)

// newMockDB creates a GORM connection backed by sqlmock
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

func TestGormConnectionRepository_FindByIDForTenant(t *testing.T) {
	t.Run("finds existing connection", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormConnectionRepository(gormDB)

		connID := uuid.New()
		tenantID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "tenant_id", "name", "type", "config", "credentials", "sync_config", "is_active", "sync_status", "sync_frequency_minutes"}).
			AddRow(connID, tenantID, "prod salesforce", "SALESFORCE",
				`{"instance_url":"https://example.my.salesforce.com"}`, `{}`,
				`{"entity_types":["contact"],"batch_size":25}`, true, "success", 30)

		mock.ExpectQuery(`SELECT \* FROM "integration_connections" WHERE tenant_id = \$1 AND id = \$2 ORDER BY .* LIMIT .*`).
			WithArgs(tenantID, connID, 1).
			WillReturnRows(rows)

		conn, err := repo.FindByIDForTenant(context.Background(), tenantID, connID)

		require.NoError(t, err)
		assert.Equal(t, connID, conn.ID)
		assert.Equal(t, integration.IntegrationTypeSalesforce, conn.Type)
		assert.Equal(t, integration.SyncStatusSuccess, conn.SyncStatus)
		assert.Equal(t, "https://example.my.salesforce.com", conn.Config["instance_url"])
		assert.Equal(t, 25, conn.SyncConfig.BatchSize)
		// Defaults are filled for fields absent from the stored blob
		assert.Equal(t, "external_id", conn.SyncConfig.ExternalIDField)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns domain error for missing connection", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormConnectionRepository(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "integration_connections"`).
			WillReturnError(gorm.ErrRecordNotFound)

		conn, err := repo.FindByIDForTenant(context.Background(), uuid.New(), uuid.New())

		assert.Nil(t, conn)
		assert.ErrorIs(t, err, integration.ErrConnectionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormConnectionRepository_FindAll(t *testing.T) {
	t.Run("applies tenant scope and filters", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormConnectionRepository(gormDB)

		tenantID := uuid.New()
		active := true
		connType := integration.IntegrationTypeMonday

		rows := sqlmock.NewRows([]string{"id", "tenant_id", "name", "type", "is_active", "sync_status"}).
			AddRow(uuid.New(), tenantID, "boards", "MONDAY", true, "pending")

		mock.ExpectQuery(`SELECT \* FROM "integration_connections" WHERE tenant_id = \$1 AND type = \$2 AND is_active = \$3 ORDER BY created_at DESC`).
			WithArgs(tenantID, connType, active).
			WillReturnRows(rows)

		conns, err := repo.FindAll(context.Background(), tenantID, integration.ConnectionFilter{
			Type:     &connType,
			IsActive: &active,
		})

		require.NoError(t, err)
		require.Len(t, conns, 1)
		assert.Equal(t, integration.IntegrationTypeMonday, conns[0].Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormConnectionRepository_CountActiveByType(t *testing.T) {
	t.Run("groups active connections by type", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormConnectionRepository(gormDB)

		rows := sqlmock.NewRows([]string{"type", "count"}).
			AddRow("SALESFORCE", 3).
			AddRow("MONDAY", 1)

		mock.ExpectQuery(`SELECT type, COUNT\(\*\) AS count FROM "integration_connections" WHERE is_active = \$1 GROUP BY "type"`).
			WithArgs(true).
			WillReturnRows(rows)

		counts, err := repo.CountActiveByType(context.Background())

		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"SALESFORCE": 3, "MONDAY": 1}, counts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormConnectionRepository_UpdateSyncStatus(t *testing.T) {
	t.Run("updates only sync columns", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormConnectionRepository(gormDB)

		connID := uuid.New()
		now := time.Now()

		mock.ExpectExec(`UPDATE "integration_connections" SET .*`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateSyncStatus(context.Background(), connID, integration.SyncStatusSuccess, "", &now)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found when no rows affected", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormConnectionRepository(gormDB)

		mock.ExpectExec(`UPDATE "integration_connections" SET .*`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateSyncStatus(context.Background(), uuid.New(), integration.SyncStatusError, "boom", nil)

		assert.ErrorIs(t, err, integration.ErrConnectionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormSyncCursorRepository_Find(t *testing.T) {
	t.Run("missing cursor maps to ErrNotFound", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormSyncCursorRepository(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "integration_sync_cursors"`).
			WillReturnError(gorm.ErrRecordNotFound)

		cursor, err := repo.Find(context.Background(), uuid.New(), integration.EntityTypeContact)

		assert.Nil(t, cursor)
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finds existing cursor", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormSyncCursorRepository(gormDB)

		connID := uuid.New()
		mark := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

		rows := sqlmock.NewRows([]string{"connection_id", "entity_type", "last_synced_at", "updated_at"}).
			AddRow(connID, "deal", mark, mark)

		mock.ExpectQuery(`SELECT \* FROM "integration_sync_cursors" WHERE connection_id = \$1 AND entity_type = \$2 ORDER BY .* LIMIT .*`).
			WithArgs(connID, integration.EntityTypeDeal, 1).
			WillReturnRows(rows)

		cursor, err := repo.Find(context.Background(), connID, integration.EntityTypeDeal)

		require.NoError(t, err)
		assert.Equal(t, mark, cursor.LastSyncedAt.UTC())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormSyncLogRepository_Append(t *testing.T) {
	gormDB, mock, mockDB := newMockDB(t)
	defer mockDB.Close()
	repo := NewGormSyncLogRepository(gormDB)

	entry := integration.NewSyncLog(uuid.New(), uuid.New(), integration.EntityTypeContact,
		integration.SyncOperationComplete, map[string]any{"records_processed": 5})

	mock.ExpectExec(`INSERT INTO "integration_sync_logs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), entry)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
