package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domain "github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/infrastructure/scheduler"
)

func newSyncService(t *testing.T, env *serviceEnv) *SyncServiceImpl {
	t.Helper()

	jobs, err := scheduler.NewSyncScheduler(scheduler.SyncSchedulerConfig{
		MaxConcurrentJobs: 1,
		JobTimeout:        5 * time.Second,
	}, scheduler.NewConnectorExecutor(env.connectors), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, jobs.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = jobs.Stop(ctx)
	})

	return NewSyncService(env.connRepo, env.connectors, jobs, zap.NewNop())
}

func TestSyncService_TriggerSync(t *testing.T) {
	t.Run("queues a job and records history", func(t *testing.T) {
		tenantID := uuid.New()
		conn := mustConnection(tenantID, "custom")
		conn.SyncConfig.EntityTypes = []domain.EntityType{domain.EntityTypeContact}
		env := newServiceEnv(conn)

		result := &domain.SyncResult{RecordsCreated: 2}
		result.Finalize(time.Now())
		env.script(conn.ID, &scriptedConnector{connID: conn.ID, syncResult: result})
		svc := newSyncService(t, env)

		job, err := svc.TriggerSync(context.Background(), tenantID, conn.ID)

		require.NoError(t, err)
		assert.Equal(t, conn.ID, job.ConnectionID)

		assert.Eventually(t, func() bool {
			history, err := svc.GetJobHistory(context.Background(), tenantID, 10)
			if err != nil || len(history) == 0 {
				return false
			}
			return history[0].Status == string(scheduler.SyncJobStatusSuccess)
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("rejects disabled connection", func(t *testing.T) {
		tenantID := uuid.New()
		conn := mustConnection(tenantID, "custom")
		conn.Disable()
		env := newServiceEnv(conn)
		svc := newSyncService(t, env)

		_, err := svc.TriggerSync(context.Background(), tenantID, conn.ID)

		assert.ErrorIs(t, err, domain.ErrConnectionDisabled)
	})

	t.Run("rejects connection from another tenant", func(t *testing.T) {
		conn := mustConnection(uuid.New(), "custom")
		env := newServiceEnv(conn)
		svc := newSyncService(t, env)

		_, err := svc.TriggerSync(context.Background(), uuid.New(), conn.ID)

		assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
	})
}

func TestSyncService_SyncNow(t *testing.T) {
	tenantID := uuid.New()
	conn := mustConnection(tenantID, "custom")
	conn.SyncConfig.EntityTypes = []domain.EntityType{domain.EntityTypeContact, domain.EntityTypeDeal}
	env := newServiceEnv(conn)

	result := &domain.SyncResult{RecordsCreated: 2, RecordsUpdated: 1}
	result.Finalize(time.Now())
	env.script(conn.ID, &scriptedConnector{connID: conn.ID, syncResult: result})
	svc := newSyncService(t, env)

	resp, err := svc.SyncNow(context.Background(), tenantID, conn.ID)

	require.NoError(t, err)
	assert.True(t, resp.Success)
	// One pass per configured entity type
	assert.Equal(t, 4, resp.RecordsCreated)
	assert.Equal(t, 2, resp.RecordsUpdated)
	assert.Equal(t, 6, resp.RecordsProcessed)
}

func TestSyncService_RunSweep(t *testing.T) {
	t.Run("syncs due connections and skips fresh ones", func(t *testing.T) {
		tenantID := uuid.New()
		due := mustConnection(tenantID, "due")
		due.SyncConfig.EntityTypes = []domain.EntityType{domain.EntityTypeContact}
		fresh := mustConnection(tenantID, "fresh")
		now := time.Now()
		fresh.LastSyncAt = &now
		env := newServiceEnv(due, fresh)

		result := &domain.SyncResult{RecordsCreated: 1}
		result.Finalize(time.Now())
		env.script(due.ID, &scriptedConnector{connID: due.ID, syncResult: result})
		svc := newSyncService(t, env)

		sweep, err := svc.RunSweep(context.Background(), tenantID)

		require.NoError(t, err)
		assert.Equal(t, 2, sweep.Total)
		assert.Equal(t, 1, sweep.Synced)
		assert.Equal(t, 1, sweep.Skipped)
		assert.Equal(t, 0, sweep.Failed)
	})

	t.Run("never touches another tenant's connections", func(t *testing.T) {
		tenantA := uuid.New()
		tenantB := uuid.New()
		mine := mustConnection(tenantA, "mine")
		mine.SyncConfig.EntityTypes = []domain.EntityType{domain.EntityTypeContact}
		theirs := mustConnection(tenantB, "theirs")
		theirs.SyncConfig.EntityTypes = []domain.EntityType{domain.EntityTypeContact}
		env := newServiceEnv(mine, theirs)

		result := &domain.SyncResult{RecordsCreated: 1}
		result.Finalize(time.Now())
		env.script(mine.ID, &scriptedConnector{connID: mine.ID, syncResult: result})
		env.script(theirs.ID, &scriptedConnector{connID: theirs.ID, syncResult: result})
		svc := newSyncService(t, env)

		sweep, err := svc.RunSweep(context.Background(), tenantA)

		require.NoError(t, err)
		assert.Equal(t, 1, sweep.Total)
		assert.Equal(t, 1, sweep.Synced)
		assert.Equal(t, domain.SyncStatusSuccess, env.connRepo.conns[mine.ID].SyncStatus)
		assert.Equal(t, domain.SyncStatusPending, env.connRepo.conns[theirs.ID].SyncStatus)
	})
}

func TestSyncService_GetJobHistory_ScopedToTenant(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	connA := mustConnection(tenantA, "a")
	connA.SyncConfig.EntityTypes = []domain.EntityType{domain.EntityTypeContact}
	connB := mustConnection(tenantB, "b")
	connB.SyncConfig.EntityTypes = []domain.EntityType{domain.EntityTypeContact}
	env := newServiceEnv(connA, connB)
	env.script(connA.ID, &scriptedConnector{connID: connA.ID})
	env.script(connB.ID, &scriptedConnector{connID: connB.ID})
	svc := newSyncService(t, env)

	_, err := svc.TriggerSync(context.Background(), tenantA, connA.ID)
	require.NoError(t, err)
	_, err = svc.TriggerSync(context.Background(), tenantB, connB.ID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		historyA, err := svc.GetJobHistory(context.Background(), tenantA, 10)
		if err != nil {
			return false
		}
		historyB, err := svc.GetJobHistory(context.Background(), tenantB, 10)
		if err != nil {
			return false
		}
		if len(historyA) != 1 || len(historyB) != 1 {
			return false
		}
		return historyA[0].ConnectionID == connA.ID && historyB[0].ConnectionID == connB.ID
	}, 2*time.Second, 10*time.Millisecond)
}
