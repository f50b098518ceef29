package integration

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/infrastructure/connector"
	"github.com/crmhub/backend/internal/infrastructure/scheduler"
)

// SyncService orchestrates data synchronization between the CRM and
// external systems
type SyncService interface {
	// TriggerSync queues an asynchronous sync pass for the connection
	TriggerSync(ctx context.Context, tenantID, connectionID uuid.UUID) (*SyncJobResponse, error)
	// SyncNow runs a sync pass synchronously and returns its result
	SyncNow(ctx context.Context, tenantID, connectionID uuid.UUID) (*SyncResultResponse, error)
	GetJobHistory(ctx context.Context, tenantID uuid.UUID, limit int) ([]SyncJobResponse, error)
	// RunSweep syncs every due active connection the tenant owns. The
	// cross-tenant sweep is reserved for the background trigger.
	RunSweep(ctx context.Context, tenantID uuid.UUID) (*SweepResultResponse, error)
}

// SweepResultResponse summarizes one sweep over all active connections
type SweepResultResponse struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// SyncServiceImpl implements SyncService
type SyncServiceImpl struct {
	connections integration.ConnectionRepository
	connectors  *connector.Manager
	jobs        *scheduler.SyncScheduler
	logger      *zap.Logger
}

var _ SyncService = (*SyncServiceImpl)(nil)

// NewSyncService creates a new SyncService
func NewSyncService(
	connections integration.ConnectionRepository,
	connectors *connector.Manager,
	jobs *scheduler.SyncScheduler,
	logger *zap.Logger,
) *SyncServiceImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncServiceImpl{
		connections: connections,
		connectors:  connectors,
		jobs:        jobs,
		logger:      logger,
	}
}

// TriggerSync verifies ownership and queues a background sync job
func (s *SyncServiceImpl) TriggerSync(ctx context.Context, tenantID, connectionID uuid.UUID) (*SyncJobResponse, error) {
	conn, err := s.connections.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive {
		return nil, integration.ErrConnectionDisabled
	}

	job, err := s.jobs.ScheduleSync(tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("sync job queued",
		zap.String("job_id", job.ID.String()),
		zap.String("connection_id", connectionID.String()),
	)

	resp := ToSyncJobResponse(job)
	return &resp, nil
}

// SyncNow runs a sync pass inline. Callers that cannot wait should use
// TriggerSync instead.
func (s *SyncServiceImpl) SyncNow(ctx context.Context, tenantID, connectionID uuid.UUID) (*SyncResultResponse, error) {
	result, err := s.connectors.SyncIntegration(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	resp := ToSyncResultResponse(result)
	return &resp, nil
}

// GetJobHistory returns recent sync jobs for the tenant, newest first
func (s *SyncServiceImpl) GetJobHistory(_ context.Context, tenantID uuid.UUID, limit int) ([]SyncJobResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	jobs := s.jobs.GetJobHistoryByTenant(tenantID, limit)
	return ToSyncJobResponses(jobs), nil
}

// RunSweep syncs the tenant's due connections with per-connection
// failure isolation
func (s *SyncServiceImpl) RunSweep(ctx context.Context, tenantID uuid.UUID) (*SweepResultResponse, error) {
	sweep, err := s.connectors.SyncTenantIntegrations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &SweepResultResponse{
		Total:   sweep.Total,
		Synced:  sweep.Synced,
		Failed:  sweep.Failed,
		Skipped: sweep.Skipped,
	}, nil
}
