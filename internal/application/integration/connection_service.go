// Package integration contains the application services for connection
// management, sync orchestration and webhook administration. Services
// enforce tenant ownership and translate between transport DTOs and the
// domain model.
package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/connector"
)

// ConnectionService manages integration connections
type ConnectionService interface {
	Create(ctx context.Context, tenantID uuid.UUID, req CreateConnectionRequest) (*ConnectionResponse, error)
	Get(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionResponse, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ConnectionListFilter) (*ConnectionListResult, error)
	Update(ctx context.Context, tenantID, connectionID uuid.UUID, req UpdateConnectionRequest) (*ConnectionResponse, error)
	Enable(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionResponse, error)
	Disable(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionResponse, error)
	Delete(ctx context.Context, tenantID, connectionID uuid.UUID) error
	TestConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error)
	Authenticate(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error)
	GetSyncLogs(ctx context.Context, tenantID, connectionID uuid.UUID, limit int) ([]SyncLogResponse, error)
}

// ConnectionListResult is a paginated list of connections
type ConnectionListResult struct {
	Connections []ConnectionResponse `json:"connections"`
	Total       int64                `json:"total"`
	Page        int                  `json:"page"`
	PageSize    int                  `json:"page_size"`
	TotalPages  int                  `json:"total_pages"`
}

// ConnectionServiceImpl implements ConnectionService
type ConnectionServiceImpl struct {
	connections integration.ConnectionRepository
	syncLogs    integration.SyncLogRepository
	connectors  *connector.Manager
	logger      *zap.Logger
}

var _ ConnectionService = (*ConnectionServiceImpl)(nil)

// NewConnectionService creates a new ConnectionService
func NewConnectionService(
	connections integration.ConnectionRepository,
	syncLogs integration.SyncLogRepository,
	connectors *connector.Manager,
	logger *zap.Logger,
) *ConnectionServiceImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionServiceImpl{
		connections: connections,
		syncLogs:    syncLogs,
		connectors:  connectors,
		logger:      logger,
	}
}

// Create registers a new connection for the tenant
func (s *ConnectionServiceImpl) Create(ctx context.Context, tenantID uuid.UUID, req CreateConnectionRequest) (*ConnectionResponse, error) {
	conn, err := integration.NewConnection(tenantID, req.Name, integration.IntegrationType(req.Type))
	if err != nil {
		return nil, err
	}

	if req.Config != nil {
		conn.Config = req.Config
	}
	if req.Credentials != nil {
		conn.Credentials = req.Credentials
	}
	if req.SyncConfig != nil {
		applySyncConfig(&conn.SyncConfig, req.SyncConfig)
	}
	if req.SyncFrequencyMinutes > 0 {
		conn.SyncFrequencyMinutes = req.SyncFrequencyMinutes
	}

	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("connection created",
		zap.String("connection_id", conn.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("type", conn.Type.String()),
	)

	resp := ToConnectionResponse(conn)
	return &resp, nil
}

// Get returns one connection within the tenant
func (s *ConnectionServiceImpl) Get(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionResponse, error) {
	conn, err := s.connections.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	resp := ToConnectionResponse(conn)
	return &resp, nil
}

// List returns a paginated list of the tenant's connections
func (s *ConnectionServiceImpl) List(ctx context.Context, tenantID uuid.UUID, filter ConnectionListFilter) (*ConnectionListResult, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}

	domainFilter := filter.ToDomainFilter()

	conns, err := s.connections.FindAll(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, err
	}
	total, err := s.connections.Count(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / filter.PageSize
	if int(total)%filter.PageSize > 0 {
		totalPages++
	}

	return &ConnectionListResult{
		Connections: ToConnectionResponses(conns),
		Total:       total,
		Page:        filter.Page,
		PageSize:    filter.PageSize,
		TotalPages:  totalPages,
	}, nil
}

// Update mutates a connection's settings. Changing config or credentials
// invalidates the cached connector so the next use picks up the new values.
func (s *ConnectionServiceImpl) Update(ctx context.Context, tenantID, connectionID uuid.UUID, req UpdateConnectionRequest) (*ConnectionResponse, error) {
	conn, err := s.connections.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	invalidate := false
	if req.Name != nil {
		if *req.Name == "" {
			return nil, shared.ErrInvalidInput
		}
		conn.Name = *req.Name
	}
	if req.Config != nil {
		conn.Config = req.Config
		invalidate = true
	}
	if req.Credentials != nil {
		conn.Credentials = req.Credentials
		invalidate = true
	}
	if req.SyncConfig != nil {
		applySyncConfig(&conn.SyncConfig, req.SyncConfig)
		invalidate = true
	}
	if req.SyncFrequencyMinutes != nil {
		if *req.SyncFrequencyMinutes < 1 {
			return nil, shared.ErrInvalidInput
		}
		conn.SyncFrequencyMinutes = *req.SyncFrequencyMinutes
	}
	conn.Touch()

	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, err
	}
	if invalidate {
		s.connectors.Invalidate(connectionID)
		s.logger.Info("connector cache invalidated after update",
			zap.String("connection_id", connectionID.String()),
		)
	}

	resp := ToConnectionResponse(conn)
	return &resp, nil
}

// Enable re-activates a disabled connection
func (s *ConnectionServiceImpl) Enable(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionResponse, error) {
	conn, err := s.connections.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	conn.Enable()
	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, err
	}

	resp := ToConnectionResponse(conn)
	return &resp, nil
}

// Disable soft-disables a connection and evicts its cached connector
func (s *ConnectionServiceImpl) Disable(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionResponse, error) {
	conn, err := s.connections.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	conn.Disable()
	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, err
	}
	s.connectors.Invalidate(connectionID)

	resp := ToConnectionResponse(conn)
	return &resp, nil
}

// Delete removes a connection and evicts its cached connector
func (s *ConnectionServiceImpl) Delete(ctx context.Context, tenantID, connectionID uuid.UUID) error {
	// Ownership check before the hard delete
	if _, err := s.connections.FindByIDForTenant(ctx, tenantID, connectionID); err != nil {
		return err
	}

	if err := s.connections.Delete(ctx, connectionID); err != nil {
		return err
	}
	s.connectors.Invalidate(connectionID)

	s.logger.Info("connection deleted",
		zap.String("connection_id", connectionID.String()),
		zap.String("tenant_id", tenantID.String()),
	)
	return nil
}

// TestConnection checks reachability of the external system
func (s *ConnectionServiceImpl) TestConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error) {
	return s.connectors.TestIntegration(ctx, tenantID, connectionID)
}

// Authenticate verifies the stored credentials against the external system
func (s *ConnectionServiceImpl) Authenticate(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error) {
	return s.connectors.AuthenticateIntegration(ctx, tenantID, connectionID)
}

// GetSyncLogs returns recent sync activity for a connection
func (s *ConnectionServiceImpl) GetSyncLogs(ctx context.Context, tenantID, connectionID uuid.UUID, limit int) ([]SyncLogResponse, error) {
	if _, err := s.connections.FindByIDForTenant(ctx, tenantID, connectionID); err != nil {
		return nil, err
	}

	logs, err := s.syncLogs.FindByConnection(ctx, tenantID, connectionID, limit)
	if err != nil {
		return nil, err
	}
	return ToSyncLogResponses(logs), nil
}

// applySyncConfig overlays request fields onto an existing sync config and
// re-applies defaults for anything left unset
func applySyncConfig(cfg *integration.SyncConfig, req *SyncConfigRequest) {
	if len(req.EntityTypes) > 0 {
		entityTypes := make([]integration.EntityType, 0, len(req.EntityTypes))
		for _, raw := range req.EntityTypes {
			et := integration.EntityType(raw)
			if et.IsValid() {
				entityTypes = append(entityTypes, et)
			}
		}
		cfg.EntityTypes = entityTypes
	}
	if req.FieldMappings != nil {
		cfg.FieldMappings = req.FieldMappings
	}
	if req.ExternalIDField != "" {
		cfg.ExternalIDField = req.ExternalIDField
	}
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.LookbackMinutes > 0 {
		cfg.LookbackWindow = time.Duration(req.LookbackMinutes) * time.Minute
	}
	cfg.ApplyDefaults()
}
