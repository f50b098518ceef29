package integration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/connector"
	"github.com/crmhub/backend/internal/infrastructure/transform"
)

// ---------------------------------------------------------------------------
// In-memory repositories
// ---------------------------------------------------------------------------

type fakeConnectionRepo struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*domain.Connection
}

var _ domain.ConnectionRepository = (*fakeConnectionRepo)(nil)

func newFakeConnectionRepo(conns ...*domain.Connection) *fakeConnectionRepo {
	repo := &fakeConnectionRepo{conns: make(map[uuid.UUID]*domain.Connection)}
	for _, conn := range conns {
		repo.conns[conn.ID] = conn
	}
	return repo
}

func (r *fakeConnectionRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, domain.ErrConnectionNotFound
	}
	return conn, nil
}

func (r *fakeConnectionRepo) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*domain.Connection, error) {
	conn, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.TenantID != tenantID {
		return nil, domain.ErrConnectionNotFound
	}
	return conn, nil
}

func (r *fakeConnectionRepo) FindAll(_ context.Context, tenantID uuid.UUID, filter domain.ConnectionFilter) ([]domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Connection
	for _, conn := range r.conns {
		if conn.TenantID != tenantID {
			continue
		}
		if filter.Type != nil && conn.Type != *filter.Type {
			continue
		}
		if filter.IsActive != nil && conn.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, *conn)
	}
	return out, nil
}

func (r *fakeConnectionRepo) Count(ctx context.Context, tenantID uuid.UUID, filter domain.ConnectionFilter) (int64, error) {
	conns, err := r.FindAll(ctx, tenantID, filter)
	return int64(len(conns)), err
}

func (r *fakeConnectionRepo) FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Connection, error) {
	active := true
	return r.FindAll(ctx, tenantID, domain.ConnectionFilter{IsActive: &active})
}

func (r *fakeConnectionRepo) FindAllActive(_ context.Context) ([]domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Connection
	for _, conn := range r.conns {
		if conn.IsActive {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) Save(_ context.Context, conn *domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	return nil
}

func (r *fakeConnectionRepo) UpdateSyncStatus(_ context.Context, id uuid.UUID, status domain.SyncStatus, errorMessage string, lastSyncAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	conn.SyncStatus = status
	conn.LastError = errorMessage
	if lastSyncAt != nil {
		conn.LastSyncAt = lastSyncAt
	}
	return nil
}

func (r *fakeConnectionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return domain.ErrConnectionNotFound
	}
	delete(r.conns, id)
	return nil
}

type fakeSyncLogRepo struct {
	mu      sync.Mutex
	entries []*domain.SyncLog
}

var _ domain.SyncLogRepository = (*fakeSyncLogRepo)(nil)

func (r *fakeSyncLogRepo) Append(_ context.Context, entry *domain.SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeSyncLogRepo) FindByConnection(_ context.Context, _, connectionID uuid.UUID, _ int) ([]domain.SyncLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SyncLog
	for _, e := range r.entries {
		if e.ConnectionID == connectionID {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeCursorRepo struct {
	mu      sync.Mutex
	cursors map[string]*domain.SyncCursor
}

var _ domain.SyncCursorRepository = (*fakeCursorRepo)(nil)

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{cursors: make(map[string]*domain.SyncCursor)}
}

func (r *fakeCursorRepo) Find(_ context.Context, connectionID uuid.UUID, entityType domain.EntityType) (*domain.SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cursor, ok := r.cursors[connectionID.String()+"/"+string(entityType)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cursor, nil
}

func (r *fakeCursorRepo) Save(_ context.Context, cursor *domain.SyncCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[cursor.ConnectionID.String()+"/"+string(cursor.EntityType)] = cursor
	return nil
}

type fakeEntityStore struct{}

var _ domain.LocalEntityStore = (*fakeEntityStore)(nil)

func (s *fakeEntityStore) FindByExternalID(context.Context, uuid.UUID, domain.EntityType, string) (domain.EntityRecord, error) {
	return nil, shared.ErrNotFound
}

func (s *fakeEntityStore) Create(context.Context, uuid.UUID, domain.EntityType, string, domain.EntityRecord) error {
	return nil
}

func (s *fakeEntityStore) Update(context.Context, uuid.UUID, domain.EntityType, string, domain.EntityRecord) error {
	return nil
}

func (s *fakeEntityStore) Delete(context.Context, uuid.UUID, domain.EntityType, string) error {
	return nil
}

// ---------------------------------------------------------------------------
// Scripted connector and registry
// ---------------------------------------------------------------------------

type scriptedConnector struct {
	connID     uuid.UUID
	authResult bool
	testResult bool
	syncResult *domain.SyncResult
	syncErr    error

	mu      sync.Mutex
	handled []string
}

var _ domain.Connector = (*scriptedConnector)(nil)

func (c *scriptedConnector) Type() domain.IntegrationType  { return domain.IntegrationTypeCustom }
func (c *scriptedConnector) ConnectionID() uuid.UUID       { return c.connID }
func (c *scriptedConnector) Authenticate(context.Context) bool {
	return c.authResult
}

func (c *scriptedConnector) TestConnection(context.Context) bool { return c.testResult }

func (c *scriptedConnector) SyncData(context.Context, domain.EntityType, domain.SyncConfig) (*domain.SyncResult, error) {
	if c.syncErr != nil {
		return nil, c.syncErr
	}
	if c.syncResult != nil {
		result := *c.syncResult
		return &result, nil
	}
	result := &domain.SyncResult{RecordsCreated: 1}
	result.Finalize(time.Now())
	return result, nil
}

func (c *scriptedConnector) GetEntityData(context.Context, domain.EntityType, string) (domain.EntityRecord, error) {
	return domain.EntityRecord{}, nil
}

func (c *scriptedConnector) CreateEntity(context.Context, domain.EntityType, domain.EntityRecord) (string, error) {
	return "ext-1", nil
}

func (c *scriptedConnector) UpdateEntity(context.Context, domain.EntityType, string, domain.EntityRecord) error {
	return nil
}

func (c *scriptedConnector) DeleteEntity(context.Context, domain.EntityType, string) error {
	return nil
}

func (c *scriptedConnector) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handled = append(c.handled, call)
}

func (c *scriptedConnector) HandleWebhookCreate(context.Context, *domain.WebhookPayload) error {
	c.record("create")
	return nil
}

func (c *scriptedConnector) HandleWebhookUpdate(context.Context, *domain.WebhookPayload) error {
	c.record("update")
	return nil
}

func (c *scriptedConnector) HandleWebhookDelete(context.Context, *domain.WebhookPayload) error {
	c.record("delete")
	return nil
}

func (c *scriptedConnector) handledCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.handled...)
}

type scriptedRegistry struct {
	connectors map[uuid.UUID]domain.Connector
}

var _ domain.ConnectorRegistry = (*scriptedRegistry)(nil)

func (r *scriptedRegistry) Resolve(conn *domain.Connection) (domain.Connector, error) {
	c, ok := r.connectors[conn.ID]
	if !ok {
		return nil, domain.ErrUnsupportedIntegrationType
	}
	return c, nil
}

func (r *scriptedRegistry) SupportedTypes() []domain.IntegrationType {
	return []domain.IntegrationType{domain.IntegrationTypeCustom}
}

// ---------------------------------------------------------------------------
// Test wiring
// ---------------------------------------------------------------------------

type serviceEnv struct {
	connRepo   *fakeConnectionRepo
	logRepo    *fakeSyncLogRepo
	registry   *scriptedRegistry
	connectors *connector.Manager
}

func newServiceEnv(conns ...*domain.Connection) *serviceEnv {
	connRepo := newFakeConnectionRepo(conns...)
	logRepo := &fakeSyncLogRepo{}
	registry := &scriptedRegistry{connectors: make(map[uuid.UUID]domain.Connector)}
	helpers := connector.NewHelpers(connRepo, logRepo, newFakeCursorRepo(), &fakeEntityStore{}, transform.NewTransformer(), zap.NewNop())

	return &serviceEnv{
		connRepo:   connRepo,
		logRepo:    logRepo,
		registry:   registry,
		connectors: connector.NewManager(registry, connRepo, helpers, zap.NewNop()),
	}
}

func (e *serviceEnv) script(connID uuid.UUID, c domain.Connector) {
	e.registry.connectors[connID] = c
}

func mustConnection(tenantID uuid.UUID, name string) *domain.Connection {
	conn, err := domain.NewConnection(tenantID, name, domain.IntegrationTypeCustom)
	if err != nil {
		panic(err)
	}
	return conn
}
