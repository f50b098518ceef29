package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/connector"
	"github.com/crmhub/backend/internal/infrastructure/transform"
)

// ---------------------------------------------------------------------------
// Repository fakes
// ---------------------------------------------------------------------------

type fakeConnectionRepo struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*integration.Connection
}

func newFakeConnectionRepo(conns ...*integration.Connection) *fakeConnectionRepo {
	repo := &fakeConnectionRepo{conns: make(map[uuid.UUID]*integration.Connection)}
	for _, conn := range conns {
		repo.conns[conn.ID] = conn
	}
	return repo
}

func (r *fakeConnectionRepo) FindByID(_ context.Context, id uuid.UUID) (*integration.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, integration.ErrConnectionNotFound
	}
	return conn, nil
}

func (r *fakeConnectionRepo) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*integration.Connection, error) {
	conn, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.TenantID != tenantID {
		return nil, integration.ErrConnectionNotFound
	}
	return conn, nil
}

func (r *fakeConnectionRepo) FindAll(context.Context, uuid.UUID, integration.ConnectionFilter) ([]integration.Connection, error) {
	return nil, nil
}

func (r *fakeConnectionRepo) Count(context.Context, uuid.UUID, integration.ConnectionFilter) (int64, error) {
	return 0, nil
}

func (r *fakeConnectionRepo) FindActiveByTenant(context.Context, uuid.UUID) ([]integration.Connection, error) {
	return nil, nil
}

func (r *fakeConnectionRepo) FindAllActive(context.Context) ([]integration.Connection, error) {
	return nil, nil
}

func (r *fakeConnectionRepo) Save(_ context.Context, conn *integration.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	return nil
}

func (r *fakeConnectionRepo) UpdateSyncStatus(context.Context, uuid.UUID, integration.SyncStatus, string, *time.Time) error {
	return nil
}

func (r *fakeConnectionRepo) Delete(context.Context, uuid.UUID) error { return nil }

type fakeConfigRepo struct {
	mu      sync.Mutex
	configs map[uuid.UUID]*integration.WebhookConfig
}

func newFakeConfigRepo(configs ...*integration.WebhookConfig) *fakeConfigRepo {
	repo := &fakeConfigRepo{configs: make(map[uuid.UUID]*integration.WebhookConfig)}
	for _, cfg := range configs {
		repo.configs[cfg.ID] = cfg
	}
	return repo
}

func (r *fakeConfigRepo) FindByID(_ context.Context, id uuid.UUID) (*integration.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, integration.ErrWebhookConfigNotFound
	}
	return cfg, nil
}

func (r *fakeConfigRepo) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*integration.WebhookConfig, error) {
	cfg, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.TenantID != tenantID {
		return nil, integration.ErrWebhookConfigNotFound
	}
	return cfg, nil
}

func (r *fakeConfigRepo) FindByIntegration(_ context.Context, tenantID, integrationID uuid.UUID) ([]integration.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.WebhookConfig
	for _, cfg := range r.configs {
		if cfg.TenantID == tenantID && cfg.IntegrationID == integrationID {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (r *fakeConfigRepo) FindActiveSubscribers(_ context.Context, integrationID uuid.UUID, eventType integration.WebhookEventType) ([]integration.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.WebhookConfig
	for _, cfg := range r.configs {
		if cfg.IntegrationID == integrationID && cfg.IsActive && cfg.SubscribesTo(eventType) {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (r *fakeConfigRepo) Save(_ context.Context, cfg *integration.WebhookConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.ID] = cfg
	return nil
}

func (r *fakeConfigRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, id)
	return nil
}

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*integration.WebhookDelivery
}

func newFakeDeliveryRepo(deliveries ...*integration.WebhookDelivery) *fakeDeliveryRepo {
	repo := &fakeDeliveryRepo{deliveries: make(map[uuid.UUID]*integration.WebhookDelivery)}
	for _, d := range deliveries {
		repo.deliveries[d.ID] = d
	}
	return repo
}

func (r *fakeDeliveryRepo) FindByID(_ context.Context, id uuid.UUID) (*integration.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, integration.ErrDeliveryNotFound
	}
	return d, nil
}

func (r *fakeDeliveryRepo) FindByConfig(_ context.Context, tenantID, configID uuid.UUID, _ int) ([]integration.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.WebhookDelivery
	for _, d := range r.deliveries {
		if d.TenantID == tenantID && d.ConfigID == configID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) FindDueForRetry(_ context.Context, now time.Time, limit int) ([]integration.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.WebhookDelivery
	for _, d := range r.deliveries {
		if d.DueForRetry(now) {
			out = append(out, *d)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) Save(_ context.Context, delivery *integration.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *delivery
	r.deliveries[delivery.ID] = &stored
	return nil
}

func (r *fakeDeliveryRepo) byStatus(status integration.DeliveryStatus) []*integration.WebhookDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.WebhookDelivery
	for _, d := range r.deliveries {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

type fakeSyncLogRepo struct {
	mu      sync.Mutex
	entries []*integration.SyncLog
}

func (r *fakeSyncLogRepo) Append(_ context.Context, entry *integration.SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeSyncLogRepo) FindByConnection(context.Context, uuid.UUID, uuid.UUID, int) ([]integration.SyncLog, error) {
	return nil, nil
}

type fakeCursorRepo struct{}

func (fakeCursorRepo) Find(context.Context, uuid.UUID, integration.EntityType) (*integration.SyncCursor, error) {
	return nil, shared.ErrNotFound
}
func (fakeCursorRepo) Save(context.Context, *integration.SyncCursor) error { return nil }

type fakeEntityStore struct{}

func (fakeEntityStore) FindByExternalID(context.Context, uuid.UUID, integration.EntityType, string) (integration.EntityRecord, error) {
	return nil, shared.ErrNotFound
}
func (fakeEntityStore) Create(context.Context, uuid.UUID, integration.EntityType, string, integration.EntityRecord) error {
	return nil
}
func (fakeEntityStore) Update(context.Context, uuid.UUID, integration.EntityType, string, integration.EntityRecord) error {
	return nil
}
func (fakeEntityStore) Delete(context.Context, uuid.UUID, integration.EntityType, string) error {
	return nil
}

// ---------------------------------------------------------------------------
// Stub connector
// ---------------------------------------------------------------------------

// stubConnector records webhook events routed to it
type stubConnector struct {
	connID  uuid.UUID
	mu      sync.Mutex
	handled []integration.WebhookEventType
}

var _ integration.Connector = (*stubConnector)(nil)

func (c *stubConnector) Type() integration.IntegrationType { return integration.IntegrationTypeCustom }
func (c *stubConnector) ConnectionID() uuid.UUID           { return c.connID }
func (c *stubConnector) Authenticate(context.Context) bool { return true }

func (c *stubConnector) TestConnection(context.Context) bool { return true }

func (c *stubConnector) SyncData(context.Context, integration.EntityType, integration.SyncConfig) (*integration.SyncResult, error) {
	return &integration.SyncResult{Success: true}, nil
}

func (c *stubConnector) GetEntityData(context.Context, integration.EntityType, string) (integration.EntityRecord, error) {
	return nil, integration.ErrEntityNotFound
}

func (c *stubConnector) CreateEntity(context.Context, integration.EntityType, integration.EntityRecord) (string, error) {
	return "", nil
}

func (c *stubConnector) UpdateEntity(context.Context, integration.EntityType, string, integration.EntityRecord) error {
	return nil
}

func (c *stubConnector) DeleteEntity(context.Context, integration.EntityType, string) error {
	return nil
}

func (c *stubConnector) record(eventType integration.WebhookEventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handled = append(c.handled, eventType)
}

func (c *stubConnector) HandleWebhookCreate(context.Context, *integration.WebhookPayload) error {
	c.record(integration.WebhookEventCreate)
	return nil
}

func (c *stubConnector) HandleWebhookUpdate(context.Context, *integration.WebhookPayload) error {
	c.record(integration.WebhookEventUpdate)
	return nil
}

func (c *stubConnector) HandleWebhookDelete(context.Context, *integration.WebhookPayload) error {
	c.record(integration.WebhookEventDelete)
	return nil
}

func (c *stubConnector) handledEvents() []integration.WebhookEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]integration.WebhookEventType(nil), c.handled...)
}

// newStubConnectorManager wires a connector manager that resolves every
// CUSTOM connection to the given stub
func newStubConnectorManager(connRepo *fakeConnectionRepo, stub *stubConnector) *connector.Manager {
	helpers := connector.NewHelpers(connRepo, &fakeSyncLogRepo{}, fakeCursorRepo{}, fakeEntityStore{}, transform.NewTransformer(), zap.NewNop())
	registry := connector.NewRegistry(connector.Dependencies{Helpers: helpers})
	registry.Register(integration.IntegrationTypeCustom, func(conn *integration.Connection, _ connector.Dependencies) (integration.Connector, error) {
		stub.connID = conn.ID
		return stub, nil
	})
	return connector.NewManager(registry, connRepo, helpers, zap.NewNop())
}
