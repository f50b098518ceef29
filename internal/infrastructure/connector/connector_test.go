package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/transform"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type statusUpdate struct {
	id           uuid.UUID
	status       integration.SyncStatus
	errorMessage string
}

type fakeConnectionRepo struct {
	mu            sync.Mutex
	conns         map[uuid.UUID]*integration.Connection
	statusUpdates []statusUpdate
	findErr       error
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
	if r.findErr != nil {
		return nil, r.findErr
	}
	conn, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.TenantID != tenantID {
		return nil, integration.ErrConnectionNotFound
	}
	return conn, nil
}

func (r *fakeConnectionRepo) FindAll(_ context.Context, tenantID uuid.UUID, _ integration.ConnectionFilter) ([]integration.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.Connection
	for _, conn := range r.conns {
		if conn.TenantID == tenantID {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) Count(_ context.Context, tenantID uuid.UUID, _ integration.ConnectionFilter) (int64, error) {
	conns, _ := r.FindAll(context.Background(), tenantID, integration.ConnectionFilter{})
	return int64(len(conns)), nil
}

func (r *fakeConnectionRepo) FindActiveByTenant(_ context.Context, tenantID uuid.UUID) ([]integration.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.Connection
	for _, conn := range r.conns {
		if conn.TenantID == tenantID && conn.IsActive {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) FindAllActive(_ context.Context) ([]integration.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.Connection
	for _, conn := range r.conns {
		if conn.IsActive {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) Save(_ context.Context, conn *integration.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	return nil
}

func (r *fakeConnectionRepo) UpdateSyncStatus(_ context.Context, id uuid.UUID, status integration.SyncStatus, errorMessage string, lastSyncAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates = append(r.statusUpdates, statusUpdate{id: id, status: status, errorMessage: errorMessage})
	if conn, ok := r.conns[id]; ok {
		conn.SyncStatus = status
		conn.LastError = errorMessage
		if lastSyncAt != nil {
			conn.LastSyncAt = lastSyncAt
		}
	}
	return nil
}

func (r *fakeConnectionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	return nil
}

func (r *fakeConnectionRepo) lastStatus() statusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statusUpdates) == 0 {
		return statusUpdate{}
	}
	return r.statusUpdates[len(r.statusUpdates)-1]
}

func (r *fakeConnectionRepo) statuses(id uuid.UUID) []integration.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.SyncStatus
	for _, u := range r.statusUpdates {
		if u.id == id {
			out = append(out, u.status)
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

func (r *fakeSyncLogRepo) FindByConnection(_ context.Context, _, connectionID uuid.UUID, _ int) ([]integration.SyncLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.SyncLog
	for _, e := range r.entries {
		if e.ConnectionID == connectionID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeSyncLogRepo) operations() []integration.SyncOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]integration.SyncOperation, len(r.entries))
	for i, e := range r.entries {
		ops[i] = e.Operation
	}
	return ops
}

type fakeCursorRepo struct {
	mu      sync.Mutex
	cursors map[string]*integration.SyncCursor
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{cursors: make(map[string]*integration.SyncCursor)}
}

func cursorKey(connectionID uuid.UUID, entityType integration.EntityType) string {
	return connectionID.String() + "/" + string(entityType)
}

func (r *fakeCursorRepo) Find(_ context.Context, connectionID uuid.UUID, entityType integration.EntityType) (*integration.SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cursor, ok := r.cursors[cursorKey(connectionID, entityType)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cursor, nil
}

func (r *fakeCursorRepo) Save(_ context.Context, cursor *integration.SyncCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[cursorKey(cursor.ConnectionID, cursor.EntityType)] = cursor
	return nil
}

type fakeEntityStore struct {
	mu      sync.Mutex
	records map[string]integration.EntityRecord
	creates int
	updates int
	deletes int
	failOn  map[string]error
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		records: make(map[string]integration.EntityRecord),
		failOn:  make(map[string]error),
	}
}

func recordKey(tenantID uuid.UUID, entityType integration.EntityType, externalID string) string {
	return tenantID.String() + "/" + string(entityType) + "/" + externalID
}

func (s *fakeEntityStore) FindByExternalID(_ context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string) (integration.EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey(tenantID, entityType, externalID)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return record, nil
}

func (s *fakeEntityStore) Create(_ context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string, record integration.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[externalID]; ok {
		return err
	}
	s.records[recordKey(tenantID, entityType, externalID)] = record
	s.creates++
	return nil
}

func (s *fakeEntityStore) Update(_ context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string, record integration.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[externalID]; ok {
		return err
	}
	key := recordKey(tenantID, entityType, externalID)
	if _, ok := s.records[key]; !ok {
		return shared.ErrNotFound
	}
	s.records[key] = record
	s.updates++
	return nil
}

func (s *fakeEntityStore) Delete(_ context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(tenantID, entityType, externalID))
	s.deletes++
	return nil
}

func (s *fakeEntityStore) seed(tenantID uuid.UUID, entityType integration.EntityType, externalID string, record integration.EntityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(tenantID, entityType, externalID)] = record
}

func (s *fakeEntityStore) get(tenantID uuid.UUID, entityType integration.EntityType, externalID string) (integration.EntityRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey(tenantID, entityType, externalID)]
	return record, ok
}

// fakeConnector is a scriptable connector for manager and helpers tests
type fakeConnector struct {
	connID      uuid.UUID
	typ         integration.IntegrationType
	authResult  bool
	testResult  bool
	syncResult  *integration.SyncResult
	syncErr     error
	panicOnSync bool

	mu      sync.Mutex
	handled []string
}

var _ integration.Connector = (*fakeConnector)(nil)

func (c *fakeConnector) Type() integration.IntegrationType { return c.typ }
func (c *fakeConnector) ConnectionID() uuid.UUID           { return c.connID }
func (c *fakeConnector) Authenticate(context.Context) bool { return c.authResult }

func (c *fakeConnector) TestConnection(context.Context) bool { return c.testResult }

func (c *fakeConnector) SyncData(_ context.Context, entityType integration.EntityType, _ integration.SyncConfig) (*integration.SyncResult, error) {
	if c.panicOnSync {
		panic("connector blew up")
	}
	if c.syncErr != nil {
		return nil, c.syncErr
	}
	if c.syncResult != nil {
		result := *c.syncResult
		return &result, nil
	}
	result := &integration.SyncResult{RecordsCreated: 1}
	result.Finalize(time.Now())
	return result, nil
}

func (c *fakeConnector) GetEntityData(context.Context, integration.EntityType, string) (integration.EntityRecord, error) {
	return integration.EntityRecord{}, nil
}

func (c *fakeConnector) CreateEntity(context.Context, integration.EntityType, integration.EntityRecord) (string, error) {
	return "ext-1", nil
}

func (c *fakeConnector) UpdateEntity(context.Context, integration.EntityType, string, integration.EntityRecord) error {
	return nil
}

func (c *fakeConnector) DeleteEntity(context.Context, integration.EntityType, string) error {
	return nil
}

func (c *fakeConnector) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handled = append(c.handled, call)
}

func (c *fakeConnector) HandleWebhookCreate(context.Context, *integration.WebhookPayload) error {
	c.record("create")
	return nil
}

func (c *fakeConnector) HandleWebhookUpdate(context.Context, *integration.WebhookPayload) error {
	c.record("update")
	return nil
}

func (c *fakeConnector) HandleWebhookDelete(context.Context, *integration.WebhookPayload) error {
	c.record("delete")
	return nil
}

func (c *fakeConnector) handledCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.handled...)
}

// ---------------------------------------------------------------------------
// Test wiring
// ---------------------------------------------------------------------------

type testEnv struct {
	helpers  *Helpers
	connRepo *fakeConnectionRepo
	logRepo  *fakeSyncLogRepo
	cursors  *fakeCursorRepo
	store    *fakeEntityStore
}

func newTestEnv(conns ...*integration.Connection) *testEnv {
	connRepo := newFakeConnectionRepo(conns...)
	logRepo := &fakeSyncLogRepo{}
	cursors := newFakeCursorRepo()
	store := newFakeEntityStore()

	return &testEnv{
		helpers:  NewHelpers(connRepo, logRepo, cursors, store, transform.NewTransformer(), zap.NewNop()),
		connRepo: connRepo,
		logRepo:  logRepo,
		cursors:  cursors,
		store:    store,
	}
}

func mustConnection(tenantID uuid.UUID, name string, typ integration.IntegrationType) *integration.Connection {
	conn, err := integration.NewConnection(tenantID, name, typ)
	if err != nil {
		panic(fmt.Sprintf("test connection: %v", err))
	}
	return conn
}
