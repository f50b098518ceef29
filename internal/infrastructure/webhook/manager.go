package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/config"
	"github.com/crmhub/backend/internal/infrastructure/connector"
)

// Manager owns webhook configuration, inbound payload processing, and
// the failed-delivery retry sweep.
type Manager struct {
	configs     integration.WebhookConfigRepository
	deliveries  integration.WebhookDeliveryRepository
	connections integration.ConnectionRepository
	connectors  *connector.Manager
	dispatcher  *Dispatcher
	idempotency shared.IdempotencyStore
	dedupTTL    time.Duration
	sweepBatch  int
	log         *zap.Logger
}

// NewManager creates a webhook manager
func NewManager(
	configs integration.WebhookConfigRepository,
	deliveries integration.WebhookDeliveryRepository,
	connections integration.ConnectionRepository,
	connectors *connector.Manager,
	dispatcher *Dispatcher,
	idempotency shared.IdempotencyStore,
	cfg config.WebhookConfig,
	log *zap.Logger,
) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	dedupTTL := cfg.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	sweepBatch := cfg.SweepBatchSize
	if sweepBatch <= 0 {
		sweepBatch = 100
	}
	return &Manager{
		configs:     configs,
		deliveries:  deliveries,
		connections: connections,
		connectors:  connectors,
		dispatcher:  dispatcher,
		idempotency: idempotency,
		dedupTTL:    dedupTTL,
		sweepBatch:  sweepBatch,
		log:         log,
	}
}

// ---------------------------------------------------------------------------
// Configuration CRUD
// ---------------------------------------------------------------------------

// CreateConfig registers a subscriber endpoint for a connection the
// tenant owns
func (m *Manager) CreateConfig(ctx context.Context, tenantID, integrationID uuid.UUID, name, targetURL, secret string, events []integration.WebhookEventType) (*integration.WebhookConfig, error) {
	if _, err := m.connections.FindByIDForTenant(ctx, tenantID, integrationID); err != nil {
		return nil, err
	}

	cfg, err := integration.NewWebhookConfig(tenantID, integrationID, name, targetURL, secret, events)
	if err != nil {
		return nil, err
	}
	if err := m.configs.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateConfig loads a tenant's config, applies the mutation, and saves
// it if still valid
func (m *Manager) UpdateConfig(ctx context.Context, tenantID, configID uuid.UUID, apply func(*integration.WebhookConfig)) (*integration.WebhookConfig, error) {
	cfg, err := m.configs.FindByIDForTenant(ctx, tenantID, configID)
	if err != nil {
		return nil, err
	}

	apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Touch()
	if err := m.configs.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetConfig returns one of the tenant's webhook configs
func (m *Manager) GetConfig(ctx context.Context, tenantID, configID uuid.UUID) (*integration.WebhookConfig, error) {
	return m.configs.FindByIDForTenant(ctx, tenantID, configID)
}

// ListConfigs returns the tenant's webhook configs for one connection
func (m *Manager) ListConfigs(ctx context.Context, tenantID, integrationID uuid.UUID) ([]integration.WebhookConfig, error) {
	return m.configs.FindByIntegration(ctx, tenantID, integrationID)
}

// DeleteConfig removes one of the tenant's webhook configs
func (m *Manager) DeleteConfig(ctx context.Context, tenantID, configID uuid.UUID) error {
	cfg, err := m.configs.FindByIDForTenant(ctx, tenantID, configID)
	if err != nil {
		return err
	}
	return m.configs.Delete(ctx, cfg.ID)
}

// ListDeliveries returns recent deliveries for one of the tenant's configs
func (m *Manager) ListDeliveries(ctx context.Context, tenantID, configID uuid.UUID, limit int) ([]integration.WebhookDelivery, error) {
	if _, err := m.configs.FindByIDForTenant(ctx, tenantID, configID); err != nil {
		return nil, err
	}
	return m.deliveries.FindByConfig(ctx, tenantID, configID, limit)
}

// ---------------------------------------------------------------------------
// Inbound processing
// ---------------------------------------------------------------------------

// ProcessInbound handles one webhook request from an external system:
// signature validation over the raw body, payload validation, duplicate
// suppression by event id, routing to the owning connector, and fan-out
// to subscriber endpoints.
func (m *Manager) ProcessInbound(ctx context.Context, connectionID uuid.UUID, rawBody []byte, signature string) error {
	conn, err := m.connections.FindByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if !conn.IsActive {
		return integration.ErrConnectionDisabled
	}

	secret := inboundSecret(conn)
	if secret == "" || !ValidateSignature(secret, rawBody, signature) {
		m.log.Warn("rejected inbound webhook with invalid signature",
			zap.String("connection_id", connectionID.String()),
		)
		return integration.ErrInvalidSignature
	}

	var payload integration.WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrInvalidPayload, err)
	}
	if payload.TenantID == uuid.Nil {
		payload.TenantID = conn.TenantID
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	if payload.TenantID != conn.TenantID {
		return integration.ErrInvalidPayload
	}

	// Duplicate events are acknowledged without reprocessing. The dedup
	// key is scoped to the connection: external systems mint event ids
	// independently, so the same id on two connections is two events.
	if payload.EventID != "" {
		fresh, err := m.idempotency.MarkProcessed(ctx, dedupKey(conn.ID, payload.EventID), m.dedupTTL)
		if err != nil {
			return fmt.Errorf("webhook: dedup check failed: %w", err)
		}
		if !fresh {
			m.log.Info("skipping duplicate webhook event",
				zap.String("connection_id", connectionID.String()),
				zap.String("event_id", payload.EventID),
			)
			return nil
		}
	}

	if err := m.connectors.ProcessWebhook(ctx, conn.TenantID, conn.ID, &payload); err != nil {
		return err
	}

	m.fanOut(ctx, conn.ID, payload)
	return nil
}

// fanOut delivers the payload to every active subscriber of the event
func (m *Manager) fanOut(ctx context.Context, integrationID uuid.UUID, payload integration.WebhookPayload) {
	subscribers, err := m.configs.FindActiveSubscribers(ctx, integrationID, payload.EventType)
	if err != nil {
		m.log.Error("failed to load webhook subscribers",
			zap.String("connection_id", integrationID.String()),
			zap.Error(err),
		)
		return
	}
	if len(subscribers) == 0 {
		return
	}

	deliveries := m.dispatcher.FanOut(ctx, subscribers, payload)
	m.log.Info("webhook fanned out",
		zap.String("connection_id", integrationID.String()),
		zap.String("event_type", string(payload.EventType)),
		zap.Int("subscribers", len(deliveries)),
	)
}

// ---------------------------------------------------------------------------
// Retry sweep
// ---------------------------------------------------------------------------

// RetryFailedWebhooks re-attempts deliveries whose backoff has elapsed.
// Deliveries whose config has since been deleted are terminally failed.
// Returns how many deliveries were attempted.
func (m *Manager) RetryFailedWebhooks(ctx context.Context) (int, error) {
	due, err := m.deliveries.FindDueForRetry(ctx, time.Now(), m.sweepBatch)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for i := range due {
		delivery := &due[i]

		cfg, err := m.configs.FindByID(ctx, delivery.ConfigID)
		if err != nil {
			delivery.RecordFailure(nil, "", "webhook config no longer exists", 1, 0)
			if saveErr := m.deliveries.Save(ctx, delivery); saveErr != nil {
				m.log.Error("failed to fail orphaned delivery",
					zap.String("delivery_id", delivery.ID.String()),
					zap.Error(saveErr),
				)
			}
			continue
		}
		if !cfg.IsActive || !delivery.CanAttempt(cfg.RetryAttempts) {
			continue
		}

		if err := m.dispatcher.Dispatch(ctx, cfg, delivery); err != nil {
			m.log.Error("retry dispatch failed",
				zap.String("delivery_id", delivery.ID.String()),
				zap.Error(err),
			)
			continue
		}
		attempted++
	}

	if attempted > 0 {
		m.log.Info("webhook retry sweep finished",
			zap.Int("due", len(due)),
			zap.Int("attempted", attempted),
		)
	}
	return attempted, nil
}

// dedupKey namespaces an external event id under its connection
func dedupKey(connectionID uuid.UUID, eventID string) string {
	return connectionID.String() + ":" + eventID
}

// inboundSecret resolves the shared secret a remote system signs inbound
// payloads with
func inboundSecret(conn *integration.Connection) string {
	for _, source := range []map[string]any{conn.Credentials, conn.Config} {
		if source == nil {
			continue
		}
		if secret, ok := source["webhook_secret"].(string); ok && secret != "" {
			return secret
		}
	}
	return ""
}
