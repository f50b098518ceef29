package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/infrastructure/webhook"
)

// WebhookService administers webhook subscriptions and exposes inbound
// event processing to the transport layer
type WebhookService interface {
	Create(ctx context.Context, tenantID uuid.UUID, req CreateWebhookRequest) (*WebhookConfigResponse, error)
	Get(ctx context.Context, tenantID, configID uuid.UUID) (*WebhookConfigResponse, error)
	List(ctx context.Context, tenantID, integrationID uuid.UUID) ([]WebhookConfigResponse, error)
	Update(ctx context.Context, tenantID, configID uuid.UUID, req UpdateWebhookRequest) (*WebhookConfigResponse, error)
	Delete(ctx context.Context, tenantID, configID uuid.UUID) error
	ListDeliveries(ctx context.Context, tenantID, configID uuid.UUID, limit int) ([]WebhookDeliveryResponse, error)
	// ProcessInbound validates the signature and routes an inbound event
	ProcessInbound(ctx context.Context, connectionID uuid.UUID, rawBody []byte, signature string) error
	// RetrySweep re-attempts failed deliveries that are due
	RetrySweep(ctx context.Context) (int, error)
}

// WebhookServiceImpl implements WebhookService over the webhook manager
type WebhookServiceImpl struct {
	webhooks *webhook.Manager
	logger   *zap.Logger
}

var _ WebhookService = (*WebhookServiceImpl)(nil)

// NewWebhookService creates a new WebhookService
func NewWebhookService(webhooks *webhook.Manager, logger *zap.Logger) *WebhookServiceImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookServiceImpl{webhooks: webhooks, logger: logger}
}

// Create registers a subscriber endpoint for an integration
func (s *WebhookServiceImpl) Create(ctx context.Context, tenantID uuid.UUID, req CreateWebhookRequest) (*WebhookConfigResponse, error) {
	events := make([]integration.WebhookEventType, len(req.Events))
	for i, raw := range req.Events {
		events[i] = integration.WebhookEventType(raw)
	}

	cfg, err := s.webhooks.CreateConfig(ctx, tenantID, req.IntegrationID, req.Name, req.TargetURL, req.Secret, events)
	if err != nil {
		return nil, err
	}

	s.logger.Info("webhook config created",
		zap.String("config_id", cfg.ID.String()),
		zap.String("integration_id", req.IntegrationID.String()),
	)

	resp := ToWebhookConfigResponse(cfg)
	return &resp, nil
}

// Get returns one webhook config within the tenant
func (s *WebhookServiceImpl) Get(ctx context.Context, tenantID, configID uuid.UUID) (*WebhookConfigResponse, error) {
	cfg, err := s.webhooks.GetConfig(ctx, tenantID, configID)
	if err != nil {
		return nil, err
	}
	resp := ToWebhookConfigResponse(cfg)
	return &resp, nil
}

// List returns the webhook configs registered for an integration
func (s *WebhookServiceImpl) List(ctx context.Context, tenantID, integrationID uuid.UUID) ([]WebhookConfigResponse, error) {
	configs, err := s.webhooks.ListConfigs(ctx, tenantID, integrationID)
	if err != nil {
		return nil, err
	}
	return ToWebhookConfigResponses(configs), nil
}

// Update mutates a webhook config; nil request fields are left untouched
func (s *WebhookServiceImpl) Update(ctx context.Context, tenantID, configID uuid.UUID, req UpdateWebhookRequest) (*WebhookConfigResponse, error) {
	cfg, err := s.webhooks.UpdateConfig(ctx, tenantID, configID, func(cfg *integration.WebhookConfig) {
		if req.Name != nil {
			cfg.Name = *req.Name
		}
		if req.TargetURL != nil {
			cfg.TargetURL = *req.TargetURL
		}
		if req.Secret != nil {
			cfg.Secret = *req.Secret
		}
		if len(req.Events) > 0 {
			events := make([]integration.WebhookEventType, len(req.Events))
			for i, raw := range req.Events {
				events[i] = integration.WebhookEventType(raw)
			}
			cfg.Events = events
		}
		if req.IsActive != nil {
			cfg.IsActive = *req.IsActive
		}
		if req.RetryAttempts != nil {
			cfg.RetryAttempts = *req.RetryAttempts
		}
		if req.RetryDelaySec != nil {
			cfg.RetryDelay = time.Duration(*req.RetryDelaySec) * time.Second
		}
		if req.TimeoutSec != nil {
			cfg.Timeout = time.Duration(*req.TimeoutSec) * time.Second
		}
	})
	if err != nil {
		return nil, err
	}

	resp := ToWebhookConfigResponse(cfg)
	return &resp, nil
}

// Delete removes a webhook config
func (s *WebhookServiceImpl) Delete(ctx context.Context, tenantID, configID uuid.UUID) error {
	return s.webhooks.DeleteConfig(ctx, tenantID, configID)
}

// ListDeliveries returns recent delivery attempts for a config
func (s *WebhookServiceImpl) ListDeliveries(ctx context.Context, tenantID, configID uuid.UUID, limit int) ([]WebhookDeliveryResponse, error) {
	deliveries, err := s.webhooks.ListDeliveries(ctx, tenantID, configID, limit)
	if err != nil {
		return nil, err
	}
	return ToWebhookDeliveryResponses(deliveries), nil
}

// ProcessInbound validates and routes an inbound webhook event
func (s *WebhookServiceImpl) ProcessInbound(ctx context.Context, connectionID uuid.UUID, rawBody []byte, signature string) error {
	return s.webhooks.ProcessInbound(ctx, connectionID, rawBody, signature)
}

// RetrySweep re-attempts failed deliveries whose backoff has elapsed
func (s *WebhookServiceImpl) RetrySweep(ctx context.Context) (int, error) {
	return s.webhooks.RetryFailedWebhooks(ctx)
}
