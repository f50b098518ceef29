package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
)

// maxDeliveryResponseSize bounds how much of a subscriber's response is
// kept on the delivery record
const maxDeliveryResponseSize = 64 << 10 // 64KB

// eventTypeHeader tells subscribers the event kind without parsing the body
const eventTypeHeader = "X-Webhook-Event"

// Dispatcher performs outbound delivery attempts and persists their
// outcome on the delivery record. Each attempt runs under its own
// timeout so one slow endpoint never stalls a sweep.
type Dispatcher struct {
	deliveries     integration.WebhookDeliveryRepository
	httpClient     *http.Client
	defaultTimeout time.Duration
	log            *zap.Logger
}

// NewDispatcher creates a webhook dispatcher. defaultTimeout applies to
// configs without their own timeout.
func NewDispatcher(deliveries integration.WebhookDeliveryRepository, httpClient *http.Client, defaultTimeout time.Duration, log *zap.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		deliveries:     deliveries,
		httpClient:     httpClient,
		defaultTimeout: defaultTimeout,
		log:            log,
	}
}

// Dispatch performs one delivery attempt. The outcome lands on the
// delivery record: delivered on a 2xx, retrying with a linear-backoff
// nextRetryAt while budget remains, terminally failed once exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *integration.WebhookConfig, delivery *integration.WebhookDelivery) error {
	if !delivery.CanAttempt(cfg.RetryAttempts) {
		return nil
	}

	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		return fmt.Errorf("webhook: failed to encode payload: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCode, responseBody, attemptErr := d.attempt(attemptCtx, cfg, body, delivery.Payload.EventType)

	switch {
	case attemptErr != nil:
		delivery.RecordFailure(nil, "", attemptErr.Error(), cfg.RetryAttempts, cfg.RetryDelay)
	case statusCode >= 200 && statusCode < 300:
		delivery.RecordSuccess(statusCode, responseBody)
	default:
		delivery.RecordFailure(&statusCode, responseBody, fmt.Sprintf("HTTP %d", statusCode), cfg.RetryAttempts, cfg.RetryDelay)
	}

	if err := d.deliveries.Save(ctx, delivery); err != nil {
		return fmt.Errorf("webhook: failed to persist delivery outcome: %w", err)
	}

	d.log.Debug("delivery attempt recorded",
		zap.String("delivery_id", delivery.ID.String()),
		zap.String("target_url", cfg.TargetURL),
		zap.String("status", string(delivery.Status)),
		zap.Int("attempts", delivery.Attempts),
	)
	return nil
}

// attempt performs the signed HTTP POST for one delivery attempt
func (d *Dispatcher) attempt(ctx context.Context, cfg *integration.WebhookConfig, body []byte, eventType integration.WebhookEventType) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(cfg.Secret, body))
	req.Header.Set(eventTypeHeader, string(eventType))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxDeliveryResponseSize))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, string(responseBody), nil
}

// FanOut creates one delivery per subscriber and dispatches them
// concurrently. It returns once every endpoint has been attempted.
func (d *Dispatcher) FanOut(ctx context.Context, configs []integration.WebhookConfig, payload integration.WebhookPayload) []*integration.WebhookDelivery {
	deliveries := make([]*integration.WebhookDelivery, len(configs))

	var wg sync.WaitGroup
	for i := range configs {
		cfg := &configs[i]
		delivery := integration.NewWebhookDelivery(cfg, payload)
		deliveries[i] = delivery

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Dispatch(ctx, cfg, delivery); err != nil {
				d.log.Error("failed to dispatch delivery",
					zap.String("delivery_id", delivery.ID.String()),
					zap.String("target_url", cfg.TargetURL),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()
	return deliveries
}
