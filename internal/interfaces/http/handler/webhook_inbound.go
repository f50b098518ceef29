package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	integrationapp "github.com/crmhub/backend/internal/application/integration"
	"github.com/crmhub/backend/internal/infrastructure/webhook"
)

// InboundWebhookHandler receives webhook notifications from remote CRM
// systems. The endpoint is unauthenticated; the tenant is resolved from
// the connection after the HMAC signature checks out.
type InboundWebhookHandler struct {
	BaseHandler
	webhooks integrationapp.WebhookService
}

// NewInboundWebhookHandler creates a new InboundWebhookHandler
func NewInboundWebhookHandler(webhooks integrationapp.WebhookService, logger *zap.Logger) *InboundWebhookHandler {
	return &InboundWebhookHandler{
		BaseHandler: NewBaseHandler(logger),
		webhooks:    webhooks,
	}
}

// RegisterRoutes registers the inbound webhook route
func (h *InboundWebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/inbound/:id", h.Receive)
}

// Receive verifies and processes one inbound webhook event. The raw
// body is used for signature verification, so it must not be re-encoded
// before validation.
func (h *InboundWebhookHandler) Receive(c *gin.Context) {
	connectionID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		h.BadRequest(c, "Unable to read request body")
		return
	}
	if len(body) == 0 {
		h.BadRequest(c, "Empty request body")
		return
	}

	signature := c.GetHeader(webhook.SignatureHeader)

	if err := h.webhooks.ProcessInbound(c.Request.Context(), connectionID, body, signature); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"received": true})
}
