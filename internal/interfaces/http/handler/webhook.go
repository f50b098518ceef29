package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	integrationapp "github.com/crmhub/backend/internal/application/integration"
)

// WebhookHandler handles outbound webhook configuration endpoints
type WebhookHandler struct {
	BaseHandler
	webhooks integrationapp.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhooks integrationapp.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: NewBaseHandler(logger),
		webhooks:    webhooks,
	}
}

// RegisterRoutes registers all webhook configuration routes. Creation
// and listing hang off the owning integration; the rest address the
// configuration directly.
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	integrations := rg.Group("/integrations")
	{
		integrations.POST("/:id/webhooks", h.Create)
		integrations.GET("/:id/webhooks", h.List)
	}

	webhooks := rg.Group("/webhooks")
	{
		webhooks.GET("/:id", h.Get)
		webhooks.PUT("/:id", h.Update)
		webhooks.DELETE("/:id", h.Delete)
		webhooks.GET("/:id/deliveries", h.ListDeliveries)
		webhooks.POST("/retry-sweep", h.RetrySweep)
	}
}

// Create registers an outbound webhook for an integration
func (h *WebhookHandler) Create(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	integrationID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	var req integrationapp.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	req.IntegrationID = integrationID

	resp, err := h.webhooks.Create(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// List returns the webhook configurations of an integration
func (h *WebhookHandler) List(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	integrationID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	configs, err := h.webhooks.List(c.Request.Context(), tenantID, integrationID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, configs)
}

// Get returns a single webhook configuration
func (h *WebhookHandler) Get(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	configID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	resp, err := h.webhooks.Get(c.Request.Context(), tenantID, configID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Update modifies a webhook configuration
func (h *WebhookHandler) Update(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	configID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	var req integrationapp.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.webhooks.Update(c.Request.Context(), tenantID, configID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Delete removes a webhook configuration
func (h *WebhookHandler) Delete(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	configID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.webhooks.Delete(c.Request.Context(), tenantID, configID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// ListDeliveries returns recent delivery attempts for a configuration
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	configID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			h.BadRequest(c, "limit must be an integer between 1 and 500")
			return
		}
		limit = parsed
	}

	deliveries, err := h.webhooks.ListDeliveries(c.Request.Context(), tenantID, configID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, deliveries)
}

// RetrySweep redelivers webhooks that are due for retry
func (h *WebhookHandler) RetrySweep(c *gin.Context) {
	retried, err := h.webhooks.RetrySweep(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"retried": retried})
}
