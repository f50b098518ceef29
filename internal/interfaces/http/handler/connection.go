package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	integrationapp "github.com/crmhub/backend/internal/application/integration"
)

// IntegrationHandler handles integration connection API endpoints
type IntegrationHandler struct {
	BaseHandler
	connections integrationapp.ConnectionService
	sync        integrationapp.SyncService
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(connections integrationapp.ConnectionService, sync integrationapp.SyncService, logger *zap.Logger) *IntegrationHandler {
	return &IntegrationHandler{
		BaseHandler: NewBaseHandler(logger),
		connections: connections,
		sync:        sync,
	}
}

// RegisterRoutes registers all integration connection routes
func (h *IntegrationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	integrations := rg.Group("/integrations")
	{
		integrations.POST("", h.Create)
		integrations.GET("", h.List)
		integrations.GET("/:id", h.Get)
		integrations.PUT("/:id", h.Update)
		integrations.DELETE("/:id", h.Delete)
		integrations.POST("/:id/enable", h.Enable)
		integrations.POST("/:id/disable", h.Disable)
		integrations.POST("/:id/test", h.TestConnection)
		integrations.POST("/:id/authenticate", h.Authenticate)
		integrations.POST("/:id/sync", h.TriggerSync)
		integrations.POST("/:id/sync/now", h.SyncNow)
		integrations.GET("/:id/logs", h.GetSyncLogs)
	}
}

// Create creates a new integration connection
func (h *IntegrationHandler) Create(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var req integrationapp.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.connections.Create(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// List returns the tenant's integration connections with pagination
func (h *IntegrationHandler) List(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var filter integrationapp.ConnectionListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.connections.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, result.Connections, result.Total, result.Page, result.PageSize)
}

// Get returns a single integration connection
func (h *IntegrationHandler) Get(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	connectionID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	resp, err := h.connections.Get(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Update updates an integration connection; credential or config changes
// invalidate the cached connector
func (h *IntegrationHandler) Update(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	connectionID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	var req integrationapp.UpdateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.connections.Update(c.Request.Context(), tenantID, connectionID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Delete removes an integration connection
func (h *IntegrationHandler) Delete(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	connectionID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.connections.Delete(c.Request.Context(), tenantID, connectionID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// Enable re-activates a disabled connection
func (h *IntegrationHandler) Enable(c *gin.Context) {
	h.setActive(c, true)
}

// Disable deactivates a connection and evicts its cached connector
func (h *IntegrationHandler) Disable(c *gin.Context) {
	h.setActive(c, false)
}

func (h *IntegrationHandler) setActive(c *gin.Context, active bool) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	connectionID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	var (
		resp *integrationapp.ConnectionResponse
		err  error
	)
	if active {
		resp, err = h.connections.Enable(c.Request.Context(), tenantID, connectionID)
	} else {
		resp, err = h.connections.Disable(c.Request.Context(), tenantID, connectionID)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// TestConnection checks reachability of the remote system
func (h *IntegrationHandler) TestConnection(c *gin.Context) {
	h.probe(c, h.connections.TestConnection, "reachable")
}

// Authenticate validates the stored credentials against the remote system
func (h *IntegrationHandler) Authenticate(c *gin.Context) {
	h.probe(c, h.connections.Authenticate, "authenticated")
}

func (h *IntegrationHandler) probe(c *gin.Context, fn func(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error), field string) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	connectionID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	result, err := fn(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{field: result})
}

// TriggerSync schedules an asynchronous sync job for the connection
func (h *IntegrationHandler) TriggerSync(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	connectionID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	job, err := h.sync.TriggerSync(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, job)
}

// SyncNow runs a synchronous sync and returns the aggregated result
func (h *IntegrationHandler) SyncNow(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	connectionID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	result, err := h.sync.SyncNow(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// GetSyncLogs returns the most recent sync log entries for the connection
func (h *IntegrationHandler) GetSyncLogs(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	connectionID, ok := h.pathUUID(c, "id")
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

	logs, err := h.connections.GetSyncLogs(c.Request.Context(), tenantID, connectionID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, logs)
}
