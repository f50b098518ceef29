package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	integrationapp "github.com/crmhub/backend/internal/application/integration"
)

// SyncHandler handles sync job history and sweep endpoints
type SyncHandler struct {
	BaseHandler
	sync integrationapp.SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(sync integrationapp.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		BaseHandler: NewBaseHandler(logger),
		sync:        sync,
	}
}

// RegisterRoutes registers all sync routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sync := rg.Group("/sync")
	{
		sync.GET("/jobs", h.GetJobHistory)
		sync.POST("/sweep", h.RunSweep)
	}
}

// GetJobHistory returns recent sync jobs for the tenant, newest first
func (h *SyncHandler) GetJobHistory(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			h.BadRequest(c, "limit must be an integer between 1 and 200")
			return
		}
		limit = parsed
	}

	jobs, err := h.sync.GetJobHistory(c.Request.Context(), tenantID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, jobs)
}

// RunSweep syncs every active connection of the caller's tenant that is
// due. One connection failing does not stop the sweep.
func (h *SyncHandler) RunSweep(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	result, err := h.sync.RunSweep(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
