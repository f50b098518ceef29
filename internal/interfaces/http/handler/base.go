// Package handler implements the HTTP handlers for the integration hub
// API. Handlers bind requests, delegate to application services, and
// translate domain errors to the response envelope.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/domain/shared"
	"github.com/crmhub/backend/internal/infrastructure/scheduler"
	"github.com/crmhub/backend/internal/interfaces/http/dto"
	"github.com/crmhub/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common response helpers for all handlers
type BaseHandler struct {
	logger *zap.Logger
}

// NewBaseHandler creates a base handler
func NewBaseHandler(logger *zap.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// Success sends a 200 response with data
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a 200 response with data and pagination metadata
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 response with data
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the status derived from the code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	status := dto.GetHTTPStatus(code)
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeUnauthorized, message)
}

// UnprocessableEntity sends a 422 response
func (h *BaseHandler) UnprocessableEntity(c *gin.Context, code, message string) {
	h.Error(c, code, message)
}

// InternalError sends a 500 response and logs the underlying error
func (h *BaseHandler) InternalError(c *gin.Context, err error) {
	h.logger.Error("internal server error",
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	)
	h.Error(c, dto.ErrCodeInternal, "An internal error occurred")
}

// HandleError maps domain errors to HTTP responses. Sentinel errors from
// the integration domain map to specific codes; DomainError codes are
// normalized; everything else is a 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, integration.ErrConnectionNotFound):
		h.Error(c, dto.ErrCodeNotFound, "Integration connection not found")
	case errors.Is(err, integration.ErrWebhookConfigNotFound):
		h.Error(c, dto.ErrCodeNotFound, "Webhook configuration not found")
	case errors.Is(err, integration.ErrConnectionDisabled):
		h.Error(c, dto.ErrCodeConnectionDisabled, "Integration connection is disabled")
	case errors.Is(err, integration.ErrUnsupportedIntegrationType):
		h.Error(c, dto.ErrCodeUnsupportedType, "Unsupported integration type")
	case errors.Is(err, integration.ErrInvalidSignature):
		h.Error(c, dto.ErrCodeInvalidSignature, "Webhook signature verification failed")
	case errors.Is(err, integration.ErrInvalidPayload):
		h.Error(c, dto.ErrCodeBadRequest, "Invalid webhook payload")
	case errors.Is(err, scheduler.ErrSchedulerNotRunning), errors.Is(err, scheduler.ErrJobQueueFull):
		h.Error(c, dto.ErrCodeSchedulerUnavailable, "Sync scheduler is unavailable, try again later")
	default:
		var domainErr *shared.DomainError
		if errors.As(err, &domainErr) {
			code := dto.NormalizeErrorCode(domainErr.Code)
			h.Error(c, code, domainErr.Message)
			return
		}
		h.InternalError(c, err)
	}
}

// tenantID extracts the tenant from the request context, aborting with
// 401 when the tenant middleware did not run
func (h *BaseHandler) tenantID(c *gin.Context) (uuid.UUID, bool) {
	return middleware.MustGetTenantUUID(c)
}

// pathUUID parses a path parameter as a UUID, sending 400 on failure
func (h *BaseHandler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name+" path parameter")
		return uuid.Nil, false
	}
	return id, true
}
