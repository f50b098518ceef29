package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crmhub/backend/internal/infrastructure/logger"
	"github.com/crmhub/backend/internal/interfaces/http/dto"
)

// TenantHeader carries the tenant identifier on every authenticated request
const TenantHeader = "X-Tenant-ID"

// TenantContextKey is the gin context key for the resolved tenant id
const TenantContextKey = "tenant_id"

// TenantConfig configures the tenant resolution middleware
type TenantConfig struct {
	// SkipPaths lists path prefixes that do not require a tenant,
	// such as health probes and inbound webhook endpoints where the
	// tenant is resolved from the signed payload instead.
	SkipPaths []string
}

// DefaultTenantConfig returns the default tenant middleware configuration
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		SkipPaths: []string{"/health", "/ready"},
	}
}

// TenantMiddleware resolves the tenant from the X-Tenant-ID header using
// the default configuration
func TenantMiddleware() gin.HandlerFunc {
	return TenantMiddlewareWithConfig(DefaultTenantConfig())
}

// TenantMiddlewareWithConfig resolves the tenant from the X-Tenant-ID
// header. Requests without a valid tenant id are rejected unless the
// path is in SkipPaths.
func TenantMiddlewareWithConfig(cfg TenantConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, prefix := range cfg.SkipPaths {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}

		raw := c.GetHeader(TenantHeader)
		if raw == "" {
			respondUnauthorized(c, "Missing "+TenantHeader+" header")
			return
		}

		tenantID, err := uuid.Parse(raw)
		if err != nil {
			respondUnauthorized(c, "Invalid tenant identifier")
			return
		}

		c.Set(TenantContextKey, tenantID)

		// Propagate to the request context so repository-level tenant
		// scoping and context loggers see the same tenant.
		log := logger.FromContext(c.Request.Context())
		ctx, _ := logger.WithTenantID(c.Request.Context(), log, tenantID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func respondUnauthorized(c *gin.Context, message string) {
	resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, message, GetRequestID(c))
	c.AbortWithStatusJSON(http.StatusUnauthorized, resp)
}

// GetTenantUUID returns the tenant id set by the tenant middleware
func GetTenantUUID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(TenantContextKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// MustGetTenantUUID returns the tenant id or aborts with 401. Handlers
// behind the tenant middleware can rely on it being present; the abort
// path only triggers on route wiring mistakes.
func MustGetTenantUUID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := GetTenantUUID(c)
	if !ok {
		respondUnauthorized(c, "Tenant context missing")
		return uuid.Nil, false
	}
	return id, true
}
