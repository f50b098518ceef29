package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crmhub/backend/internal/infrastructure/telemetry"
)

// ProfilingConfig holds configuration for the profiling middleware
type ProfilingConfig struct {
	Enabled   bool
	SkipPaths []string
}

// DefaultProfilingConfig returns default profiling middleware configuration
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:   true,
		SkipPaths: []string{"/health", "/ready"},
	}
}

// Profiling returns profiling middleware with default configuration
func Profiling() gin.HandlerFunc {
	return ProfilingWithConfig(DefaultProfilingConfig())
}

// ProfilingWithConfig attaches Pyroscope labels (method, route,
// controller, tenant) to the request context so profiles can be
// filtered per endpoint and tenant.
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip {
				c.Next()
				return
			}
		}

		labels := profilingLabels(c)
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func profilingLabels(c *gin.Context) map[string]string {
	labels := make(map[string]string, 4)

	labels[telemetry.ProfilingLabelMethod] = c.Request.Method

	route := c.FullPath()
	if route != "" {
		labels[telemetry.ProfilingLabelRoute] = route
	}
	if controller := controllerFromRoute(route); controller != "" {
		labels[telemetry.ProfilingLabelController] = controller
	}
	if tenantID, ok := GetTenantUUID(c); ok {
		labels[telemetry.ProfilingLabelTenantID] = tenantID.String()
	}

	return labels
}

// controllerFromRoute derives a controller label from the route pattern,
// e.g. "/api/v1/integrations/:id/sync" -> "integrations".
func controllerFromRoute(route string) string {
	if route == "" {
		return ""
	}
	parts := strings.Split(strings.TrimPrefix(route, "/"), "/")
	for i, part := range parts {
		if part == "api" || strings.HasPrefix(part, "v") && i > 0 && parts[i-1] == "api" {
			continue
		}
		if part == "" || strings.HasPrefix(part, ":") || strings.HasPrefix(part, "*") {
			continue
		}
		return part
	}
	return ""
}
