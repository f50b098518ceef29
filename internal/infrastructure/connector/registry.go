package connector

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/infrastructure/retry"
)

// Dependencies is everything a connector constructor needs beyond the
// connection itself. One value is shared by all registered constructors.
type Dependencies struct {
	Helpers    *Helpers
	HTTPClient *http.Client
	Retry      retry.Policy
	Logger     *zap.Logger
}

func (d *Dependencies) applyDefaults() {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	d.Retry.ApplyDefaults()
}

// Constructor builds a connector for one connection
type Constructor func(conn *integration.Connection, deps Dependencies) (integration.Connector, error)

// Registry maps integration types to connector constructors. New connector
// types register themselves here instead of extending a factory switch.
type Registry struct {
	mu           sync.RWMutex
	deps         Dependencies
	constructors map[integration.IntegrationType]Constructor
}

var _ integration.ConnectorRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(deps Dependencies) *Registry {
	deps.applyDefaults()
	return &Registry{
		deps:         deps,
		constructors: make(map[integration.IntegrationType]Constructor),
	}
}

// NewDefaultRegistry creates a registry with all built-in connectors
func NewDefaultRegistry(deps Dependencies) *Registry {
	r := NewRegistry(deps)
	r.Register(integration.IntegrationTypeSalesforce, NewSalesforceConnector)
	r.Register(integration.IntegrationTypeMonday, NewMondayConnector)
	return r
}

// Register adds or replaces the constructor for an integration type
func (r *Registry) Register(t integration.IntegrationType, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[t] = c
}

// Resolve instantiates a connector for the given connection
func (r *Registry) Resolve(conn *integration.Connection) (integration.Connector, error) {
	r.mu.RLock()
	construct, ok := r.constructors[conn.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedIntegrationType, conn.Type)
	}
	return construct(conn, r.deps)
}

// SupportedTypes lists the registered integration types, sorted for
// stable output
func (r *Registry) SupportedTypes() []integration.IntegrationType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]integration.IntegrationType, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
