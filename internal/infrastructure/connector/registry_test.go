package connector

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/backend/internal/domain/integration"
)

func TestRegistry_Resolve(t *testing.T) {
	t.Run("resolves a registered type", func(t *testing.T) {
		registry := NewRegistry(Dependencies{})
		registry.Register(integration.IntegrationTypeCustom, func(conn *integration.Connection, _ Dependencies) (integration.Connector, error) {
			return &fakeConnector{connID: conn.ID, typ: integration.IntegrationTypeCustom}, nil
		})

		conn := mustConnection(uuid.New(), "custom", integration.IntegrationTypeCustom)
		c, err := registry.Resolve(conn)

		require.NoError(t, err)
		assert.Equal(t, integration.IntegrationTypeCustom, c.Type())
		assert.Equal(t, conn.ID, c.ConnectionID())
	})

	t.Run("unregistered type is unsupported", func(t *testing.T) {
		registry := NewRegistry(Dependencies{})

		conn := mustConnection(uuid.New(), "sap", integration.IntegrationTypeSAP)
		c, err := registry.Resolve(conn)

		assert.Nil(t, c)
		assert.ErrorIs(t, err, integration.ErrUnsupportedIntegrationType)
	})

	t.Run("registering again replaces the constructor", func(t *testing.T) {
		registry := NewRegistry(Dependencies{})
		registry.Register(integration.IntegrationTypeCustom, func(conn *integration.Connection, _ Dependencies) (integration.Connector, error) {
			return &fakeConnector{connID: conn.ID, authResult: false}, nil
		})
		registry.Register(integration.IntegrationTypeCustom, func(conn *integration.Connection, _ Dependencies) (integration.Connector, error) {
			return &fakeConnector{connID: conn.ID, authResult: true}, nil
		})

		conn := mustConnection(uuid.New(), "custom", integration.IntegrationTypeCustom)
		c, err := registry.Resolve(conn)

		require.NoError(t, err)
		assert.True(t, c.Authenticate(t.Context()))
	})
}

func TestRegistry_SupportedTypes(t *testing.T) {
	registry := NewRegistry(Dependencies{})
	assert.Empty(t, registry.SupportedTypes())

	registry.Register(integration.IntegrationTypeSalesforce, NewSalesforceConnector)
	registry.Register(integration.IntegrationTypeMonday, NewMondayConnector)

	assert.Equal(t, []integration.IntegrationType{
		integration.IntegrationTypeMonday,
		integration.IntegrationTypeSalesforce,
	}, registry.SupportedTypes())
}

func TestNewDefaultRegistry(t *testing.T) {
	env := newTestEnv()
	registry := NewDefaultRegistry(Dependencies{Helpers: env.helpers})

	assert.Equal(t, []integration.IntegrationType{
		integration.IntegrationTypeMonday,
		integration.IntegrationTypeSalesforce,
	}, registry.SupportedTypes())

	// A connection without the connector's required config fails to resolve
	conn := mustConnection(uuid.New(), "sf", integration.IntegrationTypeSalesforce)
	c, err := registry.Resolve(conn)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrSalesforceInstanceURLRequired)
}
