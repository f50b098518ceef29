package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/infrastructure/retry"
)

const mondayAPIVersion = "2024-01"

const mondayItemFields = `id name updated_at column_values { id text }`

// MondayConnector syncs CRM entities with Monday.com boards over its
// GraphQL API. Authentication is a static API token, so Authenticate
// verifies the token rather than exchanging credentials.
type MondayConnector struct {
	conn       *integration.Connection
	config     *MondayConfig
	helpers    *Helpers
	httpClient *http.Client
	retryP     retry.Policy
	log        *zap.Logger
}

var _ integration.Connector = (*MondayConnector)(nil)

// NewMondayConnector creates a connector for one Monday.com connection
func NewMondayConnector(conn *integration.Connection, deps Dependencies) (integration.Connector, error) {
	config, err := ParseMondayConfig(conn)
	if err != nil {
		return nil, err
	}

	return &MondayConnector{
		conn:       conn,
		config:     config,
		helpers:    deps.Helpers,
		httpClient: deps.HTTPClient,
		retryP:     deps.Retry,
		log: deps.Logger.With(
			zap.String("connector", "monday"),
			zap.String("connection_id", conn.ID.String()),
		),
	}, nil
}

// Type returns the integration type this connector handles
func (c *MondayConnector) Type() integration.IntegrationType {
	return integration.IntegrationTypeMonday
}

// ConnectionID returns the id of the connection this connector serves
func (c *MondayConnector) ConnectionID() uuid.UUID {
	return c.conn.ID
}

// Authenticate verifies the API token by resolving the token's own user
func (c *MondayConnector) Authenticate(ctx context.Context) bool {
	var data mondayMeData
	if err := c.doGraphQL(ctx, `query { me { id } }`, nil, &data); err != nil {
		c.log.Warn("token verification failed", zap.Error(err))
		return false
	}
	return data.Me != nil && data.Me.ID != ""
}

// TestConnection verifies connectivity; for a token-based API this is
// the same check as Authenticate
func (c *MondayConnector) TestConnection(ctx context.Context) bool {
	return c.Authenticate(ctx)
}

// SyncData pulls board items changed since the last cursor (or the
// lookback window on a first sync) and upserts them locally in batches
func (c *MondayConnector) SyncData(ctx context.Context, entityType integration.EntityType, cfg integration.SyncConfig) (*integration.SyncResult, error) {
	started := time.Now()
	cfg.ApplyDefaults()

	boardID, err := c.config.BoardFor(entityType)
	if err != nil {
		return nil, err
	}

	since := c.helpers.SyncWindowStart(ctx, c.conn.ID, entityType, cfg.LookbackWindow)

	items, err := c.fetchBoardItems(ctx, boardID)
	if err != nil {
		return nil, err
	}

	// Monday's items_page cannot filter on updated_at, so the change
	// window is applied client-side
	records := make([]integration.EntityRecord, 0, len(items))
	for i := range items {
		if items[i].UpdatedAt.After(since) {
			records = append(records, items[i].toRecord())
		}
	}

	result := c.helpers.UpsertRemoteRecords(ctx, c.conn, entityType, cfg, records, "id")
	result.Finalize(started)

	if result.Success {
		if err := c.helpers.AdvanceCursor(ctx, c.conn.ID, entityType, started); err != nil {
			c.log.Warn("failed to advance sync cursor",
				zap.String("entity_type", entityType.String()),
				zap.Error(err),
			)
		}
	}

	return result, nil
}

// GetEntityData fetches a single board item by its item id
func (c *MondayConnector) GetEntityData(ctx context.Context, entityType integration.EntityType, externalID string) (integration.EntityRecord, error) {
	if _, err := c.config.BoardFor(entityType); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`query ($itemID: [ID!]) { items(ids: $itemID) { %s } }`, mondayItemFields)

	var data mondayItemsData
	err := retry.Do(ctx, c.retryP, func(ctx context.Context) error {
		return c.doGraphQL(ctx, query, map[string]any{"itemID": []string{externalID}}, &data)
	})
	if err != nil {
		return nil, err
	}
	if len(data.Items) == 0 {
		return nil, integration.ErrEntityNotFound
	}
	return data.Items[0].toRecord(), nil
}

// CreateEntity creates a board item and returns its item id. The record's
// "name" key becomes the item name; remaining keys become column values.
func (c *MondayConnector) CreateEntity(ctx context.Context, entityType integration.EntityType, record integration.EntityRecord) (string, error) {
	boardID, err := c.config.BoardFor(entityType)
	if err != nil {
		return "", err
	}

	name, _ := record["name"].(string)
	if name == "" {
		name = "untitled"
	}
	columnValues, err := encodeColumnValues(record)
	if err != nil {
		return "", err
	}

	query := `mutation ($boardID: ID!, $name: String!, $columns: JSON) {
		create_item(board_id: $boardID, item_name: $name, column_values: $columns) { id }
	}`

	var data mondayItemIDData
	err = c.doGraphQL(ctx, query, map[string]any{
		"boardID": boardID,
		"name":    name,
		"columns": columnValues,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.CreateItem == nil || data.CreateItem.ID == "" {
		return "", fmt.Errorf("%w: create rejected", integration.ErrRemoteRequestFailed)
	}
	return data.CreateItem.ID, nil
}

// UpdateEntity updates a board item's column values in place
func (c *MondayConnector) UpdateEntity(ctx context.Context, entityType integration.EntityType, externalID string, record integration.EntityRecord) error {
	boardID, err := c.config.BoardFor(entityType)
	if err != nil {
		return err
	}

	columnValues, err := encodeColumnValues(record)
	if err != nil {
		return err
	}

	query := `mutation ($boardID: ID!, $itemID: ID!, $columns: JSON!) {
		change_multiple_column_values(board_id: $boardID, item_id: $itemID, column_values: $columns) { id }
	}`

	var data mondayItemIDData
	err = c.doGraphQL(ctx, query, map[string]any{
		"boardID": boardID,
		"itemID":  externalID,
		"columns": columnValues,
	}, &data)
	if err != nil {
		return err
	}
	if data.ChangeColumnValues == nil {
		return fmt.Errorf("%w: update rejected", integration.ErrRemoteRequestFailed)
	}
	return nil
}

// DeleteEntity deletes a board item
func (c *MondayConnector) DeleteEntity(ctx context.Context, entityType integration.EntityType, externalID string) error {
	if _, err := c.config.BoardFor(entityType); err != nil {
		return err
	}

	query := `mutation ($itemID: ID!) { delete_item(item_id: $itemID) { id } }`

	var data mondayItemIDData
	if err := c.doGraphQL(ctx, query, map[string]any{"itemID": externalID}, &data); err != nil {
		return err
	}
	if data.DeleteItem == nil {
		return fmt.Errorf("%w: delete rejected", integration.ErrRemoteRequestFailed)
	}
	return nil
}

// HandleWebhookCreate mirrors a remotely created item into the local store
func (c *MondayConnector) HandleWebhookCreate(ctx context.Context, payload *integration.WebhookPayload) error {
	return c.helpers.applyInboundChange(ctx, c.conn, payload)
}

// HandleWebhookUpdate mirrors a remote update into the local store
func (c *MondayConnector) HandleWebhookUpdate(ctx context.Context, payload *integration.WebhookPayload) error {
	return c.helpers.applyInboundChange(ctx, c.conn, payload)
}

// HandleWebhookDelete removes the local mirror of a remotely deleted item
func (c *MondayConnector) HandleWebhookDelete(ctx context.Context, payload *integration.WebhookPayload) error {
	return c.helpers.DeleteLocal(ctx, payload.TenantID, payload.EntityType, payload.EntityID)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// fetchBoardItems pages through all items of a board
func (c *MondayConnector) fetchBoardItems(ctx context.Context, boardID string) ([]mondayItem, error) {
	firstQuery := fmt.Sprintf(`query ($boardID: [ID!]) {
		boards(ids: $boardID) { items_page(limit: 100) { cursor items { %s } } }
	}`, mondayItemFields)

	var first mondayBoardsData
	err := retry.Do(ctx, c.retryP, func(ctx context.Context) error {
		return c.doGraphQL(ctx, firstQuery, map[string]any{"boardID": []string{boardID}}, &first)
	})
	if err != nil {
		return nil, err
	}
	if len(first.Boards) == 0 {
		return nil, fmt.Errorf("%w: board %s not found", integration.ErrRemoteRequestFailed, boardID)
	}

	items := first.Boards[0].ItemsPage.Items
	cursor := first.Boards[0].ItemsPage.Cursor

	nextQuery := fmt.Sprintf(`query ($cursor: String!) {
		next_items_page(limit: 100, cursor: $cursor) { cursor items { %s } }
	}`, mondayItemFields)

	for cursor != "" {
		var next mondayNextItemsPageData
		err := retry.Do(ctx, c.retryP, func(ctx context.Context) error {
			return c.doGraphQL(ctx, nextQuery, map[string]any{"cursor": cursor}, &next)
		})
		if err != nil {
			return nil, err
		}
		items = append(items, next.NextItemsPage.Items...)
		cursor = next.NextItemsPage.Cursor
	}
	return items, nil
}

// doGraphQL performs one GraphQL call and unmarshals the data envelope
// into out. Monday reports most errors with a 200 status inside the
// envelope, so both layers are checked.
func (c *MondayConnector) doGraphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(mondayRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("monday: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("monday: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.config.APIToken)
	req.Header.Set("API-Version", mondayAPIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", integration.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("monday: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return integration.ErrRemoteAuthFailed
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", integration.ErrRemoteUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: HTTP %d", integration.ErrRemoteRequestFailed, resp.StatusCode)
	}

	var envelope mondayResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrRemoteInvalidResponse, err)
	}
	if envelope.ErrorMessage != "" {
		return fmt.Errorf("%w: %s", integration.ErrRemoteAuthFailed, envelope.ErrorMessage)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%w: %s", integration.ErrRemoteRequestFailed, envelope.Errors[0].Message)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%w: %v", integration.ErrRemoteInvalidResponse, err)
		}
	}
	return nil
}

// encodeColumnValues serializes record fields (minus the item identity
// keys) into the JSON string Monday mutations expect
func encodeColumnValues(record integration.EntityRecord) (string, error) {
	columns := make(map[string]any, len(record))
	for key, value := range record {
		switch key {
		case "id", "name", "updated_at":
			continue
		}
		columns[key] = value
	}

	data, err := json.Marshal(columns)
	if err != nil {
		return "", fmt.Errorf("monday: failed to encode column values: %w", err)
	}
	return string(data), nil
}
