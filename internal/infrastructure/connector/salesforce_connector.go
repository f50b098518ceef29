package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmhub/backend/internal/domain/integration"
	"github.com/crmhub/backend/internal/infrastructure/retry"
)

// maxResponseSize bounds remote response bodies to protect against
// malformed or malicious responses
const maxResponseSize = 10 << 20 // 10MB

// SalesforceConnector syncs CRM entities with a Salesforce org over its
// REST API, using the username-password OAuth flow for authentication
// and SOQL changed-since queries for incremental pulls.
type SalesforceConnector struct {
	conn       *integration.Connection
	config     *SalesforceConfig
	helpers    *Helpers
	httpClient *http.Client
	retryP     retry.Policy
	log        *zap.Logger

	mu          sync.Mutex
	accessToken string
	instanceURL string
}

var _ integration.Connector = (*SalesforceConnector)(nil)

// NewSalesforceConnector creates a connector for one Salesforce connection
func NewSalesforceConnector(conn *integration.Connection, deps Dependencies) (integration.Connector, error) {
	config, err := ParseSalesforceConfig(conn)
	if err != nil {
		return nil, err
	}

	return &SalesforceConnector{
		conn:       conn,
		config:     config,
		helpers:    deps.Helpers,
		httpClient: deps.HTTPClient,
		retryP:     deps.Retry,
		log: deps.Logger.With(
			zap.String("connector", "salesforce"),
			zap.String("connection_id", conn.ID.String()),
		),
		instanceURL: config.InstanceURL,
	}, nil
}

// Type returns the integration type this connector handles
func (c *SalesforceConnector) Type() integration.IntegrationType {
	return integration.IntegrationTypeSalesforce
}

// ConnectionID returns the id of the connection this connector serves
func (c *SalesforceConnector) ConnectionID() uuid.UUID {
	return c.conn.ID
}

// Authenticate obtains an access token via the username-password OAuth
// flow. Credential and connectivity failures report false, not an error.
func (c *SalesforceConnector) Authenticate(ctx context.Context) bool {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)
	form.Set("username", c.config.Username)
	form.Set("password", c.config.EffectivePassword())

	tokenURL := c.config.LoginURL + "/services/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		c.log.Error("failed to build token request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("token request failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.log.Warn("failed to read token response", zap.Error(err))
		return false
	}

	var token salesforceTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		c.log.Warn("invalid token response", zap.Error(err))
		return false
	}
	if resp.StatusCode != http.StatusOK || token.AccessToken == "" {
		c.log.Warn("authentication rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("error", token.Error),
		)
		return false
	}

	c.mu.Lock()
	c.accessToken = token.AccessToken
	if token.InstanceURL != "" {
		c.instanceURL = strings.TrimSuffix(token.InstanceURL, "/")
	}
	c.mu.Unlock()

	c.log.Info("authenticated with salesforce")
	return true
}

// TestConnection verifies connectivity by listing available API versions.
// It authenticates first if no session is held.
func (c *SalesforceConnector) TestConnection(ctx context.Context) bool {
	if err := c.ensureToken(ctx); err != nil {
		return false
	}

	status, _, err := c.doRequest(ctx, http.MethodGet, c.baseURL()+"/services/data/", nil)
	if err != nil {
		c.log.Warn("connection test failed", zap.Error(err))
		return false
	}
	return status == http.StatusOK
}

// SyncData pulls records changed since the last cursor (or the lookback
// window on a first sync) and upserts them locally in batches. Data-level
// failures are counted per record and never abort the remaining records.
func (c *SalesforceConnector) SyncData(ctx context.Context, entityType integration.EntityType, cfg integration.SyncConfig) (*integration.SyncResult, error) {
	started := time.Now()
	cfg.ApplyDefaults()

	sobject, err := sobjectFor(entityType)
	if err != nil {
		return nil, err
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	rules := cfg.FieldMappings[entityType]
	since := c.helpers.SyncWindowStart(ctx, c.conn.ID, entityType, cfg.LookbackWindow)

	remote, err := c.queryChangedSince(ctx, sobject, rules, since)
	if err != nil {
		return nil, err
	}

	records := make([]integration.EntityRecord, len(remote))
	for i, raw := range remote {
		records[i] = integration.EntityRecord(raw)
	}

	result := c.helpers.UpsertRemoteRecords(ctx, c.conn, entityType, cfg, records, "Id")
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

// GetEntityData fetches a single remote record by its Salesforce id
func (c *SalesforceConnector) GetEntityData(ctx context.Context, entityType integration.EntityType, externalID string) (integration.EntityRecord, error) {
	sobject, err := sobjectFor(entityType)
	if err != nil {
		return nil, err
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	var record map[string]any
	err = retry.Do(ctx, c.retryP, func(ctx context.Context) error {
		status, body, err := c.doRequest(ctx, http.MethodGet, c.apiURL("/sobjects/"+sobject+"/"+url.PathEscape(externalID)), nil)
		if err != nil {
			return err
		}
		if err := c.checkStatus(status, body); err != nil {
			return err
		}
		if err := json.Unmarshal(body, &record); err != nil {
			return fmt.Errorf("%w: %v", integration.ErrRemoteInvalidResponse, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stripAttributes(record), nil
}

// CreateEntity creates a remote record and returns its Salesforce id
func (c *SalesforceConnector) CreateEntity(ctx context.Context, entityType integration.EntityType, record integration.EntityRecord) (string, error) {
	sobject, err := sobjectFor(entityType)
	if err != nil {
		return "", err
	}
	if err := c.ensureToken(ctx); err != nil {
		return "", err
	}

	status, body, err := c.doRequest(ctx, http.MethodPost, c.apiURL("/sobjects/"+sobject), record)
	if err != nil {
		return "", err
	}
	if err := c.checkStatus(status, body); err != nil {
		return "", err
	}

	var created salesforceCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("%w: %v", integration.ErrRemoteInvalidResponse, err)
	}
	if !created.Success || created.ID == "" {
		return "", fmt.Errorf("%w: create rejected", integration.ErrRemoteRequestFailed)
	}
	return created.ID, nil
}

// UpdateEntity updates a remote record in place
func (c *SalesforceConnector) UpdateEntity(ctx context.Context, entityType integration.EntityType, externalID string, record integration.EntityRecord) error {
	sobject, err := sobjectFor(entityType)
	if err != nil {
		return err
	}
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	status, body, err := c.doRequest(ctx, http.MethodPatch, c.apiURL("/sobjects/"+sobject+"/"+url.PathEscape(externalID)), record)
	if err != nil {
		return err
	}
	return c.checkStatus(status, body)
}

// DeleteEntity deletes a remote record
func (c *SalesforceConnector) DeleteEntity(ctx context.Context, entityType integration.EntityType, externalID string) error {
	sobject, err := sobjectFor(entityType)
	if err != nil {
		return err
	}
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	status, body, err := c.doRequest(ctx, http.MethodDelete, c.apiURL("/sobjects/"+sobject+"/"+url.PathEscape(externalID)), nil)
	if err != nil {
		return err
	}
	return c.checkStatus(status, body)
}

// HandleWebhookCreate mirrors a remotely created record into the local store
func (c *SalesforceConnector) HandleWebhookCreate(ctx context.Context, payload *integration.WebhookPayload) error {
	return c.helpers.applyInboundChange(ctx, c.conn, payload)
}

// HandleWebhookUpdate mirrors a remote update into the local store
func (c *SalesforceConnector) HandleWebhookUpdate(ctx context.Context, payload *integration.WebhookPayload) error {
	return c.helpers.applyInboundChange(ctx, c.conn, payload)
}

// HandleWebhookDelete removes the local mirror of a remotely deleted record
func (c *SalesforceConnector) HandleWebhookDelete(ctx context.Context, payload *integration.WebhookPayload) error {
	return c.helpers.DeleteLocal(ctx, payload.TenantID, payload.EntityType, payload.EntityID)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// ensureToken authenticates lazily: a held token is reused until a 401
// clears it
func (c *SalesforceConnector) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	held := c.accessToken != ""
	c.mu.Unlock()

	if held {
		return nil
	}
	if !c.Authenticate(ctx) {
		return integration.ErrNotAuthenticated
	}
	return nil
}

func (c *SalesforceConnector) baseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceURL
}

func (c *SalesforceConnector) apiURL(path string) string {
	return c.baseURL() + "/services/data/" + c.config.APIVersion + path
}

// queryChangedSince runs a SOQL changed-since query and follows
// pagination until the result set is complete
func (c *SalesforceConnector) queryChangedSince(ctx context.Context, sobject string, rules []integration.FieldMapping, since time.Time) ([]map[string]any, error) {
	soql := buildChangedSinceQuery(sobject, rules, since)
	next := c.apiURL("/query?q=" + url.QueryEscape(soql))

	var records []map[string]any
	for next != "" {
		var page salesforceQueryResponse
		err := retry.Do(ctx, c.retryP, func(ctx context.Context) error {
			status, body, err := c.doRequest(ctx, http.MethodGet, next, nil)
			if err != nil {
				return err
			}
			if err := c.checkStatus(status, body); err != nil {
				return err
			}
			if err := json.Unmarshal(body, &page); err != nil {
				return fmt.Errorf("%w: %v", integration.ErrRemoteInvalidResponse, err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, record := range page.Records {
			records = append(records, stripAttributes(record))
		}

		if page.Done || page.NextRecordsURL == "" {
			break
		}
		next = c.baseURL() + page.NextRecordsURL
	}
	return records, nil
}

// buildChangedSinceQuery selects the mapped source fields plus the id and
// modification timestamp, filtered to records changed after the mark
func buildChangedSinceQuery(sobject string, rules []integration.FieldMapping, since time.Time) string {
	fields := []string{"Id", "LastModifiedDate"}
	seen := map[string]bool{"Id": true, "LastModifiedDate": true}
	for _, rule := range rules {
		if rule.SourceField == "" || seen[rule.SourceField] {
			continue
		}
		seen[rule.SourceField] = true
		fields = append(fields, rule.SourceField)
	}

	return fmt.Sprintf("SELECT %s FROM %s WHERE LastModifiedDate > %s ORDER BY LastModifiedDate ASC",
		strings.Join(fields, ", "), sobject, since.UTC().Format("2006-01-02T15:04:05Z"))
}

// doRequest performs one authenticated API call and returns the raw
// status and body; callers interpret the status via checkStatus
func (c *SalesforceConnector) doRequest(ctx context.Context, method, requestURL string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("salesforce: failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("salesforce: failed to create request: %w", err)
	}

	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", integration.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("salesforce: failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// checkStatus maps remote HTTP statuses onto domain errors. A 401 clears
// the held token so the next call re-authenticates.
func (c *SalesforceConnector) checkStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return integration.ErrRemoteAuthFailed
	case status == http.StatusNotFound:
		return integration.ErrEntityNotFound
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d", integration.ErrRemoteUnavailable, status)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", integration.ErrRemoteRequestFailed, status, truncate(string(body), 200))
	}
}

// truncate bounds error detail lifted from remote response bodies
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
