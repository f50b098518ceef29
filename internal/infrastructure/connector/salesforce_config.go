package connector

import (
	"errors"
	"strings"

	"github.com/crmhub/backend/internal/domain/integration"
)

// Salesforce configuration errors
var (
	ErrSalesforceInstanceURLRequired  = errors.New("salesforce: instance url is required")
	ErrSalesforceClientIDRequired     = errors.New("salesforce: client id is required")
	ErrSalesforceClientSecretRequired = errors.New("salesforce: client secret is required")
	ErrSalesforceUsernameRequired     = errors.New("salesforce: username is required")
	ErrSalesforcePasswordRequired     = errors.New("salesforce: password is required")
)

const defaultSalesforceAPIVersion = "v59.0"

// SalesforceConfig is the typed shape of a Salesforce connection's opaque
// config/credentials blobs. Credentials follow the username-password
// OAuth flow; the security token is appended to the password when the
// org requires one.
type SalesforceConfig struct {
	InstanceURL   string
	LoginURL      string
	APIVersion    string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
}

// ParseSalesforceConfig extracts and validates the typed config from a
// connection's config and credentials maps
func ParseSalesforceConfig(conn *integration.Connection) (*SalesforceConfig, error) {
	cfg := &SalesforceConfig{
		InstanceURL:   stringValue(conn.Config, "instance_url"),
		LoginURL:      stringValue(conn.Config, "login_url"),
		APIVersion:    stringValue(conn.Config, "api_version"),
		ClientID:      stringValue(conn.Credentials, "client_id"),
		ClientSecret:  stringValue(conn.Credentials, "client_secret"),
		Username:      stringValue(conn.Credentials, "username"),
		Password:      stringValue(conn.Credentials, "password"),
		SecurityToken: stringValue(conn.Credentials, "security_token"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and fills defaults
func (c *SalesforceConfig) Validate() error {
	if c.InstanceURL == "" {
		return ErrSalesforceInstanceURLRequired
	}
	if c.ClientID == "" {
		return ErrSalesforceClientIDRequired
	}
	if c.ClientSecret == "" {
		return ErrSalesforceClientSecretRequired
	}
	if c.Username == "" {
		return ErrSalesforceUsernameRequired
	}
	if c.Password == "" {
		return ErrSalesforcePasswordRequired
	}

	c.InstanceURL = strings.TrimSuffix(c.InstanceURL, "/")
	if c.LoginURL == "" {
		c.LoginURL = c.InstanceURL
	} else {
		c.LoginURL = strings.TrimSuffix(c.LoginURL, "/")
	}
	if c.APIVersion == "" {
		c.APIVersion = defaultSalesforceAPIVersion
	}
	return nil
}

// EffectivePassword returns the password with the security token appended,
// as the username-password flow requires for token-protected orgs
func (c *SalesforceConfig) EffectivePassword() string {
	return c.Password + c.SecurityToken
}

// stringValue reads a string out of an opaque config map
func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
