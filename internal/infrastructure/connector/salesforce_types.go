package connector

import (
	"fmt"

	"github.com/crmhub/backend/internal/domain/integration"
)

// salesforceTokenResponse is the OAuth token endpoint response
type salesforceTokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
	TokenType   string `json:"token_type"`
	IssuedAt    string `json:"issued_at"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// salesforceQueryResponse is the SOQL query envelope. Large result sets
// are paged via NextRecordsURL until Done is true.
type salesforceQueryResponse struct {
	TotalSize      int              `json:"totalSize"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

// salesforceCreateResponse is the sobject create endpoint response
type salesforceCreateResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Errors  []any  `json:"errors"`
}

// salesforceSObjects maps local entity kinds to Salesforce object names
var salesforceSObjects = map[integration.EntityType]string{
	integration.EntityTypeContact: "Contact",
	integration.EntityTypeAccount: "Account",
	integration.EntityTypeDeal:    "Opportunity",
}

// sobjectFor resolves the Salesforce object name for an entity type
func sobjectFor(entityType integration.EntityType) (string, error) {
	sobject, ok := salesforceSObjects[entityType]
	if !ok {
		return "", fmt.Errorf("%w: %s", integration.ErrEntityTypeNotMapped, entityType)
	}
	return sobject, nil
}

// stripAttributes removes the Salesforce record metadata key so only
// field data flows into transformation
func stripAttributes(record map[string]any) map[string]any {
	delete(record, "attributes")
	return record
}
