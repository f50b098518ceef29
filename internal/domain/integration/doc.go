// Package integration defines the domain model of the CRM integration hub:
// the Connector port implemented by every external-system adapter, the
// IntegrationConnection aggregate that carries per-tenant configuration and
// sync state, the webhook configuration/delivery model, and the declarative
// field-mapping rules used to translate records between the local schema and
// a remote system's schema.
//
// Concrete adapters (Salesforce, Monday) live in
// internal/infrastructure/connector following the Ports & Adapters pattern.
package integration
