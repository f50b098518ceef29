// Package models contains GORM-specific persistence models that map to
// database tables. These models are separate from domain entities to keep
// the domain layer free of ORM concerns.
//
// Key principles:
//  1. Domain entities carry no GORM tags or infrastructure concerns
//  2. Persistence models hold all GORM annotations and table mappings
//  3. Mappers convert between domain entities and persistence models
//  4. Repositories use persistence models for database operations
//
// Structure:
//   - base.go: shared persistence fields (BaseModel, TenantModel)
//   - integration.go: integration connections, sync logs, sync cursors,
//     webhook configurations, webhook deliveries, and mirrored CRM records
package models
