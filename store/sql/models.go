// Package sqlstore provides bun-backed durable stores: a shared
// processed-event tracker for multi-instance deployments and an append-only
// audit sink.
package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type processedEventRecord struct {
	bun.BaseModel `bun:"table:webhook_processed_events,alias:wpe"`

	ID          string    `bun:"id,pk"`
	EventID     string    `bun:"event_id,notnull,unique"`
	FirstSeenAt time.Time `bun:"first_seen_at,nullzero,notnull,default:current_timestamp"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:webhook_audit_entries,alias:wae"`

	ID           string         `bun:"id,pk"`
	Action       string         `bun:"action,notnull"`
	ResourceType string         `bun:"resource_type,notnull"`
	ResourceID   string         `bun:"resource_id,notnull"`
	TenantID     string         `bun:"tenant_id"`
	Severity     string         `bun:"severity,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
