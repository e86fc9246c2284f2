package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing-webhooks/core"
)

// AuditStore is the durable audit sink: append-only writes, filtered reads,
// retention by TTL. Entries are never updated.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEntryRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEntryRecord](db, auditEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{db: db, repo: repo}, nil
}

func (s *AuditStore) Record(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("sqlstore: audit action is required")
	}

	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	severity := entry.Severity
	if !severity.Valid() {
		severity = core.SeverityLow
	}
	metadata := core.CloneFields(entry.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}

	record := &auditEntryRecord{
		ID:           uuid.NewString(),
		Action:       strings.TrimSpace(entry.Action),
		ResourceType: strings.TrimSpace(entry.ResourceType),
		ResourceID:   strings.TrimSpace(entry.ResourceID),
		TenantID:     strings.TrimSpace(entry.TenantID),
		Severity:     string(severity),
		Metadata:     metadata,
		CreatedAt:    createdAt,
	}
	if record.ResourceType == "" {
		record.ResourceType = "event"
	}

	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *AuditStore) List(ctx context.Context, filter core.AuditFilter) (core.AuditPage, error) {
	if s == nil || s.repo == nil {
		return core.AuditPage{}, fmt.Errorf("sqlstore: audit store is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 25
	}
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		selectors = append(selectors, repository.SelectBy("tenant_id", "=", tenantID))
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		selectors = append(selectors, repository.SelectBy("action", "=", action))
	}
	if severity := strings.TrimSpace(string(filter.Severity)); severity != "" {
		selectors = append(selectors, repository.SelectBy("severity", "=", severity))
	}
	if filter.From != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", ">=", filter.From.UTC()))
	}
	if filter.To != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", "<=", filter.To.UTC()))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.AuditPage{}, err
	}
	items := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		items = append(items, auditRecordToDomain(record))
	}
	return core.AuditPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

// Prune deletes entries older than ttl and returns how many were removed.
func (s *AuditStore) Prune(ctx context.Context, ttl time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: audit store is not configured")
	}
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := s.db.NewDelete().
		Model((*auditEntryRecord)(nil)).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func auditRecordToDomain(record *auditEntryRecord) core.AuditEntry {
	if record == nil {
		return core.AuditEntry{}
	}
	return core.AuditEntry{
		Action:       record.Action,
		ResourceType: record.ResourceType,
		ResourceID:   record.ResourceID,
		TenantID:     record.TenantID,
		Severity:     core.Severity(record.Severity),
		Metadata:     core.CloneFields(record.Metadata),
		CreatedAt:    record.CreatedAt,
	}
}
