package reconcile

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
)

// TenantDeletedHandler archives the tenant when the provider-side customer is
// deleted. Archival is a status flip, not a row delete: invoices and audit
// history keyed to the tenant must remain readable.
type TenantDeletedHandler struct {
	Persistence core.PersistenceClient
	Now         func() time.Time
}

func (h TenantDeletedHandler) EventType() string {
	return "customer.deleted"
}

func (h TenantDeletedHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	tenantID := event.TenantID
	if tenantID == "" {
		tenantID = objectID(event.Object)
	}
	if tenantID == "" {
		return dispatch.Outcome{}, validationError("reconcile: tenant id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	archivedAt := h.now()
	patch := core.Patch{
		"status":      "archived",
		"archived_at": archivedAt,
	}
	if customerID := objectID(event.Object); customerID != "" {
		patch["customer_id"] = customerID
	}
	if _, err := upsert(ctx, h.Persistence, CollectionTenants, tenantID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	return dispatch.Outcome{
		Action:       "tenant.archived",
		ResourceType: "tenant",
		ResourceID:   tenantID,
		Severity:     core.SeverityMedium,
		Metadata: map[string]any{
			"archived_at": archivedAt,
		},
	}, nil
}

func (h TenantDeletedHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}
