package reconcile

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
)

// SubscriptionUpdatedHandler syncs the local subscription record to the
// provider's reported status.
type SubscriptionUpdatedHandler struct {
	Persistence core.PersistenceClient
}

func (h SubscriptionUpdatedHandler) EventType() string {
	return "customer.subscription.updated"
}

func (h SubscriptionUpdatedHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	subscriptionID := objectID(event.Object)
	if subscriptionID == "" {
		return dispatch.Outcome{}, validationError("reconcile: subscription id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	status := objectString(event.Object, "status")
	patch := core.Patch{
		"status":               status,
		"cancel_at_period_end": objectBool(event.Object, "cancel_at_period_end"),
	}
	if periodEnd := objectInt(event.Object, "current_period_end"); periodEnd > 0 {
		patch["current_period_end"] = time.Unix(periodEnd, 0).UTC()
	}
	if plan := objectString(event.Object, "plan"); plan != "" {
		patch["plan"] = plan
	}
	if _, err := upsert(ctx, h.Persistence, CollectionSubscriptions, subscriptionID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	severity := core.SeverityLow
	switch status {
	case "past_due", "unpaid", "canceled":
		severity = core.SeverityMedium
	}
	return dispatch.Outcome{
		Action:       "subscription.status.synced",
		ResourceType: "subscription",
		ResourceID:   subscriptionID,
		Severity:     severity,
		Metadata: map[string]any{
			"status": status,
		},
	}, nil
}

// SubscriptionDeletedHandler marks the subscription canceled and, when the
// event carries a tenant, flags the tenant's plan as canceled too.
type SubscriptionDeletedHandler struct {
	Persistence core.PersistenceClient
	Now         func() time.Time
}

func (h SubscriptionDeletedHandler) EventType() string {
	return "customer.subscription.deleted"
}

func (h SubscriptionDeletedHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	subscriptionID := objectID(event.Object)
	if subscriptionID == "" {
		return dispatch.Outcome{}, validationError("reconcile: subscription id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	canceledAt := h.now()
	if objectInt(event.Object, "canceled_at") > 0 {
		canceledAt = time.Unix(objectInt(event.Object, "canceled_at"), 0).UTC()
	}
	patch := core.Patch{
		"status":      "canceled",
		"canceled_at": canceledAt,
	}
	if _, err := upsert(ctx, h.Persistence, CollectionSubscriptions, subscriptionID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	if event.TenantID != "" {
		tenantPatch := core.Patch{"plan_status": "canceled"}
		if _, err := upsert(ctx, h.Persistence, CollectionTenants, event.TenantID, tenantPatch); err != nil {
			return dispatch.Outcome{}, err
		}
	}

	return dispatch.Outcome{
		Action:       "subscription.canceled",
		ResourceType: "subscription",
		ResourceID:   subscriptionID,
		Severity:     core.SeverityMedium,
		Metadata: map[string]any{
			"canceled_at": canceledAt,
		},
	}, nil
}

func (h SubscriptionDeletedHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}
