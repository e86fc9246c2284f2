package reconcile

import (
	"context"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
)

// ChargeRefundedHandler records refund state on the payment record.
type ChargeRefundedHandler struct {
	Persistence core.PersistenceClient
}

func (h ChargeRefundedHandler) EventType() string {
	return "charge.refunded"
}

func (h ChargeRefundedHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	chargeID := objectID(event.Object)
	if chargeID == "" {
		return dispatch.Outcome{}, validationError("reconcile: charge id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	amountRefunded := objectInt(event.Object, "amount_refunded")
	patch := core.Patch{
		"refunded":        true,
		"amount_refunded": amountRefunded,
	}
	if amount := objectInt(event.Object, "amount"); amount > 0 && amountRefunded >= amount {
		patch["status"] = "refunded"
	}
	if _, err := upsert(ctx, h.Persistence, CollectionPayments, chargeID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	return dispatch.Outcome{
		Action:       "payment.refunded",
		ResourceType: "payment",
		ResourceID:   chargeID,
		Severity:     core.SeverityMedium,
		Metadata: map[string]any{
			"amount_refunded": amountRefunded,
		},
	}, nil
}

// DisputeCreatedHandler records a new chargeback. Disputes carry hard
// response deadlines, so they audit at critical regardless of amount.
type DisputeCreatedHandler struct {
	Persistence core.PersistenceClient
}

func (h DisputeCreatedHandler) EventType() string {
	return "charge.dispute.created"
}

func (h DisputeCreatedHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	disputeID := objectID(event.Object)
	if disputeID == "" {
		return dispatch.Outcome{}, validationError("reconcile: dispute id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	reason := objectString(event.Object, "reason")
	status := objectString(event.Object, "status")
	if status == "" {
		status = "needs_response"
	}
	patch := core.Patch{
		"status": status,
		"reason": reason,
	}
	if charge := objectString(event.Object, "charge"); charge != "" {
		patch["charge_id"] = charge
	}
	if amount := objectInt(event.Object, "amount"); amount > 0 {
		patch["amount"] = amount
	}
	if event.TenantID != "" {
		patch["tenant_id"] = event.TenantID
	}
	if _, err := upsert(ctx, h.Persistence, CollectionDisputes, disputeID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	return dispatch.Outcome{
		Action:       "dispute.recorded",
		ResourceType: "dispute",
		ResourceID:   disputeID,
		Severity:     core.SeverityCritical,
		Metadata: map[string]any{
			"reason": reason,
			"status": status,
		},
	}, nil
}

// DisputeClosedHandler records the dispute outcome. A lost dispute is money
// gone and stays critical; anything else drops to medium.
type DisputeClosedHandler struct {
	Persistence core.PersistenceClient
}

func (h DisputeClosedHandler) EventType() string {
	return "charge.dispute.closed"
}

func (h DisputeClosedHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	disputeID := objectID(event.Object)
	if disputeID == "" {
		return dispatch.Outcome{}, validationError("reconcile: dispute id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	status := objectString(event.Object, "status")
	if status == "" {
		status = "closed"
	}
	patch := core.Patch{
		"status": status,
	}
	if _, err := upsert(ctx, h.Persistence, CollectionDisputes, disputeID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	severity := core.SeverityMedium
	if status == "lost" {
		severity = core.SeverityCritical
	}
	return dispatch.Outcome{
		Action:       "dispute.closed",
		ResourceType: "dispute",
		ResourceID:   disputeID,
		Severity:     severity,
		Metadata: map[string]any{
			"status": status,
		},
	}, nil
}
