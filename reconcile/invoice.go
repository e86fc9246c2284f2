package reconcile

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
)

// InvoicePaymentSucceededHandler marks the invoice paid and resets the
// billing retry counter so a later failure starts a fresh dunning cycle.
type InvoicePaymentSucceededHandler struct {
	Persistence core.PersistenceClient
	Retries     RetryCounter
	Now         func() time.Time
}

func (h InvoicePaymentSucceededHandler) EventType() string {
	return "invoice.payment_succeeded"
}

func (h InvoicePaymentSucceededHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	invoiceID := objectID(event.Object)
	if invoiceID == "" {
		return dispatch.Outcome{}, validationError("reconcile: invoice id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	paidAt := h.now()
	if !event.CreatedAt.IsZero() {
		paidAt = event.CreatedAt.UTC()
	}
	patch := core.Patch{
		"status":  "paid",
		"paid_at": paidAt,
	}
	if amount := objectInt(event.Object, "amount_paid"); amount > 0 {
		patch["amount_paid"] = amount
	}
	if _, err := upsert(ctx, h.Persistence, CollectionInvoices, invoiceID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	if h.Retries != nil {
		if err := h.Retries.Reset(ctx, invoiceID); err != nil {
			return dispatch.Outcome{}, err
		}
	}

	return dispatch.Outcome{
		Action:       "invoice.paid",
		ResourceType: "invoice",
		ResourceID:   invoiceID,
		Severity:     core.SeverityLow,
		Metadata: map[string]any{
			"paid_at": paidAt,
		},
	}, nil
}

func (h InvoicePaymentSucceededHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// InvoicePaymentFailedHandler records the failed collection attempt and
// schedules the next dunning retry. The next attempt time comes from the
// provider when present; otherwise a day out.
type InvoicePaymentFailedHandler struct {
	Persistence core.PersistenceClient
	Retries     RetryCounter
	Now         func() time.Time
}

const defaultDunningDelay = 24 * time.Hour

func (h InvoicePaymentFailedHandler) EventType() string {
	return "invoice.payment_failed"
}

func (h InvoicePaymentFailedHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	invoiceID := objectID(event.Object)
	if invoiceID == "" {
		return dispatch.Outcome{}, validationError("reconcile: invoice id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	patch := core.Patch{
		"status": "payment_failed",
	}
	if amount := objectInt(event.Object, "amount_due"); amount > 0 {
		patch["amount_due"] = amount
	}
	if attempts := objectInt(event.Object, "attempt_count"); attempts > 0 {
		patch["attempt_count"] = attempts
	}
	if _, err := upsert(ctx, h.Persistence, CollectionInvoices, invoiceID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	attemptAt := h.now().Add(defaultDunningDelay)
	if next := objectInt(event.Object, "next_payment_attempt"); next > 0 {
		attemptAt = time.Unix(next, 0).UTC()
	}
	if h.Retries != nil {
		if err := h.Retries.ScheduleRetry(ctx, invoiceID, attemptAt); err != nil {
			return dispatch.Outcome{}, err
		}
	}

	return dispatch.Outcome{
		Action:       "invoice.payment_failed.recorded",
		ResourceType: "invoice",
		ResourceID:   invoiceID,
		Severity:     core.SeverityHigh,
		Metadata: map[string]any{
			"next_attempt_at": attemptAt,
		},
	}, nil
}

func (h InvoicePaymentFailedHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// InvoiceFinalizedHandler upserts the invoice snapshot. Finalized often lands
// before the local invoice record exists, so a miss creates it.
type InvoiceFinalizedHandler struct {
	Persistence core.PersistenceClient
}

func (h InvoiceFinalizedHandler) EventType() string {
	return "invoice.finalized"
}

func (h InvoiceFinalizedHandler) Handle(ctx context.Context, event core.Event) (dispatch.Outcome, error) {
	if h.Persistence == nil {
		return dispatch.Outcome{}, dependencyError("reconcile: persistence client is required")
	}
	invoiceID := objectID(event.Object)
	if invoiceID == "" {
		return dispatch.Outcome{}, validationError("reconcile: invoice id is missing", map[string]any{
			"event_id": event.ID,
		})
	}

	patch := core.Patch{
		"status": "open",
	}
	if status := objectString(event.Object, "status"); status != "" {
		patch["status"] = status
	}
	if amount := objectInt(event.Object, "amount_due"); amount > 0 {
		patch["amount_due"] = amount
	}
	if currency := objectString(event.Object, "currency"); currency != "" {
		patch["currency"] = currency
	}
	if event.TenantID != "" {
		patch["tenant_id"] = event.TenantID
	}
	if _, err := upsert(ctx, h.Persistence, CollectionInvoices, invoiceID, patch); err != nil {
		return dispatch.Outcome{}, err
	}

	return dispatch.Outcome{
		Action:       "invoice.finalized.synced",
		ResourceType: "invoice",
		ResourceID:   invoiceID,
		Severity:     core.SeverityLow,
	}, nil
}
