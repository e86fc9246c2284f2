package reconcile

import (
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
)

// RegisterDefaultHandlers wires the full billing handler set into the
// dispatcher, including the legacy `charge.disputed` spelling still emitted
// by older provider API versions.
func RegisterDefaultHandlers(d *dispatch.Dispatcher, client core.PersistenceClient, retries RetryCounter) error {
	if d == nil {
		return dependencyError("reconcile: dispatcher is required")
	}
	if client == nil {
		return dependencyError("reconcile: persistence client is required")
	}

	handlers := []dispatch.Handler{
		SubscriptionUpdatedHandler{Persistence: client},
		SubscriptionDeletedHandler{Persistence: client},
		InvoicePaymentSucceededHandler{Persistence: client, Retries: retries},
		InvoicePaymentFailedHandler{Persistence: client, Retries: retries},
		InvoiceFinalizedHandler{Persistence: client},
		ChargeRefundedHandler{Persistence: client},
		DisputeCreatedHandler{Persistence: client},
		DisputeClosedHandler{Persistence: client},
		TenantDeletedHandler{Persistence: client},
	}
	for _, handler := range handlers {
		if err := d.Register(handler); err != nil {
			return err
		}
	}
	return d.Alias("charge.disputed", "charge.dispute.created")
}
