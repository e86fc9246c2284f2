package reconcile

import "github.com/goliatone/go-billing-webhooks/dispatch"

var (
	_ dispatch.Handler = SubscriptionUpdatedHandler{}
	_ dispatch.Handler = SubscriptionDeletedHandler{}
	_ dispatch.Handler = InvoicePaymentSucceededHandler{}
	_ dispatch.Handler = InvoicePaymentFailedHandler{}
	_ dispatch.Handler = InvoiceFinalizedHandler{}
	_ dispatch.Handler = ChargeRefundedHandler{}
	_ dispatch.Handler = DisputeCreatedHandler{}
	_ dispatch.Handler = DisputeClosedHandler{}
	_ dispatch.Handler = TenantDeletedHandler{}
)
