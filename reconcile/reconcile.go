// Package reconcile contains the per-event-type mutation logic that brings
// local billing state back in sync with what the payment provider reports.
//
// Every mutation is expressed as "set to value", never "adjust by delta":
// redelivery plus idempotency-tracker eviction can replay an event, and a
// replayed patch must converge to the same state. Handlers derive each patch
// from the event's own payload alone; related events arrive in any order.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

const (
	CollectionSubscriptions = "subscriptions"
	CollectionInvoices      = "invoices"
	CollectionTenants       = "tenants"
	CollectionDisputes      = "disputes"
	CollectionPayments      = "payments"
)

// RetryCounter is the billing domain's dunning schedule, reached through a
// narrow named interface so the dispatcher's dependencies stay enumerable.
type RetryCounter interface {
	ScheduleRetry(ctx context.Context, invoiceID string, attemptAt time.Time) error
	Reset(ctx context.Context, invoiceID string) error
}

// upsert applies patch to collection/id, creating the record when the update
// misses. Handlers that patch records fed by other events cannot assume the
// record exists yet.
func upsert(ctx context.Context, client core.PersistenceClient, collection string, id string, patch core.Patch) (core.Record, error) {
	record, err := client.Update(ctx, collection, id, patch)
	if err == nil {
		return record, nil
	}
	if !core.IsNotFound(err) {
		return nil, err
	}
	body := core.Record{"id": id}
	for key, value := range patch {
		body[key] = value
	}
	return client.Create(ctx, collection, body)
}

func objectID(object map[string]any) string {
	return objectString(object, "id")
}

func objectString(object map[string]any, key string) string {
	if object == nil {
		return ""
	}
	value, ok := object[key]
	if !ok || value == nil {
		return ""
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "<nil>" {
		return ""
	}
	return text
}

func objectInt(object map[string]any, key string) int64 {
	if object == nil {
		return 0
	}
	switch value := object[key].(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}

func objectBool(object map[string]any, key string) bool {
	if object == nil {
		return false
	}
	value, _ := object[key].(bool)
	return value
}
