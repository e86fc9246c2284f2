package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
)

func TestSubscriptionUpdatedSyncsStatus(t *testing.T) {
	client := newFakeClient()
	handler := SubscriptionUpdatedHandler{Persistence: client}

	outcome, err := handler.Handle(context.Background(), core.Event{
		ID:       "evt_sub",
		Type:     handler.EventType(),
		TenantID: "ten_1",
		Object: map[string]any{
			"id":                   "sub_1",
			"status":               "active",
			"cancel_at_period_end": true,
			"current_period_end":   float64(1750000000),
		},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Severity != core.SeverityLow {
		t.Fatalf("expected active status to audit low, got %q", outcome.Severity)
	}

	record := client.get(t, CollectionSubscriptions, "sub_1")
	if record["status"] != "active" {
		t.Fatalf("expected status active, got %v", record["status"])
	}
	if record["cancel_at_period_end"] != true {
		t.Fatalf("expected cancel_at_period_end to be carried over")
	}
}

func TestSubscriptionUpdatedEscalatesPastDue(t *testing.T) {
	client := newFakeClient()
	handler := SubscriptionUpdatedHandler{Persistence: client}

	outcome, err := handler.Handle(context.Background(), core.Event{
		ID:     "evt_sub",
		Type:   handler.EventType(),
		Object: map[string]any{"id": "sub_1", "status": "past_due"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Severity != core.SeverityMedium {
		t.Fatalf("expected past_due to audit medium, got %q", outcome.Severity)
	}
}

func TestSubscriptionDeletedCancelsTenantPlan(t *testing.T) {
	client := newFakeClient()
	handler := SubscriptionDeletedHandler{Persistence: client}

	if _, err := handler.Handle(context.Background(), core.Event{
		ID:       "evt_sub_del",
		Type:     handler.EventType(),
		TenantID: "ten_1",
		Object:   map[string]any{"id": "sub_1"},
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	subscription := client.get(t, CollectionSubscriptions, "sub_1")
	if subscription["status"] != "canceled" {
		t.Fatalf("expected canceled subscription, got %v", subscription["status"])
	}
	tenant := client.get(t, CollectionTenants, "ten_1")
	if tenant["plan_status"] != "canceled" {
		t.Fatalf("expected tenant plan canceled, got %v", tenant["plan_status"])
	}
}

func TestInvoicePaymentSucceededResetsRetries(t *testing.T) {
	client := newFakeClient()
	retries := &fakeRetryCounter{}
	handler := InvoicePaymentSucceededHandler{Persistence: client, Retries: retries}

	outcome, err := handler.Handle(context.Background(), core.Event{
		ID:     "evt_paid",
		Type:   handler.EventType(),
		Object: map[string]any{"id": "in_1", "amount_paid": float64(5000)},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Severity != core.SeverityLow {
		t.Fatalf("expected low severity, got %q", outcome.Severity)
	}

	record := client.get(t, CollectionInvoices, "in_1")
	if record["status"] != "paid" {
		t.Fatalf("expected invoice paid, got %v", record["status"])
	}
	if got := retries.resets["in_1"]; got != 1 {
		t.Fatalf("expected one retry reset, got %d", got)
	}
}

func TestInvoicePaymentFailedSchedulesRetry(t *testing.T) {
	client := newFakeClient()
	retries := &fakeRetryCounter{}
	next := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	handler := InvoicePaymentFailedHandler{Persistence: client, Retries: retries}

	outcome, err := handler.Handle(context.Background(), core.Event{
		ID:   "evt_1",
		Type: handler.EventType(),
		Object: map[string]any{
			"id":                   "in_1",
			"amount_due":           float64(5000),
			"next_payment_attempt": float64(next.Unix()),
		},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Severity != core.SeverityHigh {
		t.Fatalf("expected high severity, got %q", outcome.Severity)
	}

	record := client.get(t, CollectionInvoices, "in_1")
	if record["status"] != "payment_failed" {
		t.Fatalf("expected invoice payment_failed, got %v", record["status"])
	}
	if got := retries.schedules["in_1"]; !got.Equal(next) {
		t.Fatalf("expected retry at %s, got %s", next, got)
	}
}

func TestInvoicePaymentFailedIsPatchIdempotent(t *testing.T) {
	client := newFakeClient()
	handler := InvoicePaymentFailedHandler{Persistence: client, Retries: &fakeRetryCounter{}}
	event := core.Event{
		ID:     "evt_1",
		Type:   handler.EventType(),
		Object: map[string]any{"id": "in_1", "amount_due": float64(5000)},
	}

	if _, err := handler.Handle(context.Background(), event); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	first := client.get(t, CollectionInvoices, "in_1")

	if _, err := handler.Handle(context.Background(), event); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	second := client.get(t, CollectionInvoices, "in_1")

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replayed event must converge: first %v second %v", first, second)
	}
}

func TestInvoiceFinalizedCreatesOnMiss(t *testing.T) {
	client := newFakeClient()
	handler := InvoiceFinalizedHandler{Persistence: client}

	if _, err := handler.Handle(context.Background(), core.Event{
		ID:       "evt_fin",
		Type:     handler.EventType(),
		TenantID: "ten_1",
		Object:   map[string]any{"id": "in_9", "amount_due": float64(1200), "currency": "usd"},
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	record := client.get(t, CollectionInvoices, "in_9")
	if record["status"] != "open" {
		t.Fatalf("expected open invoice, got %v", record["status"])
	}
	if record["tenant_id"] != "ten_1" {
		t.Fatalf("expected tenant stamped on created record")
	}
	if client.creates != 1 {
		t.Fatalf("expected the miss to create the record, got %d creates", client.creates)
	}
}

func TestChargeRefundedMarksFullRefund(t *testing.T) {
	client := newFakeClient()
	handler := ChargeRefundedHandler{Persistence: client}

	if _, err := handler.Handle(context.Background(), core.Event{
		ID:   "evt_ref",
		Type: handler.EventType(),
		Object: map[string]any{
			"id":              "ch_1",
			"amount":          float64(5000),
			"amount_refunded": float64(5000),
		},
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	record := client.get(t, CollectionPayments, "ch_1")
	if record["refunded"] != true {
		t.Fatalf("expected refunded flag")
	}
	if record["status"] != "refunded" {
		t.Fatalf("expected full refund to flip status, got %v", record["status"])
	}
}

func TestDisputeCreatedRecordsReason(t *testing.T) {
	client := newFakeClient()
	handler := DisputeCreatedHandler{Persistence: client}

	outcome, err := handler.Handle(context.Background(), core.Event{
		ID:       "evt_2",
		Type:     handler.EventType(),
		TenantID: "ten_42",
		Object: map[string]any{
			"id":     "dp_1",
			"charge": "ch_1",
			"reason": "fraudulent",
			"amount": float64(5000),
		},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Severity != core.SeverityCritical {
		t.Fatalf("expected critical severity, got %q", outcome.Severity)
	}
	if outcome.Metadata["reason"] != "fraudulent" {
		t.Fatalf("expected reason in audit metadata, got %v", outcome.Metadata)
	}

	record := client.get(t, CollectionDisputes, "dp_1")
	if record["status"] != "needs_response" {
		t.Fatalf("expected needs_response status, got %v", record["status"])
	}
	if record["charge_id"] != "ch_1" {
		t.Fatalf("expected charge linkage, got %v", record["charge_id"])
	}
}

func TestDisputeClosedSeverityTracksOutcome(t *testing.T) {
	client := newFakeClient()
	handler := DisputeClosedHandler{Persistence: client}

	lost, err := handler.Handle(context.Background(), core.Event{
		ID:     "evt_lost",
		Type:   handler.EventType(),
		Object: map[string]any{"id": "dp_1", "status": "lost"},
	})
	if err != nil {
		t.Fatalf("handle lost: %v", err)
	}
	if lost.Severity != core.SeverityCritical {
		t.Fatalf("expected lost dispute to audit critical, got %q", lost.Severity)
	}

	won, err := handler.Handle(context.Background(), core.Event{
		ID:     "evt_won",
		Type:   handler.EventType(),
		Object: map[string]any{"id": "dp_2", "status": "won"},
	})
	if err != nil {
		t.Fatalf("handle won: %v", err)
	}
	if won.Severity != core.SeverityMedium {
		t.Fatalf("expected won dispute to audit medium, got %q", won.Severity)
	}
}

func TestTenantDeletedArchives(t *testing.T) {
	client := newFakeClient()
	handler := TenantDeletedHandler{Persistence: client}

	outcome, err := handler.Handle(context.Background(), core.Event{
		ID:       "evt_cust",
		Type:     handler.EventType(),
		TenantID: "ten_1",
		Object:   map[string]any{"id": "cus_1"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Severity != core.SeverityMedium {
		t.Fatalf("expected medium severity, got %q", outcome.Severity)
	}

	record := client.get(t, CollectionTenants, "ten_1")
	if record["status"] != "archived" {
		t.Fatalf("expected archived tenant, got %v", record["status"])
	}
	if record["customer_id"] != "cus_1" {
		t.Fatalf("expected customer linkage, got %v", record["customer_id"])
	}
}

func TestHandlersRejectPayloadWithoutObjectID(t *testing.T) {
	client := newFakeClient()
	handlers := []dispatch.Handler{
		SubscriptionUpdatedHandler{Persistence: client},
		InvoicePaymentFailedHandler{Persistence: client},
		DisputeCreatedHandler{Persistence: client},
	}
	for _, handler := range handlers {
		_, err := handler.Handle(context.Background(), core.Event{
			ID:     "evt_empty",
			Type:   handler.EventType(),
			Object: map[string]any{},
		})
		if err == nil {
			t.Fatalf("%s: expected validation error", handler.EventType())
		}
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) || richErr.Category != goerrors.CategoryValidation {
			t.Fatalf("%s: expected validation category, got %v", handler.EventType(), err)
		}
	}
	if client.creates != 0 || client.updates != 0 {
		t.Fatalf("validation failure must not touch persistence")
	}
}

func TestRegisterDefaultHandlersWiresAliases(t *testing.T) {
	client := newFakeClient()
	dispatcher := dispatch.NewDispatcher(nil)

	if err := RegisterDefaultHandlers(dispatcher, client, &fakeRetryCounter{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, eventType := range []string{
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"invoice.payment_succeeded",
		"invoice.payment_failed",
		"invoice.finalized",
		"charge.refunded",
		"charge.dispute.created",
		"charge.dispute.closed",
		"charge.disputed",
		"customer.deleted",
	} {
		if !dispatcher.Known(eventType) {
			t.Fatalf("expected %q to be routable", eventType)
		}
	}
}

type fakeRetryCounter struct {
	mu        sync.Mutex
	schedules map[string]time.Time
	resets    map[string]int
}

func (c *fakeRetryCounter) ScheduleRetry(_ context.Context, invoiceID string, attemptAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schedules == nil {
		c.schedules = map[string]time.Time{}
	}
	c.schedules[invoiceID] = attemptAt
	return nil
}

func (c *fakeRetryCounter) Reset(_ context.Context, invoiceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resets == nil {
		c.resets = map[string]int{}
	}
	c.resets[invoiceID]++
	return nil
}

type fakeClient struct {
	mu      sync.Mutex
	data    map[string]map[string]core.Record
	creates int
	updates int
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]map[string]core.Record{}}
}

func (c *fakeClient) List(_ context.Context, collection string, filter core.Filter) ([]core.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Record
	for _, record := range c.data[collection] {
		matched := true
		for key, want := range filter {
			if record[key] != want {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, cloneRecord(record))
		}
	}
	return out, nil
}

func (c *fakeClient) Create(_ context.Context, collection string, body core.Record) (core.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	id, _ := body["id"].(string)
	if c.data[collection] == nil {
		c.data[collection] = map[string]core.Record{}
	}
	c.data[collection][id] = cloneRecord(body)
	return cloneRecord(body), nil
}

func (c *fakeClient) Update(_ context.Context, collection string, id string, patch core.Patch) (core.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	record, ok := c.data[collection][id]
	if !ok {
		return nil, goerrors.New(
			fmt.Sprintf("record %s/%s not found", collection, id),
			goerrors.CategoryNotFound,
		).WithCode(http.StatusNotFound).WithTextCode(core.ErrorNotFound)
	}
	for key, value := range patch {
		record[key] = value
	}
	return cloneRecord(record), nil
}

func (c *fakeClient) get(t *testing.T, collection string, id string) core.Record {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.data[collection][id]
	if !ok {
		t.Fatalf("expected record %s/%s to exist", collection, id)
	}
	return cloneRecord(record)
}

func cloneRecord(record core.Record) core.Record {
	out := make(core.Record, len(record))
	for key, value := range record {
		out[key] = value
	}
	return out
}
