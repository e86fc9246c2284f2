package billingwebhooks_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	billingwebhooks "github.com/goliatone/go-billing-webhooks"
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
	"github.com/goliatone/go-billing-webhooks/signature"
)

const facadeSecret = "whsec_facade"

func TestNew_ProcessesSignedDeliveryEndToEnd(t *testing.T) {
	sink := &recordingSink{}
	handler := &recordingHandler{eventType: "invoice.payment_succeeded"}

	svc, err := billingwebhooks.New(billingwebhooks.Config{Secret: facadeSecret},
		billingwebhooks.WithAuditSink(sink),
		billingwebhooks.WithHandler(handler),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	payload := facadePayload("evt_f1", "invoice.payment_succeeded")
	result, err := svc.Process(context.Background(), payload, signature.ComputeSignature(payload, facadeSecret))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Accepted || result.StatusCode != 200 {
		t.Fatalf("expected accepted 200, got accepted=%v status=%d", result.Accepted, result.StatusCode)
	}
	if handler.count() != 1 {
		t.Fatalf("expected 1 handler invocation, got %d", handler.count())
	}

	duplicate, err := svc.Process(context.Background(), payload, signature.ComputeSignature(payload, facadeSecret))
	if err != nil {
		t.Fatalf("process duplicate: %v", err)
	}
	if !duplicate.Duplicate {
		t.Fatalf("expected duplicate delivery flag")
	}
	if handler.count() != 1 {
		t.Fatalf("expected no reprocessing on duplicate, got %d invocations", handler.count())
	}

	svc.Close()
	entries := sink.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].TenantID != "ten_f" {
		t.Fatalf("expected tenant propagated to audit entry, got %q", entries[0].TenantID)
	}
}

func TestNew_RequiresSecretOrProvider(t *testing.T) {
	if _, err := billingwebhooks.New(billingwebhooks.Config{}); err == nil {
		t.Fatalf("expected error without secret or provider")
	}
}

func TestNew_AliasRoutesToRegisteredHandler(t *testing.T) {
	handler := &recordingHandler{eventType: "charge.dispute.created"}
	svc, err := billingwebhooks.New(billingwebhooks.Config{Secret: facadeSecret},
		billingwebhooks.WithHandler(handler),
		billingwebhooks.WithAlias("charge.disputed", "charge.dispute.created"),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close()

	payload := facadePayload("evt_alias", "charge.disputed")
	result, err := svc.Process(context.Background(), payload, signature.ComputeSignature(payload, facadeSecret))
	if err != nil {
		t.Fatalf("process aliased event: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected aliased event accepted")
	}
	if handler.count() != 1 {
		t.Fatalf("expected alias to route to handler, got %d invocations", handler.count())
	}
}

func TestNew_RejectsBadSignature(t *testing.T) {
	svc, err := billingwebhooks.New(billingwebhooks.Config{Secret: facadeSecret})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close()

	payload := facadePayload("evt_bad", "invoice.finalized")
	result, err := svc.Process(context.Background(), payload, "sha256=deadbeef")
	if err == nil {
		t.Fatalf("expected signature rejection")
	}
	if result.StatusCode != 400 {
		t.Fatalf("expected 400 on signature mismatch, got %d", result.StatusCode)
	}
}

func TestSetup_LoadsConfigThroughProvider(t *testing.T) {
	provider := core.NewCfgxConfigProvider(core.NewStaticRawConfigLoader(map[string]any{
		"secret":           facadeSecret,
		"signature_header": "X-Custom-Signature",
	}))

	svc, err := billingwebhooks.Setup(context.Background(), provider)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer svc.Close()

	cfg := svc.Config()
	if cfg.Secret != facadeSecret {
		t.Fatalf("expected loaded secret, got %q", cfg.Secret)
	}
	if cfg.SignatureHeader != "X-Custom-Signature" {
		t.Fatalf("expected loaded signature header, got %q", cfg.SignatureHeader)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Fatalf("expected defaulted retry budget, got %d", cfg.Retry.MaxRetries)
	}
}

func facadePayload(eventID string, eventType string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"created":%d,"account":"ten_f","data":{"object":{"id":"in_f","amount_paid":4200}}}`,
		eventID, eventType, time.Now().Unix(),
	))
}

type recordingHandler struct {
	eventType string

	mu    sync.Mutex
	calls int
}

func (h *recordingHandler) EventType() string { return h.eventType }

func (h *recordingHandler) Handle(_ context.Context, event core.Event) (dispatch.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return dispatch.Outcome{
		Action:       "test.recorded",
		ResourceType: "event",
		ResourceID:   event.ID,
		Severity:     core.SeverityLow,
	}, nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type recordingSink struct {
	mu      sync.Mutex
	entries []core.AuditEntry
}

func (s *recordingSink) Record(_ context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) snapshot() []core.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuditEntry(nil), s.entries...)
}
