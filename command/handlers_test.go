package command

import (
	"context"
	"net/http"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/webhooks"
)

func TestReplayEventCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := webhooks.Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		EventID:    "evt_1",
	}
	called := false
	processor := stubProcessor{
		processFn: func(_ context.Context, rawBody []byte, signatureHeader string) (webhooks.Result, error) {
			called = true
			if string(rawBody) != `{"id":"evt_1"}` || signatureHeader != "sig" {
				t.Fatalf("unexpected replay payload: %q %q", rawBody, signatureHeader)
			}
			return expected, nil
		},
	}

	cmd := NewReplayEventCommand(processor)
	collector := gocmd.NewResult[webhooks.Result]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, ReplayEventMessage{
		Payload:         []byte(`{"id":"evt_1"}`),
		SignatureHeader: "sig",
	})
	if err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	if !called {
		t.Fatalf("expected processor invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.EventID != expected.EventID || result.StatusCode != expected.StatusCode {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestReplayEventMessage_ValidateRequiresPayload(t *testing.T) {
	err := (ReplayEventMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
}

func TestSweepIdempotencyCommand_StoresReport(t *testing.T) {
	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	store := stubSweepStore{
		sweepFn: func(_ context.Context, now time.Time) (int, error) {
			if !now.Equal(at) {
				t.Fatalf("expected sweep at %s, got %s", at, now)
			}
			return 7, nil
		},
	}

	cmd := NewSweepIdempotencyCommand(store)
	collector := gocmd.NewResult[SweepReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, SweepIdempotencyMessage{At: at}); err != nil {
		t.Fatalf("execute sweep: %v", err)
	}
	report, ok := collector.Load()
	if !ok {
		t.Fatalf("expected report to be stored")
	}
	if report.Removed != 7 || !report.SweptAt.Equal(at) {
		t.Fatalf("unexpected report: %#v", report)
	}
}

func TestCommands_NilDependenciesReturnRichError(t *testing.T) {
	var replay *ReplayEventCommand
	if err := replay.Execute(context.Background(), ReplayEventMessage{Payload: []byte("{}")}); err == nil {
		t.Fatalf("expected dependency error")
	}
	var sweep *SweepIdempotencyCommand
	err := sweep.Execute(context.Background(), SweepIdempotencyMessage{})
	if err == nil {
		t.Fatalf("expected dependency error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %v", err)
	}
}

type stubProcessor struct {
	processFn func(ctx context.Context, rawBody []byte, signatureHeader string) (webhooks.Result, error)
}

func (s stubProcessor) Process(ctx context.Context, rawBody []byte, signatureHeader string) (webhooks.Result, error) {
	return s.processFn(ctx, rawBody, signatureHeader)
}

type stubSweepStore struct {
	sweepFn func(ctx context.Context, now time.Time) (int, error)
}

func (s stubSweepStore) HasProcessed(context.Context, string) (bool, error) { return false, nil }

func (s stubSweepStore) MarkProcessed(context.Context, string, time.Time) error { return nil }

func (s stubSweepStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return s.sweepFn(ctx, now)
}
