package gojob

import (
	"context"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-billing-webhooks/core"
)

func TestTaskMappingRoundTrip(t *testing.T) {
	notBefore := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	original := core.RetryTask{
		EventID:         "evt_1",
		Payload:         []byte(`{"id":"evt_1"}`),
		SignatureHeader: "sha256=abc",
		Attempt:         2,
		NotBefore:       notBefore,
	}

	converted := ToExecutionMessage(original)
	if converted.JobID != JobIDDispatchRetry {
		t.Fatalf("expected job id %q, got %q", JobIDDispatchRetry, converted.JobID)
	}
	if converted.IdempotencyKey != "evt_1:2" {
		t.Fatalf("expected per-attempt idempotency key, got %q", converted.IdempotencyKey)
	}

	roundTrip, err := FromExecutionMessage(converted)
	if err != nil {
		t.Fatalf("from execution message: %v", err)
	}
	if roundTrip.EventID != original.EventID {
		t.Fatalf("expected event id %q, got %q", original.EventID, roundTrip.EventID)
	}
	if string(roundTrip.Payload) != string(original.Payload) {
		t.Fatalf("expected payload to survive mapping")
	}
	if roundTrip.SignatureHeader != original.SignatureHeader {
		t.Fatalf("expected signature header to survive mapping")
	}
	if roundTrip.Attempt != original.Attempt {
		t.Fatalf("expected attempt %d, got %d", original.Attempt, roundTrip.Attempt)
	}
	if !roundTrip.NotBefore.Equal(notBefore) {
		t.Fatalf("expected not_before %s, got %s", notBefore, roundTrip.NotBefore)
	}
}

func TestFromExecutionMessageRejectsMissingEventID(t *testing.T) {
	if _, err := FromExecutionMessage(&job.ExecutionMessage{JobID: JobIDDispatchRetry}); err == nil {
		t.Fatalf("expected missing event id to fail")
	}
}

func TestRetryPolicyNormalizeAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 5 * time.Second, DeadLetterOnMax: true}

	clamped := policy.NormalizeAttempt(core.NackOptions{Requeue: true, Delay: time.Minute}, 1)
	if clamped.Delay != 5*time.Second {
		t.Fatalf("expected delay clamped to max, got %s", clamped.Delay)
	}
	if !clamped.Requeue {
		t.Fatalf("expected requeue under budget")
	}

	exhausted := policy.NormalizeAttempt(core.NackOptions{Requeue: true}, 3)
	if exhausted.Requeue {
		t.Fatalf("expected requeue suppressed at max attempts")
	}
	if !exhausted.DeadLetter {
		t.Fatalf("expected dead letter at max attempts")
	}

	neither := RetryPolicy{}.NormalizeAttempt(core.NackOptions{}, 0)
	if !neither.Requeue {
		t.Fatalf("expected default to requeue rather than drop silently")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer)

	task := core.RetryTask{EventID: "evt_1", Payload: []byte("{}"), Attempt: 1}
	if err := enqueueAdapter.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDDispatchRetry {
		t.Fatalf("expected mapped go-job message")
	}

	underlying := &stubQueueDelivery{msg: enqueuer.last}
	dequeueAdapter := NewDequeuerAdapter(&stubQueueDequeuer{delivery: underlying}, RetryPolicy{MaxAttempts: 3})

	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery.Task().EventID != "evt_1" {
		t.Fatalf("expected mapped task, got %+v", delivery.Task())
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !underlying.acked {
		t.Fatalf("expected ack on underlying delivery")
	}

	if err := delivery.Nack(ctx, core.NackOptions{Requeue: true, Delay: time.Second}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if underlying.lastNack == nil || !underlying.lastNack.Requeue {
		t.Fatalf("expected normalized nack to reach underlying delivery")
	}
}

func TestWorkerAcksSuccessfulTask(t *testing.T) {
	task := core.RetryTask{EventID: "evt_1", Payload: []byte("{}"), Attempt: 1}
	underlying := &stubQueueDelivery{msg: ToExecutionMessage(task)}
	handler := &stubTaskHandler{}
	worker := NewWorker(&stubQueueCoreDequeuer{}, handler, RetryPolicy{})

	delivery, err := NewDeliveryAdapter(underlying, RetryPolicy{})
	if err != nil {
		t.Fatalf("delivery adapter: %v", err)
	}
	worker.handle(context.Background(), delivery)

	if handler.count != 1 {
		t.Fatalf("expected handler invocation, got %d", handler.count)
	}
	if !underlying.acked {
		t.Fatalf("expected successful task to be acked")
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	lastNack *queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage { return s.msg }

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.lastNack = &opts
	return nil
}

type stubQueueCoreDequeuer struct{}

func (stubQueueCoreDequeuer) Dequeue(context.Context) (core.RetryDelivery, error) {
	return nil, context.Canceled
}

type stubTaskHandler struct {
	count int
}

func (h *stubTaskHandler) ProcessTask(context.Context, core.RetryTask) error {
	h.count++
	return nil
}
