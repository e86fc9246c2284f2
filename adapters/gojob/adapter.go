// Package gojob bridges the pipeline's deferred-retry contracts onto go-job
// queue primitives, so dispatch retries can ride a durable queue instead of
// in-process timers.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-billing-webhooks/core"
)

const JobIDDispatchRetry = "billing.webhooks.dispatch_retry"

const (
	paramEventID         = "event_id"
	paramPayload         = "payload"
	paramSignatureHeader = "signature_header"
	paramAttempt         = "attempt"
	paramNotBefore       = "not_before"
)

// RetryPolicy bounds queue redelivery so a poisoned task cannot loop forever.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps nack options against the policy for a task on its
// given attempt.
func (p RetryPolicy) NormalizeAttempt(opts core.NackOptions, attempt int) core.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a retry task to a go-job message. The idempotency
// key is per event and attempt, so a requeued attempt is not deduplicated
// against the attempt that scheduled it.
func ToExecutionMessage(task core.RetryTask) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID: JobIDDispatchRetry,
		Parameters: map[string]any{
			paramEventID:         strings.TrimSpace(task.EventID),
			paramPayload:         string(task.Payload),
			paramSignatureHeader: task.SignatureHeader,
			paramAttempt:         task.Attempt,
			paramNotBefore:       task.NotBefore.UTC().Format(time.RFC3339Nano),
		},
		IdempotencyKey: fmt.Sprintf("%s:%d", strings.TrimSpace(task.EventID), task.Attempt),
	}
}

// FromExecutionMessage reverses ToExecutionMessage.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.RetryTask, error) {
	if msg == nil {
		return core.RetryTask{}, fmt.Errorf("gojob: execution message is required")
	}
	task := core.RetryTask{
		EventID:         paramString(msg.Parameters, paramEventID),
		Payload:         []byte(paramString(msg.Parameters, paramPayload)),
		SignatureHeader: paramString(msg.Parameters, paramSignatureHeader),
		Attempt:         paramInt(msg.Parameters, paramAttempt),
	}
	if task.EventID == "" {
		return core.RetryTask{}, fmt.Errorf("gojob: message %q is missing event id", msg.JobID)
	}
	if raw := paramString(msg.Parameters, paramNotBefore); raw != "" {
		notBefore, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return core.RetryTask{}, fmt.Errorf("gojob: invalid not_before %q: %w", raw, err)
		}
		task.NotBefore = notBefore.UTC()
	}
	return task, nil
}

func ToNackOptions(opts core.NackOptions) queue.NackOptions {
	return queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, task core.RetryTask) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(task.EventID) == "" {
		return fmt.Errorf("gojob: retry task requires an event id")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(task))
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	task     core.RetryTask
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) (*DeliveryAdapter, error) {
	if delivery == nil {
		return nil, fmt.Errorf("gojob: delivery is required")
	}
	task, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		return nil, err
	}
	return &DeliveryAdapter{delivery: delivery, task: task, policy: policy}, nil
}

func (d *DeliveryAdapter) Task() core.RetryTask {
	if d == nil {
		return core.RetryTask{}
	}
	return d.task
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.NackOptions) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, d.task.Attempt)
	return d.delivery.Nack(ctx, ToNackOptions(normalized))
}

type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.RetryDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return NewDeliveryAdapter(delivery, a.policy)
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

func paramInt(params map[string]any, key string) int {
	if params == nil {
		return 0
	}
	switch value := params[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

var (
	_ core.RetryEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.RetryDelivery = (*DeliveryAdapter)(nil)
	_ core.RetryDequeuer = (*DequeuerAdapter)(nil)
)
