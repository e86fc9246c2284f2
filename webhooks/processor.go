package webhooks

import (
	"context"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
	"github.com/goliatone/go-billing-webhooks/idempotency"
	"github.com/goliatone/go-billing-webhooks/retry"
)

const (
	ActionPayloadInvalid = "webhook.payload.invalid"
	ActionRetryExhausted = "webhook.retry.exhausted"
)

// Verifier authenticates a raw delivery and parses it into an event.
type Verifier interface {
	Verify(ctx context.Context, rawBody []byte, signatureHeader string) (core.Event, error)
}

// Dispatcher routes a verified event to its reconciliation handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, event core.Event) (dispatch.Outcome, error)
}

// Result is the pipeline's answer to a delivery. StatusCode is what the HTTP
// layer returns; Accepted means the source should not redeliver.
type Result struct {
	Accepted   bool
	StatusCode int
	Duplicate  bool
	EventID    string
	EventType  string
	Metadata   map[string]any
}

// Processor runs the ordered pipeline: verify, dedupe, dispatch with retries,
// mark processed. The idempotency check happens before any mutation, and the
// processed mark lands before success is reported, so a crash between dispatch
// and mark errs toward reprocessing, which patch-idempotent handlers absorb.
type Processor struct {
	Verifier    Verifier
	Idempotency idempotency.Store
	Dispatcher  Dispatcher
	Executor    *retry.Executor
	Auditor     dispatch.Auditor
	Logger      core.Logger

	// Enqueuer switches transient-failure handling from in-process backoff
	// waits to durable deferred retries: the delivery is acknowledged and the
	// dispatch is re-attempted from the queue. Nil keeps the inline executor.
	Enqueuer core.RetryEnqueuer

	Now func() time.Time
}

func NewProcessor(verifier Verifier, store idempotency.Store, dispatcher Dispatcher, config core.RetryConfig) *Processor {
	return &Processor{
		Verifier:    verifier,
		Idempotency: store,
		Dispatcher:  dispatcher,
		Executor:    retry.NewExecutor(config),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process handles one raw delivery end to end.
func (p *Processor) Process(ctx context.Context, rawBody []byte, signatureHeader string) (Result, error) {
	if p == nil || p.Verifier == nil || p.Idempotency == nil || p.Dispatcher == nil {
		return Result{StatusCode: http.StatusInternalServerError},
			processorInternal("webhooks: processor requires verifier, idempotency store, and dispatcher")
	}

	event, err := p.Verifier.Verify(ctx, rawBody, signatureHeader)
	if err != nil {
		core.LogWarn(ctx, p.Logger, "webhook delivery rejected", map[string]any{
			"error": err.Error(),
		})
		return Result{StatusCode: core.StatusFor(err)}, err
	}

	processed, err := p.Idempotency.HasProcessed(ctx, event.ID)
	if err != nil {
		return p.failure(event, err), err
	}
	if processed {
		core.LogInfo(ctx, p.Logger, "duplicate delivery absorbed", map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		return Result{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Duplicate:  true,
			EventID:    event.ID,
			EventType:  event.Type,
		}, nil
	}

	if p.Enqueuer != nil {
		return p.dispatchDeferred(ctx, event, rawBody, signatureHeader)
	}
	return p.dispatchInline(ctx, event)
}

func (p *Processor) dispatchInline(ctx context.Context, event core.Event) (Result, error) {
	var outcome dispatch.Outcome
	err := p.executor().Execute(ctx, "dispatch "+event.Type, func(ctx context.Context) error {
		var dispatchErr error
		outcome, dispatchErr = p.Dispatcher.Dispatch(ctx, event)
		return dispatchErr
	})
	if err != nil {
		return p.dispatchFailed(ctx, event, err)
	}
	return p.success(ctx, event, outcome), nil
}

// dispatchDeferred makes a single inline attempt and hands transient failures
// to the durable queue instead of blocking the delivery on backoff waits.
func (p *Processor) dispatchDeferred(ctx context.Context, event core.Event, rawBody []byte, signatureHeader string) (Result, error) {
	outcome, err := p.Dispatcher.Dispatch(ctx, event)
	if err == nil {
		return p.success(ctx, event, outcome), nil
	}
	if retry.Classify(err) == retry.ClassPermanent {
		return p.dispatchFailed(ctx, event, err)
	}
	return p.scheduleRetry(ctx, event, core.RetryTask{
		EventID:         event.ID,
		Payload:         rawBody,
		SignatureHeader: signatureHeader,
		Attempt:         1,
	}, err)
}

// ProcessTask re-runs a deferred dispatch pulled off the queue. Exhaustion of
// the retry budget audits critical and returns the terminal error so the
// worker can dead-letter the task.
func (p *Processor) ProcessTask(ctx context.Context, task core.RetryTask) error {
	if p == nil || p.Verifier == nil || p.Idempotency == nil || p.Dispatcher == nil {
		return processorInternal("webhooks: processor requires verifier, idempotency store, and dispatcher")
	}

	event, err := p.Verifier.Verify(ctx, task.Payload, task.SignatureHeader)
	if err != nil {
		return err
	}
	processed, err := p.Idempotency.HasProcessed(ctx, event.ID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}

	outcome, err := p.Dispatcher.Dispatch(ctx, event)
	if err == nil {
		p.success(ctx, event, outcome)
		return nil
	}
	if retry.Classify(err) == retry.ClassPermanent {
		_, failErr := p.dispatchFailed(ctx, event, err)
		return failErr
	}
	// task.Attempt counts queued attempts; the inline attempt was number zero.
	// The budget is MaxRetries retries total, so a transient failure on the
	// last allowed attempt is terminal, not requeued.
	if task.Attempt >= p.executor().MaxRetries {
		attempts := task.Attempt + 1
		p.auditExhausted(ctx, event, err, attempts)
		return retry.Exhausted("dispatch "+event.Type, attempts, err)
	}
	task.Attempt++
	if _, scheduleErr := p.scheduleRetry(ctx, event, task, err); scheduleErr != nil {
		return scheduleErr
	}
	return nil
}

func (p *Processor) scheduleRetry(ctx context.Context, event core.Event, task core.RetryTask, cause error) (Result, error) {
	task.NotBefore = p.now().Add(p.executor().Delay(task.Attempt - 1))
	if err := p.Enqueuer.Enqueue(ctx, task); err != nil {
		core.LogError(ctx, p.Logger, "deferred retry enqueue failed", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		return p.failure(event, err), err
	}
	core.LogInfo(ctx, p.Logger, "dispatch deferred to retry queue", map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"attempt":    task.Attempt,
		"not_before": task.NotBefore,
		"cause":      cause.Error(),
	})
	return Result{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		EventID:    event.ID,
		EventType:  event.Type,
		Metadata: map[string]any{
			"retry_scheduled": true,
			"attempt":         task.Attempt,
		},
	}, nil
}

// dispatchFailed splits terminal dispatch errors. Permanent payload problems
// are accepted with a medium audit, because redelivery of a payload that will
// never validate only wastes the source's retry budget. Exhausted transient
// budgets surface as 500 so the source redelivers later.
func (p *Processor) dispatchFailed(ctx context.Context, event core.Event, err error) (Result, error) {
	if retry.IsExhausted(err) {
		attempts := p.executor().MaxRetries + 1
		p.auditExhausted(ctx, event, err, attempts)
		return p.failure(event, err), err
	}
	if retry.Classify(err) == retry.ClassPermanent {
		p.audit(ctx, event, core.AuditEntry{
			Action:       ActionPayloadInvalid,
			ResourceType: "event",
			ResourceID:   event.ID,
			Severity:     core.SeverityMedium,
			Metadata: map[string]any{
				"event_type": event.Type,
				"error":      err.Error(),
			},
		})
		p.markProcessed(ctx, event)
		core.LogWarn(ctx, p.Logger, "event payload failed validation, delivery accepted", map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
			"error":      err.Error(),
		})
		return Result{
			Accepted:   true,
			StatusCode: http.StatusOK,
			EventID:    event.ID,
			EventType:  event.Type,
			Metadata: map[string]any{
				"validation_error": err.Error(),
			},
		}, nil
	}
	return p.failure(event, err), err
}

func (p *Processor) success(ctx context.Context, event core.Event, outcome dispatch.Outcome) Result {
	p.markProcessed(ctx, event)
	core.LogInfo(ctx, p.Logger, "webhook event processed", map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"action":     outcome.Action,
	})
	return Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		EventID:    event.ID,
		EventType:  event.Type,
		Metadata:   core.CloneFields(outcome.Metadata),
	}
}

// markProcessed failure is logged and swallowed: the handler effects are
// already applied, and failing the delivery now would trigger a redelivery
// the tracker can no longer absorb.
func (p *Processor) markProcessed(ctx context.Context, event core.Event) {
	if err := p.Idempotency.MarkProcessed(ctx, event.ID, p.now()); err != nil {
		core.LogError(ctx, p.Logger, "failed to record processed event id", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
	}
}

func (p *Processor) auditExhausted(ctx context.Context, event core.Event, err error, attempts int) {
	p.audit(ctx, event, core.AuditEntry{
		Action:       ActionRetryExhausted,
		ResourceType: "event",
		ResourceID:   event.ID,
		Severity:     core.SeverityCritical,
		Metadata: map[string]any{
			"event_type": event.Type,
			"attempts":   attempts,
			"error":      err.Error(),
		},
	})
	core.LogError(ctx, p.Logger, "retry budget exhausted, delivery failed", map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"attempts":   attempts,
		"error":      err.Error(),
	})
}

func (p *Processor) audit(ctx context.Context, event core.Event, entry core.AuditEntry) {
	if p.Auditor == nil {
		return
	}
	entry.TenantID = event.TenantID
	entry.CreatedAt = p.now()
	p.Auditor.Emit(ctx, entry)
}

func (p *Processor) failure(event core.Event, err error) Result {
	return Result{
		StatusCode: core.StatusFor(err),
		EventID:    event.ID,
		EventType:  event.Type,
	}
}

func (p *Processor) executor() *retry.Executor {
	if p.Executor == nil {
		p.Executor = retry.NewExecutor(core.DefaultConfig().Retry)
	}
	return p.Executor
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func processorInternal(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}
