package gojob

import (
	"context"
	"errors"
	"fmt"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/retry"
)

// TaskHandler re-runs a deferred dispatch. The webhooks processor satisfies
// this with ProcessTask.
type TaskHandler interface {
	ProcessTask(ctx context.Context, task core.RetryTask) error
}

// Worker drains the retry queue. Each task waits out its NotBefore, then runs
// through the handler; transient failures requeue through the handler's own
// scheduling, terminal failures dead-letter.
type Worker struct {
	Dequeuer core.RetryDequeuer
	Handler  TaskHandler
	Policy   RetryPolicy
	Logger   job.Logger
	Hook     worker.Hook
	Now      func() time.Time
}

func NewWorker(dequeuer core.RetryDequeuer, handler TaskHandler, policy RetryPolicy) *Worker {
	return &Worker{
		Dequeuer: dequeuer,
		Handler:  handler,
		Policy:   policy,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Run consumes tasks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.Dequeuer == nil || w.Handler == nil {
		return fmt.Errorf("gojob: worker requires dequeuer and handler")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivery, err := w.Dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logf("dequeue failed: %v", err)
			continue
		}
		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, delivery core.RetryDelivery) {
	task := delivery.Task()
	if err := w.waitUntil(ctx, task.NotBefore); err != nil {
		_ = delivery.Nack(ctx, core.NackOptions{Requeue: true, Reason: "shutdown before execution"})
		return
	}

	startedAt := w.now()
	w.hookEvent(ctx, task, nil, startedAt, 0, hookStart)

	err := w.Handler.ProcessTask(ctx, task)
	duration := w.now().Sub(startedAt)
	if err == nil {
		w.hookEvent(ctx, task, nil, startedAt, duration, hookSuccess)
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			w.logf("ack failed for event %s: %v", task.EventID, ackErr)
		}
		return
	}

	w.hookEvent(ctx, task, err, startedAt, duration, hookFailure)
	opts := core.NackOptions{Reason: err.Error()}
	if retry.IsExhausted(err) || retry.Classify(err) == retry.ClassPermanent {
		opts.DeadLetter = true
	} else {
		opts.Requeue = true
		opts.Delay = time.Second
	}
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		w.logf("nack failed for event %s: %v", task.EventID, nackErr)
	}
}

func (w *Worker) waitUntil(ctx context.Context, notBefore time.Time) error {
	delay := notBefore.Sub(w.now())
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type hookKind int

const (
	hookStart hookKind = iota
	hookSuccess
	hookFailure
)

func (w *Worker) hookEvent(ctx context.Context, task core.RetryTask, err error, startedAt time.Time, duration time.Duration, kind hookKind) {
	if w.Hook == nil {
		return
	}
	event := worker.Event{
		Message:   ToExecutionMessage(task),
		Attempt:   task.Attempt,
		Err:       err,
		StartedAt: startedAt,
		Duration:  duration,
	}
	switch kind {
	case hookStart:
		w.Hook.OnStart(ctx, event)
	case hookSuccess:
		w.Hook.OnSuccess(ctx, event)
	case hookFailure:
		w.Hook.OnFailure(ctx, event)
	}
}

func (w *Worker) logf(format string, args ...any) {
	if w == nil || w.Logger == nil {
		return
	}
	w.Logger.Error(fmt.Sprintf(format, args...))
}

func (w *Worker) now() time.Time {
	if w != nil && w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}
