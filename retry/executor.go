// Package retry bounds transient-failure recovery for dispatch execution.
// The executor's budget is one of two defense layers: once it is exhausted
// the pipeline answers 5xx and the event source's own redelivery takes over.
package retry

import (
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMultiplier = 2.0
	DefaultMaxDelay   = 30 * time.Second
)

type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

// Classify buckets err for retry purposes. Validation, bad-input, and
// authentication failures never heal on their own, so they are permanent;
// everything else is presumed to be a transient persistence or network fault.
// One classification function for every handler, applied uniformly.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryValidation,
			goerrors.CategoryBadInput,
			goerrors.CategoryAuth,
			goerrors.CategoryAuthz,
			goerrors.CategoryConflict:
			return ClassPermanent
		}
	}
	return ClassTransient
}

type BackoffPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoffPolicy yields Base * Multiplier^attempt, capped at Max.
// Defaults produce 1s, 2s, 4s for attempts 0..2.
type ExponentialBackoffPolicy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

func (p ExponentialBackoffPolicy) NextDelay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBaseDelay
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = DefaultMultiplier
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = DefaultMaxDelay
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

type Executor struct {
	MaxRetries int
	Policy     BackoffPolicy
	Classify   func(error) Class
	Logger     core.Logger
	// Sleep exists for tests; production uses a timer against the context.
	Sleep func(ctx context.Context, delay time.Duration) error
}

func NewExecutor(cfg core.RetryConfig) *Executor {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Executor{
		MaxRetries: maxRetries,
		Policy: ExponentialBackoffPolicy{
			Base:       cfg.BaseDelay,
			Multiplier: cfg.Multiplier,
			Max:        cfg.MaxDelay,
		},
		Classify: Classify,
	}
}

// Execute runs fn up to MaxRetries+1 times, waiting between transient
// failures. Permanent failures return immediately. The wait blocks only this
// event's continuation: callers run each inbound request on its own
// goroutine, so other deliveries keep flowing while one backs off.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if e == nil {
		return goerrors.New("retry: executor is nil", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ErrorInternal)
	}
	if fn == nil {
		return goerrors.New("retry: operation is required", goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorBadInput)
	}

	classify := e.Classify
	if classify == nil {
		classify = Classify
	}
	policy := e.Policy
	if policy == nil {
		policy = ExponentialBackoffPolicy{}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if classify(err) == ClassPermanent {
			return err
		}
		lastErr = err

		if attempt >= e.MaxRetries {
			return Exhausted(operation, attempt+1, lastErr)
		}

		delay := policy.NextDelay(attempt)
		core.LogInfo(ctx, e.Logger, "transient failure, retry scheduled", map[string]any{
			"operation": operation,
			"attempt":   attempt + 1,
			"delay_ms":  delay.Milliseconds(),
			"error":     err.Error(),
		})
		if err := e.wait(ctx, delay); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "retry: wait interrupted").
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.ErrorOperationFailed)
		}
	}
}

func (e *Executor) wait(ctx context.Context, delay time.Duration) error {
	if e != nil && e.Sleep != nil {
		return e.Sleep(ctx, delay)
	}
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

// Delay reports the wait the executor's policy would impose after attempt
// failures, for callers that schedule deferred retries instead of sleeping.
func (e *Executor) Delay(attempt int) time.Duration {
	if e == nil {
		return 0
	}
	policy := e.Policy
	if policy == nil {
		policy = ExponentialBackoffPolicy{}
	}
	if attempt < 0 {
		attempt = 0
	}
	return policy.NextDelay(attempt)
}

// Exhausted builds the terminal retry-budget error for operation after the
// given number of attempts, wrapping the last failure.
func Exhausted(operation string, attempts int, lastErr error) error {
	return goerrors.Wrap(
		lastErr,
		goerrors.CategoryOperation,
		"retry: "+strings.TrimSpace(operation)+" failed after retries exhausted",
	).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorRetryExhausted).
		WithMetadata(map[string]any{
			"operation": strings.TrimSpace(operation),
			"attempts":  attempts,
		})
}

// IsExhausted reports whether err is a terminal retry-budget failure.
func IsExhausted(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(richErr.TextCode, core.ErrorRetryExhausted)
}
