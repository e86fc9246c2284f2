package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-billing-webhooks/idempotency"
	"github.com/goliatone/go-billing-webhooks/webhooks"
)

// EventProcessor is the slice of the pipeline the replay command drives.
type EventProcessor interface {
	Process(ctx context.Context, rawBody []byte, signatureHeader string) (webhooks.Result, error)
}

type ReplayEventCommand struct {
	processor EventProcessor
}

func NewReplayEventCommand(processor EventProcessor) *ReplayEventCommand {
	return &ReplayEventCommand{processor: processor}
}

func (c *ReplayEventCommand) Execute(ctx context.Context, msg ReplayEventMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: event processor is required")
	}
	result, err := c.processor.Process(ctx, msg.Payload, msg.SignatureHeader)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

// SweepReport is what the sweep command hands back through the collector.
type SweepReport struct {
	Removed int
	SweptAt time.Time
}

type SweepIdempotencyCommand struct {
	store idempotency.Store
	now   func() time.Time
}

func NewSweepIdempotencyCommand(store idempotency.Store) *SweepIdempotencyCommand {
	return &SweepIdempotencyCommand{
		store: store,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (c *SweepIdempotencyCommand) Execute(ctx context.Context, msg SweepIdempotencyMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: idempotency store is required")
	}
	at := msg.At
	if at.IsZero() {
		at = c.now()
	}
	removed, err := c.store.Sweep(ctx, at)
	if err != nil {
		return err
	}
	storeResult(ctx, SweepReport{Removed: removed, SweptAt: at})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
