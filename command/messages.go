// Package command exposes the pipeline's operational surface as go-command
// messages: replaying a stored delivery and forcing an idempotency sweep.
package command

import "time"

const (
	TypeReplayEvent      = "billing.webhooks.command.replay_event"
	TypeSweepIdempotency = "billing.webhooks.command.sweep_idempotency"
)

// ReplayEventMessage re-runs a stored raw delivery through the full pipeline.
// The original signature header must be kept alongside the payload; replay
// goes through verification like any live delivery.
type ReplayEventMessage struct {
	Payload         []byte
	SignatureHeader string
}

func (ReplayEventMessage) Type() string { return TypeReplayEvent }

func (m ReplayEventMessage) Validate() error {
	if len(m.Payload) == 0 {
		return commandValidationError("payload", "payload is required")
	}
	return nil
}

// SweepIdempotencyMessage forces an expiry pass over the processed-event
// tracker. A zero At sweeps against the current clock.
type SweepIdempotencyMessage struct {
	At time.Time
}

func (SweepIdempotencyMessage) Type() string { return TypeSweepIdempotency }

func (SweepIdempotencyMessage) Validate() error { return nil }
