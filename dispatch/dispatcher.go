// Package dispatch routes verified events to reconciliation handlers through
// a closed table built at startup. Unknown event types are accepted and
// audited, never rejected: the event source adds types faster than consumers
// upgrade, and failing those deliveries only triggers pointless redelivery.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
)

const ActionUnknownEventType = "webhook.event.ignored"

// Outcome describes what a handler did, in audit terms. The dispatcher turns
// every successful dispatch into exactly one audit entry built from it.
type Outcome struct {
	Action       string
	ResourceType string
	ResourceID   string
	Severity     core.Severity
	Metadata     map[string]any
}

// Handler mutates business state for a single event type. Implementations
// must be patch-idempotent, must not rely on cross-event ordering, and must
// tolerate read misses by creating records on demand.
type Handler interface {
	EventType() string
	Handle(ctx context.Context, event core.Event) (Outcome, error)
}

// Auditor is the narrow audit surface the dispatcher needs; emission must
// never fail or block the dispatch that triggered it.
type Auditor interface {
	Emit(ctx context.Context, entry core.AuditEntry)
}

type Dispatcher struct {
	Auditor Auditor
	Logger  core.Logger
	Now     func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	aliases  map[string]string
}

func NewDispatcher(auditor Auditor) *Dispatcher {
	return &Dispatcher{
		Auditor:  auditor,
		handlers: map[string]Handler{},
		aliases:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (d *Dispatcher) Register(handler Handler) error {
	if d == nil {
		return dispatchInternal("dispatch: dispatcher is nil", nil)
	}
	if handler == nil {
		return dispatchBadInput("dispatch: handler is nil", nil)
	}
	eventType := normalizeEventType(handler.EventType())
	if eventType == "" {
		return dispatchBadInput("dispatch: handler event type is required", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[eventType]; exists {
		return goerrors.New(
			fmt.Sprintf("dispatch: handler already registered for event type %q", eventType),
			goerrors.CategoryConflict,
		).
			WithCode(http.StatusConflict).
			WithTextCode(core.ErrorConflict).
			WithMetadata(map[string]any{"event_type": eventType})
	}
	d.handlers[eventType] = handler
	return nil
}

// Alias routes an alternate event type spelling to an already registered
// one. Providers rename event types across API versions; both spellings must
// reconcile identically.
func (d *Dispatcher) Alias(alias string, eventType string) error {
	if d == nil {
		return dispatchInternal("dispatch: dispatcher is nil", nil)
	}
	alias = normalizeEventType(alias)
	eventType = normalizeEventType(eventType)
	if alias == "" || eventType == "" {
		return dispatchBadInput("dispatch: alias and event type are required", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[eventType]; !exists {
		return dispatchBadInput(
			fmt.Sprintf("dispatch: no handler registered for event type %q", eventType),
			map[string]any{"event_type": eventType},
		)
	}
	d.aliases[alias] = eventType
	return nil
}

// Dispatch runs the handler registered for the event's type. A missing
// handler is not an error: the event is audited at low severity and accepted.
// Handler errors propagate unwrapped so the retry layer can classify them.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.Event) (Outcome, error) {
	if d == nil {
		return Outcome{}, dispatchInternal("dispatch: dispatcher is nil", nil)
	}
	if err := event.Validate(); err != nil {
		return Outcome{}, err
	}

	handler := d.handlerFor(event.Type)
	if handler == nil {
		outcome := Outcome{
			Action:       ActionUnknownEventType,
			ResourceType: "event",
			ResourceID:   event.ID,
			Severity:     core.SeverityLow,
			Metadata: map[string]any{
				"event_type": event.Type,
			},
		}
		d.audit(ctx, event, outcome)
		core.LogInfo(ctx, d.Logger, "unrecognized event type accepted", map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		return outcome, nil
	}

	outcome, err := handler.Handle(ctx, event)
	if err != nil {
		return Outcome{}, err
	}
	if outcome.Metadata == nil {
		outcome.Metadata = map[string]any{}
	}
	outcome.Metadata["event_id"] = event.ID
	outcome.Metadata["event_type"] = event.Type
	d.audit(ctx, event, outcome)
	return outcome, nil
}

// Known reports whether a handler (or alias) exists for eventType.
func (d *Dispatcher) Known(eventType string) bool {
	return d != nil && d.handlerFor(eventType) != nil
}

func (d *Dispatcher) audit(ctx context.Context, event core.Event, outcome Outcome) {
	if d.Auditor == nil {
		return
	}
	severity := outcome.Severity
	if !severity.Valid() {
		severity = core.SeverityLow
	}
	d.Auditor.Emit(ctx, core.AuditEntry{
		Action:       outcome.Action,
		ResourceType: outcome.ResourceType,
		ResourceID:   outcome.ResourceID,
		TenantID:     event.TenantID,
		Severity:     severity,
		Metadata:     core.CloneFields(outcome.Metadata),
		CreatedAt:    d.now(),
	})
}

func (d *Dispatcher) handlerFor(eventType string) Handler {
	if d == nil {
		return nil
	}
	eventType = normalizeEventType(eventType)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if target, ok := d.aliases[eventType]; ok {
		eventType = target
	}
	return d.handlers[eventType]
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeEventType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func dispatchInternal(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func dispatchBadInput(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
