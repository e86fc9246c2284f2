// Package audit turns processing outcomes into an immutable, severity-tagged
// trail. Emission is fire-and-forget: a reconciliation that succeeded is
// never rolled back or failed because its audit write did not land.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

const DefaultBufferSize = 128

// Emitter queues entries to a primary sink on a background goroutine. When
// the sink fails or the queue is saturated, the entry lands in the local
// structured log instead of being dropped silently; critical entries are
// compliance-relevant and must surface somewhere.
type Emitter struct {
	sink   core.AuditSink
	logger core.Logger
	queue  chan core.AuditEntry
	now    func() time.Time

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewEmitter(sink core.AuditSink, logger core.Logger, bufferSize int) (*Emitter, error) {
	if sink == nil {
		return nil, fmt.Errorf("audit: primary sink is required")
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	emitter := &Emitter{
		sink:   sink,
		logger: logger,
		queue:  make(chan core.AuditEntry, bufferSize),
		now: func() time.Time {
			return time.Now().UTC()
		},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go emitter.run()
	return emitter, nil
}

// Emit never blocks and never reports failure to the caller.
func (e *Emitter) Emit(ctx context.Context, entry core.AuditEntry) {
	if e == nil || e.sink == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = e.now().UTC()
	}
	if !entry.Severity.Valid() {
		entry.Severity = core.SeverityLow
	}

	// The read lock pins the drain goroutine: Close takes the write lock
	// before draining, so an entry queued here is never stranded behind a
	// finished drain.
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		e.logEntry(ctx, entry, "audit emitter closed, entry logged locally")
		return
	}
	select {
	case e.queue <- entry:
		e.mu.RUnlock()
	default:
		e.mu.RUnlock()
		e.logEntry(ctx, entry, "audit queue saturated, entry logged locally")
	}
}

// Close drains buffered entries into the sink before returning. Entries
// emitted after Close fall back to the local log.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.stopCh)
		<-e.doneCh
	})
}

func (e *Emitter) run() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			for {
				select {
				case entry := <-e.queue:
					e.record(entry)
				default:
					return
				}
			}
		case entry := <-e.queue:
			e.record(entry)
		}
	}
}

func (e *Emitter) record(entry core.AuditEntry) {
	if err := e.sink.Record(context.Background(), entry); err != nil {
		fields := entryFields(entry)
		fields["error"] = err.Error()
		core.LogError(context.Background(), e.logger, "audit sink write failed, entry logged locally", fields)
	}
}

func (e *Emitter) logEntry(ctx context.Context, entry core.AuditEntry, message string) {
	core.LogError(ctx, e.logger, message, entryFields(entry))
}

func entryFields(entry core.AuditEntry) map[string]any {
	fields := map[string]any{
		"action":        entry.Action,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
		"tenant_id":     entry.TenantID,
		"severity":      string(entry.Severity),
		"created_at":    entry.CreatedAt,
	}
	for key, value := range entry.Metadata {
		fields["meta_"+key] = value
	}
	return fields
}

// LoggerSink records audit entries into the structured log. Useful as a
// primary sink in development and as an explicit stand-in when no durable
// sink is configured.
type LoggerSink struct {
	Logger core.Logger
}

func (s LoggerSink) Record(ctx context.Context, entry core.AuditEntry) error {
	core.LogInfo(ctx, s.Logger, "audit entry", entryFields(entry))
	return nil
}

var _ core.AuditSink = LoggerSink{}
