package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

func TestEmitterDeliversEntriesToSink(t *testing.T) {
	sink := &capturingSink{}
	emitter, err := NewEmitter(sink, nil, 8)
	if err != nil {
		t.Fatalf("build emitter: %v", err)
	}

	for i := 0; i < 3; i++ {
		emitter.Emit(context.Background(), core.AuditEntry{
			Action:   "invoice.payment_failed.recorded",
			Severity: core.SeverityHigh,
		})
	}
	emitter.Close()

	if got := sink.count(); got != 3 {
		t.Fatalf("expected 3 recorded entries, got %d", got)
	}
}

func TestEmitterStampsTimestampAndSeverity(t *testing.T) {
	sink := &capturingSink{}
	emitter, err := NewEmitter(sink, nil, 8)
	if err != nil {
		t.Fatalf("build emitter: %v", err)
	}

	emitter.Emit(context.Background(), core.AuditEntry{Action: "webhook.event.ignored"})
	emitter.Close()

	entries := sink.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatalf("expected emitter to stamp created_at")
	}
	if entries[0].Severity != core.SeverityLow {
		t.Fatalf("expected invalid severity to default low, got %q", entries[0].Severity)
	}
}

func TestEmitterSurvivesSinkFailure(t *testing.T) {
	sink := &capturingSink{err: errors.New("audit collection unavailable")}
	emitter, err := NewEmitter(sink, nil, 8)
	if err != nil {
		t.Fatalf("build emitter: %v", err)
	}

	emitter.Emit(context.Background(), core.AuditEntry{
		Action:   "dispute.recorded",
		Severity: core.SeverityCritical,
	})
	emitter.Close()

	if got := sink.count(); got != 1 {
		t.Fatalf("expected the failing sink to still be attempted once, got %d", got)
	}
}

func TestEmitterDoesNotBlockWhenSaturated(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	emitter, err := NewEmitter(sink, nil, 1)
	if err != nil {
		t.Fatalf("build emitter: %v", err)
	}
	defer func() {
		close(sink.release)
		emitter.Close()
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			emitter.Emit(context.Background(), core.AuditEntry{Action: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("emit must not block on a saturated queue")
	}
}

func TestEmitterAfterCloseFallsBackToLog(t *testing.T) {
	sink := &capturingSink{}
	logger := &errorCapturingLogger{}
	emitter, err := NewEmitter(sink, logger, 8)
	if err != nil {
		t.Fatalf("build emitter: %v", err)
	}

	emitter.Emit(context.Background(), core.AuditEntry{Action: "dispute.recorded"})
	emitter.Close()
	recorded := sink.count()
	if recorded != 1 {
		t.Fatalf("expected pre-close entry in sink, got %d", recorded)
	}

	emitter.Emit(context.Background(), core.AuditEntry{
		Action:   "dispute.closed",
		Severity: core.SeverityCritical,
	})
	if got := sink.count(); got != recorded {
		t.Fatalf("entry emitted after close must not reach the sink, got %d", got)
	}
	if got := logger.errorCount(); got != 1 {
		t.Fatalf("expected post-close entry logged locally, got %d error logs", got)
	}
}

func TestNewEmitterRequiresSink(t *testing.T) {
	if _, err := NewEmitter(nil, nil, 8); err == nil {
		t.Fatalf("expected nil sink to be rejected")
	}
}

type capturingSink struct {
	mu      sync.Mutex
	entries []core.AuditEntry
	err     error
}

func (s *capturingSink) Record(_ context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return s.err
}

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *capturingSink) snapshot() []core.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuditEntry(nil), s.entries...)
}

type errorCapturingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *errorCapturingLogger) Trace(string, ...any) {}
func (l *errorCapturingLogger) Debug(string, ...any) {}
func (l *errorCapturingLogger) Info(string, ...any)  {}
func (l *errorCapturingLogger) Warn(string, ...any)  {}
func (l *errorCapturingLogger) Fatal(string, ...any) {}

func (l *errorCapturingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *errorCapturingLogger) WithContext(context.Context) core.Logger {
	return l
}

func (l *errorCapturingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

var _ core.Logger = (*errorCapturingLogger)(nil)

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Record(context.Context, core.AuditEntry) error {
	<-s.release
	return nil
}
