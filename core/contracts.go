package core

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Event is a verified inbound provider notification. The raw payload is kept
// byte-exact; Object holds the decoded data object for handler use. Events are
// immutable once constructed.
type Event struct {
	ID        string
	Type      string
	TenantID  string
	CreatedAt time.Time
	Raw       []byte
	Object    map[string]any
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return newCoreError("core: event id is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return newCoreError("core: event type is required")
	}
	return nil
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// AuditEntry is an append-only processing outcome record. Once emitted it is
// never mutated by the pipeline; retention is the sink's concern.
type AuditEntry struct {
	Action       string
	ResourceType string
	ResourceID   string
	TenantID     string
	Severity     Severity
	Metadata     map[string]any
	CreatedAt    time.Time
}

type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type AuditFilter struct {
	TenantID string
	Action   string
	Severity Severity
	From     *time.Time
	To       *time.Time
	Page     int
	PerPage  int
}

type AuditPage struct {
	Items   []AuditEntry
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

type Record = map[string]any

type Filter = map[string]any

type Patch = map[string]any

// PersistenceClient is the record-store surface the pipeline consumes. All
// calls are network-latent and fallible; callers wrap them in the retry
// executor's failure classification.
type PersistenceClient interface {
	List(ctx context.Context, collection string, filter Filter) ([]Record, error)
	Create(ctx context.Context, collection string, body Record) (Record, error)
	Update(ctx context.Context, collection string, id string, patch Patch) (Record, error)
}

// RetryTask is a dispatch attempt scheduled for deferred execution through a
// durable queue. Attempt counts attempts already made.
type RetryTask struct {
	EventID         string
	Payload         []byte
	SignatureHeader string
	Attempt         int
	NotBefore       time.Time
}

type RetryEnqueuer interface {
	Enqueue(ctx context.Context, task RetryTask) error
}

type RetryDelivery interface {
	Task() RetryTask
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts NackOptions) error
}

type RetryDequeuer interface {
	Dequeue(ctx context.Context) (RetryDelivery, error)
}

type NackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
