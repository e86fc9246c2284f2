// Package idempotency tracks which event ids have already produced effects,
// absorbing provider redelivery. Entries expire after a TTL: an event
// redelivered after eviction is reprocessed, which is an accepted tradeoff
// because reconciliation handlers are patch-idempotent.
package idempotency

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
)

const DefaultTTL = time.Hour

// Store is the deduplication surface. The in-memory implementation is
// process-local; multi-instance deployments must inject a shared store with
// conditional-put semantics (see store/sql) and keep the in-memory map as a
// cache layer at most.
type Store interface {
	HasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, now time.Time) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type InMemoryStore struct {
	TTL time.Duration
	Now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryStore{
		TTL:  ttl,
		seen: map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryStore) HasProcessed(_ context.Context, eventID string) (bool, error) {
	if s == nil {
		return false, storeInternal("idempotency: store is nil")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, storeBadInput("idempotency: event id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	firstSeen, exists := s.seen[eventID]
	if !exists {
		return false, nil
	}
	if s.expired(firstSeen, s.now()) {
		delete(s.seen, eventID)
		return false, nil
	}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, eventID string, now time.Time) error {
	if s == nil {
		return storeInternal("idempotency: store is nil")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return storeBadInput("idempotency: event id is required")
	}
	if now.IsZero() {
		now = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.seen[eventID]; exists {
		return nil
	}
	s.seen[eventID] = now.UTC()
	return nil
}

// Sweep drops entries whose first sighting is older than the TTL and returns
// how many were removed. Bounds memory at the cost of a redelivery window.
func (s *InMemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	if s == nil {
		return 0, storeInternal("idempotency: store is nil")
	}
	if now.IsZero() {
		now = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for eventID, firstSeen := range s.seen {
		if s.expired(firstSeen, now) {
			delete(s.seen, eventID)
			removed++
		}
	}
	return removed, nil
}

// FirstSeen returns when eventID was first recorded, if it still is.
func (s *InMemoryStore) FirstSeen(eventID string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	firstSeen, exists := s.seen[strings.TrimSpace(eventID)]
	return firstSeen, exists
}

func (s *InMemoryStore) expired(firstSeen time.Time, now time.Time) bool {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(firstSeen) >= ttl
}

func (s *InMemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func storeInternal(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

func storeBadInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

var _ Store = (*InMemoryStore)(nil)
