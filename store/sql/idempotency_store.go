package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing-webhooks/idempotency"
)

// IdempotencyStore is the cross-process processed-event tracker. The unique
// constraint on event_id makes MarkProcessed a conditional put: concurrent
// instances marking the same event race harmlessly, the loser's insert is a
// no-op.
type IdempotencyStore struct {
	db   *bun.DB
	repo repository.Repository[*processedEventRecord]
	ttl  time.Duration

	// Now is the TTL reference clock, injectable like the in-memory store's.
	Now func() time.Time
}

func NewIdempotencyStore(db *bun.DB, ttl time.Duration) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	repo := repository.NewRepository[*processedEventRecord](db, processedEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid processed event repository wiring: %w", err)
		}
	}
	return &IdempotencyStore{
		db:   db,
		repo: repo,
		ttl:  ttl,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *IdempotencyStore) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("sqlstore: event id is required")
	}

	record := &processedEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if s.now().Sub(record.FirstSeenAt.UTC()) >= s.ttl {
		return false, nil
	}
	return true, nil
}

func (s *IdempotencyStore) MarkProcessed(ctx context.Context, eventID string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	if now.IsZero() {
		now = s.now()
	}

	record := &processedEventRecord{
		ID:          uuid.NewString(),
		EventID:     eventID,
		FirstSeenAt: now.UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// Sweep deletes entries whose first sighting is older than the TTL.
func (s *IdempotencyStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	if now.IsZero() {
		now = s.now()
	}
	cutoff := now.UTC().Add(-s.ttl)
	res, err := s.db.NewDelete().
		Model((*processedEventRecord)(nil)).
		Where("first_seen_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *IdempotencyStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
