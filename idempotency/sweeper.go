package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

const DefaultSweepInterval = 5 * time.Minute

// Sweeper runs Store.Sweep on a fixed interval until closed.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   core.Logger
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewSweeper(store Store, interval time.Duration, logger core.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency: sweeper requires a store")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	sweeper := &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go sweeper.run()
	return sweeper, nil
}

func (s *Sweeper) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *Sweeper) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			removed, err := s.store.Sweep(context.Background(), s.now())
			if err != nil {
				core.LogError(context.Background(), s.logger, "idempotency sweep failed", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			if removed > 0 {
				core.LogInfo(context.Background(), s.logger, "idempotency sweep evicted entries", map[string]any{
					"removed": removed,
				})
			}
		}
	}
}
