package idempotency

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingStore struct {
	Store
	sweeps atomic.Int64
}

func (s *countingStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.sweeps.Add(1)
	return s.Store.Sweep(ctx, now)
}

func TestSweeperRunsOnInterval(t *testing.T) {
	store := &countingStore{Store: NewInMemoryStore(time.Hour)}
	sweeper, err := NewSweeper(store, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("start sweeper: %v", err)
	}
	defer sweeper.Close()

	deadline := time.Now().Add(2 * time.Second)
	for store.sweeps.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least two sweeps, got %d", store.sweeps.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeperCloseStopsRun(t *testing.T) {
	sweeper, err := NewSweeper(NewInMemoryStore(time.Hour), time.Minute, nil)
	if err != nil {
		t.Fatalf("start sweeper: %v", err)
	}
	done := make(chan struct{})
	go func() {
		sweeper.Close()
		sweeper.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected close to return promptly")
	}
}

func TestSweeperRequiresStore(t *testing.T) {
	if _, err := NewSweeper(nil, time.Minute, nil); err == nil {
		t.Fatalf("expected nil store to be rejected")
	}
}
