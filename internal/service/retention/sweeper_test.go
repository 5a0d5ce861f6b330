package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/internal/store"
	"github.com/splax/localvercel/intake/pkg/logger"
)

type countingStore struct {
	store.Store
	mu     sync.Mutex
	calls  int
	maxAge time.Duration
	err    error
}

func (c *countingStore) Expire(_ context.Context, maxAge time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.maxAge = maxAge
	return c.err
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestNewReturnsNilWithoutStore(t *testing.T) {
	if s := New(nil, time.Minute, time.Hour, logger.Discard()); s != nil {
		t.Fatalf("expected nil sweeper")
	}
	var s *Sweeper
	s.Run(context.Background())
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(&countingStore{}, 0, 0, logger.Discard())
	if s.interval != defaultInterval {
		t.Fatalf("interval = %s, want %s", s.interval, defaultInterval)
	}
	if s.retention != domain.DefaultRetentionTime {
		t.Fatalf("retention = %s, want %s", s.retention, domain.DefaultRetentionTime)
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	st := &countingStore{}
	s := New(st, 10*time.Millisecond, 2*time.Hour, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for st.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 sweeps, got %d", st.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
	if st.maxAge != 2*time.Hour {
		t.Fatalf("maxAge = %s, want 2h", st.maxAge)
	}
}

func TestSweepErrorIsNotFatal(t *testing.T) {
	st := &countingStore{err: errors.New("redis down")}
	s := New(st, time.Minute, time.Hour, logger.Discard())
	s.sweep(context.Background())
	s.sweep(context.Background())
	if st.count() != 2 {
		t.Fatalf("expected 2 sweeps, got %d", st.count())
	}
}
