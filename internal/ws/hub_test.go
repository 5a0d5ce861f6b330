package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/pkg/logger"
)

type recordingSub struct {
	mu     sync.Mutex
	got    [][]byte
	fail   bool
	closed bool
}

func (s *recordingSub) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("gone")
	}
	s.got = append(s.got, p)
	return nil
}

func (s *recordingSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *recordingSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestHubRoutesByProjectAndWildcard(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)

	acme := &recordingSub{}
	other := &recordingSub{}
	all := &recordingSub{}
	h.Register("acme", acme)
	h.Register("other", other)
	h.Register(AllTopics, all)

	h.Broadcast("acme", []byte(`{"projectName":"acme"}`))

	require.Eventually(t, func() bool { return acme.count() == 1 && all.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, other.count())
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)

	bad := &recordingSub{fail: true}
	h.Register("acme", bad)
	h.Broadcast("acme", []byte("x"))

	require.Eventually(t, bad.isClosed, time.Second, 5*time.Millisecond)
}

func TestHubCloseDisconnects(t *testing.T) {
	h := NewHub()
	sub := &recordingSub{}
	h.Register("acme", sub)
	h.Close()

	require.Eventually(t, sub.isClosed, time.Second, 5*time.Millisecond)
	h.Broadcast("acme", []byte("ignored"))
}

// stuckSub blocks in Send until it is closed.
type stuckSub struct {
	release chan struct{}
	once    sync.Once
}

func newStuckSub() *stuckSub { return &stuckSub{release: make(chan struct{})} }

func (s *stuckSub) Send([]byte) error {
	<-s.release
	return errors.New("closed")
}

func (s *stuckSub) Close() { s.once.Do(func() { close(s.release) }) }

func (s *stuckSub) isClosed() bool {
	select {
	case <-s.release:
		return true
	default:
		return false
	}
}

func TestStalledSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)
	feed := NewFeed(h, logger.Discard())

	stuck := newStuckSub()
	healthy := &recordingSub{}
	h.Register("acme", stuck)
	h.Register(AllTopics, healthy)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			feed.Publish(EventCreated, domain.FailureRecord{ID: "f", ProjectName: "acme"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked behind a stalled subscriber")
	}

	require.Eventually(t, stuck.isClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return healthy.count() > 0 }, time.Second, 5*time.Millisecond)
	assert.Positive(t, h.Dropped())
}

func TestBroadcastAfterCloseReturns(t *testing.T) {
	h := NewHub()
	h.Close()
	for i := 0; i < 500; i++ {
		h.Broadcast("acme", []byte("x"))
	}
}
