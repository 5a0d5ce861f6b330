package remediation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/localvercel/intake/pkg/logger"
)

type fakeTrigger struct {
	mu    sync.Mutex
	ids   []string
	err   error
	calls chan string
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{calls: make(chan string, 16)}
}

func (f *fakeTrigger) Trigger(_ context.Context, errorID string) error {
	f.mu.Lock()
	f.ids = append(f.ids, errorID)
	err := f.err
	f.mu.Unlock()
	f.calls <- errorID
	return err
}

func waitCall(t *testing.T, f *fakeTrigger) string {
	t.Helper()
	select {
	case id := <-f.calls:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("trigger was not called")
		return ""
	}
}

func TestSchedulerFiresTrigger(t *testing.T) {
	reg := prometheus.NewRegistry()
	trig := newFakeTrigger()
	s := NewScheduler(trig, SchedulerConfig{}, logger.Discard(), reg)

	s.Schedule("err-1")
	assert.Equal(t, "err-1", waitCall(t, trig))
	s.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(s.results.WithLabelValues("ok")))
}

func TestSchedulerSwallowsTriggerErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	trig := newFakeTrigger()
	trig.err = errors.New("remediation service down")
	s := NewScheduler(trig, SchedulerConfig{}, logger.Discard(), reg)

	s.Schedule("err-1")
	waitCall(t, trig)
	s.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(s.results.WithLabelValues("error")))
}

func TestSchedulerCloseCancelsDelayedTasks(t *testing.T) {
	trig := newFakeTrigger()
	s := NewScheduler(trig, SchedulerConfig{Delay: time.Hour}, logger.Discard(), prometheus.NewRegistry())

	s.Schedule("err-1")
	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return")
	}
	assert.Empty(t, trig.ids)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.results.WithLabelValues("cancelled")))
}

func TestSchedulerDropsAfterClose(t *testing.T) {
	trig := newFakeTrigger()
	s := NewScheduler(trig, SchedulerConfig{}, logger.Discard(), prometheus.NewRegistry())
	s.Close()

	s.Schedule("err-late")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.results.WithLabelValues("dropped")))
	require.Empty(t, trig.ids)
}

func TestSchedulerNilRegistry(t *testing.T) {
	trig := newFakeTrigger()
	s := NewScheduler(trig, SchedulerConfig{RatePerSecond: 100}, logger.Discard(), nil)
	s.Schedule("err-1")
	waitCall(t, trig)
	s.Close()
	assert.Nil(t, s.results)
}
