package remediation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const defaultTriggerDelay = 5 * time.Second

// SchedulerConfig tunes detached trigger dispatch.
type SchedulerConfig struct {
	Delay         time.Duration
	Timeout       time.Duration
	RatePerSecond float64
}

// Scheduler fires the remediation trigger in the background some time after
// intake. Callers never wait on the trigger and never see its errors.
type Scheduler struct {
	trigger Trigger
	delay   time.Duration
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	results *prometheus.CounterVec

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler constructs a Scheduler. reg may be nil to skip metrics.
func NewScheduler(trigger Trigger, cfg SchedulerConfig, logger *slog.Logger, reg prometheus.Registerer) *Scheduler {
	delay := cfg.Delay
	if delay < 0 {
		delay = defaultTriggerDelay
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTriggerTimeout
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		trigger: trigger,
		delay:   delay,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "remediation_scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
	if reg != nil {
		results := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "remediation",
			Name:      "triggers_total",
			Help:      "Remediation trigger dispatches by result",
		}, []string{"result"})
		if err := reg.Register(results); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					results = existing
				}
			}
		}
		s.results = results
	}
	return s
}

// Schedule spawns a detached task that triggers remediation for errorID
// after the configured delay. It returns immediately.
func (s *Scheduler) Schedule(errorID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("scheduler closed, dropping remediation trigger", "error_id", errorID)
		s.record("dropped")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.run(errorID)
	}()
}

func (s *Scheduler) run(errorID string) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			s.record("cancelled")
			return
		case <-timer.C:
		}
	}
	if err := s.limiter.Wait(s.ctx); err != nil {
		s.record("cancelled")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if err := s.trigger.Trigger(ctx, errorID); err != nil {
		s.logger.Error("remediation trigger failed", "error_id", errorID, "error", err)
		s.record("error")
		return
	}
	s.logger.Info("remediation triggered", "error_id", errorID)
	s.record("ok")
}

func (s *Scheduler) record(result string) {
	if s.results != nil {
		s.results.WithLabelValues(result).Inc()
	}
}

// Close cancels pending tasks and waits for running ones to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
