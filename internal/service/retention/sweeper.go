// Package retention periodically drops failure records past their retention window.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/internal/store"
)

const (
	defaultInterval = 10 * time.Minute
	sweepTimeout    = 30 * time.Second
)

// Sweeper expires old records on a fixed interval.
type Sweeper struct {
	store     store.Store
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
}

// New constructs a sweeper. It returns nil when st is nil.
func New(st store.Store, interval, retention time.Duration, logger *slog.Logger) *Sweeper {
	if st == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if retention <= 0 {
		retention = domain.DefaultRetentionTime
	}
	return &Sweeper{
		store:     st,
		logger:    logger.With("component", "retention"),
		interval:  interval,
		retention: retention,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started", "interval", s.interval, "retention", s.retention)
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(parent context.Context) {
	timeout := sweepTimeout
	if s.interval < timeout {
		timeout = s.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	if err := s.store.Expire(ctx, s.retention); err != nil {
		s.logger.Warn("retention sweep failed", "error", err)
		return
	}
	s.logger.Debug("retention sweep complete", "duration_ms", time.Since(start).Milliseconds())
}
