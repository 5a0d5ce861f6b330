package store

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/localvercel/intake/internal/domain"
)

// Fallback routes every call to the primary backend and retries it against
// the secondary when the primary fails. Lookups that miss on the primary also
// consult the secondary, which may hold records written during an outage.
type Fallback struct {
	primary   Store
	secondary Store
	logger    *slog.Logger
	fallbacks *prometheus.CounterVec
}

var _ Store = (*Fallback)(nil)

// NewFallback wires primary and secondary. A nil primary serves everything
// from the secondary. reg may be nil to skip metrics.
func NewFallback(primary, secondary Store, logger *slog.Logger, reg prometheus.Registerer) *Fallback {
	f := &Fallback{primary: primary, secondary: secondary, logger: logger}
	if reg != nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "store",
			Name:      "fallback_total",
			Help:      "Store operations served by the fallback backend after a primary failure",
		}, []string{"op"})
		if err := reg.Register(counter); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					counter = existing
				}
			}
		}
		f.fallbacks = counter
	}
	return f
}

func (f *Fallback) Push(ctx context.Context, rec domain.FailureRecord) error {
	if f.primary != nil {
		err := f.primary.Push(ctx, rec)
		if err == nil {
			return nil
		}
		f.degrade("push", err)
	}
	return f.secondary.Push(ctx, rec)
}

// Expire runs on both backends so records written during an outage also age out.
func (f *Fallback) Expire(ctx context.Context, maxAge time.Duration) error {
	var primaryErr error
	if f.primary != nil {
		if primaryErr = f.primary.Expire(ctx, maxAge); primaryErr != nil {
			f.degrade("expire", primaryErr)
		}
	}
	if err := f.secondary.Expire(ctx, maxAge); err != nil {
		return errors.Join(primaryErr, err)
	}
	return nil
}

func (f *Fallback) Range(ctx context.Context, start, end int) ([]domain.FailureRecord, error) {
	if f.primary != nil {
		records, err := f.primary.Range(ctx, start, end)
		if err == nil {
			return records, nil
		}
		f.degrade("range", err)
	}
	return f.secondary.Range(ctx, start, end)
}

// FilterByStatus merges both backends while the primary is healthy, so records
// written to the secondary during an outage stay listed after it recovers.
func (f *Fallback) FilterByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.FailureRecord, error) {
	if f.primary == nil {
		return f.secondary.FilterByStatus(ctx, status, limit)
	}
	records, err := f.primary.FilterByStatus(ctx, status, limit)
	if err != nil {
		f.degrade("filter", err)
		return f.secondary.FilterByStatus(ctx, status, limit)
	}
	stranded, err := f.secondary.FilterByStatus(ctx, status, limit)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("fallback store unreadable, listing primary only", "error", err)
		}
		return records, nil
	}
	return mergeNewest(records, stranded, limit), nil
}

// mergeNewest combines two newest-first lists, preferring a's copy of any
// record present in both, and keeps at most limit entries.
func mergeNewest(a, b []domain.FailureRecord, limit int) []domain.FailureRecord {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	out := make([]domain.FailureRecord, 0, len(a)+len(b))
	for _, rec := range a {
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	for _, rec := range b {
		if _, dup := seen[rec.ID]; !dup {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(x, y domain.FailureRecord) int {
		return y.Timestamp.Compare(x.Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *Fallback) Get(ctx context.Context, id string) (domain.FailureRecord, error) {
	if f.primary != nil {
		rec, err := f.primary.Get(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			f.degrade("get", err)
		}
	}
	return f.secondary.Get(ctx, id)
}

func (f *Fallback) Update(ctx context.Context, id string, fn UpdateFunc) (domain.FailureRecord, error) {
	if f.primary != nil {
		rec, err := f.primary.Update(ctx, id, fn)
		if err == nil {
			return rec, nil
		}
		switch {
		case errors.Is(err, ErrNotFound):
		case isBackendError(err):
			f.degrade("update", err)
		default:
			return domain.FailureRecord{}, err
		}
	}
	return f.secondary.Update(ctx, id, fn)
}

// Ping reports the primary's health; the fallback being usable does not make
// a broken primary healthy.
func (f *Fallback) Ping(ctx context.Context) error {
	if f.primary != nil {
		return f.primary.Ping(ctx)
	}
	return f.secondary.Ping(ctx)
}

func (f *Fallback) degrade(op string, err error) {
	if f.logger != nil {
		f.logger.Warn("primary store unavailable, using fallback", "op", op, "error", err)
	}
	if f.fallbacks != nil {
		f.fallbacks.WithLabelValues(op).Inc()
	}
}

// BackendError marks failures of the storage backend itself, as opposed to
// errors returned by an UpdateFunc.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string { return e.Err.Error() }

func (e *BackendError) Unwrap() error { return e.Err }

func isBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
