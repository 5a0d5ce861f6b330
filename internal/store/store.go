// Package store persists deployment failure records. A networked Redis list
// is the primary backend and a local JSON file serves when Redis cannot.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/splax/localvercel/intake/internal/domain"
)

// ErrNotFound indicates no record carries the requested id.
var ErrNotFound = errors.New("store: record not found")

// UpdateFunc mutates a record in place. Returning an error aborts the update.
type UpdateFunc func(rec *domain.FailureRecord) error

// Store is the contract shared by every backend. Records are kept newest first.
type Store interface {
	// Push prepends a record and applies the capacity bound.
	Push(ctx context.Context, rec domain.FailureRecord) error
	// Expire drops records older than maxAge.
	Expire(ctx context.Context, maxAge time.Duration) error
	// Range returns records between start and end inclusive. Negative
	// indexes count from the oldest record, -1 being the last.
	Range(ctx context.Context, start, end int) ([]domain.FailureRecord, error)
	// FilterByStatus returns up to limit records in the given status that are
	// still inside the retention window.
	FilterByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.FailureRecord, error)
	// Get returns the record with id.
	Get(ctx context.Context, id string) (domain.FailureRecord, error)
	// Update applies fn to the record with id and persists the result.
	Update(ctx context.Context, id string, fn UpdateFunc) (domain.FailureRecord, error)
	// Ping reports backend health.
	Ping(ctx context.Context) error
}

// rangeBounds resolves LRANGE-style inclusive indexes against n items.
func rangeBounds(start, end, n int) (int, int, bool) {
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if n == 0 || start > end || start >= n {
		return 0, 0, false
	}
	return start, end + 1, true
}

// filterStatus keeps records in status, skipping those stamped before cutoff
// that the next retention sweep would remove anyway.
func filterStatus(records []domain.FailureRecord, status domain.Status, limit int, cutoff time.Time) []domain.FailureRecord {
	out := make([]domain.FailureRecord, 0)
	for _, rec := range records {
		if rec.Status != status || rec.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
