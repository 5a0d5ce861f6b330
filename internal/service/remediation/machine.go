package remediation

import (
	"errors"
	"fmt"
	"time"

	"github.com/splax/localvercel/intake/internal/domain"
)

var (
	// ErrInvalidTransition reports a move the state machine does not allow.
	ErrInvalidTransition = errors.New("remediation: invalid status transition")
	// ErrResolutionRequired reports a terminal move without an acceptable resolution.
	ErrResolutionRequired = errors.New("remediation: resolution required")
)

// transitions lists the allowed moves. pending is only ever entered at
// intake and nothing leaves resolved or failed. analyzing -> analyzing is a
// worker re-claiming the record for another cycle.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusPending:   {domain.StatusAnalyzing},
	domain.StatusAnalyzing: {domain.StatusAnalyzing, domain.StatusFixing, domain.StatusResolved, domain.StatusFailed},
	domain.StatusFixing:    {domain.StatusResolved, domain.StatusFailed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to domain.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply moves rec to status to. Entering analyzing starts a new attempt.
func Apply(rec *domain.FailureRecord, to domain.Status, res *domain.Resolution, now time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}
	switch to {
	case domain.StatusResolved:
		if res == nil || !res.Success {
			return fmt.Errorf("%w: resolved needs a successful resolution", ErrResolutionRequired)
		}
	case domain.StatusFailed:
		if res != nil && res.Success {
			return fmt.Errorf("%w: failed cannot carry a successful resolution", ErrResolutionRequired)
		}
	default:
		if res != nil {
			return fmt.Errorf("%w: resolution only allowed on terminal states", ErrInvalidTransition)
		}
	}

	if to == domain.StatusAnalyzing {
		rec.Attempts++
		at := now.UTC()
		rec.LastAttemptAt = &at
	}
	if to.Terminal() && res != nil {
		copied := *res
		rec.Resolution = &copied
	}
	rec.Status = to
	return nil
}
