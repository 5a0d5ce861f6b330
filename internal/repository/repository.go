package repository

import (
	"context"

	"github.com/splax/localvercel/intake/internal/domain"
)

// TransitionRepository stores the status history of failure records.
type TransitionRepository interface {
	InsertTransition(ctx context.Context, transition *domain.Transition) error
	ListTransitions(ctx context.Context, errorID string, limit int) ([]domain.Transition, error)
}

// Noop discards history. It is used when no database is configured.
type Noop struct{}

var _ TransitionRepository = Noop{}

// InsertTransition drops the transition.
func (Noop) InsertTransition(context.Context, *domain.Transition) error { return nil }

// ListTransitions always returns an empty history.
func (Noop) ListTransitions(context.Context, string, int) ([]domain.Transition, error) {
	return []domain.Transition{}, nil
}
