package remediation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/internal/repository"
	"github.com/splax/localvercel/intake/internal/store"
	"github.com/splax/localvercel/intake/internal/ws"
)

// Publisher receives records after a status change.
type Publisher interface {
	Publish(event string, rec domain.FailureRecord)
}

// TransitionRequest asks for a status change on one record.
type TransitionRequest struct {
	Status     domain.Status      `json:"status" validate:"required"`
	Resolution *domain.Resolution `json:"resolution,omitempty"`
	Note       string             `json:"note,omitempty" validate:"max=1024"`
}

// Service coordinates record status changes.
type Service struct {
	store     store.Store
	history   repository.TransitionRepository
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the remediation service. history and publisher may be nil.
func NewService(st store.Store, history repository.TransitionRepository, publisher Publisher, logger *slog.Logger) *Service {
	if history == nil {
		history = repository.Noop{}
	}
	return &Service{
		store:     st,
		history:   history,
		publisher: publisher,
		logger:    logger.With("component", "remediation"),
		now:       time.Now,
	}
}

// Transition applies req to the record with id and returns the updated record.
func (s *Service) Transition(ctx context.Context, id string, req TransitionRequest) (domain.FailureRecord, error) {
	var (
		from    domain.Status
		attempt int
	)
	now := s.now()
	rec, err := s.store.Update(ctx, id, func(rec *domain.FailureRecord) error {
		from = rec.Status
		if err := Apply(rec, req.Status, req.Resolution, now); err != nil {
			return err
		}
		attempt = rec.Attempts
		return nil
	})
	if err != nil {
		return domain.FailureRecord{}, err
	}

	entry := &domain.Transition{
		ID:        uuid.NewString(),
		ErrorID:   rec.ID,
		From:      from,
		To:        rec.Status,
		Attempt:   attempt,
		Note:      req.Note,
		CreatedAt: now.UTC(),
	}
	if err := s.history.InsertTransition(ctx, entry); err != nil {
		s.logger.Warn("failed to record transition", "error_id", rec.ID, "to", rec.Status, "error", err)
	}
	s.logger.Info("failure record transitioned",
		"error_id", rec.ID,
		"project", rec.ProjectName,
		"from", from,
		"to", rec.Status,
		"attempts", rec.Attempts,
	)
	if s.publisher != nil {
		s.publisher.Publish(ws.EventUpdated, rec)
	}
	return rec, nil
}

// Claim moves a record into analyzing, starting a new attempt.
func (s *Service) Claim(ctx context.Context, id string) (domain.FailureRecord, error) {
	return s.Transition(ctx, id, TransitionRequest{Status: domain.StatusAnalyzing})
}

// History returns the recorded transitions of a record.
func (s *Service) History(ctx context.Context, id string, limit int) ([]domain.Transition, error) {
	items, err := s.history.ListTransitions(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// IsConflict reports whether err is a rejected state change.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrResolutionRequired)
}
