// Package intake turns deployment failure webhooks into stored failure records.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/localvercel/intake/internal/classify"
	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/internal/store"
	"github.com/splax/localvercel/intake/internal/ws"
)

const (
	// DefaultListLimit is used when a listing does not ask for a size.
	DefaultListLimit = 50
	// MaxListLimit caps listing size.
	MaxListLimit = 100
)

// Scheduler queues a detached remediation trigger.
type Scheduler interface {
	Schedule(errorID string)
}

// Publisher receives newly created records.
type Publisher interface {
	Publish(event string, rec domain.FailureRecord)
}

// Service ingests failure notifications.
type Service struct {
	store     store.Store
	scheduler Scheduler
	publisher Publisher
	logger    *slog.Logger
	failures  *prometheus.CounterVec
	now       func() time.Time
}

// Options configures a Service. Scheduler and Publisher are optional.
type Options struct {
	Store     store.Store
	Scheduler Scheduler
	Publisher Publisher
	Logger    *slog.Logger
	Registry  prometheus.Registerer
}

// NewService constructs the intake service.
func NewService(opts Options) *Service {
	s := &Service{
		store:     opts.Store,
		scheduler: opts.Scheduler,
		publisher: opts.Publisher,
		logger:    opts.Logger.With("component", "intake"),
		now:       time.Now,
	}
	if opts.Registry != nil {
		failures := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "failures_total",
			Help:      "Accepted deployment failures by error type and source",
		}, []string{"error_type", "source"})
		if err := opts.Registry.Register(failures); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					failures = existing
				}
			}
		}
		s.failures = failures
	}
	return s
}

// Ingest normalizes body, classifies it and stores the resulting record.
// Signature and rate checks happen before this is called.
func (s *Service) Ingest(ctx context.Context, body []byte) (domain.FailureRecord, error) {
	n, err := Normalize(body)
	if err != nil {
		return domain.FailureRecord{}, err
	}
	rec := s.buildRecord(n)

	if err := s.store.Push(ctx, rec); err != nil {
		return domain.FailureRecord{}, fmt.Errorf("store failure record: %w", err)
	}

	s.logger.Info("deployment failure received",
		"error_id", rec.ID,
		"project", rec.ProjectName,
		"deployment_id", rec.DeploymentID,
		"source", rec.Source,
		"error_type", rec.ErrorType,
		"files", len(rec.ErrorDetails.Files),
		"run_id", n.RunID,
		"workflow", n.Workflow,
	)
	if s.failures != nil {
		s.failures.WithLabelValues(string(rec.ErrorType), string(rec.Source)).Inc()
	}
	if s.publisher != nil {
		s.publisher.Publish(ws.EventCreated, rec)
	}
	if s.scheduler != nil {
		s.scheduler.Schedule(rec.ID)
	}
	return rec, nil
}

func (s *Service) buildRecord(n Normalized) domain.FailureRecord {
	lines := n.Lines()
	details := classify.ExtractDetails(lines)
	errorType := classify.Classify(lines, n.ErrorMessage)
	return domain.FailureRecord{
		ID:            uuid.NewString(),
		Timestamp:     s.now().UTC(),
		ProjectName:   n.ProjectName,
		DeploymentID:  n.DeploymentID,
		DeploymentURL: n.DeploymentURL,
		Source:        n.Source,
		ErrorType:     errorType,
		ErrorMessage:  classify.Summarize(errorType, details, n.ErrorMessage),
		ErrorDetails:  details,
		BuildLogs:     classify.TailLogs(n.Logs, domain.MaxBuildLogLines),
		GitCommit:     n.GitCommit,
		GitBranch:     n.GitBranch,
		Status:        domain.StatusPending,
	}
}

// List returns records in status, newest first. Limits outside 1..MaxListLimit
// are clamped.
func (s *Service) List(ctx context.Context, status domain.Status, limit int) ([]domain.FailureRecord, error) {
	if status == "" {
		status = domain.StatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.FilterByStatus(ctx, status, limit)
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (domain.FailureRecord, error) {
	return s.store.Get(ctx, id)
}
