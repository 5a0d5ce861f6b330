package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/internal/repository"
)

const defaultHistoryLimit = 50

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.TransitionRepository = (*Repository)(nil)

// InsertTransition appends a status change to the history table.
func (r *Repository) InsertTransition(ctx context.Context, t *domain.Transition) error {
	const query = `INSERT INTO remediation_transitions (id, error_id, from_status, to_status, attempt, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, query, t.ID, t.ErrorID, string(t.From), string(t.To), t.Attempt, t.Note, t.CreatedAt)
	return err
}

// ListTransitions returns the history of one record, oldest first.
func (r *Repository) ListTransitions(ctx context.Context, errorID string, limit int) ([]domain.Transition, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	const query = `SELECT id, error_id, from_status, to_status, attempt, note, created_at
		FROM remediation_transitions
		WHERE error_id = $1
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, errorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transition, 0)
	for rows.Next() {
		var (
			t        domain.Transition
			from, to string
		)
		if err := rows.Scan(&t.ID, &t.ErrorID, &from, &to, &t.Attempt, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.From = domain.Status(from)
		t.To = domain.Status(to)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
