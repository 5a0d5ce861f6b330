// Package migrate applies the remediation history schema.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	migrations "github.com/splax/localvercel/intake/db"
)

const runTimeout = time.Minute

// Runner applies the history schema through a goose provider sharing the
// service's connection pool.
type Runner struct {
	db       *sql.DB
	provider *goose.Provider
	source   string
	log      *slog.Logger
}

// New builds a runner over pool. Migrations are read from migrationsDir when
// it exists on disk and from the copies embedded in the binary otherwise.
func New(pool *pgxpool.Pool, migrationsDir string, log *slog.Logger) (*Runner, error) {
	if pool == nil {
		return nil, errors.New("nil pool provided")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "migrate")

	fsys, source, err := migrationSource(migrationsDir, log)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Runner{db: db, provider: provider, source: source, log: log}, nil
}

func migrationSource(dir string, log *slog.Logger) (fs.FS, string, error) {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir), dir, nil
		}
		log.Warn("migrations dir not found, using embedded migrations", "dir", dir)
	}
	sub, err := fs.Sub(migrations.Migrations, migrations.MigrationsDir)
	if err != nil {
		return nil, "", fmt.Errorf("open embedded migrations: %w", err)
	}
	return sub, "embedded", nil
}

// Ensure brings remediation_transitions up to the latest schema version.
func (r *Runner) Ensure(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	results, err := r.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply history migrations: %w", err)
	}
	for _, res := range results {
		r.logResult(res)
	}
	version, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read history schema version: %w", err)
	}
	r.log.Info("history schema ready", "version", version, "applied", len(results), "source", r.source)
	return nil
}

// Status logs every known migration with its state.
func (r *Runner) Status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("history migration status: %w", err)
	}
	for _, st := range statuses {
		attrs := []any{"version", st.Source.Version, "file", st.Source.Path, "state", st.State}
		if !st.AppliedAt.IsZero() {
			attrs = append(attrs, "applied_at", st.AppliedAt)
		}
		r.log.Info("history migration", attrs...)
	}
	return nil
}

// Down rolls back the latest migration, or every migration above target when
// target is positive. Rolling back version 1 drops the history table.
func (r *Runner) Down(ctx context.Context, target int64) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	if target > 0 {
		results, err := r.provider.DownTo(ctx, target)
		if err != nil {
			return fmt.Errorf("roll back history schema to %d: %w", target, err)
		}
		for _, res := range results {
			r.logResult(res)
		}
		return nil
	}
	res, err := r.provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("roll back latest history migration: %w", err)
	}
	r.logResult(res)
	return nil
}

// Close releases the database handle. The pool stays open for its owner.
func (r *Runner) Close() {
	_ = r.db.Close()
}

func (r *Runner) logResult(res *goose.MigrationResult) {
	if res == nil || res.Source == nil {
		return
	}
	r.log.Info("history migration "+res.Direction,
		"version", res.Source.Version,
		"file", res.Source.Path,
		"duration_ms", res.Duration.Milliseconds(),
	)
}
