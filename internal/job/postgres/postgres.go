// Package postgres is a [job.Store] backed by PostgreSQL.
//
// The schema is managed by goose migrations embedded in the binary and
// applied by [NewStore]. Creation order is the BIGSERIAL seq column.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrWong99/jobvoice/internal/job"
)

// Compile-time interface check.
var _ job.Store = (*Store)(nil)

//go:embed migrations/*.sql
var migrations embed.FS

const columns = `id, company, role, source, date_applied, status, notes, created_at, updated_at`

// Store is a PostgreSQL-backed job store. All operations are safe for
// concurrent use; row locks serialise writes to the same application.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and migrates the schema to the
// latest version.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate applies all pending goose migrations through pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("postgres store: migrations fs: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("postgres store: goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Save implements [job.Store.Save].
func (s *Store) Save(ctx context.Context, app job.Application) (job.Application, bool, error) {
	var (
		saved   job.Application
		created bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var prev *job.Application
		if id := strings.TrimSpace(app.ID); id != "" {
			p, err := scanApp(tx.QueryRow(ctx, `SELECT `+columns+` FROM job_applications WHERE id = $1 FOR UPDATE`, id))
			switch {
			case errors.Is(err, pgx.ErrNoRows):
			case err != nil:
				return err
			default:
				prev = &p
			}
		}

		next, err := job.PrepareSave(app, prev, now())
		if err != nil {
			return err
		}

		if prev != nil {
			_, err = tx.Exec(ctx, `
				UPDATE job_applications
				SET company = $2, role = $3, source = $4, date_applied = $5,
				    status = $6, notes = $7, updated_at = $8
				WHERE id = $1`,
				next.ID, next.Company, next.Role, next.Source, next.DateApplied,
				string(next.Status), next.Notes, next.UpdatedAt)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO job_applications (`+columns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				next.ID, next.Company, next.Role, next.Source, next.DateApplied,
				string(next.Status), next.Notes, next.CreatedAt, next.UpdatedAt)
		}
		if err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("application %q was inserted concurrently: %w", next.ID, err)
			}
			return err
		}
		saved, created = next, prev == nil
		return nil
	})
	if err != nil {
		return job.Application{}, false, wrap("save", err)
	}
	return saved, created, nil
}

// Update implements [job.Store.Update].
func (s *Store) Update(ctx context.Context, id string, p job.Patch) (job.Application, error) {
	var out job.Application
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		prev, err := scanApp(tx.QueryRow(ctx, `SELECT `+columns+` FROM job_applications WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return job.ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := job.PreparePatch(prev, p, now())
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE job_applications
			SET company = $2, role = $3, source = $4, date_applied = $5,
			    status = $6, notes = $7, updated_at = $8
			WHERE id = $1`,
			next.ID, next.Company, next.Role, next.Source, next.DateApplied,
			string(next.Status), next.Notes, next.UpdatedAt)
		out = next
		return err
	})
	if err != nil {
		return job.Application{}, wrap("update", err)
	}
	return out, nil
}

// Delete implements [job.Store.Delete].
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_applications WHERE id = $1`, id)
	if err != nil {
		return false, wrap("delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List implements [job.Store.List].
func (s *Store) List(ctx context.Context) ([]job.Application, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM job_applications ORDER BY seq`)
	if err != nil {
		return nil, wrap("list", err)
	}
	apps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (job.Application, error) {
		return scanApp(row)
	})
	if err != nil {
		return nil, wrap("list", err)
	}
	return apps, nil
}

// FindByCompanyFuzzy implements [job.Store.FindByCompanyFuzzy].
func (s *Store) FindByCompanyFuzzy(ctx context.Context, name string) (job.Application, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return job.Application{}, false, nil
	}
	a, err := scanApp(s.pool.QueryRow(ctx, `
		SELECT `+columns+` FROM job_applications
		WHERE strpos(lower(company), lower($1)) > 0
		ORDER BY seq
		LIMIT 1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Application{}, false, nil
	}
	if err != nil {
		return job.Application{}, false, wrap("find", err)
	}
	return a, true, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// now matches the microsecond resolution of TIMESTAMPTZ so returned values
// equal what a later read yields.
func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func scanApp(row pgx.Row) (job.Application, error) {
	var (
		a      job.Application
		status string
	)
	err := row.Scan(&a.ID, &a.Company, &a.Role, &a.Source, &a.DateApplied, &status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	a.Status = job.Status(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, err
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func wrap(op string, err error) error {
	if errors.Is(err, job.ErrNotFound) || errors.Is(err, job.ErrInvalid) {
		return err
	}
	return fmt.Errorf("postgres store: %s: %w", op, err)
}
