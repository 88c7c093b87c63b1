// Package sqlstore keeps job records in a SQL database through sqlx. SQLite
// (modernc.org/sqlite) and PostgreSQL (lib/pq) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/geoingestflow/internal/jobs"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs (created_at DESC);
`

const maxBusyRetries = 3

// Store implements jobs.Store. Each job is one row; the full record is kept
// as JSON in the doc column, with the fields used for filtering and ordering
// duplicated into their own columns.
type Store struct {
	db       *sqlx.DB
	postgres bool
}

type jobRow struct {
	ID        string `db:"id"`
	Status    string `db:"status"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Doc       string `db:"doc"`
}

// Open connects with driver and dsn and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. Call Migrate before use.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, postgres: db.DriverName() == DriverPostgres}
}

// Migrate creates the jobs table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate jobs table: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, job *jobs.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}
	q := s.db.Rebind(`INSERT INTO jobs (id, status, created_at, updated_at, doc) VALUES (?, ?, ?, ?, ?)`)
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, row.ID, row.Status, row.CreatedAt, row.UpdatedAt, row.Doc)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id string) (*jobs.Job, error) {
	var row jobRow
	q := s.db.Rebind(`SELECT id, status, created_at, updated_at, doc FROM jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("select job %s: %w", id, err)
	}
	return fromRow(row)
}

// Update reads, modifies and writes the row in one transaction. On
// PostgreSQL the row is locked with SELECT ... FOR UPDATE; SQLite serializes
// writers itself.
func (s *Store) Update(ctx context.Context, id string, fn func(*jobs.Job) error) (*jobs.Job, error) {
	var updated *jobs.Job
	err := s.withBusyRetry(ctx, func() error {
		var err error
		updated, err = s.updateOnce(ctx, id, fn)
		return err
	})
	return updated, err
}

func (s *Store) updateOnce(ctx context.Context, id string, fn func(*jobs.Job) error) (*jobs.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sel := `SELECT id, status, created_at, updated_at, doc FROM jobs WHERE id = ?`
	if s.postgres {
		sel += ` FOR UPDATE`
	}
	var row jobRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(sel), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("select job %s: %w", id, err)
	}
	job, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	next, err := toRow(job)
	if err != nil {
		return nil, err
	}
	upd := tx.Rebind(`UPDATE jobs SET status = ?, updated_at = ?, doc = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, upd, next.Status, next.UpdatedAt, next.Doc, id); err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job %s: %w", id, err)
	}
	return job, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []jobRow
	q := s.db.Rebind(`SELECT id, status, created_at, updated_at, doc FROM jobs ORDER BY created_at DESC, id ASC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]*jobs.Job, 0, len(rows))
	for _, r := range rows {
		j, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func toRow(job *jobs.Job) (jobRow, error) {
	doc, err := json.Marshal(job)
	if err != nil {
		return jobRow{}, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return jobRow{
		ID:        job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.UnixNano(),
		UpdatedAt: job.UpdatedAt.UnixNano(),
		Doc:       string(doc),
	}, nil
}

func fromRow(row jobRow) (*jobs.Job, error) {
	var job jobs.Job
	if err := json.Unmarshal([]byte(row.Doc), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", row.ID, err)
	}
	return &job, nil
}

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func (s *Store) withBusyRetry(ctx context.Context, fn func() error) error {
	for i := range maxBusyRetries {
		err := fn()
		if !isBusy(err) || i == maxBusyRetries-1 {
			return err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("context ended during busy retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil
}
