package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"audio-analyser/internal/models"
)

// ErrInvalidTable is returned for table names that cannot be used as an identifier.
var ErrInvalidTable = errors.New("invalid table name")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Session is one pooled connection held for the duration of a batch run.
type Session struct {
	conn *pgxpool.Conn
}

// OpenSession acquires a connection from the pool. Callers must Release it.
func (s *Store) OpenSession(ctx context.Context) (*Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Release returns the connection to the pool.
func (s *Session) Release() {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
}

// EnsureResultTable creates the append-only result table if it does not exist yet.
func (s *Session) EnsureResultTable(ctx context.Context, table string) error {
	ident, err := tableIdent(table)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id           BIGSERIAL PRIMARY KEY,
			filename     TEXT NOT NULL,
			status       TEXT NOT NULL,
			payload      JSONB,
			error_detail TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, ident))
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// AppendResult inserts one row. Reruns append duplicates.
func (s *Session) AppendResult(ctx context.Context, table string, rec models.ResultRecord) (int64, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return 0, err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	err = s.conn.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (filename, status, payload, error_detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, ident), rec.Filename, rec.Status, nullJSON(rec.PayloadJSON), rec.ErrorDetail, createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return id, nil
}

// ListResults returns the newest rows of a result table. A table that does not exist yet
// yields an empty slice.
func (s *Store) ListResults(ctx context.Context, table string, limit int) ([]models.ResultRecord, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, ident).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup table %s: %w", table, err)
	}
	if !exists {
		return []models.ResultRecord{}, nil
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, filename, status, payload, error_detail, created_at
		FROM %s ORDER BY id DESC LIMIT $1
	`, ident), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := []models.ResultRecord{}
	for rows.Next() {
		var rec models.ResultRecord
		var detail pgtype.Text
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Status, &rec.PayloadJSON, &detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec.ErrorDetail = textPtr(detail)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordRun stores the summary of a finished batch run.
func (s *Store) RecordRun(ctx context.Context, sum models.Summary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_runs (run_id, kind, state, detail, total_items, succeeded, failed, skipped, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE
		SET state = EXCLUDED.state, detail = EXCLUDED.detail, total_items = EXCLUDED.total_items,
			succeeded = EXCLUDED.succeeded, failed = EXCLUDED.failed, skipped = EXCLUDED.skipped,
			finished_at = EXCLUDED.finished_at
	`, sum.RunID, string(sum.Kind), string(sum.State), emptyToNil(sum.Detail),
		sum.TotalItems, sum.Succeeded, sum.Failed, sum.Skipped, sum.StartedAt, sum.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run %s: %w", sum.RunID, err)
	}
	return nil
}

// ListRuns returns the latest runs of a kind, newest first.
func (s *Store) ListRuns(ctx context.Context, kind models.Kind, limit int) ([]models.RunRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id::text, kind, state, detail, total_items, succeeded, failed, skipped, started_at, finished_at
		FROM batch_runs WHERE kind = $1
		ORDER BY started_at DESC LIMIT $2
	`, string(kind), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []models.RunRecord{}
	for rows.Next() {
		var r models.RunRecord
		var kindName, state string
		var detail pgtype.Text
		if err := rows.Scan(&r.RunID, &kindName, &state, &detail, &r.TotalItems, &r.Succeeded, &r.Failed, &r.Skipped, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Kind = models.Kind(kindName)
		r.State = models.State(state)
		if detail.Valid {
			r.Detail = detail.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func tableIdent(table string) (string, error) {
	table = strings.TrimSpace(table)
	if table == "" || len(table) > 63 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
