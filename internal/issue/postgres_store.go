package issue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB (or *db.Connection) PostgresStore needs,
// kept narrow so tests can supply a fake without a real database.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// PostgresStore persists Issue aggregates in an `issues` table keyed by
// (organization_id, project_id, fingerprint), grounded on the teacher's
// pooled-connection pattern generalized from lineage datasets to issues.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing DB.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert inserts a new issue row or bumps an existing one's last_seen_at
// and event_count in a single statement (INSERT ... ON CONFLICT), avoiding
// a separate read-then-write race between concurrent processor instances.
func (s *PostgresStore) Upsert(
	ctx context.Context, organizationID, projectID, fingerprint, eventType, severity, title string, seenAt time.Time,
) (*Issue, error) {
	id := uuid.NewString()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO issues (id, organization_id, project_id, fingerprint, type, severity, title, status, first_seen_at, last_seen_at, event_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)
		ON CONFLICT (organization_id, project_id, fingerprint) DO UPDATE SET
			last_seen_at = GREATEST(issues.last_seen_at, EXCLUDED.last_seen_at),
			event_count = issues.event_count + 1
		RETURNING id, organization_id, project_id, fingerprint, type, severity, title, status, first_seen_at, last_seen_at, event_count
	`, id, organizationID, projectID, fingerprint, eventType, severity, title, StatusOpen, seenAt)

	return scanIssue(row)
}

func (s *PostgresStore) Get(ctx context.Context, organizationID, projectID, fingerprint string) (*Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, project_id, fingerprint, type, severity, title, status, first_seen_at, last_seen_at, event_count
		FROM issues WHERE organization_id = $1 AND project_id = $2 AND fingerprint = $3
	`, organizationID, projectID, fingerprint)

	return scanIssue(row)
}

func (s *PostgresStore) SetStatus(ctx context.Context, organizationID, projectID, fingerprint string, status Status) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issues SET status = $1
		WHERE organization_id = $2 AND project_id = $3 AND fingerprint = $4
	`, status, organizationID, projectID, fingerprint)
	if err != nil {
		return fmt.Errorf("issue: set status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("issue: set status rows affected: %w", err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func scanIssue(row *sql.Row) (*Issue, error) {
	var i Issue

	err := row.Scan(
		&i.ID, &i.OrganizationID, &i.ProjectID, &i.Fingerprint,
		&i.Type, &i.Severity, &i.Title, &i.Status,
		&i.FirstSeenAt, &i.LastSeenAt, &i.EventCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("issue: scan row: %w", err)
	}

	return &i, nil
}
