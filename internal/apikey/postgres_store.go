package apikey

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const (
	auditCreated = "created"
	auditUpdated = "updated"
	auditDeleted = "deleted"
)

// DB is the subset of *sql.DB the Postgres store needs, so tests can supply
// a lightweight stand-in without a real connection.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// PostgresStore is a Postgres-backed Store. Lookups go through a SHA-256
// key_lookup_hash column for O(1) retrieval, then confirm with a bcrypt
// comparison so a lookup-hash collision alone can never authenticate.
type PostgresStore struct {
	db     DB
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps db as a Store.
func NewPostgresStore(db DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{db: db, logger: logger}
}

// HealthCheck pings the underlying connection.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindByKey retrieves a key by plaintext value via O(1) lookup-hash match,
// confirmed with bcrypt. Active/expiry enforcement is the caller's job
// (see Key.ValidateKey) — this only resolves identity.
func (s *PostgresStore) FindByKey(ctx context.Context, key string) (*Key, bool) {
	if key == "" {
		return nil, false
	}

	lookupHash := ComputeKeyLookupHash(key)

	const query = `
		SELECT id, key_hash, organization_id, project_id, name, created_at, expires_at, active
		FROM api_keys
		WHERE key_lookup_hash = $1
		LIMIT 1
	`

	var k Key

	err := s.db.QueryRowContext(ctx, query, lookupHash).Scan(
		&k.ID, &k.Hash, &k.OrganizationID, &k.ProjectID, &k.Name, &k.CreatedAt, &k.ExpiresAt, &k.Active,
	)
	if err != nil {
		return nil, false
	}

	if !CompareAPIKeyHash(k.Hash, key) {
		s.logger.Warn("key lookup hash matched but bcrypt verification failed",
			slog.String("key_id", k.ID), slog.String("organization_id", k.OrganizationID))

		return nil, false
	}

	k.Hash = MaskKey(key)

	return &k, true
}

// Add hashes k.Plaintext for storage (bcrypt for verification, SHA-256 for
// lookup) and writes a synchronous audit log entry alongside the insert.
func (s *PostgresStore) Add(ctx context.Context, k *Key) error {
	if k == nil {
		return ErrKeyNil
	}

	if k.Plaintext == "" {
		return ErrKeyStringEmpty
	}

	if _, found := s.FindByKey(ctx, k.Plaintext); found {
		return ErrKeyAlreadyExists
	}

	lookupHash := ComputeKeyLookupHash(k.Plaintext)

	keyHash, err := HashAPIKey(k.Plaintext)
	if err != nil {
		return fmt.Errorf("hash API key: %w", err)
	}

	const query = `
		INSERT INTO api_keys (id, key_hash, key_lookup_hash, organization_id, project_id, name, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.db.ExecContext(ctx, query,
		k.ID, keyHash, lookupHash, k.OrganizationID, k.ProjectID, k.Name, k.CreatedAt, k.ExpiresAt, k.Active)
	if err != nil {
		return fmt.Errorf("insert API key: %w", err)
	}

	s.audit(ctx, auditCreated, k)

	return nil
}

// Update modifies name, active, and expiry. The key hash itself is
// immutable; rotating a key means issuing a new one.
func (s *PostgresStore) Update(ctx context.Context, k *Key) error {
	if k == nil {
		return ErrKeyNil
	}

	if k.ID == "" {
		return ErrKeyNotFound
	}

	const query = `
		UPDATE api_keys
		SET name = $1, active = $2, expires_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query, k.Name, k.Active, k.ExpiresAt, k.ID)
	if err != nil {
		return fmt.Errorf("update API key: %w", err)
	}

	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return ErrKeyNotFound
	}

	s.audit(ctx, auditUpdated, k)

	return nil
}

// Delete soft-deletes a key: active is set to FALSE, the row is kept for
// the audit trail.
func (s *PostgresStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	const query = `UPDATE api_keys SET active = FALSE WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("delete API key: %w", err)
	}

	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return ErrKeyNotFound
	}

	s.audit(ctx, auditDeleted, &Key{ID: keyID})

	return nil
}

// ListByOrganization returns all active keys for an organization, newest first.
func (s *PostgresStore) ListByOrganization(ctx context.Context, organizationID string) ([]*Key, error) {
	if organizationID == "" {
		return nil, ErrOrgIDEmpty
	}

	const query = `
		SELECT id, key_hash, organization_id, project_id, name, created_at, expires_at, active
		FROM api_keys
		WHERE organization_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("query API keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]*Key, 0)

	for rows.Next() {
		var k Key

		if err := rows.Scan(&k.ID, &k.Hash, &k.OrganizationID, &k.ProjectID, &k.Name,
			&k.CreatedAt, &k.ExpiresAt, &k.Active); err != nil {
			continue
		}

		k.Hash = MaskKey(k.Hash)
		keys = append(keys, &k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return keys, nil
}

// audit writes an audit log entry for a key mutation. Audit logging is
// best-effort: a failure here is logged but never fails the caller's
// operation, since the mutation itself already committed.
func (s *PostgresStore) audit(ctx context.Context, operation string, k *Key) {
	const query = `
		INSERT INTO api_key_audit_log (api_key_id, operation, masked_key, organization_id)
		VALUES ($1, $2, $3, $4)
	`

	masked := MaskKey(k.Plaintext)
	if masked == "" {
		masked = MaskKey(k.Hash)
	}

	if _, err := s.db.ExecContext(ctx, query, k.ID, operation, masked, k.OrganizationID); err != nil {
		s.logger.Error("failed to write API key audit log entry",
			slog.String("operation", operation), slog.String("error", err.Error()))
	}
}
