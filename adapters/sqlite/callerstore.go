package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/tollgate/domain/license"
	"github.com/artpar/tollgate/domain/plan"
	"github.com/artpar/tollgate/ports"
)

// CallerStore implements ports.CallerStore using SQLite.
type CallerStore struct {
	db *DB
}

// NewCallerStore creates a new SQLite caller store.
func NewCallerStore(db *DB) *CallerStore {
	return &CallerStore{db: db}
}

const callerColumns = `id, email, tier, token_hash, prefix, expires_at, revoked_at, created_at, updated_at`

func scanCaller(row interface{ Scan(...any) error }) (license.Caller, error) {
	var (
		c         license.Caller
		tier      string
		expiresAt sql.NullTime
		revokedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Email, &tier, &c.TokenHash, &c.Prefix, &expiresAt, &revokedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return license.Caller{}, err
	}
	if t, ok := plan.ParseTier(tier); ok {
		c.Tier = t
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Time
	}
	return c, nil
}

// GetByPrefix retrieves callers whose token lookup prefix matches.
func (s *CallerStore) GetByPrefix(ctx context.Context, prefix string) ([]license.Caller, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+callerColumns+` FROM callers WHERE prefix = ?
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []license.Caller
	for rows.Next() {
		c, err := scanCaller(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get retrieves a caller by ID.
func (s *CallerStore) Get(ctx context.Context, id string) (license.Caller, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+callerColumns+` FROM callers WHERE id = ?
	`, id)

	c, err := scanCaller(row)
	if errors.Is(err, sql.ErrNoRows) {
		return license.Caller{}, ports.ErrNotFound
	}
	return c, err
}

// Create stores a new caller.
func (s *CallerStore) Create(ctx context.Context, c license.Caller) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO callers (`+callerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Email, c.Tier.String(), c.TokenHash, c.Prefix,
		nullTime(c.ExpiresAt), nullTime(c.RevokedAt), c.CreatedAt, c.UpdatedAt)
	return err
}

// Update modifies an existing caller (plan change, token rotation).
func (s *CallerStore) Update(ctx context.Context, c license.Caller) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE callers
		SET email = ?, tier = ?, token_hash = ?, prefix = ?, expires_at = ?, revoked_at = ?, updated_at = ?
		WHERE id = ?
	`, c.Email, c.Tier.String(), c.TokenHash, c.Prefix,
		nullTime(c.ExpiresAt), nullTime(c.RevokedAt), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ports.ErrNotFound
	}
	return err
}

// Revoke soft-revokes a caller. The row is kept for audit.
func (s *CallerStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE callers SET revoked_at = ?, updated_at = ? WHERE id = ?
	`, at, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ports.ErrNotFound
	}
	return err
}

// List returns callers ordered by creation time with pagination.
func (s *CallerStore) List(ctx context.Context, limit, offset int) ([]license.Caller, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+callerColumns+` FROM callers ORDER BY created_at LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []license.Caller
	for rows.Next() {
		c, err := scanCaller(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// Ensure interface compliance.
var _ ports.CallerStore = (*CallerStore)(nil)
