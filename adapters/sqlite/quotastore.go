package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/tollgate/domain/quota"
	"github.com/artpar/tollgate/ports"
)

// QuotaStore implements ports.QuotaStore using SQLite, so quota state
// survives restarts. The reserve path runs through the bounded connection
// pool; under pool exhaustion the caller sees pool.ErrExhausted, never an
// unbounded wait.
type QuotaStore struct {
	db *DB
}

// NewQuotaStore creates a new SQLite quota store.
func NewQuotaStore(db *DB) *QuotaStore {
	return &QuotaStore{db: db}
}

// Get retrieves quota state, zero-initialized for an unseen period.
func (s *QuotaStore) Get(ctx context.Context, callerID string, periodStart time.Time) (quota.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT caller_id, period_start, consumed, ceiling, last_updated
		FROM quota_periods
		WHERE caller_id = ? AND period_start = ?
	`, callerID, periodStart.UTC())

	var state quota.State
	err := row.Scan(&state.CallerID, &state.PeriodStart, &state.Consumed, &state.Ceiling, &state.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.State{CallerID: callerID, PeriodStart: periodStart}, nil
	}
	if err != nil {
		return quota.State{}, err
	}
	return state, nil
}

// Reserve atomically performs compare-and-increment against the period row.
// The conditional UPDATE applies the increment only when the result stays
// within the ceiling, in one statement - two concurrent reservations can
// never both pass the check and overshoot.
func (s *QuotaStore) Reserve(ctx context.Context, callerID string, periodStart time.Time, units, ceiling int64) (quota.Decision, error) {
	now := time.Now().UTC()
	start := periodStart.UTC()

	var decision quota.Decision
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		// Fresh zero-initialized row on period rollover; prior rows untouched.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quota_periods (caller_id, period_start, consumed, ceiling, last_updated)
			VALUES (?, ?, 0, ?, ?)
			ON CONFLICT(caller_id, period_start) DO UPDATE SET ceiling = excluded.ceiling
		`, callerID, start, ceiling, now); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE quota_periods
			SET consumed = consumed + ?, last_updated = ?
			WHERE caller_id = ? AND period_start = ?
			  AND (ceiling < 0 OR consumed + ? <= ceiling)
		`, units, now, callerID, start, units)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			SELECT caller_id, period_start, consumed, ceiling, last_updated
			FROM quota_periods
			WHERE caller_id = ? AND period_start = ?
		`, callerID, start)
		var state quota.State
		if err := row.Scan(&state.CallerID, &state.PeriodStart, &state.Consumed, &state.Ceiling, &state.LastUpdated); err != nil {
			return err
		}

		if n == 0 {
			decision = quota.Decision{State: state, Reason: quota.ReasonExceeded}
		} else {
			decision = quota.Decision{Reserved: true, State: state}
		}
		return tx.Commit()
	})
	if err != nil {
		return quota.Decision{}, err
	}
	return decision, nil
}

// Release compensates a reservation whose dispatch incurred no cost.
func (s *QuotaStore) Release(ctx context.Context, callerID string, periodStart time.Time, units int64) error {
	now := time.Now().UTC()
	return s.db.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			UPDATE quota_periods
			SET consumed = MAX(0, consumed - ?), last_updated = ?
			WHERE caller_id = ? AND period_start = ?
		`, units, now, callerID, periodStart.UTC())
		return err
	})
}

// CleanupOldPeriods removes rows for periods older than the cutoff. This is
// an operator-invoked maintenance path; nothing prunes automatically, and the
// current period never matches a past cutoff.
func (s *QuotaStore) CleanupOldPeriods(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM quota_periods WHERE period_start < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ensure interface compliance.
var _ ports.QuotaStore = (*QuotaStore)(nil)
