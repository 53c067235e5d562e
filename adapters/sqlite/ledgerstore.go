package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/artpar/tollgate/domain/ledger"
	"github.com/artpar/tollgate/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite. The ledger is
// append-only: this store never issues UPDATE or DELETE against
// ledger_entries. Writes go through the bounded connection pool.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// AppendBatch stores entries in one transaction.
func (s *LedgerStore) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	return s.db.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ledger_entries
				(id, caller_id, request_id, input_units, output_units, cost, outcome, latency_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.CallerID, e.RequestID,
				e.Volume.InputUnits, e.Volume.OutputUnits,
				e.Cost, string(e.Outcome), e.LatencyMs, e.Timestamp.UTC(),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Summarize aggregates a caller's entries within [start, end).
func (s *LedgerStore) Summarize(ctx context.Context, callerID string, start, end time.Time) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(input_units), 0),
			COALESCE(SUM(output_units), 0),
			COALESCE(SUM(cost), 0),
			COALESCE(SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END), 0)
		FROM ledger_entries
		WHERE caller_id = ? AND created_at >= ? AND created_at < ?
	`, callerID, start.UTC(), end.UTC())

	sum := ledger.Summary{CallerID: callerID, PeriodStart: start, PeriodEnd: end}
	err := row.Scan(&sum.Calls, &sum.InputUnits, &sum.OutputUnits, &sum.CostTotal, &sum.Failures)
	if err != nil {
		return ledger.Summary{}, err
	}
	return sum, nil
}

// Recent returns the newest entries for a caller.
func (s *LedgerStore) Recent(ctx context.Context, callerID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller_id, request_id, input_units, output_units, cost, outcome, latency_ms, created_at
		FROM ledger_entries
		WHERE caller_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, callerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e       ledger.Entry
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.CallerID, &e.RequestID,
			&e.Volume.InputUnits, &e.Volume.OutputUnits,
			&e.Cost, &outcome, &e.LatencyMs, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Outcome = ledger.Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
