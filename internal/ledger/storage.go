// Package ledger persists which migrations have started and finished.
//
// Only the bootstrap routine and the applier write to the ledger; both go
// through Storage. Status readers may use All.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mirajehossain/txmigrate/internal/db"
	"github.com/mirajehossain/txmigrate/internal/lock"
	"github.com/mirajehossain/txmigrate/internal/logger"
)

type Storage struct {
	Table string
	// LegacyTable is adopted once during Bootstrap when it exists. Empty disables adoption.
	LegacyTable string
	LockKey     int64
	LockTimeout time.Duration
	Log         *logger.Logger
}

// Bootstrap creates the ledger and adopts legacy history while holding the
// shared advisory lock. Safe to call on every start.
func (s *Storage) Bootstrap(ctx context.Context, database lock.Conner) (err error) {
	log := logger.OrDiscard(s.Log)
	l := lock.New(s.LockKey)
	if err := l.Acquire(ctx, database, s.LockTimeout); err != nil {
		return err
	}
	defer func() {
		if relErr := l.Release(ctx); relErr != nil && err == nil {
			err = relErr
		}
	}()

	conn := l.Conn()
	if err := db.EnsureTable(ctx, conn, s.Table); err != nil {
		return fmt.Errorf("ensure ledger %s: %w", s.Table, err)
	}
	if s.LegacyTable == "" {
		return nil
	}
	exists, err := db.TableExists(ctx, conn, s.LegacyTable)
	if err != nil {
		return fmt.Errorf("probe legacy table %s: %w", s.LegacyTable, err)
	}
	if !exists {
		return nil
	}
	n, err := s.adoptLegacy(ctx, conn)
	if err != nil {
		return fmt.Errorf("adopt legacy history from %s: %w", s.LegacyTable, err)
	}
	if n > 0 {
		log.Info("ledger.adopted", "legacy_table", s.LegacyTable, "rows", n)
	}
	return nil
}

func (s *Storage) adoptLegacy(ctx context.Context, q db.Queryer) (int, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
SELECT migration_name, started_at, finished_at FROM %s
WHERE finished_at IS NOT NULL
  AND migration_name NOT IN (SELECT migration_name FROM %s)
ORDER BY started_at, migration_name`, db.QuoteIdent(s.LegacyTable), db.QuoteIdent(s.Table)))
	if err != nil {
		return 0, err
	}
	var legacy []Row
	for rows.Next() {
		var r Row
		var finished time.Time
		if err := rows.Scan(&r.MigrationName, &r.StartedAt, &finished); err != nil {
			_ = rows.Close()
			return 0, err
		}
		r.FinishedAt = &finished
		legacy = append(legacy, r)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (id, migration_name, started_at, finished_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (migration_name) DO NOTHING`, db.QuoteIdent(s.Table))
	adopted := 0
	for _, r := range legacy {
		res, err := q.ExecContext(ctx, insert, uuid.NewString(), r.MigrationName, r.StartedAt, *r.FinishedAt)
		if err != nil {
			return adopted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return adopted, err
		}
		if n > 0 {
			adopted++
		}
	}
	return adopted, nil
}

// ListApplied returns finished rows in application order. Run it in the same
// transaction as any write that depends on the result.
func (s *Storage) ListApplied(ctx context.Context, q db.Queryer) ([]Row, error) {
	return s.query(ctx, q, fmt.Sprintf(`
SELECT id, migration_name, started_at, finished_at FROM %s
WHERE finished_at IS NOT NULL
ORDER BY started_at, migration_name`, db.QuoteIdent(s.Table)))
}

// All returns every row, unfinished ones included.
func (s *Storage) All(ctx context.Context, q db.Queryer) ([]Row, error) {
	return s.query(ctx, q, fmt.Sprintf(`
SELECT id, migration_name, started_at, finished_at FROM %s
ORDER BY started_at, migration_name`, db.QuoteIdent(s.Table)))
}

func (s *Storage) query(ctx context.Context, q db.Queryer, query string) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.MigrationName, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Start records an attempt. A stale unfinished row left by an aborted attempt
// only has its started_at refreshed.
func (s *Storage) Start(ctx context.Context, q db.Queryer, name string) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s AS l (id, migration_name, started_at)
VALUES ($1, $2, clock_timestamp())
ON CONFLICT (migration_name) DO UPDATE SET started_at = clock_timestamp()
WHERE l.finished_at IS NULL`, db.QuoteIdent(s.Table)), uuid.NewString(), name)
	return err
}

// Finish marks the attempt recorded by Start as done. Exactly one unfinished
// row must match.
func (s *Storage) Finish(ctx context.Context, q db.Queryer, name string) error {
	res, err := q.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET finished_at = clock_timestamp()
WHERE migration_name = $1 AND finished_at IS NULL`, db.QuoteIdent(s.Table)), name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish %s: %w", name, err)
	}
	if n != 1 {
		return fmt.Errorf("finish %s: expected 1 unfinished ledger row, updated %d", name, n)
	}
	return nil
}
