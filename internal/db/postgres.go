package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB is the executor the engine needs: serializable transactions and
// dedicated connections for session-scoped advisory locks. *sql.DB satisfies it.
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Queryer is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenPostgres opens a pooled handle through the pgx stdlib driver.
// The connection is established lazily.
func OpenPostgres(dsn string, maxOpenConns int) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// QuoteIdent quotes a possibly schema-qualified name ("public.t" -> "public"."t").
func QuoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	s = strings.ReplaceAll(s, string([]byte{0}), "")
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// EnsureTable creates the migration ledger table if it does not exist.
func EnsureTable(ctx context.Context, q Queryer, table string) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  started_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
  finished_at TIMESTAMPTZ NULL,
  migration_name TEXT NOT NULL UNIQUE
)`, QuoteIdent(table))
	_, err := q.ExecContext(ctx, ddl)
	return err
}

// TableExists reports whether table resolves in the current search_path.
func TableExists(ctx context.Context, q Queryer, table string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, QuoteIdent(table)).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// SQLState returns the SQLSTATE carried by err, or "" when err is not a
// server error.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsTransactionConflict reports whether err means a concurrent transaction
// won: a serialization failure or a deadlock.
func IsTransactionConflict(err error) bool {
	switch SQLState(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	}
	return false
}
