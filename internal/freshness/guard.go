// Package freshness builds a guard statement that fails with a recognisable
// signal when the migration ledger is behind the catalog.
//
// Run the guard as the first statement of a transaction: either the schema is
// confirmed current for the rest of that transaction, or the transaction aborts
// before any other statement runs.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mirajehossain/txmigrate/internal/catalog"
	"github.com/mirajehossain/txmigrate/internal/db"
)

const (
	// Code is the SQLSTATE raised by the guard.
	Code = "MG001"
	// Tag is the message carried by the raised error.
	Tag = "MIGRATION_NEEDED"
)

// Signal reports that the ledger does not yet reflect the whole catalog. It is
// not a failure; the lazy coordinator consumes it and migrates.
type Signal struct {
	Tag    string
	Detail string
	cause  error
}

func (s *Signal) Error() string {
	if s.Detail == "" {
		return "schema is stale: " + s.Tag
	}
	return fmt.Sprintf("schema is stale: %s (%s)", s.Tag, s.Detail)
}

func (s *Signal) Unwrap() error { return s.cause }

// AsSignal extracts a Signal from err. Besides a *Signal it recognises the raw
// server error produced when SQL() was embedded in a caller's own statement;
// matching is by SQLSTATE only.
func AsSignal(err error) (*Signal, bool) {
	if err == nil {
		return nil, false
	}
	var s *Signal
	if errors.As(err, &s) {
		return s, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == Code {
		return &Signal{Tag: pgErr.Message, Detail: pgErr.Detail, cause: err}, true
	}
	return nil, false
}

// IsSignal reports whether err carries a Signal.
func IsSignal(err error) bool {
	_, ok := AsSignal(err)
	return ok
}

type Guard struct {
	table string
	names []string
	sql   string
}

// Build returns the guard for the given ledger table and catalog.
func Build(table string, migrations []catalog.Migration) Guard {
	names := catalog.Names(migrations)
	return Guard{table: table, names: names, sql: render(table, names)}
}

// SQL is the guard statement, for embedding into callers' own scripts.
func (g Guard) SQL() string { return g.sql }

// Names lists the migrations the guard expects to be finished.
func (g Guard) Names() []string { return append([]string(nil), g.names...) }

// Check runs the guard on q. A stale schema yields a *Signal; on a
// transaction the caller must then roll back.
func (g Guard) Check(ctx context.Context, q db.Queryer) error {
	if _, err := q.ExecContext(ctx, g.sql); err != nil {
		if s, ok := AsSignal(err); ok {
			return s
		}
		return fmt.Errorf("freshness check: %w", err)
	}
	return nil
}

func render(table string, names []string) string {
	ident := db.QuoteIdent(table)
	lits := make([]string, len(names))
	for i, n := range names {
		lits[i] = db.QuoteLiteral(n)
	}
	raise := func(detail string) string {
		return fmt.Sprintf("RAISE EXCEPTION USING ERRCODE = %s, MESSAGE = %s, DETAIL = %s;",
			db.QuoteLiteral(Code), db.QuoteLiteral(Tag), db.QuoteLiteral(detail))
	}

	var b strings.Builder
	b.WriteString("DO $txmigrate_guard$\nBEGIN\n")
	fmt.Fprintf(&b, "  IF to_regclass(%s) IS NULL THEN\n    %s\n  END IF;\n",
		db.QuoteLiteral(ident), raise("ledger table "+table+" does not exist"))
	if len(names) > 0 {
		fmt.Fprintf(&b, `  IF EXISTS (
    SELECT 1 FROM unnest(ARRAY[%s]::text[]) AS expected(name)
    WHERE NOT EXISTS (
      SELECT 1 FROM %s m
      WHERE m.migration_name = expected.name AND m.finished_at IS NOT NULL
    )
  ) THEN
    %s
  END IF;
`, strings.Join(lits, ", "), ident, raise("ledger is behind the migration catalog"))
	}
	b.WriteString("END\n$txmigrate_guard$")
	return b.String()
}
