// Package migrator applies catalog migrations to PostgreSQL inside one
// serializable transaction per pass, and retries caller work once after a
// stale-schema signal.
package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mirajehossain/txmigrate/internal/catalog"
	"github.com/mirajehossain/txmigrate/internal/db"
	"github.com/mirajehossain/txmigrate/internal/freshness"
	"github.com/mirajehossain/txmigrate/internal/ledger"
	"github.com/mirajehossain/txmigrate/internal/logger"
	"github.com/mirajehossain/txmigrate/internal/metrics"
)

const blockTag = "$txmigrate$"

type Applier struct {
	DB      db.DB
	Ledger  *ledger.Storage
	Log     *logger.Logger
	Metrics *metrics.Metrics
	// StatementTimeout bounds every statement of the apply transaction. Zero
	// keeps the server setting.
	StatementTimeout time.Duration
}

func NewApplier(database db.DB, store *ledger.Storage, log *logger.Logger) *Applier {
	return &Applier{DB: database, Ledger: store, Log: log}
}

type Options struct {
	// TestDelay sleeps inside the transaction after the migrations ran. Only
	// used to widen race windows in tests.
	TestDelay time.Duration
}

type Result struct {
	NewlyApplied []string
}

// Guard builds the freshness guard for this applier's ledger.
func (a *Applier) Guard(migrations []catalog.Migration) freshness.Guard {
	return freshness.Build(a.Ledger.Table, migrations)
}

// Apply brings the database up to the catalog. Losing a race to another
// applier is not an error: the pass reports no progress and trusts the
// winner's commit.
func (a *Applier) Apply(ctx context.Context, migrations []catalog.Migration, opts Options) (Result, error) {
	begin := time.Now()
	log := logger.OrDiscard(a.Log).WithComponent("applier")

	if err := a.Ledger.Bootstrap(ctx, a.DB); err != nil {
		a.Metrics.ObserveApply(metrics.OutcomeError, 0, time.Since(begin))
		return Result{}, fmt.Errorf("bootstrap ledger: %w", err)
	}
	log.Debug("bootstrap", "table", a.Ledger.Table, "legacy_table", a.Ledger.LegacyTable)

	applied, pending, err := a.applyTx(ctx, log, migrations, opts)
	switch {
	case err == nil:
		outcome := metrics.OutcomeApplied
		if len(applied) == 0 {
			outcome = metrics.OutcomeNoop
		}
		a.Metrics.ObserveApply(outcome, len(applied), time.Since(begin))
		log.Info("apply.complete", "applied", len(applied), "catalog", len(migrations), "took", time.Since(begin))
		return Result{NewlyApplied: applied}, nil
	case db.IsTransactionConflict(err):
		// No re-check here: the competing transaction is assumed to have
		// committed. If it did not, the next apply pass picks the work up.
		a.Metrics.ObserveApply(metrics.OutcomeConflict, 0, time.Since(begin))
		log.Warn("migration.conflict", "pending", pending, "error", err)
		return Result{NewlyApplied: []string{}}, nil
	default:
		a.Metrics.ObserveApply(metrics.OutcomeError, 0, time.Since(begin))
		log.Error("apply.failed", "error", err)
		return Result{}, err
	}
}

func (a *Applier) applyTx(ctx context.Context, log *logger.Logger, migrations []catalog.Migration, opts Options) (applied, pending []string, err error) {
	tx, err := a.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, fmt.Errorf("begin apply transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if a.StatementTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", a.StatementTimeout.Milliseconds())); err != nil {
			return nil, nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := a.Ledger.ListApplied(ctx, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("list applied migrations: %w", err)
	}
	if err := verifyPrefix(rows, migrations); err != nil {
		return nil, nil, err
	}

	todo := migrations[len(rows):]
	pending = catalog.Names(todo)
	applied = make([]string, 0, len(todo))
	for _, m := range todo {
		mlog := log.WithMigration(m.Name)
		mlog.Info("migration.start", "statements", len(m.Statements))
		if err := a.Ledger.Start(ctx, tx, m.Name); err != nil {
			return applied, pending, fmt.Errorf("record start of %s: %w", m.Name, err)
		}
		for i, st := range m.Statements {
			if _, err := tx.ExecContext(ctx, render(st)); err != nil {
				return applied, pending, &StatementError{Migration: m.Name, Index: i, Mode: st.Mode, Err: err}
			}
		}
		if err := a.Ledger.Finish(ctx, tx, m.Name); err != nil {
			return applied, pending, fmt.Errorf("record finish of %s: %w", m.Name, err)
		}
		applied = append(applied, m.Name)
	}

	if len(todo) > 0 && opts.TestDelay > 0 {
		if _, err := tx.ExecContext(ctx, "SELECT pg_sleep($1)", opts.TestDelay.Seconds()); err != nil {
			return applied, pending, fmt.Errorf("test delay: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return applied, pending, fmt.Errorf("commit apply transaction: %w", err)
	}
	for _, name := range applied {
		log.WithMigration(name).Info("migration.success")
	}
	return applied, pending, nil
}

func verifyPrefix(applied []ledger.Row, migrations []catalog.Migration) error {
	for i, r := range applied {
		if i >= len(migrations) {
			return &OrderingError{Index: i, Applied: r.MigrationName}
		}
		if r.MigrationName != migrations[i].Name {
			return &OrderingError{Index: i, Applied: r.MigrationName, Expected: migrations[i].Name}
		}
	}
	return nil
}

// render wraps block statements in an anonymous PL/pgSQL block.
func render(st catalog.Statement) string {
	if st.Mode == catalog.Standalone {
		return st.SQL
	}
	body := strings.TrimSpace(st.SQL)
	if !strings.HasSuffix(lastCodeLine(body), ";") {
		body += "\n;"
	}
	return "DO " + blockTag + "\nBEGIN\n" + body + "\nEND\n" + blockTag
}

// lastCodeLine returns the last line that still has SQL once its trailing
// "--" comment is removed.
func lastCodeLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := stripLineComment(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// stripLineComment cuts a "--" comment that starts outside quoted text.
func stripLineComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '-' && i+1 < len(line) && line[i+1] == '-':
			return strings.TrimSpace(line[:i])
		}
	}
	return strings.TrimSpace(line)
}
