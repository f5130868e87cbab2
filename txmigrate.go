// Package txmigrate applies PostgreSQL schema migrations transactionally from
// any number of concurrent processes, and can apply them lazily when a query
// finds the schema stale.
package txmigrate

import (
	"context"
	"database/sql"
	"io/fs"
	"time"

	"github.com/mirajehossain/txmigrate/internal/catalog"
	"github.com/mirajehossain/txmigrate/internal/db"
	"github.com/mirajehossain/txmigrate/internal/freshness"
	"github.com/mirajehossain/txmigrate/internal/ledger"
	"github.com/mirajehossain/txmigrate/internal/lock"
	"github.com/mirajehossain/txmigrate/internal/logger"
	"github.com/mirajehossain/txmigrate/internal/metrics"
	"github.com/mirajehossain/txmigrate/internal/migrator"
)

const (
	DefaultLedgerTable = "schema_migration"
	DefaultLegacyTable = "_prisma_migrations"
)

// Re-exported types.

type Migration = catalog.Migration

type Statement = catalog.Statement

type Result = migrator.Result

type Report = migrator.Report

type Guard = freshness.Guard

type Signal = freshness.Signal

type OrderingError = migrator.OrderingError

type StatementError = migrator.StatementError

type Logger = logger.Logger

type Metrics = metrics.Metrics

// DB is satisfied by *sql.DB.
type DB = db.DB

var (
	ErrOrderingViolation  = migrator.ErrOrderingViolation
	ErrStatementExecution = migrator.ErrStatementExecution
)

type settings struct {
	table            string
	legacyTable      string
	lockNamespace    string
	lockTimeout      time.Duration
	statementTimeout time.Duration
	testDelay        time.Duration
	log              *logger.Logger
	metrics          *metrics.Metrics
}

type Option func(*settings)

// WithLedgerTable overrides the ledger table (default schema_migration).
func WithLedgerTable(name string) Option { return func(s *settings) { s.table = name } }

// WithLegacyTable names the history table adopted at bootstrap. Empty disables adoption.
func WithLegacyTable(name string) Option { return func(s *settings) { s.legacyTable = name } }

// WithLockNamespace sets the advisory lock namespace; it defaults to the ledger table.
func WithLockNamespace(ns string) Option { return func(s *settings) { s.lockNamespace = ns } }

func WithLockTimeout(d time.Duration) Option { return func(s *settings) { s.lockTimeout = d } }

func WithStatementTimeout(d time.Duration) Option {
	return func(s *settings) { s.statementTimeout = d }
}

// WithTestDelay holds the apply transaction open after migrating. Tests only.
func WithTestDelay(d time.Duration) Option { return func(s *settings) { s.testDelay = d } }

func WithLogger(l *Logger) Option { return func(s *settings) { s.log = l } }

func WithMetrics(m *Metrics) Option { return func(s *settings) { s.metrics = m } }

func newSettings(opts []Option) *settings {
	s := &settings{
		table:       DefaultLedgerTable,
		legacyTable: DefaultLegacyTable,
		lockTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lockNamespace == "" {
		s.lockNamespace = s.table
	}
	return s
}

func (s *settings) applier(database DB) *migrator.Applier {
	store := &ledger.Storage{
		Table:       s.table,
		LegacyTable: s.legacyTable,
		LockKey:     lock.KeyFor(s.lockNamespace),
		LockTimeout: s.lockTimeout,
		Log:         s.log,
	}
	a := migrator.NewApplier(database, store, s.log)
	a.Metrics = s.metrics
	a.StatementTimeout = s.statementTimeout
	return a
}

// Open opens a pooled PostgreSQL handle through the pgx driver.
func Open(dsn string, maxOpenConns int) (*sql.DB, error) {
	return db.OpenPostgres(dsn, maxOpenConns)
}

// LoadCatalog reads migrations from the subdirectories of each root in fsys.
func LoadCatalog(fsys fs.FS, roots ...string) ([]Migration, error) {
	return catalog.Load(fsys, roots...)
}

// NewMigration builds a migration from an in-memory script.
func NewMigration(name, script string) Migration { return catalog.New(name, script) }

// ApplyMigrations brings database up to migrations and returns the names it
// applied. A pass that lost a race to another process returns an empty list.
func ApplyMigrations(ctx context.Context, database DB, migrations []Migration, opts ...Option) ([]string, error) {
	s := newSettings(opts)
	res, err := s.applier(database).Apply(ctx, migrations, migrator.Options{TestDelay: s.testDelay})
	if err != nil {
		return nil, err
	}
	return res.NewlyApplied, nil
}

// BuildFreshnessGuard returns the guard for migrations. Run Guard.Check, or
// embed Guard.SQL, as the first statement of a transaction.
func BuildFreshnessGuard(migrations []Migration, opts ...Option) Guard {
	return freshness.Build(newSettings(opts).table, migrations)
}

// RunWithAutoMigrate runs op, applying migrations and retrying once when op
// fails with a freshness signal.
func RunWithAutoMigrate[T any](ctx context.Context, database DB, migrations []Migration, op func(context.Context) (T, error), opts ...Option) (T, error) {
	return migrator.RunWithAutoMigrate(ctx, newSettings(opts).applier(database), migrations, op)
}

// Status reports applied and pending migrations without writing.
func Status(ctx context.Context, q db.Queryer, migrations []Migration, opts ...Option) (*Report, error) {
	s := newSettings(opts)
	return migrator.Status(ctx, q, &ledger.Storage{Table: s.table}, migrations)
}

// IsSignal reports whether err carries the freshness signal.
func IsSignal(err error) bool { return freshness.IsSignal(err) }

// NewLogger returns a structured logger writing text or JSON to stdout.
func NewLogger(json bool) *Logger { return logger.New(json) }

// NewMetrics returns collectors on a private registry.
func NewMetrics(namespace string) *Metrics { return metrics.New(namespace) }
