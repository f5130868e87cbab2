package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirajehossain/txmigrate/internal/catalog"
	"github.com/mirajehossain/txmigrate/internal/config"
	"github.com/mirajehossain/txmigrate/internal/db"
	"github.com/mirajehossain/txmigrate/internal/ledger"
	"github.com/mirajehossain/txmigrate/internal/lock"
	"github.com/mirajehossain/txmigrate/internal/logger"
	"github.com/mirajehossain/txmigrate/internal/metrics"
	"github.com/mirajehossain/txmigrate/internal/migrator"
)

type globalOptions struct {
	configPath  string
	dsn         string
	dir         string
	json        bool
	lockTimeout int
	table       string
	legacyTable string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	o := &globalOptions{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply PostgreSQL schema migrations transactionally",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root, o)
	root.AddCommand(newUpCmd(o), newStatusCmd(o), newCheckCmd(o))
	return root
}

func addGlobalFlags(cmd *cobra.Command, o *globalOptions) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "Optional YAML config path")
	f.StringVar(&o.dsn, "dsn", "", "Database DSN (or DB_DSN)")
	f.StringVar(&o.dir, "dir", "./migrations", "Migrations directory (or MIGRATIONS_DIR)")
	f.BoolVar(&o.json, "json", false, "JSON logs and output")
	f.IntVar(&o.lockTimeout, "lock-timeout", 30, "Advisory lock timeout in seconds (or LOCK_TIMEOUT_SEC)")
	f.StringVar(&o.table, "table", "schema_migration", "Ledger table (or LEDGER_TABLE)")
	f.StringVar(&o.legacyTable, "legacy-table", "_prisma_migrations", "Legacy history table to adopt, empty to disable (or LEGACY_TABLE)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
}

// resolveConfig layers YAML, environment and explicitly set flags, in that order.
func resolveConfig(cmd *cobra.Command, o *globalOptions) (*config.Config, error) {
	cfg, err := config.LoadYAML(o.configPath)
	if err != nil {
		return nil, withCode(exitPlanError, err)
	}
	if cfg, err = config.MergeEnv(cfg); err != nil {
		return nil, withCode(exitPlanError, err)
	}
	flags := cmd.Flags()
	if flags.Changed("dsn") {
		cfg.DSN = o.dsn
	}
	if flags.Changed("dir") {
		cfg.Dir = o.dir
	}
	if flags.Changed("json") {
		cfg.JSON = o.json
	}
	if flags.Changed("lock-timeout") {
		cfg.LockTimeoutSec = o.lockTimeout
	}
	if flags.Changed("table") {
		cfg.LedgerTable = o.table
	}
	if flags.Changed("legacy-table") {
		cfg.LegacyTable = o.legacyTable
	}
	if cfg.DSN == "" {
		return nil, withCode(exitPlanError, errors.New("--dsn or DB_DSN is required"))
	}
	return cfg, nil
}

// session is what every command needs once flags are resolved.
type session struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *sql.DB
	metrics    *metrics.Metrics
	migrations []catalog.Migration
	stop       func()
}

func (s *session) applier() *migrator.Applier {
	a := migrator.NewApplier(s.db, s.storage(), s.log)
	a.Metrics = s.metrics
	a.StatementTimeout = s.cfg.StatementTimeout()
	return a
}

func (s *session) storage() *ledger.Storage {
	return &ledger.Storage{
		Table:       s.cfg.LedgerTable,
		LegacyTable: s.cfg.LegacyTable,
		LockKey:     lock.KeyFor(s.cfg.LockKeyNamespace()),
		LockTimeout: s.cfg.LockTimeout(),
		Log:         s.log,
	}
}

func (s *session) Close() {
	if s.stop != nil {
		s.stop()
	}
	_ = s.db.Close()
}

func openSession(cmd *cobra.Command, o *globalOptions) (*session, error) {
	cfg, err := resolveConfig(cmd, o)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.JSON)

	migrations, err := catalog.LoadDir(cfg.Dir)
	if err != nil {
		return nil, withCode(exitPlanError, err)
	}
	database, err := db.OpenPostgres(cfg.DSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, withCode(exitFail, err)
	}

	s := &session{cfg: cfg, log: log, db: database, migrations: migrations}
	if o.metricsAddr != "" {
		s.metrics = metrics.New("")
		s.stop = serveMetrics(o.metricsAddr, s.metrics, log)
	}
	return s, nil
}

func serveMetrics(addr string, m *metrics.Metrics, log *logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
