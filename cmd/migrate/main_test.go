package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirajehossain/txmigrate/internal/config"
	"github.com/mirajehossain/txmigrate/internal/freshness"
	"github.com/mirajehossain/txmigrate/internal/migrator"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{withCode(exitPlanError, errors.New("bad flags")), exitPlanError},
		{fmt.Errorf("apply: %w", &migrator.OrderingError{Index: 0, Applied: "a", Expected: "b"}), exitOrdering},
		{&freshness.Signal{Tag: freshness.Tag}, exitStale},
		{fmt.Errorf("bootstrap ledger: %w", context.DeadlineExceeded), exitLocked},
		{errors.New("boom"), exitFail},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func resolveWith(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	o := &globalOptions{}
	var cfg *config.Config
	cmd := &cobra.Command{
		Use:           "test",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = resolveConfig(cmd, o)
			return err
		},
	}
	addGlobalFlags(cmd, o)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return cfg, err
}

func TestResolveConfigLayering(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://env/db")
	t.Setenv("LEDGER_TABLE", "env_ledger")
	t.Setenv("MIGRATIONS_DIR", "/env/migrations")

	cfg, err := resolveWith(t, "--table", "flag_ledger", "--legacy-table", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DSN != "postgres://env/db" {
		t.Fatalf("dsn from env not applied: %q", cfg.DSN)
	}
	if cfg.LedgerTable != "flag_ledger" || cfg.LegacyTable != "" {
		t.Fatalf("explicit flags must win: %+v", cfg)
	}
	if cfg.Dir != "/env/migrations" {
		t.Fatalf("flag default must not override env: %q", cfg.Dir)
	}
}

func TestResolveConfigRequiresDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	_, err := resolveWith(t)
	if exitCode(err) != exitPlanError {
		t.Fatalf("expected plan error, got %v", err)
	}
}

func sampleReport() *migrator.Report {
	done := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &migrator.Report{
		Entries: []migrator.Entry{
			{Name: "001-create-table", Checksum: "0123456789abcdef", State: migrator.StateApplied, StartedAt: &done, FinishedAt: &done},
			{Name: "002-update-table", Checksum: "fedcba9876543210", State: migrator.StatePending},
		},
		Applied: 1,
		Pending: 1,
	}
}

func TestPrintStatusText(t *testing.T) {
	var buf bytes.Buffer
	if err := printStatus(&buf, sampleReport(), false); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"001-create-table", "applied", "0123456789ab ", "2024-05-01T10:00:00Z", "002-update-table", "pending", "applied=1 pending=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatusJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printStatus(&buf, sampleReport(), true); err != nil {
		t.Fatalf("print: %v", err)
	}
	var got struct {
		Entries []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"entries"`
		Pending int `json:"pending"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Entries) != 2 || got.Entries[1].State != migrator.StatePending || got.Pending != 1 {
		t.Fatalf("unexpected json: %s", buf.String())
	}
}
