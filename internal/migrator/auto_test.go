package migrator

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mirajehossain/txmigrate/internal/freshness"
)

func TestRunWithAutoMigratePassesThrough(t *testing.T) {
	a, mock := newTestApplier(t)
	calls := 0
	v, err := RunWithAutoMigrate(context.Background(), a, testCatalog(), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || v != 42 || calls != 1 {
		t.Fatalf("got v=%d err=%v calls=%d", v, err, calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no database work expected: %v", err)
	}
}

func TestRunWithAutoMigrateLeavesOtherErrors(t *testing.T) {
	a, _ := newTestApplier(t)
	boom := errors.New("boom")
	calls := 0
	_, err := RunWithAutoMigrate(context.Background(), a, testCatalog(), func(context.Context) (string, error) {
		calls++
		return "", boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("got err=%v calls=%d", err, calls)
	}
	if got := testutil.ToFloat64(a.Metrics.LazyTriggers); got != 0 {
		t.Fatalf("lazy trigger metric = %v", got)
	}
}

func TestRunWithAutoMigrateAppliesOnSignal(t *testing.T) {
	a, mock := newTestApplier(t)
	expectBootstrap(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(listAppliedSQL)).WillReturnRows(appliedRows("001-create-table"))
	expectMigration(mock, "002-update-table")
	mock.ExpectCommit()

	calls := 0
	v, err := RunWithAutoMigrate(context.Background(), a, testCatalog(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			// The raw server error, as seen when the guard was embedded in caller SQL.
			return "", &pgconn.PgError{Code: freshness.Code, Message: freshness.Tag}
		}
		return "done", nil
	})
	if err != nil || v != "done" || calls != 2 {
		t.Fatalf("got v=%q err=%v calls=%d", v, err, calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
	if got := testutil.ToFloat64(a.Metrics.LazyTriggers); got != 1 {
		t.Fatalf("lazy trigger metric = %v", got)
	}
}

func TestRunWithAutoMigrateRetriesOnce(t *testing.T) {
	a, mock := newTestApplier(t)
	expectBootstrap(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(listAppliedSQL)).WillReturnRows(appliedRows("001-create-table", "002-update-table"))
	mock.ExpectCommit()

	calls := 0
	_, err := RunWithAutoMigrate(context.Background(), a, testCatalog(), func(context.Context) (int, error) {
		calls++
		return 0, &freshness.Signal{Tag: freshness.Tag}
	})
	if !freshness.IsSignal(err) {
		t.Fatalf("second signal should surface, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("op ran %d times", calls)
	}
}

func TestRunWithAutoMigrateApplyFailure(t *testing.T) {
	a, mock := newTestApplier(t)
	expectBootstrap(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(listAppliedSQL)).WillReturnRows(appliedRows("999-unknown"))
	mock.ExpectRollback()

	calls := 0
	_, err := RunWithAutoMigrate(context.Background(), a, testCatalog(), func(context.Context) (int, error) {
		calls++
		return 0, &freshness.Signal{Tag: freshness.Tag}
	})
	if !errors.Is(err, ErrOrderingViolation) {
		t.Fatalf("expected ordering violation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("op must not rerun after a failed apply, ran %d times", calls)
	}
}

