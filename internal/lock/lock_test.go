package lock

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestKeyFor(t *testing.T) {
	a, b := KeyFor("schema_migration"), KeyFor("schema_migration")
	if a != b {
		t.Fatal("key must be stable")
	}
	if a < 0 {
		t.Fatal("key must be non-negative")
	}
	if KeyFor("other") == a {
		t.Fatal("different namespaces should not collide")
	}
}

func TestAcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(0, 0))

	l := New(42)
	ctx := context.Background()
	if err := l.Acquire(ctx, db, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if l.Conn() == nil {
		t.Fatal("expected a held connection")
	}
	// second acquire is a no-op
	if err := l.Acquire(ctx, db, time.Second); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if l.Conn() != nil {
		t.Fatal("connection should be dropped after release")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAcquireFailureIsOrdinaryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	boom := errors.New("canceling statement due to lock timeout")
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).WillReturnError(boom)

	l := New(7)
	err = l.Acquire(context.Background(), db, time.Second)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
	if l.Conn() != nil {
		t.Fatal("lock must not be held after failure")
	}
	// releasing an unheld lock is a no-op
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestReleaseAfterCancel(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	l := New(9)
	if err := l.Acquire(ctx, db, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cancel()
	if err := l.Release(ctx); err != nil {
		t.Fatalf("release with cancelled context: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unlock must still be sent: %v", err)
	}
}

func TestReleaseFailureDiscardsConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	reset := errors.New("connection reset by peer")
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WillReturnError(reset)
	// The session still holding the lock is closed, not pooled.
	mock.ExpectClose()

	l := New(9)
	if err := l.Acquire(context.Background(), db, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(context.Background()); !errors.Is(err, reset) {
		t.Fatalf("expected unlock error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
	if got := db.Stats().OpenConnections; got != 0 {
		t.Fatalf("connection returned to pool, open=%d", got)
	}
}
