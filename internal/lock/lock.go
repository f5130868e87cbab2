package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"time"
)

// Conner hands out dedicated connections. *sql.DB satisfies it.
type Conner interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Advisory is a session-level PostgreSQL advisory lock held on a dedicated
// connection. Work that must run under the lock goes through Conn.
type Advisory struct {
	conn *sql.Conn
	key  int64
	held bool
}

func New(key int64) *Advisory {
	return &Advisory{key: key}
}

// Acquire blocks in pg_advisory_lock until the lock is granted or timeout
// elapses. A zero timeout waits for as long as ctx allows.
func (a *Advisory) Acquire(ctx context.Context, db Conner, timeout time.Duration) error {
	if a.held {
		return nil
	}
	var err error
	a.conn, err = db.Conn(ctx)
	if err != nil {
		return err
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, err := a.conn.ExecContext(waitCtx, "SELECT pg_advisory_lock($1)", a.key); err != nil {
		_ = a.conn.Close()
		a.conn = nil
		return fmt.Errorf("acquire advisory lock %d: %w", a.key, err)
	}
	a.held = true
	return nil
}

// Conn returns the connection holding the lock, or nil when not held.
func (a *Advisory) Conn() *sql.Conn {
	if !a.held {
		return nil
	}
	return a.conn
}

// ReleaseTimeout bounds the unlock round trip.
const ReleaseTimeout = 5 * time.Second

// Release unlocks even when ctx is already done. If the unlock cannot be
// confirmed the connection is discarded, which ends the session and with it
// the lock, instead of returning it to the pool.
func (a *Advisory) Release(ctx context.Context) error {
	if !a.held || a.conn == nil {
		return nil
	}
	unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ReleaseTimeout)
	defer cancel()
	_, err := a.conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", a.key)
	a.held = false
	if err != nil {
		_ = a.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	closeErr := a.conn.Close()
	a.conn = nil
	if err != nil {
		return fmt.Errorf("release advisory lock %d: %w", a.key, err)
	}
	return closeErr
}

func (a *Advisory) Key() int64 { return a.key }

// KeyFor derives the shared lock key from a namespace, normally the ledger
// table name, so every process agrees on it.
func KeyFor(namespace string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("txmigrate:" + namespace))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // advisory lock keys are signed
}
