package migrator

import (
	"context"
	"time"

	"github.com/mirajehossain/txmigrate/internal/catalog"
	"github.com/mirajehossain/txmigrate/internal/db"
	"github.com/mirajehossain/txmigrate/internal/ledger"
)

const (
	StateApplied = "applied"
	StatePending = "pending"
)

type Entry struct {
	Name       string     `json:"name"`
	Checksum   string     `json:"checksum"`
	State      string     `json:"state"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Report joins the catalog with the ledger. It never writes.
type Report struct {
	Entries []Entry `json:"entries"`
	Applied int     `json:"applied"`
	Pending int     `json:"pending"`
	// Unknown lists finished ledger rows with no catalog migration.
	Unknown []string `json:"unknown,omitempty"`
	// Ordering is set when the applied prefix does not match the catalog.
	Ordering *OrderingError `json:"-"`
}

// UpToDate reports whether an apply pass would have nothing to do.
func (r *Report) UpToDate() bool {
	return r.Pending == 0 && r.Ordering == nil
}

// Status reads the ledger without bootstrapping it. A missing ledger table
// reports every migration as pending.
func Status(ctx context.Context, q db.Queryer, store *ledger.Storage, migrations []catalog.Migration) (*Report, error) {
	exists, err := db.TableExists(ctx, q, store.Table)
	if err != nil {
		return nil, err
	}
	var rows []ledger.Row
	if exists {
		if rows, err = store.All(ctx, q); err != nil {
			return nil, err
		}
	}

	finished := make(map[string]ledger.Row, len(rows))
	var applied []ledger.Row
	for _, r := range rows {
		if r.Finished() {
			finished[r.MigrationName] = r
			applied = append(applied, r)
		}
	}

	rep := &Report{Entries: make([]Entry, 0, len(migrations))}
	known := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		known[m.Name] = true
		e := Entry{Name: m.Name, Checksum: m.Checksum, State: StatePending}
		if r, ok := finished[m.Name]; ok {
			e.State = StateApplied
			started := r.StartedAt
			e.StartedAt = &started
			e.FinishedAt = r.FinishedAt
			rep.Applied++
		} else {
			rep.Pending++
		}
		rep.Entries = append(rep.Entries, e)
	}
	for _, r := range applied {
		if !known[r.MigrationName] {
			rep.Unknown = append(rep.Unknown, r.MigrationName)
		}
	}
	if err := verifyPrefix(applied, migrations); err != nil {
		rep.Ordering = err.(*OrderingError)
	}
	return rep, nil
}
