package ledger

import "time"

// Row is one ledger entry. FinishedAt is nil only inside an uncommitted attempt.
type Row struct {
	ID            string
	MigrationName string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

func (r Row) Finished() bool { return r.FinishedAt != nil }
