package migrator

import (
	"errors"
	"fmt"

	"github.com/mirajehossain/txmigrate/internal/catalog"
)

var (
	// ErrOrderingViolation means the ledger's applied prefix does not match
	// the catalog. It is never retried.
	ErrOrderingViolation = errors.New("migration ordering violation")
	// ErrStatementExecution means a migration statement failed and the whole
	// batch was rolled back.
	ErrStatementExecution = errors.New("migration statement failed")
)

type OrderingError struct {
	Index    int
	Applied  string
	Expected string // empty when the ledger is longer than the catalog
}

func (e *OrderingError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%s: ledger entry %d (%s) has no counterpart in the catalog", ErrOrderingViolation, e.Index, e.Applied)
	}
	return fmt.Sprintf("%s: ledger entry %d is %s, catalog expects %s", ErrOrderingViolation, e.Index, e.Applied, e.Expected)
}

func (e *OrderingError) Is(target error) bool { return target == ErrOrderingViolation }

type StatementError struct {
	Migration string
	Index     int
	Mode      catalog.ExecMode
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("migration %s statement %d (%s) failed: %v", e.Migration, e.Index+1, e.Mode, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

func (e *StatementError) Is(target error) bool { return target == ErrStatementExecution }
