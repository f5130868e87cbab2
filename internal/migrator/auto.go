package migrator

import (
	"context"
	"fmt"

	"github.com/mirajehossain/txmigrate/internal/catalog"
	"github.com/mirajehossain/txmigrate/internal/freshness"
	"github.com/mirajehossain/txmigrate/internal/logger"
)

// RunWithAutoMigrate runs op and, if it reports a stale schema through the
// freshness signal, applies the catalog and runs op exactly once more.
// Any other outcome of the first call is returned untouched.
func RunWithAutoMigrate[T any](ctx context.Context, a *Applier, migrations []catalog.Migration, op func(context.Context) (T, error)) (T, error) {
	v, err := op(ctx)
	sig, ok := freshness.AsSignal(err)
	if !ok {
		return v, err
	}

	logger.OrDiscard(a.Log).WithComponent("coordinator").Info("freshness.stale", "tag", sig.Tag, "detail", sig.Detail)
	a.Metrics.ObserveLazyTrigger()
	if _, err := a.Apply(ctx, migrations, Options{}); err != nil {
		var zero T
		return zero, fmt.Errorf("lazy migration: %w", err)
	}
	return op(ctx)
}
