package numbering

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// RetryOnConflict re-runs fn when it fails with a unique violation or a
// serialization failure. fn must be a complete unit of work (its own transaction).
func RetryOnConflict(ctx context.Context, attempts int, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !db.IsRetryable(err) {
			return err
		}
	}
	return err
}
