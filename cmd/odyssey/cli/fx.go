package cli

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/ratefeed"
)

// Backfiller imports historical bulletins.
type Backfiller interface {
	Backfill(ctx context.Context, start, end time.Time) (ratefeed.BackfillReport, error)
}

// FXOpsCLI offers operational helpers to manage exchange rates.
type FXOpsCLI struct {
	feed Backfiller
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(feed Backfiller) (*FXOpsCLI, error) {
	if feed == nil {
		return nil, errors.New("fx cli: rate feed required")
	}
	return &FXOpsCLI{feed: feed}, nil
}
