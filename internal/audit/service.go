package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service coordinates audit log reads.
type Service struct {
	repo Repository
}

// NewService builds the audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns one window of entries, newest first. One extra row is read to
// report whether a next window exists.
func (s *Service) List(ctx context.Context, filters Filters) (Page, error) {
	if s.repo == nil {
		return Page{}, fmt.Errorf("audit: repository not configured")
	}
	if err := normalize(&filters); err != nil {
		return Page{}, err
	}
	w := filters.Window
	rows, err := s.repo.Window(ctx, filters, w.Limit+1, w.Skip)
	if err != nil {
		return Page{}, err
	}
	hasNext := len(rows) > w.Limit
	if hasNext {
		rows = rows[:w.Limit]
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Page{Items: rows, Skip: w.Skip, Limit: w.Limit, HasNext: hasNext}, nil
}

// Export returns every entry matching filters without paging.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if err := normalize(&filters); err != nil {
		return nil, err
	}
	return s.repo.All(ctx, filters)
}

func normalize(f *Filters) error {
	f.Module = strings.ToLower(strings.TrimSpace(f.Module))
	f.Action = strings.ToLower(strings.TrimSpace(f.Action))
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return fmt.Errorf("%w: start_date after end_date", httpx.ErrValidation)
	}
	f.Window = shared.NewWindow(f.Window.Skip, f.Window.Limit)
	return nil
}
