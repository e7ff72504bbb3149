package categories

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes category use-cases.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the service.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// List returns every category ordered by code.
func (s *Service) List(ctx context.Context) ([]Category, error) {
	return s.repo.List(ctx)
}

// Get returns a category.
func (s *Service) Get(ctx context.Context, id int64) (Category, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a category.
func (s *Service) Create(ctx context.Context, in CreateInput) (Category, error) {
	c := Category{
		Code:     strings.ToUpper(strings.TrimSpace(in.Code)),
		Name:     strings.TrimSpace(in.Name),
		ParentID: in.ParentID,
		IsActive: true,
	}
	if err := c.validate(); err != nil {
		return Category{}, err
	}
	var created Category
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if c.ParentID != nil {
				if _, err := tx.GetForUpdate(ctx, *c.ParentID); err != nil {
					return err
				}
			}
			var err error
			created, err = tx.Insert(ctx, c)
			return err
		})
	})
	if err != nil {
		return Category{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "products", "category", strconv.FormatInt(created.ID, 10))
	entry.After = map[string]any{"code": created.Code, "name": created.Name}
	s.record(ctx, entry)
	return created, nil
}

// Update applies a typed patch. Moving a category below one of its descendants is rejected.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (Category, error) {
	var after Category
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			patch.Apply(&current)
			if err := current.validate(); err != nil {
				return err
			}
			if err := checkCycle(ctx, tx, current); err != nil {
				return err
			}
			after = current
			return tx.Update(ctx, current)
		})
	})
	if err != nil {
		return Category{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "products", "category", strconv.FormatInt(id, 10))
	entry.After = map[string]any{"code": after.Code, "name": after.Name, "parent_id": after.ParentID, "is_active": after.IsActive}
	s.record(ctx, entry)
	return after, nil
}

// checkCycle walks up from the new parent and fails when it reaches c.
func checkCycle(ctx context.Context, tx TxRepository, c Category) error {
	seen := map[int64]bool{c.ID: true}
	next := c.ParentID
	for next != nil {
		if seen[*next] {
			return fmt.Errorf("%w: category %d would become its own ancestor", httpx.ErrValidation, c.ID)
		}
		seen[*next] = true
		parent, err := tx.GetForUpdate(ctx, *next)
		if err != nil {
			return err
		}
		next = parent.ParentID
	}
	return nil
}

// Delete removes a category that has neither sub-categories nor products.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.GetForUpdate(ctx, id); err != nil {
				return err
			}
			children, err := tx.CountChildren(ctx, id)
			if err != nil {
				return err
			}
			if children > 0 {
				return fmt.Errorf("%w: category %d has %d sub-categories", httpx.ErrValidation, id, children)
			}
			products, err := tx.CountProducts(ctx, id)
			if err != nil {
				return err
			}
			if products > 0 {
				return fmt.Errorf("%w: category %d has %d products", httpx.ErrValidation, id, products)
			}
			return tx.Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.NewAuditEntry(ctx, shared.ActionDelete, "products", "category", strconv.FormatInt(id, 10)))
	return nil
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", entry.Entity), slog.Any("error", err))
	}
}
