package products

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

// Service exposes product use-cases.
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

// List returns products ordered by name.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, error) {
	return s.repo.List(ctx, filter)
}

// Get returns a product with its costs.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	p.Costs, err = s.repo.Costs(ctx, id)
	return p, err
}

// GetByCode returns a product by model code with its costs.
func (s *Service) GetByCode(ctx context.Context, modelCode string) (Product, error) {
	code := strings.TrimSpace(modelCode)
	if code == "" {
		return Product{}, fmt.Errorf("%w: model code required", httpx.ErrValidation)
	}
	p, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return Product{}, err
	}
	p.Costs, err = s.repo.Costs(ctx, p.ID)
	return p, err
}

// Create stores a product.
func (s *Service) Create(ctx context.Context, in CreateInput) (Product, error) {
	p, err := in.toProduct()
	if err != nil {
		return Product{}, err
	}
	var created Product
	err = db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.Insert(ctx, p)
			return err
		})
	})
	if err != nil {
		return Product{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "products", "product", strconv.FormatInt(created.ID, 10))
	entry.After = snapshot(created)
	entry.Description = "product " + created.Name + " created"
	s.record(ctx, entry)
	return created, nil
}

// Update applies a typed patch.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (Product, error) {
	var before, after Product
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = current
			patch.Apply(&current)
			if err := current.validate(); err != nil {
				return err
			}
			after = current
			return tx.Update(ctx, current)
		})
	})
	if err != nil {
		return Product{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "products", "product", strconv.FormatInt(id, 10))
	entry.Before = snapshot(before)
	entry.After = snapshot(after)
	s.record(ctx, entry)
	return after, nil
}

// Delete removes a product and its costs. Products on transaction lines are kept.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed Product
	var costs int64
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			removed, err = tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if costs, err = tx.DeleteCosts(ctx, id); err != nil {
				return err
			}
			return tx.Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "products", "product", strconv.FormatInt(id, 10))
	entry.Before = snapshot(removed)
	entry.Description = fmt.Sprintf("product %s deleted with %d costs", removed.Name, costs)
	s.record(ctx, entry)
	return nil
}

// AddCost records a supplier cost. A default cost takes the flag from the previous one.
func (s *Service) AddCost(ctx context.Context, productID int64, in CostInput) (Cost, error) {
	c, err := in.toCost(productID)
	if err != nil {
		return Cost{}, err
	}
	var created Cost
	err = db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.GetForUpdate(ctx, productID); err != nil {
				return err
			}
			if c.IsDefault {
				if err := tx.ClearDefaultCost(ctx, productID, 0); err != nil {
					return err
				}
			}
			var err error
			created, err = tx.InsertCost(ctx, c)
			return err
		})
	})
	if err != nil {
		return Cost{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "products", "product_cost", strconv.FormatInt(created.ID, 10))
	entry.After = costSnapshot(created)
	s.record(ctx, entry)
	return created, nil
}

// UpdateCost applies a typed patch to a cost.
func (s *Service) UpdateCost(ctx context.Context, id int64, patch CostPatch) (Cost, error) {
	var before, after Cost
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetCostForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = current
			patch.Apply(&current)
			if err := current.validate(); err != nil {
				return err
			}
			if current.IsDefault && !before.IsDefault {
				if err := tx.ClearDefaultCost(ctx, current.ProductID, current.ID); err != nil {
					return err
				}
			}
			after = current
			return tx.UpdateCost(ctx, current)
		})
	})
	if err != nil {
		return Cost{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "products", "product_cost", strconv.FormatInt(id, 10))
	entry.Before = costSnapshot(before)
	entry.After = costSnapshot(after)
	s.record(ctx, entry)
	return after, nil
}

// DeleteCost removes a cost.
func (s *Service) DeleteCost(ctx context.Context, id int64) error {
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.DeleteCost(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.NewAuditEntry(ctx, shared.ActionDelete, "products", "product_cost", strconv.FormatInt(id, 10)))
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

func snapshot(p Product) map[string]any {
	return map[string]any{
		"model_code":         p.ModelCode,
		"name":               p.Name,
		"default_sale_price": p.DefaultSalePrice.String(),
		"default_currency":   p.DefaultCurrency,
		"is_active":          p.IsActive,
	}
}

func costSnapshot(c Cost) map[string]any {
	return map[string]any{
		"product_id": c.ProductID,
		"cost":       c.Cost.String(),
		"currency":   c.Currency,
		"is_default": c.IsDefault,
	}
}
