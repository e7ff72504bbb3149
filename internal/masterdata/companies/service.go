package companies

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes company use-cases.
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

// List returns companies ordered by code.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Company, error) {
	return s.repo.List(ctx, filter)
}

// Get returns a company with its warehouses.
func (s *Service) Get(ctx context.Context, id int64) (Company, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Company{}, err
	}
	c.Warehouses, err = s.repo.ListWarehouses(ctx, id)
	return c, err
}

// Create stores a company together with its default MAIN warehouse.
func (s *Service) Create(ctx context.Context, in CreateInput) (Company, error) {
	c, err := in.toCompany()
	if err != nil {
		return Company{}, err
	}
	var created Company
	err = db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.Insert(ctx, c)
			if err != nil {
				return err
			}
			main, err := warehouses.CreateDefault(ctx, tx.Warehouses(), created.ID)
			if err != nil {
				return err
			}
			created.Warehouses = []warehouses.Warehouse{main}
			return nil
		})
	})
	if err != nil {
		return Company{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "companies", "company", strconv.FormatInt(created.ID, 10))
	entry.After = snapshot(created)
	entry.Description = "company " + created.Code + " created"
	s.record(ctx, entry)
	return created, nil
}

// Update applies a typed patch.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (Company, error) {
	var before, after Company
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
		return Company{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "companies", "company", strconv.FormatInt(id, 10))
	entry.Before = snapshot(before)
	entry.After = snapshot(after)
	s.record(ctx, entry)
	return after, nil
}

// Delete removes a company with its warehouses and their sub-warehouses. A company
// that still owns accounts, transactions or users is kept.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed Company
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			c, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			owned, err := tx.Warehouses().ListForUpdate(ctx, id)
			if err != nil {
				return err
			}
			for _, w := range owned {
				if _, err := warehouses.Remove(ctx, tx.Warehouses(), w.ID); err != nil {
					return err
				}
			}
			if err := tx.Delete(ctx, id); err != nil {
				return err
			}
			c.Warehouses = owned
			removed = c
			return nil
		})
	})
	if err != nil {
		return err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "companies", "company", strconv.FormatInt(id, 10))
	entry.Before = snapshot(removed)
	entry.Description = "company " + removed.Code + " deleted with " + strconv.Itoa(len(removed.Warehouses)) + " warehouses"
	s.record(ctx, entry)
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

func snapshot(c Company) map[string]any {
	return map[string]any{
		"code":             c.Code,
		"name":             c.Name,
		"tax_number":       c.TaxNumber,
		"default_currency": c.DefaultCurrency,
		"is_active":        c.IsActive,
	}
}
