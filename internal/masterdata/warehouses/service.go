package warehouses

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

// Service exposes warehouse use-cases.
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

// ListByCompany returns a company's warehouses with their sub-warehouses, default first.
func (s *Service) ListByCompany(ctx context.Context, companyID int64) ([]Warehouse, error) {
	if companyID <= 0 {
		return nil, fmt.Errorf("%w: company_id required", httpx.ErrValidation)
	}
	return s.repo.ListByCompany(ctx, companyID)
}

// Get returns a warehouse with its sub-warehouses.
func (s *Service) Get(ctx context.Context, id int64) (Warehouse, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a warehouse. A default warehouse takes the flag from the previous one.
func (s *Service) Create(ctx context.Context, in CreateInput) (Warehouse, error) {
	w, err := in.toWarehouse()
	if err != nil {
		return Warehouse{}, err
	}
	var created Warehouse
	err = db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = insert(ctx, tx, w)
			return err
		})
	})
	if err != nil {
		return Warehouse{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "warehouses", "warehouse", strconv.FormatInt(created.ID, 10))
	entry.After = snapshot(created)
	entry.Description = "warehouse " + created.Code + " created"
	s.record(ctx, entry)
	return created, nil
}

func insert(ctx context.Context, tx TxRepository, w Warehouse) (Warehouse, error) {
	if w.IsDefault {
		if err := tx.ClearDefault(ctx, w.CompanyID, 0); err != nil {
			return Warehouse{}, err
		}
	}
	return tx.Insert(ctx, w)
}

// CreateDefault opens the MAIN warehouse every new company starts with.
func CreateDefault(ctx context.Context, tx TxRepository, companyID int64) (Warehouse, error) {
	return insert(ctx, tx, Warehouse{CompanyID: companyID, Code: "MAIN", Name: "Main warehouse", IsDefault: true, IsActive: true})
}

// Update applies a typed patch.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (Warehouse, error) {
	var before, after Warehouse
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
			if current.IsDefault && !before.IsDefault {
				if err := tx.ClearDefault(ctx, current.CompanyID, current.ID); err != nil {
					return err
				}
			}
			if err := tx.Update(ctx, current); err != nil {
				return err
			}
			after = current
			return nil
		})
	})
	if err != nil {
		return Warehouse{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "warehouses", "warehouse", strconv.FormatInt(id, 10))
	entry.Before = snapshot(before)
	entry.After = snapshot(after)
	s.record(ctx, entry)
	return after, nil
}

// Delete removes a warehouse together with its sub-warehouses.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed Warehouse
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			removed, err = Remove(ctx, tx, id)
			return err
		})
	})
	if err != nil {
		return err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "warehouses", "warehouse", strconv.FormatInt(id, 10))
	entry.Before = snapshot(removed)
	entry.Description = fmt.Sprintf("warehouse %s deleted with %d sub-warehouses", removed.Code, len(removed.SubWarehouses))
	s.record(ctx, entry)
	return nil
}

// Remove deletes the sub-warehouses of a warehouse and then the warehouse itself,
// inside the caller's transaction.
func Remove(ctx context.Context, tx TxRepository, id int64) (Warehouse, error) {
	w, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return Warehouse{}, err
	}
	if _, err := tx.DeleteSubs(ctx, id); err != nil {
		return Warehouse{}, err
	}
	if err := tx.Delete(ctx, id); err != nil {
		return Warehouse{}, err
	}
	return w, nil
}

// CreateSub adds a sub-warehouse.
func (s *Service) CreateSub(ctx context.Context, warehouseID int64, in SubInput) (SubWarehouse, error) {
	sub := SubWarehouse{
		WarehouseID: warehouseID,
		Code:        strings.ToUpper(strings.TrimSpace(in.Code)),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		IsActive:    true,
	}
	if err := sub.validate(); err != nil {
		return SubWarehouse{}, err
	}
	var created SubWarehouse
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.GetForUpdate(ctx, warehouseID); err != nil {
				return err
			}
			var err error
			created, err = tx.InsertSub(ctx, sub)
			return err
		})
	})
	if err != nil {
		return SubWarehouse{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "warehouses", "sub_warehouse", strconv.FormatInt(created.ID, 10))
	entry.After = map[string]any{"warehouse_id": warehouseID, "code": created.Code, "name": created.Name}
	s.record(ctx, entry)
	return created, nil
}

// UpdateSub applies a typed patch to a sub-warehouse.
func (s *Service) UpdateSub(ctx context.Context, id int64, patch SubPatch) (SubWarehouse, error) {
	var after SubWarehouse
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetSubForUpdate(ctx, id)
			if err != nil {
				return err
			}
			patch.Apply(&current)
			if err := current.validate(); err != nil {
				return err
			}
			after = current
			return tx.UpdateSub(ctx, current)
		})
	})
	if err != nil {
		return SubWarehouse{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "warehouses", "sub_warehouse", strconv.FormatInt(id, 10))
	entry.After = map[string]any{"code": after.Code, "name": after.Name, "is_active": after.IsActive}
	s.record(ctx, entry)
	return after, nil
}

// DeleteSub removes one sub-warehouse.
func (s *Service) DeleteSub(ctx context.Context, id int64) error {
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.DeleteSub(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.NewAuditEntry(ctx, shared.ActionDelete, "warehouses", "sub_warehouse", strconv.FormatInt(id, 10)))
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

func snapshot(w Warehouse) map[string]any {
	return map[string]any{
		"company_id": w.CompanyID,
		"code":       w.Code,
		"name":       w.Name,
		"is_default": w.IsDefault,
		"is_active":  w.IsActive,
	}
}
