// Package warehouses manages the virtual warehouses of a company and their
// sub-warehouses. A warehouse owns its sub-warehouses: deleting it removes them.
package warehouses

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Warehouse is a stock location of a company.
type Warehouse struct {
	ID            int64          `json:"id"`
	CompanyID     int64          `json:"company_id"`
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	IsDefault     bool           `json:"is_default"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	SubWarehouses []SubWarehouse `json:"sub_warehouses"`
}

// SubWarehouse is a section of a warehouse.
type SubWarehouse struct {
	ID          int64     `json:"id"`
	WarehouseID int64     `json:"warehouse_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateInput carries a new warehouse.
type CreateInput struct {
	CompanyID   int64  `json:"company_id" validate:"required,gt=0"`
	Code        string `json:"code" validate:"required,max=20"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

func (in CreateInput) toWarehouse() (Warehouse, error) {
	w := Warehouse{
		CompanyID:   in.CompanyID,
		Code:        strings.ToUpper(strings.TrimSpace(in.Code)),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		IsDefault:   in.IsDefault,
		IsActive:    true,
	}
	return w, w.validate()
}

func (w Warehouse) validate() error {
	if w.CompanyID <= 0 {
		return fmt.Errorf("%w: company_id required", httpx.ErrValidation)
	}
	if w.Code == "" {
		return fmt.Errorf("%w: warehouse code required", httpx.ErrValidation)
	}
	if w.Name == "" {
		return fmt.Errorf("%w: warehouse name required", httpx.ErrValidation)
	}
	return nil
}

// Patch lists the mutable warehouse fields; nil leaves a field unchanged.
type Patch struct {
	Code        *string `json:"code" validate:"omitempty,max=20"`
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description"`
	IsDefault   *bool   `json:"is_default"`
	IsActive    *bool   `json:"is_active"`
}

// Apply copies set fields onto w.
func (p Patch) Apply(w *Warehouse) {
	if p.Code != nil {
		w.Code = strings.ToUpper(strings.TrimSpace(*p.Code))
	}
	if p.Name != nil {
		w.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		w.Description = strings.TrimSpace(*p.Description)
	}
	if p.IsDefault != nil {
		w.IsDefault = *p.IsDefault
	}
	if p.IsActive != nil {
		w.IsActive = *p.IsActive
	}
}

// SubInput carries a new sub-warehouse.
type SubInput struct {
	Code        string `json:"code" validate:"required,max=20"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

// SubPatch lists the mutable sub-warehouse fields.
type SubPatch struct {
	Code        *string `json:"code" validate:"omitempty,max=20"`
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// Apply copies set fields onto s.
func (p SubPatch) Apply(s *SubWarehouse) {
	if p.Code != nil {
		s.Code = strings.ToUpper(strings.TrimSpace(*p.Code))
	}
	if p.Name != nil {
		s.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		s.Description = strings.TrimSpace(*p.Description)
	}
	if p.IsActive != nil {
		s.IsActive = *p.IsActive
	}
}

func (s SubWarehouse) validate() error {
	if s.Code == "" {
		return fmt.Errorf("%w: sub-warehouse code required", httpx.ErrValidation)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: sub-warehouse name required", httpx.ErrValidation)
	}
	return nil
}
