// Package categories manages the product category tree.
package categories

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Category groups products. ParentID nests it under another category.
type Category struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateInput carries a new category.
type CreateInput struct {
	Code     string `json:"code" validate:"required,max=20"`
	Name     string `json:"name" validate:"required,max=100"`
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

// Patch lists the mutable category fields. ClearParent moves the category to the root.
type Patch struct {
	Code        *string `json:"code" validate:"omitempty,max=20"`
	Name        *string `json:"name" validate:"omitempty,max=100"`
	ParentID    *int64  `json:"parent_id" validate:"omitempty,gt=0"`
	ClearParent bool    `json:"clear_parent"`
	IsActive    *bool   `json:"is_active"`
}

// Apply copies set fields onto c.
func (p Patch) Apply(c *Category) {
	if p.Code != nil {
		c.Code = strings.ToUpper(strings.TrimSpace(*p.Code))
	}
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.ClearParent {
		c.ParentID = nil
	} else if p.ParentID != nil {
		parent := *p.ParentID
		c.ParentID = &parent
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}

func (c Category) validate() error {
	if c.Code == "" {
		return fmt.Errorf("%w: category code required", httpx.ErrValidation)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: category name required", httpx.ErrValidation)
	}
	if c.ParentID != nil && c.ID != 0 && *c.ParentID == c.ID {
		return fmt.Errorf("%w: category cannot be its own parent", httpx.ErrValidation)
	}
	return nil
}
