// Package products manages the product catalogue and the supplier costs of each product.
package products

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Product is a sellable item referenced by transaction lines.
type Product struct {
	ID               int64           `json:"id"`
	ModelCode        string          `json:"model_code"`
	Name             string          `json:"name"`
	CategoryID       *int64          `json:"category_id"`
	DefaultSalePrice decimal.Decimal `json:"default_sale_price"`
	DefaultCurrency  string          `json:"default_currency"`
	TrackStock       bool            `json:"track_stock"`
	CurrentStock     int             `json:"current_stock"`
	Description      string          `json:"description,omitempty"`
	Barcode          string          `json:"barcode,omitempty"`
	Unit             string          `json:"unit"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Costs            []Cost          `json:"costs"`
}

// Cost is what a supplier charges for a product over a validity window.
type Cost struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	SupplierID *int64          `json:"supplier_id"`
	Cost       decimal.Decimal `json:"cost"`
	Currency   string          `json:"currency"`
	ValidFrom  *time.Time      `json:"valid_from"`
	ValidUntil *time.Time      `json:"valid_until"`
	IsDefault  bool            `json:"is_default"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ListFilter narrows List.
type ListFilter struct {
	Search     string
	CategoryID int64
	Window     shared.Window
}

// CreateInput carries a new product.
type CreateInput struct {
	ModelCode        string          `json:"model_code" validate:"required,max=50"`
	Name             string          `json:"name" validate:"required,max=200"`
	CategoryID       *int64          `json:"category_id" validate:"omitempty,gt=0"`
	DefaultSalePrice decimal.Decimal `json:"default_sale_price"`
	DefaultCurrency  string          `json:"default_currency" validate:"omitempty,min=3,max=10"`
	TrackStock       bool            `json:"track_stock"`
	Description      string          `json:"description"`
	Barcode          string          `json:"barcode" validate:"max=50"`
	Unit             string          `json:"unit" validate:"max=20"`
}

func (in CreateInput) toProduct() (Product, error) {
	p := Product{
		ModelCode:        strings.TrimSpace(in.ModelCode),
		Name:             strings.TrimSpace(in.Name),
		CategoryID:       in.CategoryID,
		DefaultSalePrice: shared.RoundAmount(in.DefaultSalePrice),
		DefaultCurrency:  strings.ToUpper(strings.TrimSpace(in.DefaultCurrency)),
		TrackStock:       in.TrackStock,
		Description:      strings.TrimSpace(in.Description),
		Barcode:          strings.TrimSpace(in.Barcode),
		Unit:             strings.TrimSpace(in.Unit),
		IsActive:         true,
	}
	if p.DefaultCurrency == "" {
		p.DefaultCurrency = "TRY"
	}
	if p.Unit == "" {
		p.Unit = "pcs"
	}
	return p, p.validate()
}

func (p Product) validate() error {
	if p.ModelCode == "" {
		return fmt.Errorf("%w: model code required", httpx.ErrValidation)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: product name required", httpx.ErrValidation)
	}
	if p.DefaultSalePrice.IsNegative() {
		return fmt.Errorf("%w: default sale price cannot be negative", httpx.ErrValidation)
	}
	if p.CurrentStock < 0 && p.TrackStock {
		return fmt.Errorf("%w: stock cannot be negative", httpx.ErrValidation)
	}
	return nil
}

// Patch lists the mutable product fields; nil leaves a field unchanged.
type Patch struct {
	ModelCode        *string          `json:"model_code" validate:"omitempty,max=50"`
	Name             *string          `json:"name" validate:"omitempty,max=200"`
	CategoryID       *int64           `json:"category_id" validate:"omitempty,gt=0"`
	ClearCategory    bool             `json:"clear_category"`
	DefaultSalePrice *decimal.Decimal `json:"default_sale_price"`
	DefaultCurrency  *string          `json:"default_currency" validate:"omitempty,min=3,max=10"`
	TrackStock       *bool            `json:"track_stock"`
	CurrentStock     *int             `json:"current_stock"`
	Description      *string          `json:"description"`
	Barcode          *string          `json:"barcode" validate:"omitempty,max=50"`
	Unit             *string          `json:"unit" validate:"omitempty,max=20"`
	IsActive         *bool            `json:"is_active"`
}

// Apply copies set fields onto p.
func (pt Patch) Apply(p *Product) {
	if pt.ModelCode != nil {
		p.ModelCode = strings.TrimSpace(*pt.ModelCode)
	}
	if pt.Name != nil {
		p.Name = strings.TrimSpace(*pt.Name)
	}
	if pt.ClearCategory {
		p.CategoryID = nil
	} else if pt.CategoryID != nil {
		id := *pt.CategoryID
		p.CategoryID = &id
	}
	if pt.DefaultSalePrice != nil {
		p.DefaultSalePrice = shared.RoundAmount(*pt.DefaultSalePrice)
	}
	if pt.DefaultCurrency != nil {
		p.DefaultCurrency = strings.ToUpper(strings.TrimSpace(*pt.DefaultCurrency))
	}
	if pt.TrackStock != nil {
		p.TrackStock = *pt.TrackStock
	}
	if pt.CurrentStock != nil {
		p.CurrentStock = *pt.CurrentStock
	}
	if pt.Description != nil {
		p.Description = strings.TrimSpace(*pt.Description)
	}
	if pt.Barcode != nil {
		p.Barcode = strings.TrimSpace(*pt.Barcode)
	}
	if pt.Unit != nil {
		p.Unit = strings.TrimSpace(*pt.Unit)
	}
	if pt.IsActive != nil {
		p.IsActive = *pt.IsActive
	}
}

// CostInput carries a new product cost.
type CostInput struct {
	SupplierID *int64          `json:"supplier_id" validate:"omitempty,gt=0"`
	Cost       decimal.Decimal `json:"cost"`
	Currency   string          `json:"currency" validate:"omitempty,min=3,max=10"`
	ValidFrom  *time.Time      `json:"valid_from"`
	ValidUntil *time.Time      `json:"valid_until"`
	IsDefault  bool            `json:"is_default"`
}

func (in CostInput) toCost(productID int64) (Cost, error) {
	c := Cost{
		ProductID:  productID,
		SupplierID: in.SupplierID,
		Cost:       shared.RoundAmount(in.Cost),
		Currency:   strings.ToUpper(strings.TrimSpace(in.Currency)),
		ValidFrom:  in.ValidFrom,
		ValidUntil: in.ValidUntil,
		IsDefault:  in.IsDefault,
		IsActive:   true,
	}
	if c.Currency == "" {
		c.Currency = "TRY"
	}
	return c, c.validate()
}

func (c Cost) validate() error {
	if c.Cost.IsNegative() {
		return fmt.Errorf("%w: cost cannot be negative", httpx.ErrValidation)
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		return fmt.Errorf("%w: valid_until is before valid_from", httpx.ErrValidation)
	}
	return nil
}

// CostPatch lists the mutable cost fields.
type CostPatch struct {
	SupplierID *int64           `json:"supplier_id" validate:"omitempty,gt=0"`
	Cost       *decimal.Decimal `json:"cost"`
	Currency   *string          `json:"currency" validate:"omitempty,min=3,max=10"`
	ValidFrom  *time.Time       `json:"valid_from"`
	ValidUntil *time.Time       `json:"valid_until"`
	IsDefault  *bool            `json:"is_default"`
	IsActive   *bool            `json:"is_active"`
}

// Apply copies set fields onto c.
func (p CostPatch) Apply(c *Cost) {
	if p.SupplierID != nil {
		id := *p.SupplierID
		c.SupplierID = &id
	}
	if p.Cost != nil {
		c.Cost = shared.RoundAmount(*p.Cost)
	}
	if p.Currency != nil {
		c.Currency = strings.ToUpper(strings.TrimSpace(*p.Currency))
	}
	if p.ValidFrom != nil {
		c.ValidFrom = p.ValidFrom
	}
	if p.ValidUntil != nil {
		c.ValidUntil = p.ValidUntil
	}
	if p.IsDefault != nil {
		c.IsDefault = *p.IsDefault
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}
