// Package companies manages the companies that own accounts, transactions and warehouses.
package companies

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Company is a legal entity the ledger books for.
type Company struct {
	ID              int64                  `json:"id"`
	Code            string                 `json:"code"`
	Name            string                 `json:"name"`
	FullName        string                 `json:"full_name,omitempty"`
	Country         string                 `json:"country,omitempty"`
	CountryCode     string                 `json:"country_code,omitempty"`
	TaxNumber       string                 `json:"tax_number,omitempty"`
	Address         string                 `json:"address,omitempty"`
	Phone           string                 `json:"phone,omitempty"`
	Email           string                 `json:"email,omitempty"`
	DefaultCurrency string                 `json:"default_currency"`
	IsActive        bool                   `json:"is_active"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Warehouses      []warehouses.Warehouse `json:"warehouses,omitempty"`
}

// ListFilter narrows List.
type ListFilter struct {
	Search   string
	IsActive *bool
	Window   shared.Window
}

// CreateInput carries a new company.
type CreateInput struct {
	Code            string `json:"code" validate:"required,max=20"`
	Name            string `json:"name" validate:"required,max=200"`
	FullName        string `json:"full_name" validate:"max=500"`
	Country         string `json:"country"`
	CountryCode     string `json:"country_code" validate:"omitempty,len=2"`
	TaxNumber       string `json:"tax_number" validate:"max=50"`
	Address         string `json:"address"`
	Phone           string `json:"phone" validate:"max=50"`
	Email           string `json:"email" validate:"omitempty,email"`
	DefaultCurrency string `json:"default_currency" validate:"omitempty,min=3,max=10"`
}

func (in CreateInput) toCompany() (Company, error) {
	c := Company{
		Code:            strings.ToUpper(strings.TrimSpace(in.Code)),
		Name:            strings.TrimSpace(in.Name),
		FullName:        strings.TrimSpace(in.FullName),
		Country:         strings.TrimSpace(in.Country),
		CountryCode:     strings.ToUpper(strings.TrimSpace(in.CountryCode)),
		TaxNumber:       strings.TrimSpace(in.TaxNumber),
		Address:         strings.TrimSpace(in.Address),
		Phone:           strings.TrimSpace(in.Phone),
		Email:           strings.TrimSpace(in.Email),
		DefaultCurrency: strings.ToUpper(strings.TrimSpace(in.DefaultCurrency)),
		IsActive:        true,
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "TRY"
	}
	return c, c.validate()
}

func (c Company) validate() error {
	if c.Code == "" {
		return fmt.Errorf("%w: company code required", httpx.ErrValidation)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: company name required", httpx.ErrValidation)
	}
	if c.DefaultCurrency == "" {
		return fmt.Errorf("%w: default currency required", httpx.ErrValidation)
	}
	return nil
}

// Patch lists the mutable company fields; nil leaves a field unchanged.
type Patch struct {
	Code            *string `json:"code" validate:"omitempty,max=20"`
	Name            *string `json:"name" validate:"omitempty,max=200"`
	FullName        *string `json:"full_name"`
	Country         *string `json:"country"`
	CountryCode     *string `json:"country_code" validate:"omitempty,len=2"`
	TaxNumber       *string `json:"tax_number"`
	Address         *string `json:"address"`
	Phone           *string `json:"phone"`
	Email           *string `json:"email" validate:"omitempty,email"`
	DefaultCurrency *string `json:"default_currency" validate:"omitempty,min=3,max=10"`
	IsActive        *bool   `json:"is_active"`
}

// Apply copies set fields onto c.
func (p Patch) Apply(c *Company) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&c.Code, p.Code)
	set(&c.Name, p.Name)
	set(&c.FullName, p.FullName)
	set(&c.Country, p.Country)
	set(&c.CountryCode, p.CountryCode)
	set(&c.TaxNumber, p.TaxNumber)
	set(&c.Address, p.Address)
	set(&c.Phone, p.Phone)
	set(&c.Email, p.Email)
	set(&c.DefaultCurrency, p.DefaultCurrency)
	c.Code = strings.ToUpper(c.Code)
	c.CountryCode = strings.ToUpper(c.CountryCode)
	c.DefaultCurrency = strings.ToUpper(c.DefaultCurrency)
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}
