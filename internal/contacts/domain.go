// Package contacts manages customers and suppliers and their per-currency balances.
package contacts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ContactType classifies a business partner.
type ContactType string

const (
	TypeCustomer ContactType = "customer"
	TypeSupplier ContactType = "supplier"
	TypeBoth     ContactType = "both"
)

// Valid reports whether t is a known type.
func (t ContactType) Valid() bool {
	switch t {
	case TypeCustomer, TypeSupplier, TypeBoth:
		return true
	}
	return false
}

// Contact is a customer and/or supplier.
type Contact struct {
	ID              int64           `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	ContactType     ContactType     `json:"contact_type"`
	CompanyName     string          `json:"company_name,omitempty"`
	TaxNumber       string          `json:"tax_number,omitempty"`
	TaxOffice       string          `json:"tax_office,omitempty"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Mobile          string          `json:"mobile,omitempty"`
	Address         string          `json:"address,omitempty"`
	City            string          `json:"city,omitempty"`
	Country         string          `json:"country,omitempty"`
	PaymentTermDays int             `json:"payment_term_days"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	DefaultCurrency string          `json:"default_currency"`
	Notes           string          `json:"notes,omitempty"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Accounts        []Account       `json:"accounts,omitempty"`
}

// Account is the running balance of a contact in one currency. A positive balance
// means the contact owes the business.
type Account struct {
	ID        int64           `json:"id"`
	ContactID int64           `json:"contact_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateInput carries a new contact.
type CreateInput struct {
	Code            string          `json:"code" validate:"required,max=50"`
	Name            string          `json:"name" validate:"required,max=200"`
	ContactType     ContactType     `json:"contact_type" validate:"omitempty,oneof=customer supplier both"`
	CompanyName     string          `json:"company_name" validate:"max=200"`
	TaxNumber       string          `json:"tax_number" validate:"max=50"`
	TaxOffice       string          `json:"tax_office" validate:"max=100"`
	Email           string          `json:"email" validate:"omitempty,email,max=100"`
	Phone           string          `json:"phone" validate:"max=50"`
	Mobile          string          `json:"mobile" validate:"max=50"`
	Address         string          `json:"address"`
	City            string          `json:"city" validate:"max=50"`
	Country         string          `json:"country" validate:"max=50"`
	PaymentTermDays int             `json:"payment_term_days" validate:"min=0"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	DefaultCurrency string          `json:"default_currency" validate:"omitempty,min=3,max=10"`
	Notes           string          `json:"notes"`
}

// Patch lists the mutable contact fields; nil leaves a field unchanged.
type Patch struct {
	Name            *string          `json:"name" validate:"omitempty,max=200"`
	ContactType     *ContactType     `json:"contact_type" validate:"omitempty,oneof=customer supplier both"`
	CompanyName     *string          `json:"company_name" validate:"omitempty,max=200"`
	TaxNumber       *string          `json:"tax_number" validate:"omitempty,max=50"`
	TaxOffice       *string          `json:"tax_office" validate:"omitempty,max=100"`
	Email           *string          `json:"email" validate:"omitempty,email,max=100"`
	Phone           *string          `json:"phone" validate:"omitempty,max=50"`
	Mobile          *string          `json:"mobile" validate:"omitempty,max=50"`
	Address         *string          `json:"address"`
	City            *string          `json:"city" validate:"omitempty,max=50"`
	Country         *string          `json:"country" validate:"omitempty,max=50"`
	PaymentTermDays *int             `json:"payment_term_days" validate:"omitempty,min=0"`
	CreditLimit     *decimal.Decimal `json:"credit_limit"`
	DefaultCurrency *string          `json:"default_currency" validate:"omitempty,min=3,max=10"`
	Notes           *string          `json:"notes"`
	IsActive        *bool            `json:"is_active"`
}

// Apply copies set fields onto c.
func (p Patch) Apply(c *Contact) {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setString(&c.Name, p.Name)
	setString(&c.CompanyName, p.CompanyName)
	setString(&c.TaxNumber, p.TaxNumber)
	setString(&c.TaxOffice, p.TaxOffice)
	setString(&c.Email, p.Email)
	setString(&c.Phone, p.Phone)
	setString(&c.Mobile, p.Mobile)
	setString(&c.Address, p.Address)
	setString(&c.City, p.City)
	setString(&c.Country, p.Country)
	setString(&c.Notes, p.Notes)
	if p.ContactType != nil {
		c.ContactType = *p.ContactType
	}
	if p.PaymentTermDays != nil {
		c.PaymentTermDays = *p.PaymentTermDays
	}
	if p.CreditLimit != nil {
		c.CreditLimit = shared.RoundAmount(*p.CreditLimit)
	}
	if p.DefaultCurrency != nil {
		c.DefaultCurrency = strings.ToUpper(strings.TrimSpace(*p.DefaultCurrency))
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}

// ListFilter narrows contact listings.
type ListFilter struct {
	Search   string
	Type     ContactType
	IsActive *bool
	Window   shared.Window
}

func (in CreateInput) toContact(defaultCurrency string) (Contact, error) {
	c := Contact{
		Code:            strings.TrimSpace(in.Code),
		Name:            strings.TrimSpace(in.Name),
		ContactType:     in.ContactType,
		CompanyName:     strings.TrimSpace(in.CompanyName),
		TaxNumber:       strings.TrimSpace(in.TaxNumber),
		TaxOffice:       strings.TrimSpace(in.TaxOffice),
		Email:           strings.TrimSpace(in.Email),
		Phone:           strings.TrimSpace(in.Phone),
		Mobile:          strings.TrimSpace(in.Mobile),
		Address:         strings.TrimSpace(in.Address),
		City:            strings.TrimSpace(in.City),
		Country:         strings.TrimSpace(in.Country),
		PaymentTermDays: in.PaymentTermDays,
		CreditLimit:     shared.RoundAmount(in.CreditLimit),
		DefaultCurrency: strings.ToUpper(strings.TrimSpace(in.DefaultCurrency)),
		Notes:           in.Notes,
		IsActive:        true,
	}
	if c.ContactType == "" {
		c.ContactType = TypeBoth
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = defaultCurrency
	}
	switch {
	case c.Code == "" || c.Name == "":
		return Contact{}, fmt.Errorf("%w: code and name required", httpx.ErrValidation)
	case !c.ContactType.Valid():
		return Contact{}, fmt.Errorf("%w: unknown contact type %q", httpx.ErrValidation, c.ContactType)
	case c.PaymentTermDays < 0:
		return Contact{}, fmt.Errorf("%w: payment_term_days must not be negative", httpx.ErrValidation)
	case c.CreditLimit.IsNegative():
		return Contact{}, fmt.Errorf("%w: credit_limit must not be negative", httpx.ErrValidation)
	}
	return c, nil
}
