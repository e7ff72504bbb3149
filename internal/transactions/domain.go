// Package transactions implements sales, purchases and their returns.
package transactions

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Type is the kind of a transaction.
type Type string

const (
	TypeSale           Type = contacts.KindSale
	TypePurchase       Type = contacts.KindPurchase
	TypeSaleReturn     Type = contacts.KindSaleReturn
	TypePurchaseReturn Type = contacts.KindPurchaseReturn
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeSale, TypePurchase, TypeSaleReturn, TypePurchaseReturn:
		return true
	}
	return false
}

// Prefix returns the document number prefix of t.
func (t Type) Prefix() string {
	switch t {
	case TypeSale:
		return numbering.PrefixSale
	case TypePurchase:
		return numbering.PrefixPurchase
	case TypeSaleReturn:
		return numbering.PrefixSaleReturn
	case TypePurchaseReturn:
		return numbering.PrefixPurchaseReturn
	}
	return ""
}

// ReturnType returns the return kind for a sale or purchase.
func (t Type) ReturnType() (Type, bool) {
	switch t {
	case TypeSale:
		return TypeSaleReturn, true
	case TypePurchase:
		return TypePurchaseReturn, true
	}
	return "", false
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Transaction is a sale, purchase or return header with its lines.
type Transaction struct {
	ID              int64           `json:"id"`
	TransactionNo   string          `json:"transaction_no"`
	ExternalID      string          `json:"external_id,omitempty"`
	TransactionType Type            `json:"transaction_type"`
	CompanyID       int64           `json:"company_id"`
	ContactID       *int64          `json:"contact_id,omitempty"`
	TransactionDate time.Time       `json:"transaction_date"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	Currency        string          `json:"currency"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	IsPaid          bool            `json:"is_paid"`
	Status          Status          `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []Item          `json:"items"`
}

// LedgerDelta is the contact balance change a completed transaction stands for.
func (t Transaction) LedgerDelta() decimal.Decimal {
	return contacts.TransactionDelta(string(t.TransactionType), t.TotalAmount)
}

// Item is one transaction line.
type Item struct {
	ID              int64           `json:"id"`
	TransactionID   int64           `json:"transaction_id"`
	LineNo          int             `json:"line_no"`
	ProductID       *int64          `json:"product_id,omitempty"`
	SourceItemID    *int64          `json:"source_item_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Profit          decimal.Decimal `json:"profit"`
	ProfitMargin    decimal.Decimal `json:"profit_margin"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ItemInput is a requested line. Explicit discount or tax amounts take precedence
// over the percentages.
type ItemInput struct {
	ProductID       *int64              `json:"product_id"`
	Description     string              `json:"description" validate:"max=200"`
	Quantity        decimal.NullDecimal `json:"quantity"`
	UnitPrice       decimal.Decimal     `json:"unit_price"`
	CostPrice       decimal.Decimal     `json:"cost_price"`
	DiscountPercent decimal.Decimal     `json:"discount_percent"`
	DiscountAmount  decimal.NullDecimal `json:"discount_amount"`
	TaxPercent      decimal.Decimal     `json:"tax_percent"`
	TaxAmount       decimal.NullDecimal `json:"tax_amount"`
}

// CreateInput is the body of a new transaction.
type CreateInput struct {
	TransactionType Type                `json:"transaction_type" validate:"required,oneof=sale purchase sale_return purchase_return"`
	CompanyID       int64               `json:"company_id" validate:"required,gt=0"`
	ContactID       *int64              `json:"contact_id" validate:"omitempty,gt=0"`
	ExternalID      string              `json:"external_id" validate:"max=50"`
	TransactionDate *time.Time          `json:"transaction_date"`
	DueDate         *time.Time          `json:"due_date"`
	Currency        string              `json:"currency" validate:"omitempty,min=3,max=10"`
	ExchangeRate    decimal.NullDecimal `json:"exchange_rate"`
	Status          Status              `json:"status" validate:"omitempty,oneof=draft completed"`
	Notes           string              `json:"notes"`
	Items           []ItemInput         `json:"items" validate:"required,min=1,dive"`
}

// Patch lists the mutable header fields. Amounts, parties and status only change
// through the lifecycle operations.
type Patch struct {
	Notes      *string    `json:"notes"`
	DueDate    *time.Time `json:"due_date"`
	ExternalID *string    `json:"external_id" validate:"omitempty,max=50"`
}

// Apply copies set fields onto t.
func (p Patch) Apply(t *Transaction) {
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.DueDate != nil {
		due := p.DueDate.UTC()
		t.DueDate = &due
	}
	if p.ExternalID != nil {
		t.ExternalID = strings.TrimSpace(*p.ExternalID)
	}
}

// ReturnLine selects a quantity of one original line for a partial return.
type ReturnLine struct {
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ReturnInput requests a return of a sale or purchase.
type ReturnInput struct {
	Reason     string
	FullReturn bool
	Lines      []ReturnLine
}

// ListFilter narrows transaction listings.
type ListFilter struct {
	Type      Type
	CompanyID int64
	ContactID int64
	Status    Status
	DateFrom  *time.Time
	DateTo    *time.Time
	Window    shared.Window
}

func (f ListFilter) validate() error {
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", httpx.ErrValidation, f.Type)
	}
	switch f.Status {
	case "", StatusDraft, StatusCompleted, StatusCancelled:
	default:
		return fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, f.Status)
	}
	return nil
}
