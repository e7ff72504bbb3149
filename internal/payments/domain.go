// Package payments records money movements against transactions, contacts and
// accounts, and books transfers between accounts as paired payment legs.
package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Type is the direction of a payment.
type Type string

const (
	TypeIncoming        Type = "incoming"
	TypeOutgoing        Type = "outgoing"
	TypeTransferIn      Type = "transfer_in"
	TypeTransferOut     Type = "transfer_out"
	TypeIntercompanyIn  Type = "intercompany_in"
	TypeIntercompanyOut Type = "intercompany_out"
	TypeCurrencyBuy     Type = "currency_buy"
	TypeCurrencySell    Type = "currency_sell"
)

// Valid reports whether t is a known payment type.
func (t Type) Valid() bool {
	switch t {
	case TypeIncoming, TypeOutgoing, TypeTransferIn, TypeTransferOut,
		TypeIntercompanyIn, TypeIntercompanyOut, TypeCurrencyBuy, TypeCurrencySell:
		return true
	}
	return false
}

// Inflow reports whether money enters the account. A currency purchase brings the
// bought currency in.
func (t Type) Inflow() bool {
	switch t {
	case TypeIncoming, TypeTransferIn, TypeIntercompanyIn, TypeCurrencyBuy:
		return true
	}
	return false
}

// Prefix is the document prefix for the direction.
func (t Type) Prefix() string {
	if t.Inflow() {
		return numbering.PrefixPaymentIn
	}
	return numbering.PrefixPaymentOut
}

// Movement is the account movement a payment books.
func (t Type) Movement() accounts.MovementType {
	if t.Inflow() {
		return accounts.MovementDeposit
	}
	return accounts.MovementWithdrawal
}

func (t Type) transferLeg() bool {
	return t == TypeTransferIn || t == TypeTransferOut
}

// Channel is how the money moved.
type Channel string

const (
	ChannelCash         Channel = "cash"
	ChannelBankTransfer Channel = "bank_transfer"
	ChannelCreditCard   Channel = "credit_card"
	ChannelPayTR        Channel = "paytr"
	ChannelGPay         Channel = "gpay"
	ChannelCrypto       Channel = "crypto"
	ChannelAdvance      Channel = "advance"
	ChannelOther        Channel = "other"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelCash, ChannelBankTransfer, ChannelCreditCard, ChannelPayTR, ChannelGPay,
		ChannelCrypto, ChannelAdvance, ChannelOther:
		return true
	}
	return false
}

// Status of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Payment is a recorded money movement.
type Payment struct {
	ID             int64           `json:"id"`
	PaymentNo      string          `json:"payment_no"`
	ExternalID     string          `json:"external_id,omitempty"`
	TransactionID  *int64          `json:"transaction_id,omitempty"`
	ContactID      *int64          `json:"contact_id,omitempty"`
	AccountID      *int64          `json:"account_id,omitempty"`
	PaymentType    Type            `json:"payment_type"`
	PaymentChannel Channel         `json:"payment_channel"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	IsAdvance      bool            `json:"is_advance"`
	Status         Status          `json:"status"`
	ReferenceNo    string          `json:"reference_no,omitempty"`
	Description    string          `json:"description,omitempty"`
	PaymentDate    time.Time       `json:"payment_date"`
	TransferRef    uuid.NullUUID   `json:"transfer_ref"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ContactDelta is the contact balance change the payment causes.
func (p Payment) ContactDelta() decimal.Decimal {
	if p.PaymentType.Inflow() {
		return p.Amount.Neg()
	}
	return p.Amount
}

// CreateInput records a payment. A missing exchange rate is taken from the rate store.
type CreateInput struct {
	PaymentType    Type                `json:"payment_type" validate:"required"`
	PaymentChannel Channel             `json:"payment_channel" validate:"required"`
	Currency       string              `json:"currency" validate:"omitempty,min=3,max=10"`
	Amount         decimal.Decimal     `json:"amount"`
	TransactionID  *int64              `json:"transaction_id" validate:"omitempty,gt=0"`
	ContactID      *int64              `json:"contact_id" validate:"omitempty,gt=0"`
	AccountID      *int64              `json:"account_id" validate:"omitempty,gt=0"`
	ExternalID     string              `json:"external_id" validate:"max=50"`
	ExchangeRate   decimal.NullDecimal `json:"exchange_rate"`
	DueDate        *time.Time          `json:"due_date"`
	IsAdvance      bool                `json:"is_advance"`
	ReferenceNo    string              `json:"reference_no" validate:"max=100"`
	Description    string              `json:"description"`
	PaymentDate    *time.Time          `json:"payment_date"`

	// IdempotencyKey comes from the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

func (in CreateInput) validate() error {
	switch {
	case !in.PaymentType.Valid():
		return fmt.Errorf("%w: unknown payment type %q", httpx.ErrValidation, in.PaymentType)
	case in.PaymentType.transferLeg():
		return fmt.Errorf("%w: transfer legs are created through the transfer endpoint", httpx.ErrValidation)
	case !in.PaymentChannel.Valid():
		return fmt.Errorf("%w: unknown payment channel %q", httpx.ErrValidation, in.PaymentChannel)
	case !in.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", httpx.ErrValidation)
	}
	return nil
}

// Patch lists the mutable fields of a payment. Amounts are immutable; delete and
// re-create to correct them.
type Patch struct {
	ReferenceNo *string    `json:"reference_no" validate:"omitempty,max=100"`
	Description *string    `json:"description"`
	Status      *Status    `json:"status"`
	DueDate     *time.Time `json:"due_date"`
}

// Apply copies the set fields onto p.
func (pt Patch) Apply(p *Payment) error {
	if pt.Status != nil {
		if !pt.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, *pt.Status)
		}
		p.Status = *pt.Status
	}
	if pt.ReferenceNo != nil {
		p.ReferenceNo = strings.TrimSpace(*pt.ReferenceNo)
	}
	if pt.Description != nil {
		p.Description = *pt.Description
	}
	if pt.DueDate != nil {
		due := pt.DueDate.UTC()
		p.DueDate = &due
	}
	return nil
}

// TransferInput moves money between two accounts as a pair of payment legs. For
// accounts in different currencies either ToAmount or ExchangeRate is required.
type TransferInput struct {
	FromAccountID  int64               `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID    int64               `json:"to_account_id" validate:"required,gt=0"`
	Amount         decimal.Decimal     `json:"amount"`
	ToAmount       decimal.NullDecimal `json:"to_amount"`
	ExchangeRate   decimal.NullDecimal `json:"exchange_rate"`
	PaymentChannel Channel             `json:"payment_channel"`
	ReferenceNo    string              `json:"reference_no" validate:"max=100"`
	Description    string              `json:"description"`
	PaymentDate    *time.Time          `json:"payment_date"`

	// IdempotencyKey comes from the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

// Transfer is a booked transfer: both legs and the movements they caused.
type Transfer struct {
	TransferNo  string            `json:"transfer_no"`
	TransferRef uuid.UUID         `json:"transfer_ref"`
	FromAmount  decimal.Decimal   `json:"from_amount"`
	ToAmount    decimal.Decimal   `json:"to_amount"`
	Rate        decimal.Decimal   `json:"exchange_rate"`
	Out         Payment           `json:"outgoing"`
	In          Payment           `json:"incoming"`
	OutMovement accounts.Movement `json:"outgoing_movement"`
	InMovement  accounts.Movement `json:"incoming_movement"`
}

// ListFilter narrows a payment listing.
type ListFilter struct {
	Type          Type
	Channel       Channel
	ContactID     int64
	AccountID     int64
	TransactionID int64
	DateFrom      *time.Time
	DateTo        *time.Time
	Window        shared.Window
}

func (f ListFilter) validate() error {
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("%w: unknown payment type %q", httpx.ErrValidation, f.Type)
	}
	if f.Channel != "" && !f.Channel.Valid() {
		return fmt.Errorf("%w: unknown payment channel %q", httpx.ErrValidation, f.Channel)
	}
	return nil
}
