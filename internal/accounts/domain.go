// Package accounts keeps the business's own bank, cash, crypto and gateway accounts
// together with their append-only movement history.
package accounts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Type classifies an account.
type Type string

const (
	TypeBank           Type = "bank"
	TypeCash           Type = "cash"
	TypeCrypto         Type = "crypto"
	TypePaymentGateway Type = "payment_gateway"
)

// Valid reports whether t is a known account type.
func (t Type) Valid() bool {
	switch t {
	case TypeBank, TypeCash, TypeCrypto, TypePaymentGateway:
		return true
	}
	return false
}

// MovementType is the direction of a balance change.
type MovementType string

const (
	MovementDeposit     MovementType = "deposit"
	MovementWithdrawal  MovementType = "withdrawal"
	MovementTransferIn  MovementType = "transfer_in"
	MovementTransferOut MovementType = "transfer_out"
)

// Valid reports whether m is a known movement type.
func (m MovementType) Valid() bool {
	switch m {
	case MovementDeposit, MovementWithdrawal, MovementTransferIn, MovementTransferOut:
		return true
	}
	return false
}

// Signed returns amount with the sign the movement applies to the balance.
func (m MovementType) Signed(amount decimal.Decimal) decimal.Decimal {
	if m == MovementWithdrawal || m == MovementTransferOut {
		return amount.Neg()
	}
	return amount
}

// Opposite returns the movement that undoes m.
func (m MovementType) Opposite() MovementType {
	switch m {
	case MovementDeposit:
		return MovementWithdrawal
	case MovementWithdrawal:
		return MovementDeposit
	case MovementTransferIn:
		return MovementTransferOut
	case MovementTransferOut:
		return MovementTransferIn
	}
	return m
}

// Reference types recorded on movements.
const (
	RefPayment         = "payment"
	RefManual          = "manual"
	RefTransfer        = "transfer"
	RefPaymentReversal = "payment_reversal"
)

// Account is a money container owned by a company.
type Account struct {
	ID            int64           `json:"id"`
	CompanyID     int64           `json:"company_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	AccountType   Type            `json:"account_type"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	BankName      string          `json:"bank_name,omitempty"`
	IBAN          string          `json:"iban,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	BranchCode    string          `json:"branch_code,omitempty"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	Network       string          `json:"network,omitempty"`
	GatewayName   string          `json:"gateway_name,omitempty"`
	MerchantID    string          `json:"merchant_id,omitempty"`
	IsDefault     bool            `json:"is_default"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Movement is one immutable entry of an account's history. BalanceAfter is the
// account balance right after the movement was applied.
type Movement struct {
	ID              int64           `json:"id"`
	AccountID       int64           `json:"account_id"`
	Type            MovementType    `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	ReferenceType   string          `json:"reference_type,omitempty"`
	ReferenceID     *int64          `json:"reference_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	TransactionDate time.Time       `json:"transaction_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MovementInput requests a balance change.
type MovementInput struct {
	AccountID     int64
	Type          MovementType
	Amount        decimal.Decimal
	ReferenceType string
	ReferenceID   *int64
	Description   string
	Date          time.Time
}

func (in MovementInput) validate() error {
	switch {
	case in.AccountID <= 0:
		return fmt.Errorf("%w: account required", httpx.ErrValidation)
	case !in.Type.Valid():
		return fmt.Errorf("%w: unknown movement type %q", httpx.ErrValidation, in.Type)
	case !in.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", httpx.ErrValidation)
	}
	return nil
}

// TransferInput moves money between two accounts. For accounts in different
// currencies either ToAmount or Rate is required; ToAmount wins when both are set.
type TransferInput struct {
	FromAccountID int64               `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID   int64               `json:"to_account_id" validate:"required,gt=0"`
	FromAmount    decimal.Decimal     `json:"from_amount"`
	ToAmount      decimal.NullDecimal `json:"to_amount"`
	Rate          decimal.NullDecimal `json:"exchange_rate"`
	Description   string              `json:"description"`
	Date          time.Time           `json:"-"`
}

// TransferPlan is a validated transfer whose accounts are locked.
type TransferPlan struct {
	From       Account         `json:"from_account"`
	To         Account         `json:"to_account"`
	FromAmount decimal.Decimal `json:"from_amount"`
	ToAmount   decimal.Decimal `json:"to_amount"`
	Rate       decimal.Decimal `json:"exchange_rate"`
}

// TransferResult is an applied transfer.
type TransferResult struct {
	TransferPlan
	Out Movement `json:"out"`
	In  Movement `json:"in"`
}

// CreateInput carries a new account. A positive Balance is booked as an opening deposit.
type CreateInput struct {
	CompanyID     int64           `json:"company_id" validate:"required,gt=0"`
	Code          string          `json:"code" validate:"required,max=50"`
	Name          string          `json:"name" validate:"required,max=100"`
	AccountType   Type            `json:"account_type" validate:"required,oneof=bank cash crypto payment_gateway"`
	Currency      string          `json:"currency" validate:"omitempty,min=3,max=10"`
	Balance       decimal.Decimal `json:"balance"`
	BankName      string          `json:"bank_name" validate:"max=100"`
	IBAN          string          `json:"iban" validate:"max=50"`
	AccountNumber string          `json:"account_number" validate:"max=50"`
	BranchCode    string          `json:"branch_code" validate:"max=20"`
	WalletAddress string          `json:"wallet_address" validate:"max=200"`
	Network       string          `json:"network" validate:"max=50"`
	GatewayName   string          `json:"gateway_name" validate:"max=50"`
	MerchantID    string          `json:"merchant_id" validate:"max=100"`
	IsDefault     bool            `json:"is_default"`
}

func (in CreateInput) toAccount() (Account, error) {
	a := Account{
		CompanyID:     in.CompanyID,
		Code:          strings.TrimSpace(in.Code),
		Name:          strings.TrimSpace(in.Name),
		AccountType:   in.AccountType,
		Currency:      strings.ToUpper(strings.TrimSpace(in.Currency)),
		Balance:       decimal.Zero,
		BankName:      strings.TrimSpace(in.BankName),
		IBAN:          strings.ReplaceAll(strings.ToUpper(in.IBAN), " ", ""),
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		BranchCode:    strings.TrimSpace(in.BranchCode),
		WalletAddress: strings.TrimSpace(in.WalletAddress),
		Network:       strings.TrimSpace(in.Network),
		GatewayName:   strings.TrimSpace(in.GatewayName),
		MerchantID:    strings.TrimSpace(in.MerchantID),
		IsDefault:     in.IsDefault,
		IsActive:      true,
	}
	if a.Currency == "" {
		a.Currency = "TRY"
	}
	switch {
	case a.CompanyID <= 0:
		return Account{}, fmt.Errorf("%w: company_id required", httpx.ErrValidation)
	case a.Code == "" || a.Name == "":
		return Account{}, fmt.Errorf("%w: code and name required", httpx.ErrValidation)
	case !a.AccountType.Valid():
		return Account{}, fmt.Errorf("%w: unknown account type %q", httpx.ErrValidation, a.AccountType)
	case in.Balance.IsNegative():
		return Account{}, fmt.Errorf("%w: opening balance must not be negative", httpx.ErrValidation)
	}
	return a, nil
}

// Patch lists mutable account fields. Currency and balance only change through
// movements, so they are absent here.
type Patch struct {
	Code          *string `json:"code" validate:"omitempty,max=50"`
	Name          *string `json:"name" validate:"omitempty,max=100"`
	AccountType   *Type   `json:"account_type" validate:"omitempty,oneof=bank cash crypto payment_gateway"`
	BankName      *string `json:"bank_name" validate:"omitempty,max=100"`
	IBAN          *string `json:"iban" validate:"omitempty,max=50"`
	AccountNumber *string `json:"account_number" validate:"omitempty,max=50"`
	BranchCode    *string `json:"branch_code" validate:"omitempty,max=20"`
	WalletAddress *string `json:"wallet_address" validate:"omitempty,max=200"`
	Network       *string `json:"network" validate:"omitempty,max=50"`
	GatewayName   *string `json:"gateway_name" validate:"omitempty,max=50"`
	MerchantID    *string `json:"merchant_id" validate:"omitempty,max=100"`
	IsDefault     *bool   `json:"is_default"`
	IsActive      *bool   `json:"is_active"`
}

// Apply copies set fields onto a.
func (p Patch) Apply(a *Account) {
	for _, f := range []struct {
		dst *string
		v   *string
	}{
		{&a.Code, p.Code}, {&a.Name, p.Name}, {&a.BankName, p.BankName}, {&a.AccountNumber, p.AccountNumber},
		{&a.BranchCode, p.BranchCode}, {&a.WalletAddress, p.WalletAddress}, {&a.Network, p.Network},
		{&a.GatewayName, p.GatewayName}, {&a.MerchantID, p.MerchantID},
	} {
		if f.v != nil {
			*f.dst = strings.TrimSpace(*f.v)
		}
	}
	if p.IBAN != nil {
		a.IBAN = strings.ReplaceAll(strings.ToUpper(*p.IBAN), " ", "")
	}
	if p.AccountType != nil {
		a.AccountType = *p.AccountType
	}
	if p.IsDefault != nil {
		a.IsDefault = *p.IsDefault
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
}

// ListFilter narrows account listings.
type ListFilter struct {
	CompanyID   int64
	AccountType Type
	Currency    string
	IsActive    *bool
}

// ManualMovementInput is the body of a manual deposit or withdrawal.
type ManualMovementInput struct {
	Type        MovementType    `json:"transaction_type" validate:"required,oneof=deposit withdrawal transfer_in transfer_out"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Date        *time.Time      `json:"transaction_date"`
}
