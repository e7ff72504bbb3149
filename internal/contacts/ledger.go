package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Transaction kinds as they affect the contact balance.
const (
	KindSale           = "sale"
	KindPurchase       = "purchase"
	KindSaleReturn     = "sale_return"
	KindPurchaseReturn = "purchase_return"
)

// TransactionDelta is the balance change a transaction of kind causes: the contact
// owes more after a sale or a purchase return, less after a purchase or a sale return.
func TransactionDelta(kind string, total decimal.Decimal) decimal.Decimal {
	switch kind {
	case KindSale, KindPurchaseReturn:
		return total
	case KindPurchase, KindSaleReturn:
		return total.Neg()
	}
	return decimal.Zero
}

// PaymentDelta is the balance change of a payment: money received lowers what the
// contact owes, money paid out raises it.
func PaymentDelta(inflow bool, amount decimal.Decimal) decimal.Decimal {
	if inflow {
		return amount.Neg()
	}
	return amount
}

// LedgerStore is the row access the ledger needs. Implementations are bound to the
// caller's transaction.
type LedgerStore interface {
	GetAccountForUpdate(ctx context.Context, contactID int64, currency string) (Account, error)
	InsertAccount(ctx context.Context, contactID int64, currency string) (Account, error)
	SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
}

// Ledger keeps contact balances.
type Ledger struct {
	store LedgerStore
}

// NewLedger binds a ledger to store.
func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// Adjust adds delta to the contact's balance in currency, creating the account on
// first use.
func (l *Ledger) Adjust(ctx context.Context, contactID int64, currency string, delta decimal.Decimal) (Account, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if contactID <= 0 || currency == "" {
		return Account{}, fmt.Errorf("%w: contact and currency required", httpx.ErrValidation)
	}
	acc, err := l.store.GetAccountForUpdate(ctx, contactID, currency)
	if errors.Is(err, httpx.ErrNotFound) {
		acc, err = l.store.InsertAccount(ctx, contactID, currency)
	}
	if err != nil {
		return Account{}, err
	}
	acc.Balance = shared.RoundAmount(acc.Balance.Add(delta))
	if err := l.store.SetBalance(ctx, acc.ID, acc.Balance); err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Reverse undoes a prior Adjust of delta. A missing account is skipped and reported
// with ok=false.
func (l *Ledger) Reverse(ctx context.Context, contactID int64, currency string, delta decimal.Decimal) (acc Account, ok bool, err error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	acc, err = l.store.GetAccountForUpdate(ctx, contactID, currency)
	if errors.Is(err, httpx.ErrNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	acc.Balance = shared.RoundAmount(acc.Balance.Sub(delta))
	if err := l.store.SetBalance(ctx, acc.ID, acc.Balance); err != nil {
		return Account{}, false, err
	}
	return acc, true, nil
}
