package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// LedgerStore is the row access the ledger needs, bound to the caller's transaction.
type LedgerStore interface {
	GetForUpdate(ctx context.Context, id int64) (Account, error)
	SetBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

// Ledger applies balance changes and records them as movements.
type Ledger struct {
	store LedgerStore
	now   func() time.Time
}

// NewLedger binds a ledger to store.
func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// ApplyMovement changes the account balance and appends the movement. Withdrawals may
// take the balance below zero; only transfers check cover.
func (l *Ledger) ApplyMovement(ctx context.Context, in MovementInput) (Movement, error) {
	if err := in.validate(); err != nil {
		return Movement{}, err
	}
	acc, err := l.store.GetForUpdate(ctx, in.AccountID)
	if err != nil {
		return Movement{}, err
	}
	return l.apply(ctx, acc, in)
}

func (l *Ledger) apply(ctx context.Context, acc Account, in MovementInput) (Movement, error) {
	amount := shared.RoundAmount(in.Amount)
	balance := shared.RoundAmount(acc.Balance.Add(in.Type.Signed(amount)))
	if err := l.store.SetBalance(ctx, acc.ID, balance); err != nil {
		return Movement{}, err
	}
	date := in.Date
	if date.IsZero() {
		date = l.now().UTC()
	}
	return l.store.InsertMovement(ctx, Movement{
		AccountID:       acc.ID,
		Type:            in.Type,
		Amount:          amount,
		BalanceAfter:    balance,
		ReferenceType:   in.ReferenceType,
		ReferenceID:     in.ReferenceID,
		Description:     in.Description,
		TransactionDate: date,
	})
}

// PlanTransfer locks both accounts in ascending id order and settles the amounts and
// rate. Nothing is mutated.
func (l *Ledger) PlanTransfer(ctx context.Context, in TransferInput) (TransferPlan, error) {
	if in.FromAccountID <= 0 || in.ToAccountID <= 0 {
		return TransferPlan{}, fmt.Errorf("%w: both accounts required", httpx.ErrValidation)
	}
	if in.FromAccountID == in.ToAccountID {
		return TransferPlan{}, fmt.Errorf("%w: cannot transfer to the same account", httpx.ErrValidation)
	}
	if !in.FromAmount.IsPositive() {
		return TransferPlan{}, fmt.Errorf("%w: amount must be positive", httpx.ErrValidation)
	}
	first, second := in.FromAccountID, in.ToAccountID
	if second < first {
		first, second = second, first
	}
	locked := make(map[int64]Account, 2)
	for _, id := range []int64{first, second} {
		acc, err := l.store.GetForUpdate(ctx, id)
		if err != nil {
			return TransferPlan{}, err
		}
		locked[id] = acc
	}
	plan := TransferPlan{
		From:       locked[in.FromAccountID],
		To:         locked[in.ToAccountID],
		FromAmount: shared.RoundAmount(in.FromAmount),
	}
	if !plan.From.IsActive || !plan.To.IsActive {
		return TransferPlan{}, fmt.Errorf("%w: inactive account", httpx.ErrValidation)
	}
	switch {
	case strings.EqualFold(plan.From.Currency, plan.To.Currency):
		plan.Rate = decimal.NewFromInt(1)
		plan.ToAmount = plan.FromAmount
	case in.ToAmount.Valid && in.ToAmount.Decimal.IsPositive():
		plan.ToAmount = shared.RoundAmount(in.ToAmount.Decimal)
		plan.Rate = plan.ToAmount.DivRound(plan.FromAmount, shared.RateScale)
	case in.Rate.Valid && in.Rate.Decimal.IsPositive():
		plan.Rate = shared.RoundRate(in.Rate.Decimal)
		plan.ToAmount = shared.RoundAmount(plan.FromAmount.Mul(plan.Rate))
	default:
		return TransferPlan{}, fmt.Errorf("%w: %s to %s transfer needs to_amount or exchange_rate",
			httpx.ErrValidation, plan.From.Currency, plan.To.Currency)
	}
	if plan.From.Balance.LessThan(plan.FromAmount) {
		return TransferPlan{}, fmt.Errorf("%w: insufficient balance on %s: %s < %s",
			httpx.ErrValidation, plan.From.Code, plan.From.Balance.StringFixed(2), plan.FromAmount.StringFixed(2))
	}
	return plan, nil
}

// ApplyTransfer books both legs of a planned transfer.
func (l *Ledger) ApplyTransfer(ctx context.Context, plan TransferPlan, out, in MovementInput) (TransferResult, error) {
	out.AccountID, out.Type, out.Amount = plan.From.ID, MovementTransferOut, plan.FromAmount
	in.AccountID, in.Type, in.Amount = plan.To.ID, MovementTransferIn, plan.ToAmount
	outMove, err := l.ApplyMovement(ctx, out)
	if err != nil {
		return TransferResult{}, err
	}
	inMove, err := l.ApplyMovement(ctx, in)
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{TransferPlan: plan, Out: outMove, In: inMove}, nil
}

// Transfer plans and books a transfer whose legs reference each other's account.
func (l *Ledger) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	plan, err := l.PlanTransfer(ctx, in)
	if err != nil {
		return TransferResult{}, err
	}
	toID, fromID := plan.To.ID, plan.From.ID
	note := strings.TrimSpace(in.Description)
	return l.ApplyTransfer(ctx, plan,
		MovementInput{ReferenceType: RefTransfer, ReferenceID: &toID, Description: joinNote("Transfer to "+plan.To.Name, note), Date: in.Date},
		MovementInput{ReferenceType: RefTransfer, ReferenceID: &fromID, Description: joinNote("Transfer from "+plan.From.Name, note), Date: in.Date},
	)
}

// Reverse appends the movement that undoes a prior one of typ and amount. A missing
// account is skipped and reported with ok=false.
func (l *Ledger) Reverse(ctx context.Context, accountID int64, typ MovementType, amount decimal.Decimal, referenceID *int64, description string) (m Movement, ok bool, err error) {
	acc, err := l.store.GetForUpdate(ctx, accountID)
	if errors.Is(err, httpx.ErrNotFound) {
		return Movement{}, false, nil
	}
	if err != nil {
		return Movement{}, false, err
	}
	in := MovementInput{
		AccountID:     accountID,
		Type:          typ.Opposite(),
		Amount:        amount,
		ReferenceType: RefPaymentReversal,
		ReferenceID:   referenceID,
		Description:   description,
	}
	if err := in.validate(); err != nil {
		return Movement{}, false, err
	}
	m, err = l.apply(ctx, acc, in)
	if err != nil {
		return Movement{}, false, err
	}
	return m, true, nil
}

func joinNote(prefix, note string) string {
	if note == "" {
		return prefix
	}
	return prefix + ": " + note
}
