package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const numberAttempts = 3

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RateSource quotes the rate from a currency to the base currency.
type RateSource interface {
	RateToBase(ctx context.Context, code string, date *time.Time) (decimal.Decimal, error)
}

// Service runs the transaction lifecycle.
type Service struct {
	repo   Repository
	rates  RateSource
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, rates RateSource, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, rates: rates, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns transaction headers matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transaction, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, filter)
}

// Get returns a transaction with its items.
func (s *Service) Get(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// Create validates, prices and stores a transaction. A completed transaction with a
// contact moves the contact balance in the same unit of work.
func (s *Service) Create(ctx context.Context, in CreateInput) (Transaction, error) {
	t, err := s.build(ctx, in)
	if err != nil {
		return Transaction{}, err
	}
	var created Transaction
	err = numbering.RetryOnConflict(ctx, numberAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = s.insert(ctx, tx, t)
			return err
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "transactions", "transaction", strconv.FormatInt(created.ID, 10))
	entry.After = snapshot(created)
	entry.Description = "transaction " + created.TransactionNo + " created"
	s.record(ctx, entry)
	return created, nil
}

func (s *Service) build(ctx context.Context, in CreateInput) (Transaction, error) {
	if !in.TransactionType.Valid() {
		return Transaction{}, fmt.Errorf("%w: unknown transaction type %q", httpx.ErrValidation, in.TransactionType)
	}
	if in.CompanyID <= 0 {
		return Transaction{}, fmt.Errorf("%w: company_id required", httpx.ErrValidation)
	}
	if len(in.Items) == 0 {
		return Transaction{}, fmt.Errorf("%w: at least one item required", httpx.ErrValidation)
	}
	status := in.Status
	switch status {
	case "":
		status = StatusCompleted
	case StatusDraft, StatusCompleted:
	default:
		return Transaction{}, fmt.Errorf("%w: a transaction cannot be created as %s", httpx.ErrValidation, status)
	}
	items := make([]Item, 0, len(in.Items))
	for i, line := range in.Items {
		item, err := ComputeItem(line)
		if err != nil {
			return Transaction{}, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, item)
	}
	date := s.now().UTC()
	if in.TransactionDate != nil {
		date = in.TransactionDate.UTC()
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "TRY"
	}
	rate, err := s.exchangeRate(ctx, currency, in.ExchangeRate, date)
	if err != nil {
		return Transaction{}, err
	}
	totals := SumItems(items)
	t := Transaction{
		ExternalID:      strings.TrimSpace(in.ExternalID),
		TransactionType: in.TransactionType,
		CompanyID:       in.CompanyID,
		ContactID:       in.ContactID,
		TransactionDate: date,
		Currency:        currency,
		ExchangeRate:    rate,
		Subtotal:        totals.Subtotal,
		TaxAmount:       totals.TaxAmount,
		DiscountAmount:  totals.DiscountAmount,
		TotalAmount:     totals.TotalAmount,
		PaidAmount:      decimal.Zero,
		Status:          status,
		Notes:           in.Notes,
		Items:           items,
	}
	if in.DueDate != nil {
		due := in.DueDate.UTC()
		t.DueDate = &due
	}
	return t, nil
}

func (s *Service) exchangeRate(ctx context.Context, currency string, given decimal.NullDecimal, date time.Time) (decimal.Decimal, error) {
	if given.Valid {
		if !given.Decimal.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: exchange_rate must be positive", httpx.ErrValidation)
		}
		return shared.RoundRate(given.Decimal), nil
	}
	if s.rates == nil {
		return decimal.Zero, fmt.Errorf("%w: exchange_rate required", httpx.ErrValidation)
	}
	rate, err := s.rates.RateToBase(ctx, currency, &date)
	if errors.Is(err, httpx.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: no exchange rate for %s, supply exchange_rate", httpx.ErrValidation, currency)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return shared.RoundRate(rate), nil
}

// insert numbers t by the day it is booked, not by its document date, and stores it.
func (s *Service) insert(ctx context.Context, tx TxRepository, t Transaction) (Transaction, error) {
	no, err := tx.Next(ctx, t.TransactionType.Prefix(), s.now())
	if err != nil {
		return Transaction{}, err
	}
	t.TransactionNo = no
	created, err := tx.Insert(ctx, t)
	if err != nil {
		return Transaction{}, err
	}
	if created.Status == StatusCompleted && created.ContactID != nil {
		if _, err := contacts.NewLedger(tx.Contacts()).Adjust(ctx, *created.ContactID, created.Currency, created.LedgerDelta()); err != nil {
			return Transaction{}, err
		}
	}
	return created, nil
}

// Update applies a typed patch to the header.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (Transaction, error) {
	var before, after Transaction
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = current
			patch.Apply(&current)
			if err := tx.UpdateHeader(ctx, current); err != nil {
				return err
			}
			after = current
			return nil
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "transactions", "transaction", strconv.FormatInt(id, 10))
	entry.Before = map[string]any{"notes": before.Notes, "external_id": before.ExternalID}
	entry.After = map[string]any{"notes": after.Notes, "external_id": after.ExternalID}
	s.record(ctx, entry)
	return after, nil
}

// Complete moves a draft to completed and books its contact balance.
func (s *Service) Complete(ctx context.Context, id int64) (Transaction, error) {
	var done Transaction
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			t, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if t.Status != StatusDraft {
				return fmt.Errorf("%w: only draft transactions can be completed, %s is %s", httpx.ErrValidation, t.TransactionNo, t.Status)
			}
			t.Status = StatusCompleted
			if err := tx.UpdateHeader(ctx, t); err != nil {
				return err
			}
			if t.ContactID != nil {
				if _, err := contacts.NewLedger(tx.Contacts()).Adjust(ctx, *t.ContactID, t.Currency, t.LedgerDelta()); err != nil {
					return err
				}
			}
			done = t
			return nil
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "transactions", "transaction", strconv.FormatInt(id, 10))
	entry.Before = map[string]any{"status": string(StatusDraft)}
	entry.After = map[string]any{"status": string(StatusCompleted)}
	s.record(ctx, entry)
	return done, nil
}

// Cancel reverses the contact balance of a completed transaction and keeps the row as
// cancelled. Cancellation is terminal.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (Transaction, error) {
	var cancelled Transaction
	var previous Status
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			t, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if t.Status == StatusCancelled {
				return fmt.Errorf("%w: transaction %s is already cancelled", httpx.ErrValidation, t.TransactionNo)
			}
			previous = t.Status
			if t.Status == StatusCompleted && t.ContactID != nil {
				_, ok, err := contacts.NewLedger(tx.Contacts()).Reverse(ctx, *t.ContactID, t.Currency, t.LedgerDelta())
				if err != nil {
					return err
				}
				if !ok {
					s.logger.Warn("contact account missing on cancel", slog.Int64("transaction_id", t.ID), slog.String("currency", t.Currency))
				}
			}
			at := s.now().UTC()
			t.Status = StatusCancelled
			t.CancelReason = strings.TrimSpace(reason)
			t.CancelledAt = &at
			if err := tx.UpdateHeader(ctx, t); err != nil {
				return err
			}
			cancelled = t
			return nil
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "transactions", "transaction", strconv.FormatInt(id, 10))
	entry.Before = map[string]any{"status": string(previous)}
	entry.After = map[string]any{"status": string(StatusCancelled), "cancel_reason": cancelled.CancelReason}
	entry.Description = "transaction " + cancelled.TransactionNo + " cancelled"
	s.record(ctx, entry)
	return cancelled, nil
}

// Return creates a sale_return or purchase_return for an existing sale or purchase.
// The original is left untouched. Quantities already taken back by earlier returns
// that are not cancelled cannot be returned again.
func (s *Service) Return(ctx context.Context, id int64, in ReturnInput) (Transaction, error) {
	if !in.FullReturn && len(in.Lines) == 0 {
		return Transaction{}, fmt.Errorf("%w: select items to return or request a full return", httpx.ErrValidation)
	}
	var original, created Transaction
	err := numbering.RetryOnConflict(ctx, numberAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			original, err = tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			returnType, ok := original.TransactionType.ReturnType()
			if !ok {
				return fmt.Errorf("%w: only sales and purchases can be returned", httpx.ErrValidation)
			}
			if original.Status == StatusCancelled {
				return fmt.Errorf("%w: transaction %s is cancelled", httpx.ErrValidation, original.TransactionNo)
			}
			returned, err := tx.ReturnedQuantities(ctx, original.TransactionNo)
			if err != nil {
				return err
			}
			items, err := returnItems(original, returned, in)
			if err != nil {
				return err
			}
			created, err = s.insert(ctx, tx, s.returnOf(original, returnType, items, in.Reason))
			if err != nil {
				return err
			}
			// Touching the original makes a concurrent return of it fail serialization
			// and re-read the returned quantities.
			return tx.UpdateHeader(ctx, original)
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "transactions", "transaction", strconv.FormatInt(created.ID, 10))
	entry.After = snapshot(created)
	entry.Description = "return " + created.TransactionNo + " of " + original.TransactionNo
	s.record(ctx, entry)
	return created, nil
}

func (s *Service) returnOf(original Transaction, returnType Type, items []Item, reason string) Transaction {
	totals := SumItems(items)
	notes := "Return of " + original.TransactionNo
	if reason = strings.TrimSpace(reason); reason != "" {
		notes += ": " + reason
	}
	return Transaction{
		ExternalID:      original.TransactionNo,
		TransactionType: returnType,
		CompanyID:       original.CompanyID,
		ContactID:       original.ContactID,
		TransactionDate: s.now().UTC(),
		Currency:        original.Currency,
		ExchangeRate:    original.ExchangeRate,
		Subtotal:        totals.Subtotal,
		TaxAmount:       totals.TaxAmount,
		DiscountAmount:  totals.DiscountAmount,
		TotalAmount:     totals.TotalAmount,
		PaidAmount:      decimal.Zero,
		Status:          StatusCompleted,
		Notes:           notes,
		Items:           items,
	}
}

// returnItems builds the lines of a return. returned holds the quantity per
// original item that earlier returns already took back.
func returnItems(original Transaction, returned map[int64]decimal.Decimal, in ReturnInput) ([]Item, error) {
	remaining := func(it Item) decimal.Decimal {
		return it.Quantity.Sub(returned[it.ID])
	}
	if in.FullReturn {
		items := make([]Item, 0, len(original.Items))
		for _, it := range original.Items {
			left := remaining(it)
			if !left.IsPositive() {
				continue
			}
			line, err := returnLine(it, left)
			if err != nil {
				return nil, err
			}
			items = append(items, line)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: transaction %s is already fully returned", httpx.ErrValidation, original.TransactionNo)
		}
		return items, nil
	}
	byID := make(map[int64]Item, len(original.Items))
	for _, it := range original.Items {
		byID[it.ID] = it
	}
	seen := make(map[int64]bool, len(in.Lines))
	items := make([]Item, 0, len(in.Lines))
	for _, l := range in.Lines {
		it, ok := byID[l.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %d is not part of %s", httpx.ErrValidation, l.ItemID, original.TransactionNo)
		}
		if seen[l.ItemID] {
			return nil, fmt.Errorf("%w: item %d listed twice", httpx.ErrValidation, l.ItemID)
		}
		seen[l.ItemID] = true
		left := remaining(it)
		if !left.IsPositive() {
			return nil, fmt.Errorf("%w: item %d is already fully returned", httpx.ErrValidation, l.ItemID)
		}
		if !l.Quantity.IsPositive() || l.Quantity.GreaterThan(left) {
			return nil, fmt.Errorf("%w: return quantity for item %d must be between 0 and %s", httpx.ErrValidation, l.ItemID, left.String())
		}
		line, err := returnLine(it, l.Quantity)
		if err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	return items, nil
}

// Delete removes a transaction that no payment references. A completed
// transaction's contact balance is reversed first; a missing contact account is
// skipped. Items are removed before the header.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed Transaction
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			t, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			n, err := tx.CountPayments(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: transaction %s has %d payments, delete them first", httpx.ErrValidation, t.TransactionNo, n)
			}
			if t.Status == StatusCompleted && t.ContactID != nil {
				_, ok, err := contacts.NewLedger(tx.Contacts()).Reverse(ctx, *t.ContactID, t.Currency, t.LedgerDelta())
				if err != nil {
					return err
				}
				if !ok {
					s.logger.Warn("contact account missing on delete", slog.Int64("transaction_id", t.ID), slog.String("currency", t.Currency))
				}
			}
			if err := tx.DeleteItems(ctx, id); err != nil {
				return err
			}
			removed = t
			return tx.Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "transactions", "transaction", strconv.FormatInt(id, 10))
	entry.Before = snapshot(removed)
	entry.Description = "transaction " + removed.TransactionNo + " deleted"
	s.record(ctx, entry)
	return nil
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", entry.Entity), slog.Any("error", err))
	}
}

func snapshot(t Transaction) map[string]any {
	out := map[string]any{
		"transaction_no":   t.TransactionNo,
		"transaction_type": string(t.TransactionType),
		"status":           string(t.Status),
		"currency":         t.Currency,
		"total_amount":     t.TotalAmount.String(),
		"paid_amount":      t.PaidAmount.String(),
	}
	if t.ContactID != nil {
		out["contact_id"] = *t.ContactID
	}
	return out
}
