package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions"
)

const (
	numberAttempts = 3
	idempotencyKey = "payments"
)

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RateSource quotes the rate from a currency to the base currency.
type RateSource interface {
	RateToBase(ctx context.Context, code string, date *time.Time) (decimal.Decimal, error)
}

// IdempotencyPort remembers request keys. CheckAndInsert returns
// shared.ErrIdempotencyConflict for a key it has seen.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service records payments and transfers.
type Service struct {
	repo   Repository
	rates  RateSource
	idem   IdempotencyPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the service. rates and idem may be nil.
func NewService(repo Repository, rates RateSource, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, rates: rates, idem: idem, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns payments matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Payment, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	if filter.Window.Limit == 0 {
		filter.Window = shared.NewWindow(filter.Window.Skip, 0)
	}
	return s.repo.List(ctx, filter)
}

// Get returns one payment.
func (s *Service) Get(ctx context.Context, id int64) (Payment, error) {
	return s.repo.Get(ctx, id)
}

// Create records a payment and applies it to the transaction it settles, the
// contact balance and the account balance, all in one unit of work.
func (s *Service) Create(ctx context.Context, in CreateInput) (Payment, error) {
	if err := in.validate(); err != nil {
		return Payment{}, err
	}
	date := s.now().UTC()
	if in.PaymentDate != nil {
		date = in.PaymentDate.UTC()
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "TRY"
	}
	rate, err := s.exchangeRate(ctx, currency, in.ExchangeRate, date)
	if err != nil {
		return Payment{}, err
	}
	amount := shared.RoundAmount(in.Amount)
	p := Payment{
		ExternalID:     strings.TrimSpace(in.ExternalID),
		TransactionID:  in.TransactionID,
		ContactID:      in.ContactID,
		AccountID:      in.AccountID,
		PaymentType:    in.PaymentType,
		PaymentChannel: in.PaymentChannel,
		Currency:       currency,
		Amount:         amount,
		ExchangeRate:   rate,
		BaseAmount:     shared.RoundAmount(amount.Mul(rate)),
		IsAdvance:      in.IsAdvance || in.PaymentChannel == ChannelAdvance,
		Status:         StatusCompleted,
		ReferenceNo:    strings.TrimSpace(in.ReferenceNo),
		Description:    in.Description,
		PaymentDate:    date,
	}
	if in.DueDate != nil {
		due := in.DueDate.UTC()
		p.DueDate = &due
	}

	release, err := s.claim(ctx, in.IdempotencyKey)
	if err != nil {
		return Payment{}, err
	}
	var created Payment
	err = numbering.RetryOnConflict(ctx, numberAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = s.apply(ctx, tx, p)
			return err
		})
	})
	if err != nil {
		release()
		return Payment{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "payments", "payment", strconv.FormatInt(created.ID, 10))
	entry.After = snapshot(created)
	entry.Description = "payment " + created.PaymentNo + " created"
	s.record(ctx, entry)
	return created, nil
}

// apply checks every referenced row before the first write, then inserts the payment
// and books its three effects.
func (s *Service) apply(ctx context.Context, tx TxRepository, p Payment) (Payment, error) {
	var settled transactions.Transaction
	if p.TransactionID != nil {
		t, err := tx.Transactions().GetForUpdate(ctx, *p.TransactionID)
		if err != nil {
			return Payment{}, err
		}
		if t.Status == transactions.StatusCancelled {
			return Payment{}, fmt.Errorf("%w: transaction %s is cancelled", httpx.ErrValidation, t.TransactionNo)
		}
		settled = t
	}
	if p.AccountID != nil {
		acc, err := tx.Accounts().GetForUpdate(ctx, *p.AccountID)
		if err != nil {
			return Payment{}, err
		}
		if !strings.EqualFold(acc.Currency, p.Currency) {
			return Payment{}, fmt.Errorf("%w: account %s holds %s, payment is in %s",
				httpx.ErrValidation, acc.Code, acc.Currency, p.Currency)
		}
	}
	no, err := tx.Next(ctx, p.PaymentType.Prefix(), s.now())
	if err != nil {
		return Payment{}, err
	}
	p.PaymentNo = no
	created, err := tx.Insert(ctx, p)
	if err != nil {
		return Payment{}, err
	}
	if p.TransactionID != nil {
		paid := settled.PaidAmount.Add(created.Amount)
		if err := tx.Transactions().SetPaid(ctx, settled.ID, paid, paid.GreaterThanOrEqual(settled.TotalAmount)); err != nil {
			return Payment{}, err
		}
	}
	if p.ContactID != nil {
		if _, err := contacts.NewLedger(tx.Contacts()).Adjust(ctx, *p.ContactID, created.Currency, created.ContactDelta()); err != nil {
			return Payment{}, err
		}
	}
	if p.AccountID != nil {
		id := created.ID
		_, err := accounts.NewLedger(tx.Accounts()).ApplyMovement(ctx, accounts.MovementInput{
			AccountID:     *p.AccountID,
			Type:          created.PaymentType.Movement(),
			Amount:        created.Amount,
			ReferenceType: accounts.RefPayment,
			ReferenceID:   &id,
			Description:   "Payment: " + created.PaymentNo,
			Date:          created.PaymentDate,
		})
		if err != nil {
			return Payment{}, err
		}
	}
	return created, nil
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

// claim registers an Idempotency-Key. The returned func forgets the key again so a
// failed request can be retried with it.
func (s *Service) claim(ctx context.Context, key string) (func(), error) {
	key = strings.TrimSpace(key)
	if key == "" || s.idem == nil {
		return func() {}, nil
	}
	if err := s.idem.CheckAndInsert(ctx, key, idempotencyKey); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil, fmt.Errorf("%w: request %s already processed", httpx.ErrConflict, key)
		}
		return nil, err
	}
	return func() {
		if err := s.idem.Delete(ctx, key); err != nil {
			s.logger.Warn("idempotency key release failed", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

// Update applies the typed patch. Amounts and parties never change.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (Payment, error) {
	var before, after Payment
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = p
			if err := patch.Apply(&p); err != nil {
				return err
			}
			after = p
			return tx.Update(ctx, p)
		})
	})
	if err != nil {
		return Payment{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "payments", "payment", strconv.FormatInt(id, 10))
	entry.Before = snapshot(before)
	entry.After = snapshot(after)
	entry.Description = "payment " + after.PaymentNo + " updated"
	s.record(ctx, entry)
	return after, nil
}

// Delete reverses a payment's effects and removes it. Deleting either leg of a
// transfer removes both legs.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed []Payment
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			legs := []Payment{p}
			if p.TransferRef.Valid {
				if legs, err = tx.TransferLegs(ctx, p.TransferRef.UUID); err != nil {
					return err
				}
			}
			for _, leg := range legs {
				if err := s.reverse(ctx, tx, leg); err != nil {
					return err
				}
				if err := tx.Delete(ctx, leg.ID); err != nil {
					return err
				}
			}
			removed = legs
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, p := range removed {
		entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "payments", "payment", strconv.FormatInt(p.ID, 10))
		entry.Before = snapshot(p)
		entry.Description = "payment " + p.PaymentNo + " deleted"
		s.record(ctx, entry)
	}
	return nil
}

// reverse undoes the three effects of p. Rows that no longer exist are skipped.
// is_paid is recomputed from the reduced paid amount.
func (s *Service) reverse(ctx context.Context, tx TxRepository, p Payment) error {
	log := s.logger.With(slog.Int64("payment_id", p.ID), slog.String("payment_no", p.PaymentNo))
	if p.TransactionID != nil {
		t, err := tx.Transactions().GetForUpdate(ctx, *p.TransactionID)
		switch {
		case errors.Is(err, httpx.ErrNotFound):
			log.Warn("settled transaction missing on payment delete", slog.Int64("transaction_id", *p.TransactionID))
		case err != nil:
			return err
		default:
			paid := t.PaidAmount.Sub(p.Amount)
			if err := tx.Transactions().SetPaid(ctx, t.ID, paid, paid.GreaterThanOrEqual(t.TotalAmount)); err != nil {
				return err
			}
		}
	}
	if p.ContactID != nil {
		_, ok, err := contacts.NewLedger(tx.Contacts()).Reverse(ctx, *p.ContactID, p.Currency, p.ContactDelta())
		if err != nil {
			return err
		}
		if !ok {
			log.Warn("contact account missing on payment delete", slog.String("currency", p.Currency))
		}
	}
	if p.AccountID != nil {
		typ := p.PaymentType.Movement()
		switch p.PaymentType {
		case TypeTransferOut:
			typ = accounts.MovementTransferOut
		case TypeTransferIn:
			typ = accounts.MovementTransferIn
		}
		id := p.ID
		_, ok, err := accounts.NewLedger(tx.Accounts()).Reverse(ctx, *p.AccountID, typ, p.Amount, &id, "Reversal of "+p.PaymentNo)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn("account missing on payment delete", slog.Int64("account_id", *p.AccountID))
		}
	}
	return nil
}

// Transfer moves money between two accounts. It writes two payment legs sharing one
// TRF number and transfer_ref, and one movement per account, in one unit of work.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (Transfer, error) {
	channel := in.PaymentChannel
	if channel == "" {
		channel = ChannelBankTransfer
	}
	if !channel.Valid() {
		return Transfer{}, fmt.Errorf("%w: unknown payment channel %q", httpx.ErrValidation, channel)
	}
	date := s.now().UTC()
	if in.PaymentDate != nil {
		date = in.PaymentDate.UTC()
	}
	release, err := s.claim(ctx, in.IdempotencyKey)
	if err != nil {
		return Transfer{}, err
	}
	var out Transfer
	err = numbering.RetryOnConflict(ctx, numberAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			out, err = s.transfer(ctx, tx, in, channel, date)
			return err
		})
	})
	if err != nil {
		release()
		return Transfer{}, err
	}
	entry := shared.NewAuditEntry(ctx, "transfer", "payments", "transfer", out.TransferNo)
	entry.After = map[string]any{
		"transfer_no":     out.TransferNo,
		"transfer_ref":    out.TransferRef.String(),
		"from_account_id": in.FromAccountID,
		"to_account_id":   in.ToAccountID,
		"from_amount":     out.FromAmount.String(),
		"to_amount":       out.ToAmount.String(),
		"exchange_rate":   out.Rate.String(),
	}
	entry.Description = "transfer " + out.TransferNo
	s.record(ctx, entry)
	return out, nil
}

func (s *Service) transfer(ctx context.Context, tx TxRepository, in TransferInput, channel Channel, date time.Time) (Transfer, error) {
	ledger := accounts.NewLedger(tx.Accounts())
	plan, err := ledger.PlanTransfer(ctx, accounts.TransferInput{
		FromAccountID: in.FromAccountID,
		ToAccountID:   in.ToAccountID,
		FromAmount:    in.Amount,
		ToAmount:      in.ToAmount,
		Rate:          in.ExchangeRate,
	})
	if err != nil {
		return Transfer{}, err
	}
	no, err := tx.Next(ctx, numbering.PrefixTransfer, s.now())
	if err != nil {
		return Transfer{}, err
	}
	ref := uuid.New()
	note := strings.TrimSpace(in.Description)
	leg := func(suffix string, typ Type, acc accounts.Account, amount, rate decimal.Decimal, desc string) (Payment, error) {
		id := acc.ID
		return tx.Insert(ctx, Payment{
			PaymentNo:      no + suffix,
			AccountID:      &id,
			PaymentType:    typ,
			PaymentChannel: channel,
			Currency:       acc.Currency,
			Amount:         amount,
			ExchangeRate:   rate,
			BaseAmount:     shared.RoundAmount(amount.Mul(rate)),
			Status:         StatusCompleted,
			ReferenceNo:    strings.TrimSpace(in.ReferenceNo),
			Description:    desc,
			PaymentDate:    date,
			TransferRef:    uuid.NullUUID{UUID: ref, Valid: true},
		})
	}
	outLeg, err := leg(numbering.SuffixOut, TypeTransferOut, plan.From, plan.FromAmount, plan.Rate, joinNote("Transfer to "+plan.To.Name, note))
	if err != nil {
		return Transfer{}, err
	}
	inLeg, err := leg(numbering.SuffixIn, TypeTransferIn, plan.To, plan.ToAmount, shared.Reciprocal(plan.Rate), joinNote("Transfer from "+plan.From.Name, note))
	if err != nil {
		return Transfer{}, err
	}
	outID, inID := outLeg.ID, inLeg.ID
	res, err := ledger.ApplyTransfer(ctx, plan,
		accounts.MovementInput{ReferenceType: accounts.RefPayment, ReferenceID: &outID, Description: outLeg.PaymentNo + ": " + outLeg.Description, Date: date},
		accounts.MovementInput{ReferenceType: accounts.RefPayment, ReferenceID: &inID, Description: inLeg.PaymentNo + ": " + inLeg.Description, Date: date},
	)
	if err != nil {
		return Transfer{}, err
	}
	return Transfer{
		TransferNo:  no,
		TransferRef: ref,
		FromAmount:  plan.FromAmount,
		ToAmount:    plan.ToAmount,
		Rate:        plan.Rate,
		Out:         outLeg,
		In:          inLeg,
		OutMovement: res.Out,
		InMovement:  res.In,
	}, nil
}

func joinNote(base, note string) string {
	if note == "" {
		return base
	}
	return base + " - " + note
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", entry.Entity), slog.Any("error", err))
	}
}

func snapshot(p Payment) map[string]any {
	out := map[string]any{
		"payment_no":      p.PaymentNo,
		"payment_type":    string(p.PaymentType),
		"payment_channel": string(p.PaymentChannel),
		"currency":        p.Currency,
		"amount":          p.Amount.String(),
		"exchange_rate":   p.ExchangeRate.String(),
		"status":          string(p.Status),
	}
	if p.ReferenceNo != "" {
		out["reference_no"] = p.ReferenceNo
	}
	if p.TransactionID != nil {
		out["transaction_id"] = *p.TransactionID
	}
	return out
}
