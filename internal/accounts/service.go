package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes account use-cases.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) ledger(tx TxRepository) *Ledger {
	l := NewLedger(tx)
	l.now = s.now
	return l
}

// List returns accounts matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	if filter.AccountType != "" && !filter.AccountType.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", httpx.ErrValidation, filter.AccountType)
	}
	return s.repo.List(ctx, filter)
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.Get(ctx, id)
}

// Create opens an account. A positive opening balance is booked as a manual deposit
// so the movement history explains the balance.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	a, err := in.toAccount()
	if err != nil {
		return Account{}, err
	}
	var created Account
	err = db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.Insert(ctx, a)
			if err != nil {
				return err
			}
			if created.IsDefault {
				if err := tx.ClearDefault(ctx, created.CompanyID, created.Currency, created.ID); err != nil {
					return err
				}
			}
			if in.Balance.IsPositive() {
				m, err := s.ledger(tx).ApplyMovement(ctx, MovementInput{
					AccountID:     created.ID,
					Type:          MovementDeposit,
					Amount:        in.Balance,
					ReferenceType: RefManual,
					Description:   "Opening balance",
				})
				if err != nil {
					return err
				}
				created.Balance = m.BalanceAfter
			}
			return nil
		})
	})
	if err != nil {
		return Account{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "accounts", "account", strconv.FormatInt(created.ID, 10))
	entry.After = map[string]any{"code": created.Code, "name": created.Name, "currency": created.Currency}
	entry.Description = "account " + created.Name + " created"
	s.record(ctx, entry)
	return created, nil
}

// Update applies a typed patch.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (Account, error) {
	var before, after Account
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = current
			patch.Apply(&current)
			if current.Code == "" || current.Name == "" {
				return fmt.Errorf("%w: code and name required", httpx.ErrValidation)
			}
			if !current.AccountType.Valid() {
				return fmt.Errorf("%w: unknown account type %q", httpx.ErrValidation, current.AccountType)
			}
			if err := tx.Update(ctx, current); err != nil {
				return err
			}
			if current.IsDefault && !before.IsDefault {
				if err := tx.ClearDefault(ctx, current.CompanyID, current.Currency, current.ID); err != nil {
					return err
				}
			}
			after = current
			return nil
		})
	})
	if err != nil {
		return Account{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "accounts", "account", strconv.FormatInt(id, 10))
	entry.Before = map[string]any{"code": before.Code, "name": before.Name, "is_active": before.IsActive}
	entry.After = map[string]any{"code": after.Code, "name": after.Name, "is_active": after.IsActive}
	s.record(ctx, entry)
	return after, nil
}

// Delete removes an account that has never moved money.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed Account
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			n, err := tx.CountMovements(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: account %s has %d movements", httpx.ErrValidation, current.Code, n)
			}
			removed = current
			return tx.Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "accounts", "account", strconv.FormatInt(id, 10))
	entry.Before = map[string]any{"code": removed.Code, "name": removed.Name}
	s.record(ctx, entry)
	return nil
}

// Movements lists an account's history, newest first.
func (s *Service) Movements(ctx context.Context, accountID int64, window shared.Window) ([]Movement, error) {
	if _, err := s.repo.Get(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.Movements(ctx, accountID, window)
}

// AddMovement books a manual movement.
func (s *Service) AddMovement(ctx context.Context, accountID int64, in ManualMovementInput) (Movement, error) {
	input := MovementInput{
		AccountID:     accountID,
		Type:          in.Type,
		Amount:        in.Amount,
		ReferenceType: RefManual,
		Description:   strings.TrimSpace(in.Description),
	}
	if in.Date != nil {
		input.Date = in.Date.UTC()
	}
	var m Movement
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			m, err = s.ledger(tx).ApplyMovement(ctx, input)
			return err
		})
	})
	if err != nil {
		return Movement{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "accounts", "account_transaction", strconv.FormatInt(m.ID, 10))
	entry.After = map[string]any{"account_id": accountID, "type": string(m.Type), "amount": m.Amount.String()}
	s.record(ctx, entry)
	return m, nil
}

// Transfer moves money between two accounts without a payment record.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.Date.IsZero() {
		in.Date = s.now().UTC()
	}
	var res TransferResult
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			res, err = s.ledger(tx).Transfer(ctx, in)
			return err
		})
	})
	if err != nil {
		return TransferResult{}, err
	}
	entry := shared.NewAuditEntry(ctx, "transfer", "accounts", "account", strconv.FormatInt(res.From.ID, 10))
	entry.After = map[string]any{
		"to_account_id": res.To.ID,
		"from_amount":   res.FromAmount.String(),
		"to_amount":     res.ToAmount.String(),
		"exchange_rate": res.Rate.String(),
	}
	s.record(ctx, entry)
	return res, nil
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", entry.Entity), slog.Any("error", err))
	}
}
