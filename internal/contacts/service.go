package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes contact use-cases.
type Service struct {
	repo            Repository
	audit           AuditPort
	logger          *slog.Logger
	defaultCurrency string
}

// NewService constructs the service. defaultCurrency is used for contacts created
// without one.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger, defaultCurrency string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	defaultCurrency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "TRY"
	}
	return &Service{repo: repo, audit: audit, logger: logger, defaultCurrency: defaultCurrency}
}

// Create stores a contact together with its default-currency account.
func (s *Service) Create(ctx context.Context, in CreateInput) (Contact, error) {
	c, err := in.toContact(s.defaultCurrency)
	if err != nil {
		return Contact{}, err
	}
	var created Contact
	err = db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.Insert(ctx, c)
			if err != nil {
				return err
			}
			acc, err := tx.InsertAccount(ctx, created.ID, created.DefaultCurrency)
			if err != nil {
				return err
			}
			created.Accounts = []Account{acc}
			return nil
		})
	})
	if err != nil {
		return Contact{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "contacts", "contact", strconv.FormatInt(created.ID, 10))
	entry.After = snapshot(created)
	entry.Description = "contact " + created.Code + " created"
	s.record(ctx, entry)
	return created, nil
}

// Get returns a contact with its accounts.
func (s *Service) Get(ctx context.Context, id int64) (Contact, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Contact{}, err
	}
	c.Accounts, err = s.repo.Accounts(ctx, id)
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

// List returns contacts matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Contact, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown contact type %q", httpx.ErrValidation, filter.Type)
	}
	return s.repo.List(ctx, filter)
}

// Update applies a typed patch. Code and balances are not editable here.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (Contact, error) {
	var before, after Contact
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = current
			patch.Apply(&current)
			if strings.TrimSpace(current.Name) == "" {
				return fmt.Errorf("%w: name required", httpx.ErrValidation)
			}
			if !current.ContactType.Valid() {
				return fmt.Errorf("%w: unknown contact type %q", httpx.ErrValidation, current.ContactType)
			}
			if current.CreditLimit.IsNegative() {
				return fmt.Errorf("%w: credit_limit must not be negative", httpx.ErrValidation)
			}
			if err := tx.Update(ctx, current); err != nil {
				return err
			}
			after = current
			return nil
		})
	})
	if err != nil {
		return Contact{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "contacts", "contact", strconv.FormatInt(id, 10))
	entry.Before = snapshot(before)
	entry.After = snapshot(after)
	s.record(ctx, entry)
	return after, nil
}

// Delete removes a contact whose balances are all zero.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed Contact
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			accounts, err := tx.ListAccounts(ctx, id)
			if err != nil {
				return err
			}
			for _, acc := range accounts {
				if !acc.Balance.IsZero() {
					return fmt.Errorf("%w: contact has an open %s balance of %s", httpx.ErrValidation, acc.Currency, acc.Balance.StringFixed(2))
				}
			}
			if err := tx.DeleteAccounts(ctx, id); err != nil {
				return err
			}
			removed = current
			return tx.Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "contacts", "contact", strconv.FormatInt(id, 10))
	entry.Before = snapshot(removed)
	s.record(ctx, entry)
	return nil
}

// AddAccount opens a zero-balance account in another currency.
func (s *Service) AddAccount(ctx context.Context, contactID int64, currency string) (Account, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Account{}, fmt.Errorf("%w: currency required", httpx.ErrValidation)
	}
	var acc Account
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.GetForUpdate(ctx, contactID); err != nil {
				return err
			}
			_, err := tx.GetAccountForUpdate(ctx, contactID, currency)
			switch {
			case err == nil:
				return fmt.Errorf("%w: contact already has a %s account", httpx.ErrValidation, currency)
			case !errors.Is(err, httpx.ErrNotFound):
				return err
			}
			acc, err = tx.InsertAccount(ctx, contactID, currency)
			return err
		})
	})
	if err != nil {
		return Account{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "contacts", "contact_account", strconv.FormatInt(acc.ID, 10))
	entry.After = map[string]any{"contact_id": contactID, "currency": currency}
	s.record(ctx, entry)
	return acc, nil
}

// Balances returns the contact's balance per currency.
func (s *Service) Balances(ctx context.Context, contactID int64) (map[string]decimal.Decimal, error) {
	if _, err := s.repo.Get(ctx, contactID); err != nil {
		return nil, err
	}
	accounts, err := s.repo.Accounts(ctx, contactID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(accounts))
	for _, acc := range accounts {
		out[acc.Currency] = acc.Balance
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", entry.Entity), slog.Any("error", err))
	}
}

func snapshot(c Contact) map[string]any {
	return map[string]any{
		"code":              c.Code,
		"name":              c.Name,
		"contact_type":      string(c.ContactType),
		"tax_number":        c.TaxNumber,
		"email":             c.Email,
		"payment_term_days": c.PaymentTermDays,
		"credit_limit":      c.CreditLimit.String(),
		"default_currency":  c.DefaultCurrency,
		"is_active":         c.IsActive,
	}
}
