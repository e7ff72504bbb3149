package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository reads accounts and their movements.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Account, error)
	Get(ctx context.Context, id int64) (Account, error)
	Movements(ctx context.Context, accountID int64, window shared.Window) ([]Movement, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes writes that must share one transaction.
type TxRepository interface {
	LedgerStore
	Insert(ctx context.Context, a Account) (Account, error)
	Update(ctx context.Context, a Account) error
	Delete(ctx context.Context, id int64) error
	CountMovements(ctx context.Context, accountID int64) (int64, error)
	ClearDefault(ctx context.Context, companyID int64, currency string, keepID int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const accountColumns = `id, company_id, code, name, account_type, currency, balance, bank_name, iban, account_number, branch_code,
wallet_address, network, gateway_name, merchant_id, is_default, is_active, created_at, updated_at`

const movementColumns = `id, account_id, transaction_type, amount, balance_after, reference_type, reference_id, description,
transaction_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	var kind string
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &kind, &a.Currency, &a.Balance, &a.BankName, &a.IBAN,
		&a.AccountNumber, &a.BranchCode, &a.WalletAddress, &a.Network, &a.GatewayName, &a.MerchantID, &a.IsDefault,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: account", httpx.ErrNotFound)
	}
	a.AccountType = Type(kind)
	return a, err
}

func scanMovement(row rowScanner) (Movement, error) {
	var m Movement
	var kind string
	var refType *string
	err := row.Scan(&m.ID, &m.AccountID, &kind, &m.Amount, &m.BalanceAfter, &refType, &m.ReferenceID, &m.Description,
		&m.TransactionDate, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	m.Type = MovementType(kind)
	if refType != nil {
		m.ReferenceType = *refType
	}
	return m, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	var (
		where []string
		args  []any
	)
	if filter.CompanyID > 0 {
		args = append(args, filter.CompanyID)
		where = append(where, fmt.Sprintf("company_id = $%d", len(args)))
	}
	if filter.AccountType != "" {
		args = append(args, string(filter.AccountType))
		where = append(where, fmt.Sprintf("account_type = $%d", len(args)))
	}
	if filter.Currency != "" {
		args = append(args, strings.ToUpper(filter.Currency))
		where = append(where, fmt.Sprintf("currency = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY company_id, code`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *repository) Movements(ctx context.Context, accountID int64, window shared.Window) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM account_transactions
WHERE account_id = $1
ORDER BY transaction_date DESC, id DESC
LIMIT $2 OFFSET $3`, accountID, window.Limit, window.Skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds account writes to q.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) SetBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	_, err := r.q.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = NOW() WHERE id = $1`, id, balance)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	var refType any
	if m.ReferenceType != "" {
		refType = m.ReferenceType
	}
	return scanMovement(r.q.QueryRow(ctx, `INSERT INTO account_transactions
  (account_id, transaction_type, amount, balance_after, reference_type, reference_id, description, transaction_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+movementColumns,
		m.AccountID, string(m.Type), m.Amount, m.BalanceAfter, refType, m.ReferenceID, m.Description, m.TransactionDate))
}

func (r *txRepository) Insert(ctx context.Context, a Account) (Account, error) {
	created, err := scanAccount(r.q.QueryRow(ctx, `INSERT INTO accounts
  (company_id, code, name, account_type, currency, balance, bank_name, iban, account_number, branch_code,
   wallet_address, network, gateway_name, merchant_id, is_default, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
RETURNING `+accountColumns,
		a.CompanyID, a.Code, a.Name, string(a.AccountType), a.Currency, a.Balance, a.BankName, a.IBAN, a.AccountNumber,
		a.BranchCode, a.WalletAddress, a.Network, a.GatewayName, a.MerchantID, a.IsDefault, a.IsActive))
	switch {
	case db.IsForeignKeyViolation(err):
		return Account{}, fmt.Errorf("%w: company %d", httpx.ErrNotFound, a.CompanyID)
	case db.IsUniqueViolation(err, ""):
		return Account{}, fmt.Errorf("%w: account code %s", httpx.ErrDuplicate, a.Code)
	}
	return created, err
}

func (r *txRepository) Update(ctx context.Context, a Account) error {
	_, err := r.q.Exec(ctx, `UPDATE accounts SET code = $2, name = $3, account_type = $4, bank_name = $5, iban = $6,
  account_number = $7, branch_code = $8, wallet_address = $9, network = $10, gateway_name = $11, merchant_id = $12,
  is_default = $13, is_active = $14, updated_at = NOW()
WHERE id = $1`,
		a.ID, a.Code, a.Name, string(a.AccountType), a.BankName, a.IBAN, a.AccountNumber, a.BranchCode, a.WalletAddress,
		a.Network, a.GatewayName, a.MerchantID, a.IsDefault, a.IsActive)
	if db.IsUniqueViolation(err, "") {
		return fmt.Errorf("%w: account code %s", httpx.ErrDuplicate, a.Code)
	}
	return err
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: account %d is referenced by payments", httpx.ErrValidation, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) CountMovements(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM account_transactions WHERE account_id = $1`, accountID).Scan(&n)
	return n, err
}

func (r *txRepository) ClearDefault(ctx context.Context, companyID int64, currency string, keepID int64) error {
	_, err := r.q.Exec(ctx, `UPDATE accounts SET is_default = FALSE, updated_at = NOW()
WHERE company_id = $1 AND currency = $2 AND id <> $3 AND is_default`, companyID, currency, keepID)
	return err
}
