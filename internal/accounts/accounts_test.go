package accounts_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounts/accountstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyMovementRecordsBalanceAfter(t *testing.T) {
	repo := accountstest.NewMemory()
	acc := repo.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("100")})
	ledger := accounts.NewLedger(repo)
	ctx := context.Background()

	m, err := ledger.ApplyMovement(ctx, accounts.MovementInput{AccountID: acc.ID, Type: accounts.MovementDeposit, Amount: dec("50.25"), ReferenceType: accounts.RefManual})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(dec("150.25")))

	m, err = ledger.ApplyMovement(ctx, accounts.MovementInput{AccountID: acc.ID, Type: accounts.MovementWithdrawal, Amount: dec("200")})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(dec("-49.75")), "withdrawals are not cover checked")
	require.True(t, repo.Balance(acc.ID).Equal(m.BalanceAfter))

	_, err = ledger.ApplyMovement(ctx, accounts.MovementInput{AccountID: acc.ID, Type: accounts.MovementDeposit, Amount: dec("0")})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = ledger.ApplyMovement(ctx, accounts.MovementInput{AccountID: acc.ID, Type: "bonus", Amount: dec("1")})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = ledger.ApplyMovement(ctx, accounts.MovementInput{AccountID: 999, Type: accounts.MovementDeposit, Amount: dec("1")})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	require.Len(t, repo.History(acc.ID), 2)
}

func TestTransferSameCurrency(t *testing.T) {
	repo := accountstest.NewMemory()
	a := repo.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("5000")})
	b := repo.AddAccount(accounts.Account{Currency: "TRY"})

	res, err := accounts.NewLedger(repo).Transfer(context.Background(), accounts.TransferInput{
		FromAccountID: a.ID,
		ToAccountID:   b.ID,
		FromAmount:    dec("1000"),
		Rate:          decimal.NewNullDecimal(dec("7")),
	})
	require.NoError(t, err)
	require.True(t, res.Rate.Equal(dec("1")))
	require.True(t, res.ToAmount.Equal(dec("1000")))
	require.True(t, repo.Balance(a.ID).Equal(dec("4000")))
	require.True(t, repo.Balance(b.ID).Equal(dec("1000")))
	require.Equal(t, accounts.MovementTransferOut, res.Out.Type)
	require.Equal(t, accounts.MovementTransferIn, res.In.Type)
	require.Equal(t, b.ID, *res.Out.ReferenceID)
	require.True(t, res.Out.BalanceAfter.Equal(dec("4000")))
}

func TestTransferCrossCurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("to amount wins", func(t *testing.T) {
		repo := accountstest.NewMemory()
		usd := repo.AddAccount(accounts.Account{Currency: "USD", Balance: dec("500")})
		try := repo.AddAccount(accounts.Account{Currency: "TRY"})
		res, err := accounts.NewLedger(repo).Transfer(ctx, accounts.TransferInput{
			FromAccountID: usd.ID,
			ToAccountID:   try.ID,
			FromAmount:    dec("100"),
			ToAmount:      decimal.NewNullDecimal(dec("3000")),
			Rate:          decimal.NewNullDecimal(dec("29")),
		})
		require.NoError(t, err)
		require.True(t, res.Rate.Equal(dec("30")))
		require.True(t, repo.Balance(usd.ID).Equal(dec("400")))
		require.True(t, repo.Balance(try.ID).Equal(dec("3000")))
	})

	t.Run("rate only", func(t *testing.T) {
		repo := accountstest.NewMemory()
		usd := repo.AddAccount(accounts.Account{Currency: "USD", Balance: dec("500")})
		try := repo.AddAccount(accounts.Account{Currency: "TRY"})
		res, err := accounts.NewLedger(repo).Transfer(ctx, accounts.TransferInput{
			FromAccountID: usd.ID,
			ToAccountID:   try.ID,
			FromAmount:    dec("100"),
			Rate:          decimal.NewNullDecimal(dec("30.5")),
		})
		require.NoError(t, err)
		require.True(t, res.ToAmount.Equal(dec("3050")))
	})

	t.Run("neither", func(t *testing.T) {
		repo := accountstest.NewMemory()
		usd := repo.AddAccount(accounts.Account{Currency: "USD", Balance: dec("500")})
		try := repo.AddAccount(accounts.Account{Currency: "TRY"})
		_, err := accounts.NewLedger(repo).Transfer(ctx, accounts.TransferInput{FromAccountID: usd.ID, ToAccountID: try.ID, FromAmount: dec("100")})
		require.ErrorIs(t, err, httpx.ErrValidation)
		require.True(t, repo.Balance(usd.ID).Equal(dec("500")))
	})
}

func TestTransferRejectsBeforeMutation(t *testing.T) {
	repo := accountstest.NewMemory()
	a := repo.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("10")})
	b := repo.AddAccount(accounts.Account{Currency: "TRY"})
	ledger := accounts.NewLedger(repo)
	ctx := context.Background()

	_, err := ledger.Transfer(ctx, accounts.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, FromAmount: dec("10.01")})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = ledger.Transfer(ctx, accounts.TransferInput{FromAccountID: a.ID, ToAccountID: a.ID, FromAmount: dec("1")})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = ledger.Transfer(ctx, accounts.TransferInput{FromAccountID: a.ID, ToAccountID: 99, FromAmount: dec("1")})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	require.Empty(t, repo.History(a.ID))
	require.True(t, repo.Balance(a.ID).Equal(dec("10")))
}

func TestTransferLocksInAscendingOrder(t *testing.T) {
	repo := accountstest.NewMemory()
	low := repo.AddAccount(accounts.Account{Currency: "TRY"})
	high := repo.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("100")})

	_, err := accounts.NewLedger(repo).PlanTransfer(context.Background(), accounts.TransferInput{FromAccountID: high.ID, ToAccountID: low.ID, FromAmount: dec("1")})
	require.NoError(t, err)
	require.Equal(t, []int64{low.ID, high.ID}, repo.Locked)
}

func TestReverseAppendsCompensatingMovement(t *testing.T) {
	repo := accountstest.NewMemory()
	acc := repo.AddAccount(accounts.Account{Currency: "TRY"})
	ledger := accounts.NewLedger(repo)
	ctx := context.Background()
	ref := int64(42)

	_, err := ledger.ApplyMovement(ctx, accounts.MovementInput{AccountID: acc.ID, Type: accounts.MovementDeposit, Amount: dec("500"), ReferenceType: accounts.RefPayment, ReferenceID: &ref})
	require.NoError(t, err)

	m, ok, err := ledger.Reverse(ctx, acc.ID, accounts.MovementDeposit, dec("500"), &ref, "payment deleted")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, accounts.MovementWithdrawal, m.Type)
	require.Equal(t, accounts.RefPaymentReversal, m.ReferenceType)
	require.True(t, m.BalanceAfter.IsZero())

	history := repo.History(acc.ID)
	require.Len(t, history, 2)
	require.True(t, history[0].BalanceAfter.Equal(dec("500")), "history is append-only")

	_, ok, err = ledger.Reverse(ctx, 999, accounts.MovementDeposit, dec("1"), nil, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestServiceCreateAndDelete(t *testing.T) {
	repo := accountstest.NewMemory()
	svc := accounts.NewService(repo, nil, nil)
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	created, err := svc.Create(ctx, accounts.CreateInput{CompanyID: 1, Code: "BNK1", Name: "Main", AccountType: accounts.TypeBank, Balance: dec("250"), IBAN: "tr33 0006 1005"})
	require.NoError(t, err)
	require.Equal(t, "TRY", created.Currency)
	require.Equal(t, "TR3300061005", created.IBAN)
	require.True(t, created.Balance.Equal(dec("250")))
	require.Len(t, repo.History(created.ID), 1)

	_, err = svc.Create(ctx, accounts.CreateInput{CompanyID: 7, Code: "X", Name: "X", AccountType: accounts.TypeCash})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	err = svc.Delete(ctx, created.ID)
	require.ErrorIs(t, err, httpx.ErrValidation)

	empty, err := svc.Create(ctx, accounts.CreateInput{CompanyID: 1, Code: "CSH", Name: "Till", AccountType: accounts.TypeCash})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, empty.ID))
	_, err = svc.Get(ctx, empty.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestServiceWritesRetrySerializationFailures(t *testing.T) {
	repo := accountstest.NewMemory()
	a := repo.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("100")})
	b := repo.AddAccount(accounts.Account{Currency: "TRY"})
	svc := accounts.NewService(repo, nil, nil)
	ctx := context.Background()

	repo.Conflicts = 1
	m, err := svc.AddMovement(ctx, a.ID, accounts.ManualMovementInput{Type: accounts.MovementDeposit, Amount: dec("50")})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(dec("150")))
	require.Len(t, repo.History(a.ID), 1, "the rolled back attempt leaves no movement")

	repo.Conflicts = 1
	_, err = svc.Transfer(ctx, accounts.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, FromAmount: dec("30")})
	require.NoError(t, err)
	require.Zero(t, repo.Conflicts)
	require.True(t, repo.Balance(a.ID).Equal(dec("120")))
	require.True(t, repo.Balance(b.ID).Equal(dec("30")))

	repo.Conflicts = 3
	_, err = svc.AddMovement(ctx, b.ID, accounts.ManualMovementInput{Type: accounts.MovementWithdrawal, Amount: dec("10")})
	require.True(t, db.IsSerializationFailure(err))
	require.True(t, repo.Balance(b.ID).Equal(dec("30")))
}

func TestHandlerMovementsAndTransfer(t *testing.T) {
	repo := accountstest.NewMemory()
	a := repo.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("5000")})
	b := repo.AddAccount(accounts.Account{Currency: "TRY"})
	h := accounts.NewHandler(nil, accounts.NewService(repo, nil, nil), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 1, SuperUser: true})))
		})
	})
	r.Route("/api/accounts", h.MountRoutes)

	post := func(path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, &buf))
		return rec
	}

	rec := post("/api/accounts/transfer", map[string]any{"from_account_id": a.ID, "to_account_id": b.ID, "from_amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, repo.Balance(a.ID).Equal(dec("4000")))

	rec = post("/api/accounts/transfer", map[string]any{"from_account_id": a.ID, "to_account_id": b.ID, "from_amount": "99999"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post("/api/accounts/"+itoa(b.ID)+"/transactions", map[string]any{"transaction_type": "withdrawal", "amount": "250"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts/"+itoa(b.ID)+"/transactions?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var moves []accounts.Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moves))
	require.Len(t, moves, 1)
	require.Equal(t, accounts.MovementWithdrawal, moves[0].Type)
	require.True(t, moves[0].BalanceAfter.Equal(dec("750")))
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
