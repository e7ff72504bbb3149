package payments_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounts/accountstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts/contactstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/payments"
	"github.com/odyssey-erp/odyssey-ledger/internal/payments/paymentstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions/transactionstest"
)

var now = time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedRates map[string]decimal.Decimal

func (f fixedRates) RateToBase(_ context.Context, code string, _ *time.Time) (decimal.Decimal, error) {
	if code == "TRY" {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := f[code]; ok {
		return r, nil
	}
	return decimal.Zero, httpx.ErrNotFound
}

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (k *memoryKeys) CheckAndInsert(_ context.Context, key, _ string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	k.keys[key] = true
	return nil
}

func (k *memoryKeys) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, key)
	return nil
}

type fixture struct {
	contacts *contactstest.Memory
	txs      *transactionstest.Memory
	accts    *accountstest.Memory
	repo     *paymentstest.Memory
	keys     *memoryKeys
	txSvc    *transactions.Service
	svc      *payments.Service
	contact  contacts.Contact
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cs := contactstest.NewMemory()
	txs := transactionstest.NewMemory(cs)
	accts := accountstest.NewMemory()
	repo := paymentstest.NewMemory(txs, accts)
	rates := fixedRates{"USD": dec("30")}
	keys := &memoryKeys{keys: map[string]bool{}}

	txSvc := transactions.NewService(txs, rates, nil, nil)
	txSvc.WithNow(func() time.Time { return now })
	svc := payments.NewService(repo, rates, keys, nil, nil)
	svc.WithNow(func() time.Time { return now })
	return fixture{
		contacts: cs, txs: txs, accts: accts, repo: repo, keys: keys, txSvc: txSvc, svc: svc,
		contact: cs.AddContact(contacts.Contact{Code: "C1", Name: "Acme"}),
	}
}

func (f fixture) sale(t *testing.T, total string) transactions.Transaction {
	t.Helper()
	id := f.contact.ID
	tx, err := f.txSvc.Create(context.Background(), transactions.CreateInput{
		TransactionType: transactions.TypeSale,
		CompanyID:       1,
		ContactID:       &id,
		Currency:        "TRY",
		Items:           []transactions.ItemInput{{UnitPrice: dec(total)}},
	})
	require.NoError(t, err)
	return tx
}

func (f fixture) contactBalance(currency string) decimal.Decimal {
	b, _ := f.contacts.Balance(f.contact.ID, currency)
	return b
}

func (f fixture) transaction(t *testing.T, id int64) transactions.Transaction {
	t.Helper()
	tx, err := f.txSvc.Get(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func ptr(v int64) *int64 { return &v }

func TestCreateIncomingAppliesAllEffects(t *testing.T) {
	f := newFixture(t)
	sale := f.sale(t, "1000")
	acc := f.accts.AddAccount(accounts.Account{Currency: "TRY"})

	p, err := f.svc.Create(context.Background(), payments.CreateInput{
		PaymentType:    payments.TypeIncoming,
		PaymentChannel: payments.ChannelBankTransfer,
		Amount:         dec("500"),
		TransactionID:  &sale.ID,
		ContactID:      ptr(f.contact.ID),
		AccountID:      &acc.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "PMI202403140001", p.PaymentNo)
	require.Equal(t, "TRY", p.Currency)
	require.True(t, p.ExchangeRate.Equal(dec("1")))
	require.True(t, p.BaseAmount.Equal(dec("500")))
	require.Equal(t, payments.StatusCompleted, p.Status)

	require.True(t, f.contactBalance("TRY").Equal(dec("500")))
	require.True(t, f.accts.Balance(acc.ID).Equal(dec("500")))
	settled := f.transaction(t, sale.ID)
	require.True(t, settled.PaidAmount.Equal(dec("500")))
	require.False(t, settled.IsPaid)

	history := f.accts.History(acc.ID)
	require.Len(t, history, 1)
	require.Equal(t, accounts.MovementDeposit, history[0].Type)
	require.Equal(t, accounts.RefPayment, history[0].ReferenceType)
	require.Equal(t, p.ID, *history[0].ReferenceID)
	require.True(t, history[0].BalanceAfter.Equal(dec("500")))
}

func TestCreateOutgoingUsesRateStore(t *testing.T) {
	f := newFixture(t)
	acc := f.accts.AddAccount(accounts.Account{Currency: "USD", Balance: dec("100")})

	p, err := f.svc.Create(context.Background(), payments.CreateInput{
		PaymentType:    payments.TypeOutgoing,
		PaymentChannel: payments.ChannelCash,
		Currency:       "usd",
		Amount:         dec("40"),
		ContactID:      ptr(f.contact.ID),
		AccountID:      &acc.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "PMO202403140001", p.PaymentNo)
	require.True(t, p.ExchangeRate.Equal(dec("30")))
	require.True(t, p.BaseAmount.Equal(dec("1200")))
	require.True(t, f.contactBalance("USD").Equal(dec("40")), "paying a contact raises what they owe")
	require.True(t, f.accts.Balance(acc.ID).Equal(dec("60")))
	require.Equal(t, accounts.MovementWithdrawal, f.accts.History(acc.ID)[0].Type)

	_, err = f.svc.Create(context.Background(), payments.CreateInput{
		PaymentType: payments.TypeOutgoing, PaymentChannel: payments.ChannelCash, Currency: "CHF", Amount: dec("1"),
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateRejectsBeforeMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sale(t, "100")
	cancelled := f.sale(t, "100")
	_, err := f.txSvc.Cancel(ctx, cancelled.ID, "")
	require.NoError(t, err)
	usd := f.accts.AddAccount(accounts.Account{Currency: "USD"})
	try := f.accts.AddAccount(accounts.Account{Currency: "TRY"})
	before := f.contactBalance("TRY")

	base := payments.CreateInput{PaymentType: payments.TypeIncoming, PaymentChannel: payments.ChannelCash, Amount: dec("10")}
	cases := []struct {
		name   string
		mutate func(*payments.CreateInput)
		want   error
	}{
		{"cancelled transaction", func(in *payments.CreateInput) { in.TransactionID = &cancelled.ID }, httpx.ErrValidation},
		{"account currency mismatch", func(in *payments.CreateInput) { in.AccountID = &usd.ID }, httpx.ErrValidation},
		{"missing account", func(in *payments.CreateInput) { in.AccountID = ptr(999) }, httpx.ErrNotFound},
		{"missing transaction", func(in *payments.CreateInput) { in.TransactionID = ptr(999) }, httpx.ErrNotFound},
		{"missing contact", func(in *payments.CreateInput) {
			in.ContactID = ptr(999)
			in.AccountID = &try.ID
			in.TransactionID = &sale.ID
		}, httpx.ErrNotFound},
		{"transfer leg", func(in *payments.CreateInput) { in.PaymentType = payments.TypeTransferIn }, httpx.ErrValidation},
		{"unknown channel", func(in *payments.CreateInput) { in.PaymentChannel = "barter" }, httpx.ErrValidation},
		{"zero amount", func(in *payments.CreateInput) { in.Amount = decimal.Zero }, httpx.ErrValidation},
		{"negative rate", func(in *payments.CreateInput) { in.ExchangeRate = decimal.NewNullDecimal(dec("-1")) }, httpx.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := f.svc.Create(ctx, in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Zero(t, f.repo.Count())
	require.True(t, f.contactBalance("TRY").Equal(before))
	require.True(t, f.accts.Balance(try.ID).IsZero())
	require.Empty(t, f.accts.History(try.ID))
	require.True(t, f.transaction(t, sale.ID).PaidAmount.IsZero())

	p, err := f.svc.Create(ctx, base)
	require.NoError(t, err)
	require.Equal(t, "PMI202403140001", p.PaymentNo, "rejected attempts release their numbers")
}

func TestDeleteReversesEveryEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sale(t, "500")
	acc := f.accts.AddAccount(accounts.Account{Currency: "TRY"})

	p, err := f.svc.Create(ctx, payments.CreateInput{
		PaymentType:    payments.TypeIncoming,
		PaymentChannel: payments.ChannelBankTransfer,
		Amount:         dec("500"),
		TransactionID:  &sale.ID,
		ContactID:      ptr(f.contact.ID),
		AccountID:      &acc.ID,
	})
	require.NoError(t, err)
	require.True(t, f.transaction(t, sale.ID).IsPaid)
	require.True(t, f.contactBalance("TRY").IsZero())

	require.NoError(t, f.svc.Delete(ctx, p.ID))
	require.True(t, f.contactBalance("TRY").Equal(dec("500")))
	require.True(t, f.accts.Balance(acc.ID).IsZero())
	settled := f.transaction(t, sale.ID)
	require.True(t, settled.PaidAmount.IsZero())
	require.False(t, settled.IsPaid)

	history := f.accts.History(acc.ID)
	require.Len(t, history, 2, "movements are append-only")
	var reversal accounts.Movement
	for _, m := range history {
		if m.ReferenceType == accounts.RefPaymentReversal {
			reversal = m
		}
	}
	require.Equal(t, accounts.MovementWithdrawal, reversal.Type)
	require.True(t, reversal.BalanceAfter.IsZero())

	_, err = f.svc.Get(ctx, p.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(ctx, p.ID), httpx.ErrNotFound)
}

// is_paid is recomputed after a delete rather than reset: an overpaid transaction
// stays paid while the remaining payments still cover it.
func TestDeleteRecomputesIsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sale(t, "250")
	pay := func(amount string) payments.Payment {
		p, err := f.svc.Create(ctx, payments.CreateInput{
			PaymentType:    payments.TypeIncoming,
			PaymentChannel: payments.ChannelCash,
			Amount:         dec(amount),
			TransactionID:  &sale.ID,
		})
		require.NoError(t, err)
		return p
	}
	pay("300")
	require.True(t, f.transaction(t, sale.ID).IsPaid, "overpayment is allowed")
	second := pay("200")
	require.True(t, f.transaction(t, sale.ID).PaidAmount.Equal(dec("500")))

	require.NoError(t, f.svc.Delete(ctx, second.ID))
	settled := f.transaction(t, sale.ID)
	require.True(t, settled.PaidAmount.Equal(dec("300")))
	require.True(t, settled.IsPaid)
}

func TestDeleteSkipsMissingLedgerRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.accts.AddAccount(accounts.Account{Currency: "TRY"})
	p, err := f.svc.Create(ctx, payments.CreateInput{
		PaymentType:    payments.TypeIncoming,
		PaymentChannel: payments.ChannelCash,
		Amount:         dec("75"),
		ContactID:      ptr(f.contact.ID),
		AccountID:      &acc.ID,
	})
	require.NoError(t, err)

	f.accts.Remove(acc.ID)
	f.contacts.DropAccount(f.contact.ID, "TRY")
	require.NoError(t, f.svc.Delete(ctx, p.ID))
	require.Zero(t, f.repo.Count())
}

func TestWritesRetrySerializationFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sale(t, "500")
	acc := f.accts.AddAccount(accounts.Account{Currency: "TRY"})

	f.repo.Conflicts = 1
	p, err := f.svc.Create(ctx, payments.CreateInput{
		PaymentType:    payments.TypeIncoming,
		PaymentChannel: payments.ChannelBankTransfer,
		Amount:         dec("500"),
		TransactionID:  &sale.ID,
		ContactID:      ptr(f.contact.ID),
		AccountID:      &acc.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "PMI202403140001", p.PaymentNo)
	require.True(t, f.accts.Balance(acc.ID).Equal(dec("500")))

	f.repo.Conflicts = 1
	desc := "late"
	_, err = f.svc.Update(ctx, p.ID, payments.Patch{Description: &desc})
	require.NoError(t, err)

	f.repo.Conflicts = 1
	require.NoError(t, f.svc.Delete(ctx, p.ID))
	require.Zero(t, f.repo.Conflicts)
	require.True(t, f.accts.Balance(acc.ID).IsZero(), "the reversal is booked once")
	require.Len(t, f.accts.History(acc.ID), 2)
	require.True(t, f.contactBalance("TRY").Equal(dec("500")))
	require.True(t, f.transaction(t, sale.ID).PaidAmount.IsZero())
}

func TestNumberFollowsBookingDay(t *testing.T) {
	f := newFixture(t)
	backdated := time.Date(2023, 12, 31, 9, 0, 0, 0, time.UTC)
	p, err := f.svc.Create(context.Background(), payments.CreateInput{
		PaymentType:    payments.TypeIncoming,
		PaymentChannel: payments.ChannelCash,
		Amount:         dec("10"),
		PaymentDate:    &backdated,
	})
	require.NoError(t, err)
	require.Equal(t, "PMI202403140001", p.PaymentNo)
	require.True(t, p.PaymentDate.Equal(backdated))
}

func TestTransactionDeleteBlockedByPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sale(t, "100")
	p, err := f.svc.Create(ctx, payments.CreateInput{
		PaymentType:    payments.TypeIncoming,
		PaymentChannel: payments.ChannelCash,
		Amount:         dec("100"),
		TransactionID:  &sale.ID,
	})
	require.NoError(t, err)

	require.ErrorIs(t, f.txSvc.Delete(ctx, sale.ID), httpx.ErrValidation)
	require.NoError(t, f.svc.Delete(ctx, p.ID))
	require.NoError(t, f.txSvc.Delete(ctx, sale.ID))
}

func TestTransferSameCurrency(t *testing.T) {
	f := newFixture(t)
	a := f.accts.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("5000")})
	b := f.accts.AddAccount(accounts.Account{Currency: "TRY"})

	tr, err := f.svc.Transfer(context.Background(), payments.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: dec("1000")})
	require.NoError(t, err)
	require.True(t, f.accts.Balance(a.ID).Equal(dec("4000")))
	require.True(t, f.accts.Balance(b.ID).Equal(dec("1000")))
	require.True(t, tr.Rate.Equal(dec("1")))

	require.Equal(t, "TRF202403140001", tr.TransferNo)
	require.Equal(t, "TRF202403140001-OUT", tr.Out.PaymentNo)
	require.Equal(t, "TRF202403140001-IN", tr.In.PaymentNo)
	require.Equal(t, payments.TypeTransferOut, tr.Out.PaymentType)
	require.Equal(t, payments.TypeTransferIn, tr.In.PaymentType)
	require.Equal(t, payments.ChannelBankTransfer, tr.Out.PaymentChannel)
	require.True(t, tr.Out.TransferRef.Valid)
	require.Equal(t, tr.Out.TransferRef, tr.In.TransferRef)
	require.Equal(t, tr.TransferRef, tr.Out.TransferRef.UUID)

	require.Equal(t, accounts.MovementTransferOut, tr.OutMovement.Type)
	require.Equal(t, tr.Out.ID, *tr.OutMovement.ReferenceID)
	require.Equal(t, tr.In.ID, *tr.InMovement.ReferenceID)
	require.Equal(t, 2, f.repo.Count())
}

func TestTransferCrossCurrency(t *testing.T) {
	f := newFixture(t)
	usd := f.accts.AddAccount(accounts.Account{Currency: "USD", Balance: dec("500")})
	try := f.accts.AddAccount(accounts.Account{Currency: "TRY"})

	tr, err := f.svc.Transfer(context.Background(), payments.TransferInput{
		FromAccountID: usd.ID,
		ToAccountID:   try.ID,
		Amount:        dec("100"),
		ToAmount:      decimal.NewNullDecimal(dec("3000")),
	})
	require.NoError(t, err)
	require.True(t, f.accts.Balance(usd.ID).Equal(dec("400")))
	require.True(t, f.accts.Balance(try.ID).Equal(dec("3000")))

	require.Equal(t, "USD", tr.Out.Currency)
	require.Equal(t, "TRY", tr.In.Currency)
	require.True(t, tr.Out.ExchangeRate.Equal(dec("30")))
	require.True(t, tr.In.ExchangeRate.Equal(dec("0.03333333")))
	require.True(t, tr.Out.BaseAmount.Equal(dec("3000")))
	require.True(t, tr.In.BaseAmount.Equal(dec("100")), "%s", tr.In.BaseAmount)
}

func TestTransferRejectsBeforeMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.accts.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("10")})
	b := f.accts.AddAccount(accounts.Account{Currency: "TRY"})
	usd := f.accts.AddAccount(accounts.Account{Currency: "USD"})

	for _, in := range []payments.TransferInput{
		{FromAccountID: a.ID, ToAccountID: a.ID, Amount: dec("1")},
		{FromAccountID: a.ID, ToAccountID: b.ID, Amount: dec("11")},
		{FromAccountID: a.ID, ToAccountID: usd.ID, Amount: dec("1")},
		{FromAccountID: a.ID, ToAccountID: b.ID, Amount: dec("1"), PaymentChannel: "pigeon"},
	} {
		_, err := f.svc.Transfer(ctx, in)
		require.ErrorIs(t, err, httpx.ErrValidation)
	}
	_, err := f.svc.Transfer(ctx, payments.TransferInput{FromAccountID: a.ID, ToAccountID: 999, Amount: dec("1")})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	require.Zero(t, f.repo.Count())
	require.True(t, f.accts.Balance(a.ID).Equal(dec("10")))
	require.Empty(t, f.accts.History(a.ID))
}

func TestDeletingTransferLegRemovesBoth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	usd := f.accts.AddAccount(accounts.Account{Currency: "USD", Balance: dec("500")})
	try := f.accts.AddAccount(accounts.Account{Currency: "TRY"})
	tr, err := f.svc.Transfer(ctx, payments.TransferInput{
		FromAccountID: usd.ID,
		ToAccountID:   try.ID,
		Amount:        dec("100"),
		ExchangeRate:  decimal.NewNullDecimal(dec("30")),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, tr.In.ID))
	require.Zero(t, f.repo.Count())
	require.True(t, f.accts.Balance(usd.ID).Equal(dec("500")))
	require.True(t, f.accts.Balance(try.ID).IsZero())
	require.Len(t, f.accts.History(usd.ID), 2)
}

func TestUpdateKeepsAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, payments.CreateInput{PaymentType: payments.TypeIncoming, PaymentChannel: payments.ChannelCash, Amount: dec("12.5")})
	require.NoError(t, err)

	ref := " BANK-77 "
	refunded := payments.StatusRefunded
	updated, err := f.svc.Update(ctx, p.ID, payments.Patch{ReferenceNo: &ref, Status: &refunded})
	require.NoError(t, err)
	require.Equal(t, "BANK-77", updated.ReferenceNo)
	require.Equal(t, payments.StatusRefunded, updated.Status)
	require.True(t, updated.Amount.Equal(dec("12.5")))

	bogus := payments.Status("lost")
	_, err = f.svc.Update(ctx, p.ID, payments.Patch{Status: &bogus})
	require.ErrorIs(t, err, httpx.ErrValidation)
	stored, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusRefunded, stored.Status)
}

func TestIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := payments.CreateInput{PaymentType: payments.TypeIncoming, PaymentChannel: payments.ChannelCash, Amount: dec("5"), IdempotencyKey: "req-1"}

	_, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, http.StatusConflict, httpx.StatusFor(err))
	require.Equal(t, 1, f.repo.Count())

	failing := in
	failing.IdempotencyKey = "req-2"
	failing.AccountID = ptr(404)
	_, err = f.svc.Create(ctx, failing)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	failing.AccountID = nil
	_, err = f.svc.Create(ctx, failing)
	require.NoError(t, err, "a failed request releases its key")
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.accts.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("100")})
	_, err := f.svc.Create(ctx, payments.CreateInput{PaymentType: payments.TypeIncoming, PaymentChannel: payments.ChannelCash, Amount: dec("5"), AccountID: &acc.ID})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, payments.CreateInput{PaymentType: payments.TypeOutgoing, PaymentChannel: payments.ChannelCreditCard, Amount: dec("5")})
	require.NoError(t, err)

	byAccount, err := f.svc.List(ctx, payments.ListFilter{AccountID: acc.ID})
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	byChannel, err := f.svc.List(ctx, payments.ListFilter{Channel: payments.ChannelCreditCard})
	require.NoError(t, err)
	require.Len(t, byChannel, 1)
	require.Equal(t, payments.TypeOutgoing, byChannel[0].PaymentType)

	_, err = f.svc.List(ctx, payments.ListFilter{Type: "gift"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestHandlerRoutes(t *testing.T) {
	f := newFixture(t)
	a := f.accts.AddAccount(accounts.Account{Currency: "TRY", Balance: dec("100")})
	b := f.accts.AddAccount(accounts.Account{Currency: "TRY"})
	h := payments.NewHandler(nil, f.svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 1, SuperUser: true})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/payments", h.MountRoutes)

	do := func(method, path, key string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set(payments.IdempotencyHeader, key)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	body := map[string]any{"payment_type": "incoming", "payment_channel": "cash", "amount": "40", "account_id": a.ID}
	rec := do(http.MethodPost, "/api/payments/", "k-1", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created payments.Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, f.accts.Balance(a.ID).Equal(dec("140")))

	rec = do(http.MethodPost, "/api/payments/", "k-1", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/api/payments/transfer", "", map[string]any{"from_account_id": a.ID, "to_account_id": b.ID, "amount": "90"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr payments.Transfer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	require.Equal(t, "TRF202403140001-OUT", tr.Out.PaymentNo)

	rec = do(http.MethodGet, "/api/payments/?payment_type=transfer_in", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []payments.Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	path := "/api/payments/" + strconv.FormatInt(created.ID, 10)
	rec = do(http.MethodPut, path, "", map[string]any{"reference_no": "R-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "R-1")

	rec = do(http.MethodPut, path, "", map[string]any{"amount": "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code, "amount is not patchable")

	rec = do(http.MethodDelete, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
