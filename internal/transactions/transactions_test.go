package transactions_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts/contactstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/currency"
	"github.com/odyssey-erp/odyssey-ledger/internal/currency/currencytest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions/transactionstest"
)

var now = time.Date(2024, 3, 14, 10, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func qty(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func ptr[T any](v T) *T { return &v }

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

type fixture struct {
	contacts *contactstest.Memory
	repo     *transactionstest.Memory
	svc      *transactions.Service
	contact  contacts.Contact
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cs := contactstest.NewMemory()
	repo := transactionstest.NewMemory(cs)
	svc := transactions.NewService(repo, fixedRates{"USD": dec("30")}, nil, nil)
	svc.WithNow(func() time.Time { return now })
	return fixture{contacts: cs, repo: repo, svc: svc, contact: cs.AddContact(contacts.Contact{Code: "C1", Name: "Acme"})}
}

func (f fixture) balance(t *testing.T, currency string) decimal.Decimal {
	t.Helper()
	b, _ := f.contacts.Balance(f.contact.ID, currency)
	return b
}

func (f fixture) sale(t *testing.T, typ transactions.Type, status transactions.Status) transactions.Transaction {
	t.Helper()
	id := f.contact.ID
	tx, err := f.svc.Create(context.Background(), transactions.CreateInput{
		TransactionType: typ,
		CompanyID:       1,
		ContactID:       &id,
		Currency:        "TRY",
		Status:          status,
		Items: []transactions.ItemInput{
			{Quantity: qty("2"), UnitPrice: dec("100"), CostPrice: dec("60")},
			{Quantity: qty("1"), UnitPrice: dec("50"), CostPrice: dec("50")},
		},
	})
	require.NoError(t, err)
	return tx
}

func TestComputeItemFixedOrder(t *testing.T) {
	item, err := transactions.ComputeItem(transactions.ItemInput{
		Quantity:        qty("3"),
		UnitPrice:       dec("100"),
		CostPrice:       dec("60"),
		DiscountPercent: dec("10"),
		TaxPercent:      dec("18"),
	})
	require.NoError(t, err)
	require.True(t, item.DiscountAmount.Equal(dec("30")))
	require.True(t, item.TaxAmount.Equal(dec("48.6")), "tax is charged on the discounted line")
	require.True(t, item.TotalAmount.Equal(dec("318.6")))
	require.True(t, item.Profit.Equal(dec("120")))
	require.True(t, item.ProfitMargin.Equal(dec("40")))

	item, err = transactions.ComputeItem(transactions.ItemInput{
		UnitPrice:       dec("80"),
		DiscountPercent: dec("50"),
		DiscountAmount:  decimal.NewNullDecimal(dec("5")),
		TaxPercent:      dec("10"),
		TaxAmount:       decimal.NewNullDecimal(dec("1.25")),
	})
	require.NoError(t, err)
	require.True(t, item.Quantity.Equal(dec("1")))
	require.True(t, item.DiscountAmount.Equal(dec("5")), "explicit amounts win over percents")
	require.True(t, item.TaxAmount.Equal(dec("1.25")))
	require.True(t, item.TotalAmount.Equal(dec("76.25")))

	item, err = transactions.ComputeItem(transactions.ItemInput{Quantity: qty("1"), UnitPrice: dec("0"), CostPrice: dec("5")})
	require.NoError(t, err)
	require.True(t, item.ProfitMargin.IsZero())

	for _, bad := range []transactions.ItemInput{
		{Quantity: qty("0"), UnitPrice: dec("1")},
		{Quantity: qty("1"), UnitPrice: dec("-1")},
		{Quantity: qty("1"), UnitPrice: dec("1"), DiscountPercent: dec("101")},
		{Quantity: qty("1"), UnitPrice: dec("1"), DiscountAmount: decimal.NewNullDecimal(dec("2"))},
	} {
		_, err := transactions.ComputeItem(bad)
		require.ErrorIs(t, err, httpx.ErrValidation)
	}
}

func TestHeaderArithmeticIsExact(t *testing.T) {
	var items []transactions.Item
	for _, in := range []transactions.ItemInput{
		{Quantity: qty("0.1"), UnitPrice: dec("0.2"), TaxPercent: dec("18")},
		{Quantity: qty("7"), UnitPrice: dec("13.37"), DiscountPercent: dec("3.5"), TaxPercent: dec("8")},
		{Quantity: qty("1.5"), UnitPrice: dec("99.99"), DiscountAmount: decimal.NewNullDecimal(dec("4.99"))},
	} {
		it, err := transactions.ComputeItem(in)
		require.NoError(t, err)
		items = append(items, it)
	}
	totals := transactions.SumItems(items)

	subtotal := decimal.Zero
	lineTotals := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Quantity.Mul(it.UnitPrice))
		lineTotals = lineTotals.Add(it.TotalAmount)
	}
	require.True(t, totals.Subtotal.Equal(subtotal), "%s != %s", totals.Subtotal, subtotal)
	require.True(t, totals.TotalAmount.Equal(totals.Subtotal.Sub(totals.DiscountAmount).Add(totals.TaxAmount)))
	require.True(t, totals.TotalAmount.Equal(lineTotals))
}

func TestCreateSaleMovesContactBalance(t *testing.T) {
	f := newFixture(t)
	tx := f.sale(t, transactions.TypeSale, "")

	require.Equal(t, "SLS202403140001", tx.TransactionNo)
	require.Equal(t, transactions.StatusCompleted, tx.Status)
	require.True(t, tx.Subtotal.Equal(dec("250")))
	require.True(t, tx.TotalAmount.Equal(dec("250")))
	require.True(t, tx.ExchangeRate.Equal(dec("1")))
	require.True(t, tx.Items[0].Profit.Add(tx.Items[1].Profit).Equal(dec("80")))
	require.True(t, f.balance(t, "TRY").Equal(dec("250")))

	second := f.sale(t, transactions.TypeSale, "")
	require.Equal(t, "SLS202403140002", second.TransactionNo)
	purchase := f.sale(t, transactions.TypePurchase, "")
	require.Equal(t, "PRC202403140001", purchase.TransactionNo)
	require.True(t, f.balance(t, "TRY").Equal(dec("250")))
}

func TestCreateResolvesExchangeRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := transactions.CreateInput{
		TransactionType: transactions.TypePurchase,
		CompanyID:       1,
		Currency:        "usd",
		Items:           []transactions.ItemInput{{UnitPrice: dec("10")}},
	}
	tx, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "USD", tx.Currency)
	require.True(t, tx.ExchangeRate.Equal(dec("30")))

	in.Currency = "CHF"
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, httpx.ErrValidation)

	in.ExchangeRate = decimal.NewNullDecimal(dec("35.5"))
	tx, err = f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.True(t, tx.ExchangeRate.Equal(dec("35.5")))
}

func TestCreateUsesRateStore(t *testing.T) {
	rates := currencytest.NewMemory()
	rates.Seed(currency.ExchangeRate{FromCurrency: "EUR", ToCurrency: "TRY", Rate: dec("32.5"), RateDate: now.Truncate(24 * time.Hour), Source: currency.SourceTCMB})
	cs := contactstest.NewMemory()
	svc := transactions.NewService(transactionstest.NewMemory(cs), currency.NewService(rates, nil, nil, nil, "TRY"), nil, nil)
	svc.WithNow(func() time.Time { return now })

	tx, err := svc.Create(context.Background(), transactions.CreateInput{
		TransactionType: transactions.TypeSale,
		CompanyID:       1,
		Currency:        "EUR",
		Items:           []transactions.ItemInput{{UnitPrice: dec("10")}},
	})
	require.NoError(t, err)
	require.True(t, tx.ExchangeRate.Equal(dec("32.5")))
}

func TestCreateRejectsMissingParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := int64(404)

	_, err := f.svc.Create(ctx, transactions.CreateInput{TransactionType: transactions.TypeSale, CompanyID: 1, ContactID: &missing, Items: []transactions.ItemInput{{UnitPrice: dec("1")}}})
	require.ErrorIs(t, err, httpx.ErrNotFound)
	_, err = f.svc.Create(ctx, transactions.CreateInput{TransactionType: transactions.TypeSale, CompanyID: 9, Items: []transactions.ItemInput{{UnitPrice: dec("1")}}})
	require.ErrorIs(t, err, httpx.ErrNotFound)
	_, err = f.svc.Create(ctx, transactions.CreateInput{TransactionType: transactions.TypeSale, CompanyID: 1})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Zero(t, f.repo.Count())

	tx := f.sale(t, transactions.TypeSale, "")
	require.Equal(t, "SLS202403140001", tx.TransactionNo, "failed attempts release their numbers")
}

func TestDraftCompleteCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.sale(t, transactions.TypeSale, transactions.StatusDraft)
	require.True(t, f.balance(t, "TRY").IsZero())

	done, err := f.svc.Complete(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCompleted, done.Status)
	require.True(t, f.balance(t, "TRY").Equal(dec("250")))

	_, err = f.svc.Complete(ctx, draft.ID)
	require.ErrorIs(t, err, httpx.ErrValidation)

	cancelled, err := f.svc.Cancel(ctx, draft.ID, " customer changed mind ")
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCancelled, cancelled.Status)
	require.Equal(t, "customer changed mind", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)
	require.True(t, f.balance(t, "TRY").IsZero())

	_, err = f.svc.Cancel(ctx, draft.ID, "")
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Equal(t, http.StatusBadRequest, httpx.StatusFor(err))

	stored, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCancelled, stored.Status)

	drafted := f.sale(t, transactions.TypeSale, transactions.StatusDraft)
	_, err = f.svc.Cancel(ctx, drafted.ID, "")
	require.NoError(t, err)
	require.True(t, f.balance(t, "TRY").IsZero(), "drafts never touched the balance")
}

func TestReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sale(t, transactions.TypeSale, "")

	full, err := f.svc.Return(ctx, sale.ID, transactions.ReturnInput{FullReturn: true, Reason: "damaged"})
	require.NoError(t, err)
	require.Equal(t, transactions.TypeSaleReturn, full.TransactionType)
	require.Equal(t, "SLR202403140001", full.TransactionNo)
	require.Equal(t, sale.TransactionNo, full.ExternalID)
	require.True(t, full.TotalAmount.Equal(dec("250")))
	require.True(t, full.Items[0].Profit.Equal(dec("-80")))
	require.True(t, full.Items[0].ProfitMargin.Equal(dec("-40")))
	require.True(t, f.balance(t, "TRY").IsZero())

	require.Equal(t, sale.Items[0].ID, *full.Items[0].SourceItemID)

	_, err = f.svc.Return(ctx, sale.ID, transactions.ReturnInput{FullReturn: true})
	require.ErrorIs(t, err, httpx.ErrValidation, "nothing left to return")
	_, err = f.svc.Return(ctx, sale.ID, transactions.ReturnInput{Lines: []transactions.ReturnLine{{ItemID: sale.Items[0].ID, Quantity: dec("1")}}})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.True(t, f.balance(t, "TRY").IsZero())

	_, err = f.svc.Return(ctx, sale.ID, transactions.ReturnInput{})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = f.svc.Return(ctx, full.ID, transactions.ReturnInput{FullReturn: true})
	require.ErrorIs(t, err, httpx.ErrValidation, "returns cannot be returned")

	purchase := f.sale(t, transactions.TypePurchase, "")
	_, err = f.svc.Cancel(ctx, purchase.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, purchase.ID, transactions.ReturnInput{FullReturn: true})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestReturnsCappedByOriginalQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sale(t, transactions.TypeSale, "")
	first := sale.Items[0].ID
	line := func(q string) transactions.ReturnInput {
		return transactions.ReturnInput{Lines: []transactions.ReturnLine{{ItemID: first, Quantity: dec(q)}}}
	}

	one, err := f.svc.Return(ctx, sale.ID, line("1"))
	require.NoError(t, err)
	require.True(t, f.balance(t, "TRY").Equal(dec("150")))

	_, err = f.svc.Return(ctx, sale.ID, line("2"))
	require.ErrorIs(t, err, httpx.ErrValidation, "only one unit of the first line is left")

	rest, err := f.svc.Return(ctx, sale.ID, transactions.ReturnInput{FullReturn: true})
	require.NoError(t, err)
	require.Len(t, rest.Items, 2)
	require.True(t, rest.Items[0].Quantity.Equal(dec("1")))
	require.True(t, rest.Items[1].Quantity.Equal(dec("1")))
	require.True(t, rest.TotalAmount.Equal(dec("150")))
	require.True(t, f.balance(t, "TRY").IsZero())

	_, err = f.svc.Return(ctx, sale.ID, line("1"))
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = f.svc.Return(ctx, sale.ID, transactions.ReturnInput{FullReturn: true})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.True(t, f.balance(t, "TRY").IsZero(), "the balance never goes below the returned sale")

	_, err = f.svc.Cancel(ctx, one.ID, "wrong item")
	require.NoError(t, err)
	again, err := f.svc.Return(ctx, sale.ID, line("1"))
	require.NoError(t, err, "a cancelled return frees its quantity")
	require.True(t, again.TotalAmount.Equal(dec("100")))
	require.True(t, f.balance(t, "TRY").IsZero())
}

func TestWritesRetrySerializationFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.sale(t, transactions.TypeSale, transactions.StatusDraft)
	f.repo.Conflicts = 1
	done, err := f.svc.Complete(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCompleted, done.Status)
	require.Zero(t, f.repo.Conflicts)
	require.True(t, f.balance(t, "TRY").Equal(dec("250")), "the rolled back attempt is not booked")

	f.repo.Conflicts = 1
	_, err = f.svc.Update(ctx, draft.ID, transactions.Patch{Notes: ptr("checked")})
	require.NoError(t, err)

	f.repo.Conflicts = 1
	_, err = f.svc.Return(ctx, draft.ID, transactions.ReturnInput{FullReturn: true})
	require.NoError(t, err)
	require.True(t, f.balance(t, "TRY").IsZero())

	other := f.sale(t, transactions.TypeSale, "")
	f.repo.Conflicts = 1
	_, err = f.svc.Cancel(ctx, other.ID, "")
	require.NoError(t, err)
	require.True(t, f.balance(t, "TRY").IsZero())

	f.repo.Conflicts = 1
	require.NoError(t, f.svc.Delete(ctx, other.ID))

	f.repo.Conflicts = 5
	_, err = f.svc.Cancel(ctx, draft.ID, "")
	require.True(t, db.IsSerializationFailure(err), "attempts are bounded")
	stored, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCompleted, stored.Status)
}

func TestNumberFollowsBookingDay(t *testing.T) {
	f := newFixture(t)
	backdated := time.Date(2023, 12, 31, 9, 0, 0, 0, time.UTC)
	tx, err := f.svc.Create(context.Background(), transactions.CreateInput{
		TransactionType: transactions.TypeSale,
		CompanyID:       1,
		Currency:        "TRY",
		TransactionDate: &backdated,
		Items:           []transactions.ItemInput{{Quantity: qty("1"), UnitPrice: dec("10")}},
	})
	require.NoError(t, err)
	require.Equal(t, "SLS202403140001", tx.TransactionNo)
	require.True(t, tx.TransactionDate.Equal(backdated))
}

func TestCreateRejectsUnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.repo.Products = map[int64]bool{7: true}
	id := f.contact.ID
	in := transactions.CreateInput{
		TransactionType: transactions.TypeSale,
		CompanyID:       1,
		ContactID:       &id,
		Currency:        "TRY",
		Items: []transactions.ItemInput{
			{ProductID: ptr(int64(7)), Quantity: qty("1"), UnitPrice: dec("10")},
			{ProductID: ptr(int64(8)), Quantity: qty("1"), UnitPrice: dec("10")},
		},
	}
	_, err := f.svc.Create(context.Background(), in)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.Contains(t, err.Error(), "product 8 on line 2")
	require.Zero(t, f.repo.Count())
	require.True(t, f.balance(t, "TRY").IsZero())

	in.Items = in.Items[:1]
	tx, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, int64(7), *tx.Items[0].ProductID)
}

func TestDeleteMirrorsCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.balance(t, "TRY")
	tx := f.sale(t, transactions.TypePurchaseReturn, "")
	require.True(t, f.balance(t, "TRY").Equal(before.Add(dec("250"))))
	require.NoError(t, f.svc.Delete(ctx, tx.ID))
	require.True(t, f.balance(t, "TRY").Equal(before))
	_, err := f.svc.Get(ctx, tx.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)

	cancelled := f.sale(t, transactions.TypeSale, "")
	_, err = f.svc.Cancel(ctx, cancelled.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, cancelled.ID))
	require.True(t, f.balance(t, "TRY").Equal(before), "a cancelled transaction is not reversed twice")
}

func TestDeleteSkipsMissingContactAccount(t *testing.T) {
	f := newFixture(t)
	tx := f.sale(t, transactions.TypeSale, "")
	f.contacts.DropAccount(f.contact.ID, "TRY")

	require.NoError(t, f.svc.Delete(context.Background(), tx.ID))
	require.Zero(t, f.repo.Count())
}

func TestDeleteForbiddenWithPayments(t *testing.T) {
	f := newFixture(t)
	tx := f.sale(t, transactions.TypeSale, "")
	f.repo.Payments = func(id int64) int64 {
		if id == tx.ID {
			return 1
		}
		return 0
	}

	err := f.svc.Delete(context.Background(), tx.ID)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Equal(t, 1, f.repo.Count())
	require.True(t, f.balance(t, "TRY").Equal(dec("250")))
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sale(t, transactions.TypeSale, "")
	f.sale(t, transactions.TypePurchase, transactions.StatusDraft)

	sales, err := f.svc.List(ctx, transactions.ListFilter{Type: transactions.TypeSale})
	require.NoError(t, err)
	require.Len(t, sales, 1)

	drafts, err := f.svc.List(ctx, transactions.ListFilter{Status: transactions.StatusDraft, ContactID: f.contact.ID})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, transactions.TypePurchase, drafts[0].TransactionType)

	_, err = f.svc.List(ctx, transactions.ListFilter{Status: "void"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestHandlerRoutes(t *testing.T) {
	f := newFixture(t)
	h := transactions.NewHandler(nil, f.svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 1, SuperUser: true})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/transactions", h.MountRoutes)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/transactions/", map[string]any{
		"transaction_type": "sale",
		"company_id":       1,
		"contact_id":       f.contact.ID,
		"status":           "draft",
		"items": []map[string]any{
			{"quantity": "2", "unit_price": "100", "cost_price": "60"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created transactions.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/api/transactions/" + strconv.FormatInt(created.ID, 10)

	rec = do(http.MethodPost, "/api/transactions/", map[string]any{"transaction_type": "sale", "company_id": 1, "items": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, path+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, f.balance(t, "TRY").Equal(dec("200")))

	var listed []transactions.Transaction
	rec = do(http.MethodGet, "/api/transactions/purchases", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Empty(t, listed)

	rec = do(http.MethodGet, "/api/transactions/sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = do(http.MethodPost, path+"/return?full_return=false&reason=broken", map[string]any{
		"items": []map[string]any{{"item_id": created.Items[0].ID, "quantity": "1"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ret transactions.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	require.Equal(t, transactions.TypeSaleReturn, ret.TransactionType)
	require.Equal(t, "Return of "+created.TransactionNo+": broken", ret.Notes)

	rec = do(http.MethodPut, path, map[string]any{"notes": "call first"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "call first")

	rec = do(http.MethodPost, path+"/cancel?reason=dup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodPost, path+"/cancel", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
