package companies_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/companies"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/companies/companiestest"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestCreateOpensMainWarehouse(t *testing.T) {
	repo := companiestest.NewMemory()
	svc := companies.NewService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.Create(ctx, companies.CreateInput{Code: "ot", Name: "Odyssey Trade", CountryCode: "tr"})
	require.NoError(t, err)
	require.Equal(t, "OT", c.Code)
	require.Equal(t, "TR", c.CountryCode)
	require.Equal(t, "TRY", c.DefaultCurrency)
	require.Len(t, c.Warehouses, 1)
	require.Equal(t, "MAIN", c.Warehouses[0].Code)
	require.True(t, c.Warehouses[0].IsDefault)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Warehouses, 1)

	_, err = svc.Create(ctx, companies.CreateInput{Code: "OT", Name: "Copy"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	list, err := svc.List(ctx, companies.ListFilter{Window: shared.NewWindow(0, 0)})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.Create(ctx, companies.CreateInput{Code: " ", Name: "Blank"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestUpdate(t *testing.T) {
	repo := companiestest.NewMemory()
	svc := companies.NewService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.Create(ctx, companies.CreateInput{Code: "OT", Name: "Odyssey"})
	require.NoError(t, err)
	cur := "usd"
	off := false
	updated, err := svc.Update(ctx, c.ID, companies.Patch{DefaultCurrency: &cur, IsActive: &off})
	require.NoError(t, err)
	require.Equal(t, "USD", updated.DefaultCurrency)
	require.False(t, updated.IsActive)

	blank := ""
	_, err = svc.Update(ctx, c.ID, companies.Patch{Name: &blank})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = svc.Update(ctx, 404, companies.Patch{Name: &cur})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestDeleteRemovesWarehousesAndSubWarehouses(t *testing.T) {
	repo := companiestest.NewMemory()
	svc := companies.NewService(repo, nil, nil)
	stock := warehouses.NewService(repo.Stock, nil, nil)
	ctx := context.Background()

	c, err := svc.Create(ctx, companies.CreateInput{Code: "OT", Name: "Odyssey"})
	require.NoError(t, err)
	branch, err := stock.Create(ctx, warehouses.CreateInput{CompanyID: c.ID, Code: "B1", Name: "Branch"})
	require.NoError(t, err)
	_, err = stock.CreateSub(ctx, branch.ID, warehouses.SubInput{Code: "A", Name: "Aisle"})
	require.NoError(t, err)
	_, err = stock.CreateSub(ctx, c.Warehouses[0].ID, warehouses.SubInput{Code: "A", Name: "Aisle"})
	require.NoError(t, err)

	repo.InUse[c.ID] = true
	require.ErrorIs(t, svc.Delete(ctx, c.ID), httpx.ErrValidation)
	left, err := stock.ListByCompany(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, left, 2)
	require.Equal(t, 2, repo.Stock.SubCount())

	delete(repo.InUse, c.ID)
	require.NoError(t, svc.Delete(ctx, c.ID))
	left, err = stock.ListByCompany(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, left)
	require.Zero(t, repo.Stock.SubCount())
	_, err = svc.Get(ctx, c.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestWritesRetrySerializationFailures(t *testing.T) {
	repo := companiestest.NewMemory()
	svc := companies.NewService(repo, nil, nil)
	ctx := context.Background()

	repo.Conflicts = 1
	c, err := svc.Create(ctx, companies.CreateInput{Code: "OT", Name: "Odyssey"})
	require.NoError(t, err)
	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Warehouses, 1)

	repo.Conflicts = 3
	err = svc.Delete(ctx, c.ID)
	require.True(t, db.IsSerializationFailure(err))
	_, err = svc.Get(ctx, c.ID)
	require.NoError(t, err)
}

func TestHandlerRoutes(t *testing.T) {
	repo := companiestest.NewMemory()
	h := companies.NewHandler(nil, companies.NewService(repo, nil, nil), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 1, SuperUser: true})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/companies", h.MountRoutes)

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

	rec := do(http.MethodPost, "/api/companies/", map[string]any{"code": "OT", "name": "Odyssey", "email": "ops@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created companies.Company
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(http.MethodPost, "/api/companies/", map[string]any{"code": "X", "name": "Bad", "email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPut, "/api/companies/"+itoa(created.ID), map[string]any{"phone": "+90 212"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/api/companies/?search=odys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []companies.Company
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = do(http.MethodGet, "/api/companies/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"MAIN"`)

	rec = do(http.MethodDelete, "/api/companies/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(http.MethodDelete, "/api/companies/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
