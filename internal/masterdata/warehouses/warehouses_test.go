package warehouses_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses/warehousestest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type auditSpy struct {
	entries []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func TestCreateMovesDefault(t *testing.T) {
	repo := warehousestest.NewMemory()
	svc := warehouses.NewService(repo, nil, nil)
	ctx := context.Background()

	main, err := svc.Create(ctx, warehouses.CreateInput{CompanyID: 1, Code: " main ", Name: "Main", IsDefault: true})
	require.NoError(t, err)
	require.Equal(t, "MAIN", main.Code)
	require.True(t, main.IsActive)

	second, err := svc.Create(ctx, warehouses.CreateInput{CompanyID: 1, Code: "B2", Name: "Branch", IsDefault: true})
	require.NoError(t, err)

	list, err := svc.ListByCompany(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID)
	require.False(t, list[1].IsDefault)

	_, err = svc.Create(ctx, warehouses.CreateInput{CompanyID: 1, Code: "main", Name: "Again"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)

	_, err = svc.Create(ctx, warehouses.CreateInput{CompanyID: 9, Code: "X", Name: "Nowhere"})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = svc.ListByCompany(ctx, 0)
	require.ErrorIs(t, err, httpx.ErrValidation)

	yes := true
	updated, err := svc.Update(ctx, main.ID, warehouses.Patch{IsDefault: &yes})
	require.NoError(t, err)
	require.True(t, updated.IsDefault)
	got, err := svc.Get(ctx, second.ID)
	require.NoError(t, err)
	require.False(t, got.IsDefault)
}

func TestDeleteRemovesSubWarehouses(t *testing.T) {
	repo := warehousestest.NewMemory()
	audit := &auditSpy{}
	svc := warehouses.NewService(repo, audit, nil)
	ctx := context.Background()

	w, err := svc.Create(ctx, warehouses.CreateInput{CompanyID: 1, Code: "W1", Name: "Depot"})
	require.NoError(t, err)
	for _, code := range []string{"A", "B"} {
		_, err := svc.CreateSub(ctx, w.ID, warehouses.SubInput{Code: code, Name: "Shelf " + code})
		require.NoError(t, err)
	}
	_, err = svc.CreateSub(ctx, w.ID, warehouses.SubInput{Code: "a", Name: "Dup"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	_, err = svc.CreateSub(ctx, 404, warehouses.SubInput{Code: "Z", Name: "Lost"})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	got, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, got.SubWarehouses, 2)

	// The store refuses to drop a warehouse that still has sub-warehouses.
	err = repo.WithTx(ctx, func(ctx context.Context, tx warehouses.TxRepository) error {
		return tx.Delete(ctx, w.ID)
	})
	require.ErrorIs(t, err, httpx.ErrValidation)

	require.NoError(t, svc.Delete(ctx, w.ID))
	require.Zero(t, repo.SubCount())
	_, err = svc.Get(ctx, w.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)

	last := audit.entries[len(audit.entries)-1]
	require.Equal(t, shared.ActionDelete, last.Action)
	require.Contains(t, last.Description, "2 sub-warehouses")

	require.ErrorIs(t, svc.Delete(ctx, w.ID), httpx.ErrNotFound)
}

func TestSubWarehouseUpdateAndDelete(t *testing.T) {
	repo := warehousestest.NewMemory()
	svc := warehouses.NewService(repo, nil, nil)
	ctx := context.Background()

	w, err := svc.Create(ctx, warehouses.CreateInput{CompanyID: 1, Code: "W1", Name: "Depot"})
	require.NoError(t, err)
	sub, err := svc.CreateSub(ctx, w.ID, warehouses.SubInput{Code: "a1", Name: "Aisle"})
	require.NoError(t, err)
	require.Equal(t, "A1", sub.Code)

	off := false
	blank := " "
	_, err = svc.UpdateSub(ctx, sub.ID, warehouses.SubPatch{Name: &blank})
	require.ErrorIs(t, err, httpx.ErrValidation)

	updated, err := svc.UpdateSub(ctx, sub.ID, warehouses.SubPatch{IsActive: &off})
	require.NoError(t, err)
	require.False(t, updated.IsActive)

	require.NoError(t, svc.DeleteSub(ctx, sub.ID))
	require.ErrorIs(t, svc.DeleteSub(ctx, sub.ID), httpx.ErrNotFound)
}

func TestWritesRetrySerializationFailures(t *testing.T) {
	repo := warehousestest.NewMemory()
	svc := warehouses.NewService(repo, nil, nil)
	ctx := context.Background()

	repo.Conflicts = 1
	w, err := svc.Create(ctx, warehouses.CreateInput{CompanyID: 1, Code: "W1", Name: "Depot"})
	require.NoError(t, err)
	_, err = svc.CreateSub(ctx, w.ID, warehouses.SubInput{Code: "A", Name: "Aisle"})
	require.NoError(t, err)

	repo.Conflicts = 1
	require.NoError(t, svc.Delete(ctx, w.ID))
	list, err := svc.ListByCompany(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)
	require.Zero(t, repo.SubCount())
}

func TestHandlerRoutes(t *testing.T) {
	repo := warehousestest.NewMemory()
	h := warehouses.NewHandler(nil, warehouses.NewService(repo, nil, nil), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 1, SuperUser: true})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/warehouses", h.MountRoutes)

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

	rec := do(http.MethodPost, "/api/warehouses/", map[string]any{"company_id": 1, "code": "W1", "name": "Depot"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created warehouses.Warehouse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(http.MethodPost, "/api/warehouses/", map[string]any{"company_id": 1, "name": "No code"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/api/warehouses/"+itoa(created.ID)+"/subs", map[string]any{"code": "A", "name": "Aisle"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub warehouses.SubWarehouse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))

	rec = do(http.MethodPut, "/api/warehouses/subs/"+itoa(sub.ID), map[string]any{"name": "Aisle one"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/api/warehouses/?company_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []warehouses.Warehouse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Len(t, listed[0].SubWarehouses, 1)
	require.Equal(t, "Aisle one", listed[0].SubWarehouses[0].Name)

	rec = do(http.MethodDelete, "/api/warehouses/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(http.MethodGet, "/api/warehouses/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
