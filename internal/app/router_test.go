package app_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/auth"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts/contactstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/categories"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/categories/categoriestest"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products/productstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.Service) {
	t.Helper()
	authSvc := auth.NewService(nil, "router-secret", time.Hour)
	contactSvc := contacts.NewService(contactstest.NewMemory(), nil, nil, "TRY")
	productSvc := products.NewService(productstest.NewMemory(), nil, nil)
	categorySvc := categories.NewService(categoriestest.NewMemory(), nil, nil)
	router := app.NewRouter(app.RouterParams{
		Config:            &app.Config{AppEnv: "test", AppRateLimit: 1000, AppCORSOrigins: []string{"https://ui.example"}},
		AuthHandler:       auth.NewHandler(nil, authSvc),
		ContactsHandler:   contacts.NewHandler(nil, contactSvc, rbac.Middleware{}),
		ProductsHandler:   products.NewHandler(nil, productSvc, rbac.Middleware{}),
		CategoriesHandler: categories.NewHandler(nil, categorySvc, rbac.Middleware{}),
		JobHandler:        jobs.NewHandler(nil, nil),
		Metrics:           observability.NewMetrics(),
	})
	return router, authSvc
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, authSvc := newTestRouter(t)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/contacts/", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)

	tok, err := authSvc.Issue(&auth.User{ID: 1, Username: "admin", IsSuperUser: true})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/contacts/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "[]", strings.TrimSpace(res.Body.String()))

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestCategoriesNestUnderProducts(t *testing.T) {
	router, authSvc := newTestRouter(t)
	tok, err := authSvc.Issue(&auth.User{ID: 1, Username: "admin", IsSuperUser: true})
	require.NoError(t, err)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		req.Header.Set("Content-Type", "application/json")
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		return res
	}

	res := do(http.MethodPost, "/api/products/categories/", `{"code":"ELEC","name":"Electronics"}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	res = do(http.MethodGet, "/api/products/categories/", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"ELEC"`)
	res = do(http.MethodGet, "/api/products/", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "[]", strings.TrimSpace(res.Body.String()))
}

func TestPublicRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, res.Header().Get("X-Frame-Options"))

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "ledger_http_requests_total")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/payments/", nil)
	req.Header.Set("Origin", "https://ui.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, "https://ui.example", res.Header().Get("Access-Control-Allow-Origin"))
}
