package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type stubLogService struct {
	page        audit.Page
	exportRows  []audit.Entry
	lastFilters audit.Filters
}

func (s *stubLogService) List(_ context.Context, filters audit.Filters) (audit.Page, error) {
	s.lastFilters = filters
	return s.page, nil
}

func (s *stubLogService) Export(_ context.Context, filters audit.Filters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type stubPerms struct {
	perms []string
}

func (s stubPerms) EffectivePermissions(context.Context, int64) ([]string, error) {
	return s.perms, nil
}

func newRouter(svc *stubLogService, perms []string) http.Handler {
	h := NewHandler(nil, svc, rbac.Middleware{Service: stubPerms{perms: perms}})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 9, Username: "auditor"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/settings/audit-logs", h.MountRoutes)
	return r
}

func TestListParsesFilters(t *testing.T) {
	svc := &stubLogService{page: audit.Page{Items: []audit.Entry{{ID: 1, Action: "create", Module: "payments"}}, Limit: 2}}
	router := newRouter(svc, []string{shared.PermSettingsView})

	req := httptest.NewRequest(http.MethodGet,
		"/api/settings/audit-logs?module=payments&action=create&user_id=4&skip=5&limit=2&start_date=2024-03-01", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "payments", svc.lastFilters.Module)
	require.Equal(t, "create", svc.lastFilters.Action)
	require.Equal(t, int64(4), svc.lastFilters.UserID)
	require.Equal(t, shared.Window{Skip: 5, Limit: 2}, svc.lastFilters.Window)
	require.NotNil(t, svc.lastFilters.From)
	require.Nil(t, svc.lastFilters.To)

	var page audit.Page
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
}

func TestListRejectsBadQuery(t *testing.T) {
	router := newRouter(&stubLogService{}, []string{shared.PermSettingsView})
	for _, q := range []string{"user_id=abc", "start_date=14-03-2024", "skip=x"} {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/settings/audit-logs?"+q, nil))
		require.Equal(t, http.StatusBadRequest, res.Code, q)
	}
}

func TestListRequiresSettingsView(t *testing.T) {
	router := newRouter(&stubLogService{}, []string{shared.PermPaymentsView})
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/settings/audit-logs", nil))
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestExportCSV(t *testing.T) {
	uid := int64(9)
	svc := &stubLogService{exportRows: []audit.Entry{{
		ID: 3, UserID: &uid, Username: "auditor", Action: "delete", Module: "transactions",
		RecordType: "transaction", RecordID: "12", Description: "Transaction SLS202403140001",
		CreatedAt: time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC),
	}}}
	router := newRouter(svc, []string{shared.PermSettingsView})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/settings/audit-logs/export.csv", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "text/csv; charset=utf-8", res.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(res.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "3,2024-03-14T09:00:00Z,9,auditor,,delete,transactions,transaction,12,Transaction SLS202403140001", lines[1])
}

func TestExportIsRateLimitedPerUser(t *testing.T) {
	router := newRouter(&stubLogService{}, []string{shared.PermSettingsView})
	var last int
	for i := 0; i < rateLimit+1; i++ {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/settings/audit-logs/export.csv", nil))
		last = res.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}
