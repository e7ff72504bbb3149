package users_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/users"
	"github.com/odyssey-erp/odyssey-ledger/internal/users/userstest"
)

type cacheSpy struct {
	dropped []int64
}

func (c *cacheSpy) Invalidate(_ context.Context, userID int64) {
	c.dropped = append(c.dropped, userID)
}

func ptr[T any](v T) *T { return &v }

func newService(repo *userstest.Memory, cache users.PermissionCache) *users.Service {
	return users.NewService(repo, nil, cache, nil).WithHashCost(bcrypt.MinCost)
}

func TestCreateHashesPassword(t *testing.T) {
	repo := userstest.NewMemory()
	svc := newService(repo, nil)
	ctx := context.Background()

	u, err := svc.Create(ctx, users.CreateInput{Email: "ada@example.com", Username: "ada", Password: "correcthorse", RoleID: ptr(int64(2))})
	require.NoError(t, err)
	require.True(t, u.IsActive)
	require.Equal(t, int64(2), *u.RoleID)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correcthorse")))

	raw, err := json.Marshal(u)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "correcthorse")
	require.NotContains(t, string(raw), u.PasswordHash)

	_, err = svc.Create(ctx, users.CreateInput{Email: "ADA@example.com", Username: "other", Password: "correcthorse"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	_, err = svc.Create(ctx, users.CreateInput{Email: "x@example.com", Username: "ADA", Password: "correcthorse"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	_, err = svc.Create(ctx, users.CreateInput{Email: "y@example.com", Username: "yan", Password: "short"})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = svc.Create(ctx, users.CreateInput{Email: "z@example.com", Username: "zed", Password: "correcthorse", RoleID: ptr(int64(9))})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	list, err := svc.List(ctx, users.ListFilter{Window: shared.NewWindow(0, 0)})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestUpdateRehashesAndInvalidates(t *testing.T) {
	repo := userstest.NewMemory()
	cache := &cacheSpy{}
	svc := newService(repo, cache)
	ctx := context.Background()

	u, err := svc.Create(ctx, users.CreateInput{Email: "ada@example.com", Username: "ada", Password: "correcthorse"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, u.ID, users.Patch{Password: ptr("batterystaple"), RoleID: ptr(int64(1)), IsActive: ptr(false)})
	require.NoError(t, err)
	require.False(t, updated.IsActive)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("batterystaple")))
	role, ok := repo.RoleOf(u.ID)
	require.True(t, ok)
	require.Equal(t, int64(1), role)
	require.Equal(t, []int64{u.ID}, cache.dropped)

	_, err = svc.Update(ctx, u.ID, users.Patch{Password: ptr("short")})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = svc.Update(ctx, 404, users.Patch{FullName: ptr("Nobody")})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestDeleteRemovesRolesButNotSelf(t *testing.T) {
	repo := userstest.NewMemory()
	cache := &cacheSpy{}
	svc := newService(repo, cache)
	ctx := context.Background()

	admin, err := svc.Create(ctx, users.CreateInput{Email: "root@example.com", Username: "root", Password: "correcthorse"})
	require.NoError(t, err)
	u, err := svc.Create(ctx, users.CreateInput{Email: "ada@example.com", Username: "ada", Password: "correcthorse", RoleID: ptr(int64(1))})
	require.NoError(t, err)

	asAdmin := shared.ContextWithPrincipal(ctx, shared.Principal{UserID: admin.ID})
	require.ErrorIs(t, svc.Delete(asAdmin, admin.ID), httpx.ErrValidation)

	repo.Conflicts = 1
	require.NoError(t, svc.Delete(asAdmin, u.ID))
	_, ok := repo.RoleOf(u.ID)
	require.False(t, ok)
	_, err = svc.Get(ctx, u.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.Equal(t, []int64{u.ID}, cache.dropped)
}

func TestHandlerRoutes(t *testing.T) {
	repo := userstest.NewMemory()
	h := users.NewHandler(nil, newService(repo, nil), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 99, SuperUser: true})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/users", h.MountRoutes)

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

	rec := do(http.MethodPost, "/api/users/", map[string]any{"email": "ada@example.com", "username": "ada", "password": "correcthorse"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotContains(t, rec.Body.String(), "password")
	var created users.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(http.MethodPost, "/api/users/", map[string]any{"email": "bad", "username": "bo", "password": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/api/users/", map[string]any{"email": "ada@example.com", "username": "ada2", "password": "correcthorse"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Duplicate")

	rec = do(http.MethodPut, "/api/users/"+itoa(created.ID), map[string]any{"full_name": "Ada Lovelace"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/api/users/?search=lovelace", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []users.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = do(http.MethodDelete, "/api/users/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
