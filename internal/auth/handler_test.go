package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-ledger/internal/auth"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

type stubRepo struct {
	user *auth.User
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, httpx.ErrNotFound
	}
	return s.user, nil
}

func newUser(t *testing.T, active bool) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.User{ID: 7, Email: "user@test.local", Username: "ayse", PasswordHash: string(hashed), IsActive: active}
}

func TestAuthenticate(t *testing.T) {
	svc := auth.NewService(&stubRepo{user: newUser(t, true)}, "secret", time.Hour)

	user, err := svc.Authenticate(context.Background(), "user@test.local", "correctpass")
	require.NoError(t, err)
	require.Equal(t, int64(7), user.ID)

	_, err = svc.Authenticate(context.Background(), "user@test.local", "wrongpass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Authenticate(context.Background(), "nobody@test.local", "correctpass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	inactive := auth.NewService(&stubRepo{user: newUser(t, false)}, "secret", time.Hour)
	_, err = inactive.Authenticate(context.Background(), "user@test.local", "correctpass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := now
	svc := auth.NewService(nil, "secret", time.Hour).WithNow(func() time.Time { return clock })

	tok, err := svc.Issue(&auth.User{ID: 7, Username: "ayse", IsSuperUser: true})
	require.NoError(t, err)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Equal(t, now.Add(time.Hour), tok.ExpiresAt)

	p, err := svc.Parse(tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, shared.Principal{UserID: 7, Username: "ayse", SuperUser: true}, p)

	other := auth.NewService(nil, "other", time.Hour).WithNow(func() time.Time { return clock })
	_, err = other.Parse(tok.AccessToken)
	require.ErrorIs(t, err, httpx.ErrUnauthorized)

	clock = now.Add(2 * time.Hour)
	_, err = svc.Parse(tok.AccessToken)
	require.ErrorIs(t, err, httpx.ErrUnauthorized)
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	claims := auth.Claims{UserID: 7, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "odyssey-ledger",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = auth.NewService(nil, "secret", time.Hour).Parse(raw)
	require.ErrorIs(t, err, httpx.ErrUnauthorized)
}

func TestTokenEndpoint(t *testing.T) {
	svc := auth.NewService(&stubRepo{user: newUser(t, true)}, "secret", time.Hour)
	handler := auth.NewHandler(nil, svc)
	router := chi.NewRouter()
	handler.MountRoutes(router)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		return res
	}

	res := post(`{"email":"user@test.local","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var tok auth.Token
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.AccessToken)

	require.Equal(t, http.StatusUnauthorized, post(`{"email":"user@test.local","password":"wrongpass"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(`{"email":"not-an-email","password":"correctpass"}`).Code)
}

func TestMiddleware(t *testing.T) {
	svc := auth.NewService(nil, "secret", time.Hour)
	handler := auth.NewHandler(nil, svc)
	var seen shared.Principal
	protected := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res := httptest.NewRecorder()
		protected.ServeHTTP(res, req)
		return res.Code
	}

	require.Equal(t, http.StatusUnauthorized, call(""))
	require.Equal(t, http.StatusUnauthorized, call("Basic abc"))
	require.Equal(t, http.StatusUnauthorized, call("Bearer garbage"))

	tok, err := svc.Issue(&auth.User{ID: 3, Username: "mehmet"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, call("Bearer "+tok.AccessToken))
	require.Equal(t, int64(3), seen.UserID)
	require.Equal(t, "mehmet", seen.Username)
}
