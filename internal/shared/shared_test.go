package shared

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestReciprocal(t *testing.T) {
	require.True(t, Reciprocal(decimal.NewFromInt(30)).Equal(decimal.RequireFromString("0.03333333")))
	require.True(t, Reciprocal(decimal.Zero).IsZero())
}

func TestPercentOf(t *testing.T) {
	got := PercentOf(decimal.NewFromInt(250), decimal.NewFromInt(18))
	require.True(t, got.Equal(decimal.NewFromInt(45)))
}

func TestNewWindow(t *testing.T) {
	require.Equal(t, Window{Skip: 0, Limit: 100}, NewWindow(-3, 0))
	require.Equal(t, Window{Skip: 10, Limit: 500}, NewWindow(10, 10000))
}

func TestNewAuditEntryUsesContext(t *testing.T) {
	ctx := ContextWithPrincipal(context.Background(), Principal{UserID: 7, Username: "ayse"})
	ctx = ContextWithClientIP(ctx, "10.0.0.9")
	entry := NewAuditEntry(ctx, "create", "payments", "Payment", "42")
	require.Equal(t, int64(7), entry.ActorID)
	require.Equal(t, "ayse", entry.Username)
	require.Equal(t, "10.0.0.9", entry.IPAddress)
	require.False(t, entry.At.IsZero())
}

func TestLedgerScopes(t *testing.T) {
	scopes := LedgerScopes()
	require.Len(t, scopes, 32)
	require.Contains(t, scopes, PermPaymentsDelete)
	require.Contains(t, scopes, PermCompaniesEdit)
	require.Contains(t, scopes, PermUsersDelete)
}
