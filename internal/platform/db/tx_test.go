package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_payments_no"})
	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "uq_payments_no"))
	require.False(t, IsUniqueViolation(err, "uq_other"))
	require.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	require.True(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsRetryable(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsRetryable(errors.New("plain")))
}

func TestIsForeignKeyViolation(t *testing.T) {
	require.True(t, IsForeignKeyViolation(fmt.Errorf("delete: %w", &pgconn.PgError{Code: "23503"})))
	require.False(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}))
}

func TestConstraintName(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503", ConstraintName: "transactions_contact_id_fkey"})
	require.Equal(t, "transactions_contact_id_fkey", ConstraintName(err))
	require.Empty(t, ConstraintName(errors.New("plain")))
}

func TestIsSerializationFailure(t *testing.T) {
	require.True(t, IsSerializationFailure(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})))
	require.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40P01"}))
	require.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsSerializationFailure(errors.New("plain")))
}

func TestRetrySerializable(t *testing.T) {
	calls := 0
	err := RetrySerializable(context.Background(), DefaultAttempts, func(context.Context) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	calls = 0
	err = RetrySerializable(context.Background(), DefaultAttempts, func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	require.True(t, IsUniqueViolation(err, ""))
	require.Equal(t, 1, calls)

	calls = 0
	err = RetrySerializable(context.Background(), 2, func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.True(t, IsSerializationFailure(err))
	require.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RetrySerializable(ctx, 3, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
