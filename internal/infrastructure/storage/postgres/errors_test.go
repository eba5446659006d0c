package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orseries/internal/core/apperror"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{
			name: "or_number duplicate",
			err: &pgconn.PgError{
				Code:           "23505",
				ConstraintName: ConstraintOrNumber,
				Detail:         "Key (or_number)=(OR000000000001) already exists.",
			},
			code: apperror.CodeDuplicateOrNumber,
		},
		{
			name: "series actual duplicate",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: ConstraintSeriesActual},
			code: apperror.CodeDuplicateOrNumber,
		},
		{
			name: "series name duplicate",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: ConstraintSeriesName},
			code: apperror.CodeDuplicate,
		},
		{
			name: "concurrent activation",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: ConstraintSingleActive},
			code: apperror.CodeTransactionConflict,
		},
		{"foreign key", &pgconn.PgError{Code: "23503"}, apperror.CodeConflict},
		{"check", &pgconn.PgError{Code: "23514"}, apperror.CodeValidation},
		{"serialization", &pgconn.PgError{Code: "40001"}, apperror.CodeTransactionConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, apperror.CodeTransactionConflict},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, apperror.CodeTransactionConflict},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, apperror.CodeTimeout},
		{"wrapped", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), apperror.CodeTransactionConflict},
		{"deadline", context.DeadlineExceeded, apperror.CodeTimeout},
		{"other", errors.New("conn reset"), apperror.CodeDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			appErr, ok := apperror.AsAppError(mapped)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestMapError_PassThrough(t *testing.T) {
	assert.NoError(t, MapError(nil))

	original := apperror.NewNoActiveSeries()
	assert.Same(t, original, MapError(original))
}

func TestMapError_DuplicateCarriesNumber(t *testing.T) {
	mapped := MapError(&pgconn.PgError{
		Code:           "23505",
		ConstraintName: ConstraintOrNumber,
		Detail:         "Key (or_number)=(OR-202510-123456) already exists.",
	})
	appErr, ok := apperror.AsAppError(mapped)
	require.True(t, ok)
	assert.Equal(t, "OR-202510-123456", appErr.Details["or_number"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, IsRetryable(fmt.Errorf("x: %w", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("boom")))
}
