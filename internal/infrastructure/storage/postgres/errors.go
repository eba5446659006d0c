package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"orseries/internal/core/apperror"
)

// PostgreSQL error codes the repositories react to.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
)

// Constraint names from db/migrations.
const (
	ConstraintOrNumber      = "uq_or_number_generations_or_number"
	ConstraintSeriesActual  = "uq_or_number_generations_series_actual"
	ConstraintSeriesName    = "uq_transaction_series_name"
	ConstraintSingleActive  = "uq_transaction_series_single_active"
	ConstraintSeriesCounter = "chk_transaction_series_counter"
)

// IsRetryable reports whether err is a transient lock or serialization failure.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	}
	return false
}

// MapError converts driver errors into AppErrors. AppErrors and nil pass through.
func MapError(err error) error {
	if err == nil || apperror.IsAppError(err) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewTimeout("database operation timed out").WithCause(err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return apperror.NewDatabase(err)
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		return mapUniqueViolation(pgErr, err)
	case pgForeignKeyViolation:
		return apperror.NewConflict("referenced record does not exist or is still referenced").
			WithDetail("constraint", pgErr.ConstraintName).
			WithCause(err)
	case pgCheckViolation:
		return apperror.NewValidation("value violates a database constraint").
			WithDetail("constraint", pgErr.ConstraintName).
			WithCause(err)
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return apperror.NewTransactionConflict("concurrent update, retry the operation").
			WithDetail("sqlstate", pgErr.Code).
			WithCause(err)
	case pgQueryCanceled:
		return apperror.NewTimeout("database statement timed out").WithCause(err)
	}
	return apperror.NewDatabase(err)
}

func mapUniqueViolation(pgErr *pgconn.PgError, err error) error {
	switch pgErr.ConstraintName {
	case ConstraintOrNumber, ConstraintSeriesActual:
		return apperror.NewDuplicateOrNumber(keyValue(pgErr.Detail)).WithCause(err)
	case ConstraintSeriesName:
		return apperror.NewDuplicate("transaction_series", "series_name", keyValue(pgErr.Detail)).WithCause(err)
	case ConstraintSingleActive:
		// Two activations raced; the loser may simply retry.
		return apperror.NewTransactionConflict("another series was activated concurrently").WithCause(err)
	}
	return apperror.NewConflict("record already exists").
		WithDetail("constraint", pgErr.ConstraintName).
		WithCause(err)
}

// keyValue extracts the value from a detail such as
// "Key (or_number)=(OR000000000001) already exists.".
func keyValue(detail string) string {
	_, rest, ok := strings.Cut(detail, ")=(")
	if !ok {
		return ""
	}
	value, _, ok := strings.Cut(rest, ") already exists")
	if !ok {
		return strings.TrimSuffix(rest, ")")
	}
	return value
}
