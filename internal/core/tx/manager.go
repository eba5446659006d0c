// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces; the PostgreSQL implementation
// lives in infrastructure/storage/postgres and an in-memory one in testutil.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Inspector is implemented by managers that can tell whether ctx already
// carries an open transaction. Retrying a failed statement is only safe at
// the outermost level.
type Inspector interface {
	InTransaction(ctx context.Context) bool
}

// InTransaction reports whether m has an open transaction in ctx.
// Managers that do not implement Inspector are treated as never nested.
func InTransaction(ctx context.Context, m Manager) bool {
	if i, ok := m.(Inspector); ok {
		return i.InTransaction(ctx)
	}
	return false
}
