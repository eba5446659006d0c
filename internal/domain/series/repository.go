package series

import (
	"context"
	"time"
)

// ListFilter narrows ListSeries results.
type ListFilter struct {
	ActiveOnly     bool
	IncludeDeleted bool
	Search         string
	Limit          int
	Offset         int
}

// Repository persists series. Implementations read the transaction from ctx.
type Repository interface {
	Create(ctx context.Context, s *Series) error
	GetByID(ctx context.Context, id int64) (*Series, error)

	// GetForUpdate locks the series row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Series, error)

	// FindActive returns the active, non-deleted series effective on day.
	// It returns a NOT_FOUND AppError when there is none.
	FindActive(ctx context.Context, day time.Time) (*Series, error)

	List(ctx context.Context, filter ListFilter) ([]*Series, int64, error)
	Update(ctx context.Context, s *Series) error

	// SetActive flags id as the only active series. It must run in a transaction.
	SetActive(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, id int64) error

	SetCurrentNumber(ctx context.Context, id int64, current int64) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error

	// HasGenerations reports whether any OR number was recorded against the series.
	HasGenerations(ctx context.Context, id int64) (bool, error)
}
