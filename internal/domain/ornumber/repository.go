package ornumber

import (
	"context"
	"time"
)

// ListFilter narrows ListGenerations results.
type ListFilter struct {
	SeriesID    *int64
	Status      *Status
	GeneratedBy *int64
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// Repository persists generation records. Records are append-only apart from
// status transitions.
type Repository interface {
	// Create inserts g and sets its ID and timestamps. A taken or_number or
	// (series_id, actual_number) yields a DUPLICATE_OR_NUMBER AppError.
	Create(ctx context.Context, g *Generation) error

	GetByID(ctx context.Context, id int64) (*Generation, error)
	GetForUpdate(ctx context.Context, id int64) (*Generation, error)
	FindByOrNumber(ctx context.Context, orNumber string) (*Generation, error)

	// ExistsOrNumber reports whether any record, in any status, has orNumber.
	ExistsOrNumber(ctx context.Context, orNumber string) (bool, error)

	// IsTaken reports whether actualNumber is recorded in the series or
	// orNumber is recorded anywhere.
	IsTaken(ctx context.Context, seriesID, actualNumber int64, orNumber string) (bool, error)

	// UpdateStatus persists a transition of g from status from. When the
	// stored status is no longer from it returns INVALID_STATE_TRANSITION.
	UpdateStatus(ctx context.Context, g *Generation, from Status) error

	List(ctx context.Context, filter ListFilter) ([]*Generation, int64, error)

	// ListStaleIDs returns ids of records still generated before cutoff, oldest first.
	ListStaleIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
}
