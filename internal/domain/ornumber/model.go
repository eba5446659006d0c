// Package ornumber implements the OR number allocator: gapless reservation of
// the next number of the active series, manual entry, and the lifecycle of
// generation records.
package ornumber

import (
	"time"

	"orseries/internal/core/apperror"
	"orseries/internal/core/entity"
)

// Method records how a number was obtained.
type Method string

const (
	MethodAuto   Method = "auto"
	MethodManual Method = "manual"
	MethodJumped Method = "jumped"
)

// Status is the lifecycle state of a generation record.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusUsed      Status = "used"
	StatusVoided    Status = "voided"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusGenerated, StatusUsed, StatusVoided, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s.Valid() && s != StatusGenerated
}

// CanTransitionTo allows only generated -> {used, voided, cancelled, expired}.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusGenerated && next.IsTerminal()
}

// Generation is the audit record of one issued OR number. It is never deleted.
type Generation struct {
	ID               int64           `db:"id"`
	SeriesID         int64           `db:"series_id"`
	OrNumber         string          `db:"or_number"`
	ActualNumber     int64           `db:"actual_number"`
	GeneratedBy      int64           `db:"generated_by_user_id"`
	GeneratedAt      time.Time       `db:"generated_at"`
	GenerationMethod Method          `db:"generation_method"`
	Status           Status          `db:"status"`
	TransactionID    *int64          `db:"transaction_id"`
	UsedAt           *time.Time      `db:"used_at"`
	VoidedAt         *time.Time      `db:"voided_at"`
	VoidedBy         *int64          `db:"voided_by_user_id"`
	VoidReason       *string         `db:"void_reason"`
	Notes            *string         `db:"notes"`
	Metadata         entity.Metadata `db:"metadata"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (g *Generation) guard(next Status) error {
	if !g.Status.CanTransitionTo(next) {
		return apperror.NewInvalidStateTransition(g.ID, string(g.Status), string(next))
	}
	return nil
}

// MarkUsed attaches the number to a completed payment transaction.
func (g *Generation) MarkUsed(transactionID int64, at time.Time) error {
	if err := g.guard(StatusUsed); err != nil {
		return err
	}
	g.Status = StatusUsed
	g.TransactionID = &transactionID
	g.UsedAt = &at
	return nil
}

// Void detaches the number with a reason.
func (g *Generation) Void(by int64, reason string, at time.Time) error {
	if err := g.guard(StatusVoided); err != nil {
		return err
	}
	g.Status = StatusVoided
	g.VoidedAt = &at
	g.VoidedBy = &by
	g.VoidReason = &reason
	return nil
}

// Cancel marks a number that was reserved but never printed.
func (g *Generation) Cancel(by int64, reason string, at time.Time) error {
	if err := g.guard(StatusCancelled); err != nil {
		return err
	}
	g.Status = StatusCancelled
	g.Metadata.Set(entity.MetaCancelledAt, at.UTC().Format(time.RFC3339))
	g.Metadata.Set(entity.MetaCancelledBy, by)
	g.Metadata.Set(entity.MetaCancelReason, reason)
	return nil
}

// Expire marks a number that stayed unused past its time to live.
func (g *Generation) Expire(reason string, at time.Time) error {
	if err := g.guard(StatusExpired); err != nil {
		return err
	}
	g.Status = StatusExpired
	g.Metadata.Set(entity.MetaExpiredAt, at.UTC().Format(time.RFC3339))
	g.Metadata.Set(entity.MetaExpireReason, reason)
	return nil
}

// Clone returns a copy that does not share the metadata map.
func (g *Generation) Clone() *Generation {
	c := *g
	c.Metadata = g.Metadata.Clone()
	return &c
}

// Allocation is returned to the caller of GenerateNextOrNumber.
type Allocation struct {
	OrNumber         string `json:"or_number"`
	SeriesID         int64  `json:"series_id"`
	GenerationID     int64  `json:"generation_id"`
	ActualNumber     int64  `json:"actual_number"`
	GenerationMethod Method `json:"generation_method"`
}
