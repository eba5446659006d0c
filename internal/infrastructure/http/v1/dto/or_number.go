package dto

import (
	"time"

	"github.com/samber/lo"

	"orseries/internal/core/entity"
	"orseries/internal/domain/ornumber"
)

// ManualOrNumberRequest for POST /or-numbers/manual.
type ManualOrNumberRequest struct {
	OrNumber string  `json:"or_number" binding:"required"`
	Notes    *string `json:"notes"`
}

// MarkUsedRequest for POST /or-numbers/:id/use.
type MarkUsedRequest struct {
	TransactionID int64 `json:"transaction_id" binding:"required,min=1"`
}

// ReasonRequest for void, cancel and expire.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ValidateOrNumberQuery for GET /or-numbers/validate.
type ValidateOrNumberQuery struct {
	OrNumber string `form:"or_number" binding:"required"`
}

// ValidateOrNumberResponse reports whether a manual OR number may be recorded.
type ValidateOrNumberResponse struct {
	OrNumber  string `json:"or_number"`
	Available bool   `json:"available"`
}

// ListGenerationsQuery for GET /or-numbers.
type ListGenerationsQuery struct {
	PageQuery
	SeriesID    *int64  `form:"series_id"`
	Status      *string `form:"status"`
	GeneratedBy *int64  `form:"generated_by"`
	From        *string `form:"from"`
	To          *string `form:"to"`
	OrNumber    string  `form:"or_number"`
}

// ToFilter converts the query to a domain filter.
func (q ListGenerationsQuery) ToFilter() (ornumber.ListFilter, error) {
	f := ornumber.ListFilter{
		SeriesID:    q.SeriesID,
		GeneratedBy: q.GeneratedBy,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if q.Status != nil {
		f.Status = lo.ToPtr(ornumber.Status(*q.Status))
	}
	if q.From != nil {
		t, err := ParseDate(*q.From)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if q.To != nil {
		t, err := ParseDate(*q.To)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	return f, nil
}

// AllocationResponse is returned by POST /or-numbers/generate.
type AllocationResponse struct {
	OrNumber         string `json:"or_number"`
	SeriesID         int64  `json:"series_id"`
	GenerationID     int64  `json:"generation_id"`
	ActualNumber     int64  `json:"actual_number"`
	GenerationMethod string `json:"generation_method"`
}

func FromAllocation(a *ornumber.Allocation) AllocationResponse {
	return AllocationResponse{
		OrNumber:         a.OrNumber,
		SeriesID:         a.SeriesID,
		GenerationID:     a.GenerationID,
		ActualNumber:     a.ActualNumber,
		GenerationMethod: string(a.GenerationMethod),
	}
}

// GenerationResponse is the public view of a generation record.
type GenerationResponse struct {
	ID               int64           `json:"id"`
	SeriesID         int64           `json:"series_id"`
	OrNumber         string          `json:"or_number"`
	ActualNumber     int64           `json:"actual_number"`
	GeneratedBy      int64           `json:"generated_by_user_id"`
	GeneratedAt      time.Time       `json:"generated_at"`
	GenerationMethod string          `json:"generation_method"`
	Status           string          `json:"status"`
	TransactionID    *int64          `json:"transaction_id"`
	UsedAt           *time.Time      `json:"used_at"`
	VoidedAt         *time.Time      `json:"voided_at"`
	VoidedBy         *int64          `json:"voided_by_user_id"`
	VoidReason       *string         `json:"void_reason"`
	Notes            *string         `json:"notes"`
	Metadata         entity.Metadata `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// FromGeneration creates GenerationResponse from a domain record.
func FromGeneration(g *ornumber.Generation) GenerationResponse {
	return GenerationResponse{
		ID:               g.ID,
		SeriesID:         g.SeriesID,
		OrNumber:         g.OrNumber,
		ActualNumber:     g.ActualNumber,
		GeneratedBy:      g.GeneratedBy,
		GeneratedAt:      g.GeneratedAt,
		GenerationMethod: string(g.GenerationMethod),
		Status:           string(g.Status),
		TransactionID:    g.TransactionID,
		UsedAt:           g.UsedAt,
		VoidedAt:         g.VoidedAt,
		VoidedBy:         g.VoidedBy,
		VoidReason:       g.VoidReason,
		Notes:            g.Notes,
		Metadata:         g.Metadata,
		CreatedAt:        g.CreatedAt,
		UpdatedAt:        g.UpdatedAt,
	}
}

// FromGenerationList maps a page of generation records.
func FromGenerationList(items []*ornumber.Generation) []GenerationResponse {
	return lo.Map(items, func(g *ornumber.Generation, _ int) GenerationResponse {
		return FromGeneration(g)
	})
}
