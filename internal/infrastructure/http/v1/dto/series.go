package dto

import (
	"time"

	"github.com/samber/lo"

	"orseries/internal/domain/series"
)

// CreateSeriesRequest for POST /series.
type CreateSeriesRequest struct {
	SeriesName    string  `json:"series_name" binding:"required"`
	Prefix        *string `json:"prefix"`
	StartNumber   int64   `json:"start_number"`
	EndNumber     *int64  `json:"end_number"`
	Format        string  `json:"format" binding:"required"`
	IsActive      bool    `json:"is_active"`
	EffectiveFrom Date    `json:"effective_from"`
	EffectiveTo   *Date   `json:"effective_to"`
	Notes         *string `json:"notes"`
}

// ToInput converts the request to a domain input.
func (r CreateSeriesRequest) ToInput() series.CreateInput {
	return series.CreateInput{
		SeriesName:    r.SeriesName,
		Prefix:        r.Prefix,
		StartNumber:   r.StartNumber,
		EndNumber:     r.EndNumber,
		Format:        r.Format,
		IsActive:      r.IsActive,
		EffectiveFrom: r.EffectiveFrom.Time,
		EffectiveTo:   dateTime(r.EffectiveTo),
		Notes:         r.Notes,
	}
}

// UpdateSeriesRequest for PATCH /series/:id. Absent fields are unchanged;
// clear_* flags null the matching column.
type UpdateSeriesRequest struct {
	SeriesName       *string `json:"series_name"`
	Prefix           *string `json:"prefix"`
	StartNumber      *int64  `json:"start_number"`
	EndNumber        *int64  `json:"end_number"`
	ClearEndNumber   bool    `json:"clear_end_number"`
	Format           *string `json:"format"`
	EffectiveFrom    *Date   `json:"effective_from"`
	EffectiveTo      *Date   `json:"effective_to"`
	ClearEffectiveTo bool    `json:"clear_effective_to"`
	Notes            *string `json:"notes"`
}

func (r UpdateSeriesRequest) ToInput() series.UpdateInput {
	return series.UpdateInput{
		SeriesName:       r.SeriesName,
		Prefix:           r.Prefix,
		StartNumber:      r.StartNumber,
		EndNumber:        r.EndNumber,
		ClearEndNumber:   r.ClearEndNumber,
		Format:           r.Format,
		EffectiveFrom:    dateTime(r.EffectiveFrom),
		EffectiveTo:      dateTime(r.EffectiveTo),
		ClearEffectiveTo: r.ClearEffectiveTo,
		Notes:            r.Notes,
	}
}

// ListSeriesQuery for GET /series.
type ListSeriesQuery struct {
	PageQuery
	ActiveOnly     bool   `form:"active_only"`
	IncludeDeleted bool   `form:"include_deleted"`
	Search         string `form:"search"`
}

func (q ListSeriesQuery) ToFilter() series.ListFilter {
	return series.ListFilter{
		ActiveOnly:     q.ActiveOnly,
		IncludeDeleted: q.IncludeDeleted,
		Search:         q.Search,
		Limit:          q.Limit,
		Offset:         q.Offset,
	}
}

// SeriesResponse is the public view of a series.
type SeriesResponse struct {
	ID            int64      `json:"id"`
	SeriesName    string     `json:"series_name"`
	Prefix        *string    `json:"prefix"`
	CurrentNumber int64      `json:"current_number"`
	StartNumber   int64      `json:"start_number"`
	EndNumber     *int64     `json:"end_number"`
	NextOrNumber  *string    `json:"next_or_number,omitempty"`
	Format        string     `json:"format"`
	IsActive      bool       `json:"is_active"`
	EffectiveFrom Date       `json:"effective_from"`
	EffectiveTo   *Date      `json:"effective_to"`
	CreatedBy     int64      `json:"created_by"`
	Notes         *string    `json:"notes"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// FromSeries creates SeriesResponse from a domain series.
func FromSeries(s *series.Series) SeriesResponse {
	resp := SeriesResponse{
		ID:            s.ID,
		SeriesName:    s.SeriesName,
		Prefix:        s.Prefix,
		CurrentNumber: s.CurrentNumber,
		StartNumber:   s.StartNumber,
		EndNumber:     s.EndNumber,
		Format:        s.Format,
		IsActive:      s.IsActive,
		EffectiveFrom: Date{Time: s.EffectiveFrom},
		EffectiveTo:   DatePtr(s.EffectiveTo),
		CreatedBy:     s.CreatedBy,
		Notes:         s.Notes,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		DeletedAt:     s.DeletedAt,
	}
	if !s.IsDeleted() && !s.HasReachedLimit() {
		resp.NextOrNumber = lo.ToPtr(s.FormatNumber(s.NextNumber()))
	}
	return resp
}

// FromSeriesList maps a page of series.
func FromSeriesList(items []*series.Series) []SeriesResponse {
	return lo.Map(items, func(s *series.Series, _ int) SeriesResponse {
		return FromSeries(s)
	})
}

func dateTime(d *Date) *time.Time {
	if d == nil {
		return nil
	}
	return lo.ToPtr(d.Time)
}
