// Package series implements the registry of OR number series: ranges, format
// templates, activation windows and the single-active-series rule.
package series

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orseries/internal/core/apperror"
	"orseries/pkg/numerator"
)

// NearLimitPercent is the usage at which a series is reported as near its limit.
const NearLimitPercent = 90.0

// Series is a numbering range with a format template.
//
// CurrentNumber is the last issued number, 0 until the first allocation.
// EndNumber nil means the series is unlimited.
type Series struct {
	ID            int64      `db:"id"`
	SeriesName    string     `db:"series_name"`
	Prefix        *string    `db:"prefix"`
	CurrentNumber int64      `db:"current_number"`
	StartNumber   int64      `db:"start_number"`
	EndNumber     *int64     `db:"end_number"`
	Format        string     `db:"format"`
	IsActive      bool       `db:"is_active"`
	EffectiveFrom time.Time  `db:"effective_from"`
	EffectiveTo   *time.Time `db:"effective_to"`
	CreatedBy     int64      `db:"created_by"`
	Notes         *string    `db:"notes"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at"`
}

// Statistics summarises usage of a series.
type Statistics struct {
	SeriesID         int64   `json:"series_id"`
	SeriesName       string  `json:"series_name"`
	CurrentNumber    int64   `json:"current_number"`
	StartNumber      int64   `json:"start_number"`
	EndNumber        *int64  `json:"end_number"`
	UsagePercentage  float64 `json:"usage_percentage"`
	RemainingNumbers *int64  `json:"remaining_numbers"`
	IsNearLimit      bool    `json:"is_near_limit"`
	HasReachedLimit  bool    `json:"has_reached_limit"`
}

// PrefixValue returns the prefix or an empty string.
func (s *Series) PrefixValue() string {
	if s.Prefix == nil {
		return ""
	}
	return *s.Prefix
}

// IsDeleted reports whether the series is soft-deleted.
func (s *Series) IsDeleted() bool {
	return s.DeletedAt != nil
}

// IsBounded reports whether the series has an end number.
func (s *Series) IsBounded() bool {
	return s.EndNumber != nil
}

// LastIssued returns the last number handed out by the allocator. A series that
// starts above 1 behaves as if start_number-1 was already issued.
func (s *Series) LastIssued() int64 {
	return max(s.CurrentNumber, s.StartNumber-1)
}

// NextNumber returns the number the next allocation would issue.
func (s *Series) NextNumber() int64 {
	return s.LastIssued() + 1
}

// Contains reports whether n lies inside the series range.
func (s *Series) Contains(n int64) bool {
	if n < s.StartNumber {
		return false
	}
	return s.EndNumber == nil || n <= *s.EndNumber
}

// HasReachedLimit is true iff the series is bounded and its last number was issued.
func (s *Series) HasReachedLimit() bool {
	return s.EndNumber != nil && s.LastIssued() >= *s.EndNumber
}

// UsagePercentage returns issued / capacity * 100 rounded to two decimals,
// or 0 for an unlimited series.
func (s *Series) UsagePercentage() float64 {
	if s.EndNumber == nil {
		return 0
	}

	capacity := *s.EndNumber - s.StartNumber + 1
	if capacity <= 0 {
		return 0
	}
	used := min(max(s.LastIssued()-s.StartNumber+1, 0), capacity)

	pct := decimal.NewFromInt(used).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(capacity)).
		Round(2)
	return pct.InexactFloat64()
}

// RemainingNumbers returns how many numbers are left, or nil when unlimited.
func (s *Series) RemainingNumbers() *int64 {
	if s.EndNumber == nil {
		return nil
	}
	remaining := max(*s.EndNumber-s.LastIssued(), 0)
	return &remaining
}

// IsNearLimit reports usage at or above NearLimitPercent.
func (s *Series) IsNearLimit() bool {
	return s.IsNearLimitAt(NearLimitPercent)
}

// IsNearLimitAt reports usage at or above threshold percent.
func (s *Series) IsNearLimitAt(threshold float64) bool {
	return s.EndNumber != nil && s.UsagePercentage() >= threshold
}

// IsEffectiveOn reports whether day falls inside [effective_from, effective_to].
// Only the calendar date of each value is compared.
func (s *Series) IsEffectiveOn(day time.Time) bool {
	d := DateOf(day)
	if d.Before(DateOf(s.EffectiveFrom)) {
		return false
	}
	return s.EffectiveTo == nil || !d.After(DateOf(*s.EffectiveTo))
}

// FormatNumber renders n with the series template and prefix.
func (s *Series) FormatNumber(n int64) string {
	return numerator.Format(s.Format, s.PrefixValue(), n)
}

// ParseNumber extracts the numeric part of a number rendered by FormatNumber.
func (s *Series) ParseNumber(orNumber string) (int64, error) {
	n, err := numerator.Parse(s.Format, s.PrefixValue(), orNumber)
	if err != nil {
		return 0, apperror.NewValidation("OR number does not match the series format").
			WithDetail("or_number", orNumber).
			WithDetail("format", s.Format).
			WithCause(err)
	}
	return n, nil
}

// Statistics computes usage figures with the default near-limit threshold.
func (s *Series) Statistics() Statistics {
	return s.StatisticsAt(NearLimitPercent)
}

// StatisticsAt computes usage figures with a custom near-limit threshold.
func (s *Series) StatisticsAt(threshold float64) Statistics {
	return Statistics{
		SeriesID:         s.ID,
		SeriesName:       s.SeriesName,
		CurrentNumber:    s.CurrentNumber,
		StartNumber:      s.StartNumber,
		EndNumber:        s.EndNumber,
		UsagePercentage:  s.UsagePercentage(),
		RemainingNumbers: s.RemainingNumbers(),
		IsNearLimit:      s.IsNearLimitAt(threshold),
		HasReachedLimit:  s.HasReachedLimit(),
	}
}

// Validate checks range, template and date invariants.
func (s *Series) Validate() error {
	if s.StartNumber < 1 {
		return apperror.NewValidation("start_number must be at least 1").
			WithDetail("start_number", s.StartNumber)
	}
	if s.EndNumber != nil && *s.EndNumber < s.StartNumber {
		return apperror.NewValidation("end_number must be greater than or equal to start_number").
			WithDetail("start_number", s.StartNumber).
			WithDetail("end_number", *s.EndNumber)
	}
	if s.EndNumber != nil && s.CurrentNumber > *s.EndNumber {
		return apperror.NewValidation("end_number cannot be below the last issued number").
			WithDetail("current_number", s.CurrentNumber).
			WithDetail("end_number", *s.EndNumber)
	}
	if err := numerator.Validate(s.Format); err != nil {
		return apperror.NewValidation("invalid format template").
			WithDetail("format", s.Format).
			WithDetail("error", err.Error())
	}
	if s.EffectiveFrom.IsZero() {
		return apperror.NewValidation("effective_from is required")
	}
	if s.EffectiveTo != nil && DateOf(*s.EffectiveTo).Before(DateOf(s.EffectiveFrom)) {
		return apperror.NewValidation("effective_to must not be before effective_from").
			WithDetail("effective_from", s.EffectiveFrom.Format(time.DateOnly)).
			WithDetail("effective_to", s.EffectiveTo.Format(time.DateOnly))
	}
	return nil
}

// String implements fmt.Stringer for log output.
func (s *Series) String() string {
	return fmt.Sprintf("series %d (%s)", s.ID, s.SeriesName)
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
