package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orseries/internal/core/apperror"
)

func ptr[T any](v T) *T { return &v }

func bounded(current, start, end int64) *Series {
	return &Series{
		ID:            1,
		SeriesName:    "FY2025",
		Prefix:        ptr("OR"),
		CurrentNumber: current,
		StartNumber:   start,
		EndNumber:     ptr(end),
		Format:        "{PREFIX}{NUMBER:12}",
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSeries_UsageFigures(t *testing.T) {
	tests := []struct {
		name      string
		series    *Series
		usage     float64
		remaining *int64
		nearLimit bool
		reached   bool
	}{
		{"fresh", bounded(0, 1, 1000), 0, ptr(int64(1000)), false, false},
		{"half", bounded(500, 1, 1000), 50, ptr(int64(500)), false, false},
		{"near limit", bounded(900, 1, 1000), 90, ptr(int64(100)), true, false},
		{"exhausted", bounded(1000, 1, 1000), 100, ptr(int64(0)), true, true},
		{"one third", bounded(1, 1, 3), 33.33, ptr(int64(2)), false, false},
		{"start above one", bounded(0, 101, 200), 0, ptr(int64(100)), false, false},
		{"start above one issued", bounded(150, 101, 200), 50, ptr(int64(50)), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.usage, tt.series.UsagePercentage(), 0.0001)
			assert.Equal(t, tt.remaining, tt.series.RemainingNumbers())
			assert.Equal(t, tt.nearLimit, tt.series.IsNearLimit())
			assert.Equal(t, tt.reached, tt.series.HasReachedLimit())
		})
	}
}

func TestSeries_Unlimited(t *testing.T) {
	s := bounded(10_000, 1, 1)
	s.EndNumber = nil

	assert.False(t, s.HasReachedLimit())
	assert.Zero(t, s.UsagePercentage())
	assert.Nil(t, s.RemainingNumbers())
	assert.False(t, s.IsNearLimit())
	assert.True(t, s.Contains(1_000_000))
}

func TestSeries_NextNumber(t *testing.T) {
	assert.Equal(t, int64(1), bounded(0, 1, 10).NextNumber())
	assert.Equal(t, int64(101), bounded(0, 101, 200).NextNumber())
	assert.Equal(t, int64(8), bounded(7, 1, 10).NextNumber())
}

func TestSeries_StatisticsAt(t *testing.T) {
	stats := bounded(800, 1, 1000).StatisticsAt(75)

	assert.Equal(t, "FY2025", stats.SeriesName)
	assert.Equal(t, int64(800), stats.CurrentNumber)
	assert.Equal(t, 80.0, stats.UsagePercentage)
	assert.True(t, stats.IsNearLimit)
	assert.False(t, stats.HasReachedLimit)
	require.NotNil(t, stats.RemainingNumbers)
	assert.Equal(t, int64(200), *stats.RemainingNumbers)
}

func TestSeries_IsEffectiveOn(t *testing.T) {
	s := bounded(0, 1, 10)
	s.EffectiveFrom = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	s.EffectiveTo = ptr(time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC))

	assert.False(t, s.IsEffectiveOn(time.Date(2025, 9, 30, 23, 59, 0, 0, time.UTC)))
	assert.True(t, s.IsEffectiveOn(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, s.IsEffectiveOn(time.Date(2025, 10, 31, 18, 30, 0, 0, time.UTC)))
	assert.False(t, s.IsEffectiveOn(time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)))

	s.EffectiveTo = nil
	assert.True(t, s.IsEffectiveOn(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestSeries_FormatAndParse(t *testing.T) {
	s := bounded(0, 1, 1_000_000)
	assert.Equal(t, "OR000000000123", s.FormatNumber(123))

	n, err := s.ParseNumber("OR000000000123")
	require.NoError(t, err)
	assert.Equal(t, int64(123), n)

	_, err = s.ParseNumber("XX000000000123")
	assert.True(t, apperror.IsValidation(err))

	noPrefix := &Series{Format: "OR-{NUMBER:10}"}
	assert.Equal(t, "OR-0000000001", noPrefix.FormatNumber(1))
}

func TestSeries_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Series)
		ok     bool
	}{
		{"valid", func(s *Series) {}, true},
		{"start below one", func(s *Series) { s.StartNumber = 0 }, false},
		{"end before start", func(s *Series) { s.StartNumber = 10; s.EndNumber = ptr(int64(9)) }, false},
		{"end equals start", func(s *Series) { s.StartNumber = 10; s.EndNumber = ptr(int64(10)) }, true},
		{"no number placeholder", func(s *Series) { s.Format = "{PREFIX}" }, false},
		{"two number placeholders", func(s *Series) { s.Format = "{NUMBER:4}-{NUMBER:4}" }, false},
		{"width too large", func(s *Series) { s.Format = "{NUMBER:21}" }, false},
		{"missing effective_from", func(s *Series) { s.EffectiveFrom = time.Time{} }, false},
		{"effective_to before from", func(s *Series) {
			s.EffectiveTo = ptr(s.EffectiveFrom.AddDate(0, 0, -1))
		}, false},
		{"same day window", func(s *Series) { s.EffectiveTo = ptr(s.EffectiveFrom.Add(3 * time.Hour)) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := bounded(0, 1, 100)
			tt.mutate(s)
			err := s.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperror.IsValidation(err), "got %v", err)
		})
	}
}

func TestDateOf(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	got := DateOf(time.Date(2025, 10, 14, 23, 15, 0, 0, manila))
	assert.Equal(t, time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC), got)
}
