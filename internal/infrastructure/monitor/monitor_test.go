package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orseries/internal/core/apperror"
	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
	"orseries/pkg/logger"
)

type fakeSource struct {
	stats *series.Statistics
	err   error
}

func (f *fakeSource) ActiveSeriesStatistics(context.Context) (*series.Statistics, error) {
	return f.stats, f.err
}

type recorder struct {
	got []*ornumber.NearLimitWarning
	err error
}

func (r *recorder) Notify(_ context.Context, w *ornumber.NearLimitWarning) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, w)
	return nil
}

func stats(usage float64, remaining int64) *series.Statistics {
	return &series.Statistics{
		SeriesID:         3,
		SeriesName:       "FY2025",
		CurrentNumber:    1000 - remaining,
		StartNumber:      1,
		EndNumber:        lo.ToPtr(int64(1000)),
		UsagePercentage:  usage,
		RemainingNumbers: lo.ToPtr(remaining),
		IsNearLimit:      usage >= series.NearLimitPercent,
		HasReachedLimit:  remaining == 0,
	}
}

func newMonitor(t *testing.T, src *fakeSource, n Notifier, expr string) *Monitor {
	t.Helper()
	rule, err := CompileRule(expr)
	require.NoError(t, err)
	return New(Config{Source: src, Rule: rule, Notifier: n, Logger: logger.Nop()})
}

func TestCompileRule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"default", "is_near_limit || has_reached_limit", false},
		{"threshold", "usage_percentage >= 80.0 && !unlimited", false},
		{"remaining", "remaining_numbers >= 0 && remaining_numbers < 100", false},
		{"name match", `series_name.startsWith("FY")`, false},
		{"syntax error", "usage_percentage >=", true},
		{"unknown variable", "branch_id == 1", true},
		{"not bool", "usage_percentage + 1.0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileRule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRule_Matches(t *testing.T) {
	rule, err := CompileRule("usage_percentage >= 80.0 && remaining_numbers < 250")
	require.NoError(t, err)

	ok, err := rule.Matches(*stats(85, 150))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rule.Matches(*stats(50, 500))
	require.NoError(t, err)
	assert.False(t, ok)

	unlimited := series.Statistics{SeriesID: 1, SeriesName: "open", CurrentNumber: 10, StartNumber: 1}
	ok, err = rule.Matches(unlimited)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMonitor_NoActiveSeries(t *testing.T) {
	n := &recorder{}
	m := newMonitor(t, &fakeSource{err: apperror.NewNoActiveSeries()}, n, "true")

	sent, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, n.got)
}

func TestMonitor_PropagatesSourceErrors(t *testing.T) {
	m := newMonitor(t, &fakeSource{err: errors.New("db down")}, &recorder{}, "true")
	_, err := m.Check(context.Background())
	assert.Error(t, err)
}

func TestMonitor_DedupesPerLevel(t *testing.T) {
	src := &fakeSource{stats: stats(95, 50)}
	n := &recorder{}
	m := newMonitor(t, src, n, "is_near_limit || has_reached_limit")
	ctx := context.Background()

	sent, err := m.Check(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = m.Check(ctx)
	require.NoError(t, err)
	assert.False(t, sent)

	src.stats = stats(100, 0)
	sent, err = m.Check(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	require.Len(t, n.got, 2)
	assert.Equal(t, ornumber.LevelWarning, n.got[0].Level)
	assert.Equal(t, ornumber.LevelCritical, n.got[1].Level)
}

func TestMonitor_BelowThreshold(t *testing.T) {
	n := &recorder{}
	m := newMonitor(t, &fakeSource{stats: stats(40, 600)}, n, "is_near_limit || has_reached_limit")

	sent, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, n.got)
}

func TestMonitor_FailedNotifyIsRetried(t *testing.T) {
	n := &recorder{err: errors.New("redis unavailable")}
	m := newMonitor(t, &fakeSource{stats: stats(95, 50)}, n, "is_near_limit")
	ctx := context.Background()

	_, err := m.Check(ctx)
	require.Error(t, err)

	n.err = nil
	sent, err := m.Check(ctx)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, n.got, 1)
}

func TestNotifiers_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("boom")}
	err := Notifiers{failing, ok, LogNotifier{Log: logger.Nop()}}.Notify(context.Background(), ornumber.NewNearLimitWarning(*stats(95, 50)))

	assert.ErrorContains(t, err, "boom")
	assert.Len(t, ok.got, 1)
}
