package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"orseries/internal/core/apperror"
	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
	"orseries/pkg/logger"
)

// DefaultDedupeWindow applies when Config.DedupeWindow is zero.
const DefaultDedupeWindow = time.Hour

// StatisticsSource reports usage of the active series.
type StatisticsSource interface {
	ActiveSeriesStatistics(ctx context.Context) (*series.Statistics, error)
}

// Notifier delivers an alert.
type Notifier interface {
	Notify(ctx context.Context, warning *ornumber.NearLimitWarning) error
}

// Notifiers fans an alert out to every notifier.
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, warning *ornumber.NearLimitWarning) error {
	var errs []error
	for _, notifier := range n {
		if err := notifier.Notify(ctx, warning); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	Log *logger.Logger
}

func (n LogNotifier) Notify(ctx context.Context, w *ornumber.NearLimitWarning) error {
	n.Log.WithContext(ctx).Warnw(w.Message,
		"series_id", w.SeriesID,
		"series_name", w.SeriesName,
		"level", w.Level,
		"usage_percentage", w.UsagePercentage,
		"remaining_numbers", w.RemainingNumbers,
	)
	return nil
}

// Config wires a Monitor.
type Config struct {
	Source       StatisticsSource
	Rule         *Rule
	Notifier     Notifier
	DedupeWindow time.Duration
	Logger       *logger.Logger
}

// Monitor evaluates the alert rule against the active series and notifies at
// most once per series and level within the dedupe window.
type Monitor struct {
	source   StatisticsSource
	rule     *Rule
	notifier Notifier
	window   time.Duration
	sent     *gocache.Cache
	log      *logger.Logger
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	window := cfg.DedupeWindow
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Monitor{
		source:   cfg.Source,
		rule:     cfg.Rule,
		notifier: cfg.Notifier,
		window:   window,
		sent:     gocache.New(window, 2*window),
		log:      log.WithComponent("series_monitor"),
	}
}

// Check runs one evaluation and reports whether an alert was sent.
func (m *Monitor) Check(ctx context.Context) (bool, error) {
	stats, err := m.source.ActiveSeriesStatistics(ctx)
	if err != nil {
		if apperror.IsNoActiveSeries(err) {
			m.log.WithContext(ctx).Debugw("monitor skipped: no active series")
			return false, nil
		}
		return false, err
	}

	matched, err := m.rule.Matches(*stats)
	if err != nil {
		return false, err
	}
	if !matched {
		return false, nil
	}

	warning := ornumber.NewNearLimitWarning(*stats)
	key := fmt.Sprintf("%d:%s", warning.SeriesID, warning.Level)
	if err := m.sent.Add(key, time.Now(), m.window); err != nil {
		m.log.WithContext(ctx).Debugw("alert suppressed", "series_id", warning.SeriesID, "level", warning.Level)
		return false, nil
	}

	if err := m.notifier.Notify(ctx, warning); err != nil {
		m.sent.Delete(key)
		return false, fmt.Errorf("notify near-limit alert: %w", err)
	}
	return true, nil
}
