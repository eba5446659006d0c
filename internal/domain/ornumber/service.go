package ornumber

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"orseries/internal/core/apperror"
	"orseries/internal/core/entity"
	"orseries/internal/core/tx"
	"orseries/internal/domain"
	"orseries/internal/domain/series"
	"orseries/pkg/logger"
)

var tracer = otel.Tracer("orseries/ornumber")

// Outbox event types.
const (
	EventGenerated = "or_number.generated"
	EventUsed      = "or_number.used"
	EventVoided    = "or_number.voided"
	EventCancelled = "or_number.cancelled"
	EventExpired   = "or_number.expired"
)

const jumpReasonTaken = "number already recorded"

// Options tune allocation. Zero values fall back to DefaultOptions.
type Options struct {
	MaxRetries       uint64
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	MaxJump          int
	NearLimitPercent float64
}

// DefaultOptions returns the allocator defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:       3,
		RetryInterval:    50 * time.Millisecond,
		MaxRetryInterval: time.Second,
		MaxJump:          1000,
		NearLimitPercent: series.NearLimitPercent,
	}
}

// Config wires Service dependencies.
type Config struct {
	Registry   *series.Service
	SeriesRepo series.Repository
	Repo       Repository
	TxManager  tx.Manager
	Audit      domain.AuditRecorder
	Events     domain.EventPublisher
	Logger     *logger.Logger
	Options    Options
}

// Service allocates OR numbers and manages generation records.
type Service struct {
	registry   *series.Service
	seriesRepo series.Repository
	repo       Repository
	txm        tx.Manager
	audit      domain.AuditRecorder
	events     domain.EventPublisher
	log        *logger.Logger
	opts       Options
}

// NewService creates an allocator.
func NewService(cfg Config) *Service {
	s := &Service{
		registry:   cfg.Registry,
		seriesRepo: cfg.SeriesRepo,
		repo:       cfg.Repo,
		txm:        cfg.TxManager,
		audit:      cfg.Audit,
		events:     cfg.Events,
		log:        cfg.Logger,
		opts:       cfg.Options,
	}
	if s.audit == nil {
		s.audit = domain.NopAudit{}
	}
	if s.events == nil {
		s.events = domain.NopPublisher{}
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	s.log = s.log.WithComponent("or_allocator")

	def := DefaultOptions()
	if s.opts.RetryInterval <= 0 {
		s.opts.RetryInterval = def.RetryInterval
	}
	if s.opts.MaxRetryInterval <= 0 {
		s.opts.MaxRetryInterval = def.MaxRetryInterval
	}
	if s.opts.MaxJump <= 0 {
		s.opts.MaxJump = def.MaxJump
	}
	if s.opts.NearLimitPercent <= 0 {
		s.opts.NearLimitPercent = def.NearLimitPercent
	}
	return s
}

// GenerateNextOrNumber reserves the next number of the active series for
// userID. The counter update and the generation record commit together.
//
// Numbers already recorded (manual entry, or the same text in another series)
// are skipped and the record is marked as jumped with the skipped range in its
// metadata.
func (s *Service) GenerateNextOrNumber(ctx context.Context, userID int64) (*Allocation, error) {
	ctx, span := tracer.Start(ctx, "ornumber.GenerateNextOrNumber")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	if userID <= 0 {
		return nil, apperror.NewValidation("acting user is required")
	}

	var result *Allocation
	err := s.retry(ctx, "generate", func() error {
		var exhausted error
		err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			result, exhausted, err = s.allocate(ctx, userID)
			return err
		})
		if err != nil {
			return err
		}
		return exhausted
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("series.id", result.SeriesID),
		attribute.String("or_number", result.OrNumber),
	)
	s.log.WithContext(ctx).Infow("OR number generated",
		"or_number", result.OrNumber,
		"series_id", result.SeriesID,
		"generation_id", result.GenerationID,
		"method", result.GenerationMethod,
	)
	return result, nil
}

// allocate runs inside the transaction that holds the series row lock.
//
// When every number up to end_number is already recorded it moves the counter
// to end_number and returns the limit error as exhausted with a nil err, so
// the transaction commits and the series reports its limit.
func (s *Service) allocate(ctx context.Context, userID int64) (_ *Allocation, exhausted, err error) {
	locked, err := s.lockActiveSeries(ctx)
	if err != nil {
		return nil, nil, err
	}
	if locked.HasReachedLimit() {
		return nil, nil, apperror.NewSeriesLimitReached(locked.SeriesName, locked.ID, *locked.EndNumber)
	}

	first := locked.NextNumber()
	n := first
	orNumber := locked.FormatNumber(n)
	for {
		taken, err := s.repo.IsTaken(ctx, locked.ID, n, orNumber)
		if err != nil {
			return nil, nil, err
		}
		if !taken {
			break
		}
		if int(n-first) >= s.opts.MaxJump {
			return nil, nil, apperror.NewConflict("too many consecutive OR numbers are already recorded").
				WithDetail("series_id", locked.ID).
				WithDetail("from", first).
				WithDetail("max_jump", s.opts.MaxJump)
		}
		n++
		if !locked.Contains(n) {
			if err := s.exhaust(ctx, locked, first); err != nil {
				return nil, nil, err
			}
			return nil, apperror.NewSeriesLimitReached(locked.SeriesName, locked.ID, *locked.EndNumber), nil
		}
		orNumber = locked.FormatNumber(n)
	}

	now := s.registry.Now().UTC()
	gen := &Generation{
		SeriesID:         locked.ID,
		OrNumber:         orNumber,
		ActualNumber:     n,
		GeneratedBy:      userID,
		GeneratedAt:      now,
		GenerationMethod: MethodAuto,
		Status:           StatusGenerated,
	}
	gen.Metadata.Set(entity.MetaPreviousCounter, locked.CurrentNumber)
	if n != first {
		gen.GenerationMethod = MethodJumped
		gen.Metadata.Set(entity.MetaJumpedFrom, first)
		gen.Metadata.Set(entity.MetaSkippedNumbers, n-first)
		gen.Metadata.Set(entity.MetaJumpReason, jumpReasonTaken)
	}

	if err := s.repo.Create(ctx, gen); err != nil {
		return nil, nil, err
	}
	if err := s.seriesRepo.SetCurrentNumber(ctx, locked.ID, n); err != nil {
		return nil, nil, err
	}
	if err := s.record(ctx, gen, domain.AuditGenerate, EventGenerated, map[string]any{
		"series_id":         gen.SeriesID,
		"actual_number":     gen.ActualNumber,
		"generation_method": gen.GenerationMethod,
		"previous_counter":  locked.CurrentNumber,
	}); err != nil {
		return nil, nil, err
	}

	if n != first {
		s.log.WithContext(ctx).Warnw("OR number sequence jumped",
			"series_id", locked.ID,
			"jumped_from", first,
			"issued", n,
		)
	}

	return &Allocation{
		OrNumber:         gen.OrNumber,
		SeriesID:         gen.SeriesID,
		GenerationID:     gen.ID,
		ActualNumber:     gen.ActualNumber,
		GenerationMethod: gen.GenerationMethod,
	}, nil, nil
}

// exhaust moves the counter of locked to its end_number after every number
// from first on was found recorded.
func (s *Service) exhaust(ctx context.Context, locked *series.Series, first int64) error {
	end := *locked.EndNumber
	if err := s.seriesRepo.SetCurrentNumber(ctx, locked.ID, end); err != nil {
		return err
	}
	if err := s.audit.LogChange(ctx, domain.AggregateSeries, strconv.FormatInt(locked.ID, 10), domain.AuditUpdate, map[string]any{
		"current_number":   end,
		"previous_counter": locked.CurrentNumber,
		"reason":           "remaining numbers already recorded",
	}); err != nil {
		return err
	}
	s.log.WithContext(ctx).Warnw("series exhausted by recorded OR numbers",
		"series_id", locked.ID,
		"jumped_from", first,
		"end_number", end,
	)
	return nil
}

// lockActiveSeries resolves the active series and takes its row lock. When the
// series changed between resolving and locking the caller gets a retryable
// conflict so the next attempt resolves again.
func (s *Service) lockActiveSeries(ctx context.Context) (*series.Series, error) {
	active, err := s.registry.GetActiveSeries(ctx)
	if err != nil {
		return nil, err
	}
	locked, err := s.seriesRepo.GetForUpdate(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	if !locked.IsActive || locked.IsDeleted() || !locked.IsEffectiveOn(s.registry.Now()) {
		return nil, apperror.NewTransactionConflict("active series changed during allocation").
			WithDetail("series_id", locked.ID)
	}
	return locked, nil
}

// ValidateManualOrNumber reports whether orNumber is free, i.e. no generation
// record in any series and any status carries it.
func (s *Service) ValidateManualOrNumber(ctx context.Context, orNumber string) (bool, error) {
	orNumber = strings.TrimSpace(orNumber)
	if orNumber == "" {
		return false, apperror.NewValidation("or_number is required")
	}
	exists, err := s.repo.ExistsOrNumber(ctx, orNumber)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// RegisterManualOrNumber records a number typed in by hand against the active
// series. The number must match the series format, lie in its range and be
// ahead of the counter. The counter itself does not move; the allocator skips
// the number when it gets there.
func (s *Service) RegisterManualOrNumber(ctx context.Context, userID int64, orNumber string, notes *string) (*Generation, error) {
	ctx, span := tracer.Start(ctx, "ornumber.RegisterManualOrNumber")
	defer span.End()

	orNumber = strings.TrimSpace(orNumber)
	if orNumber == "" {
		return nil, apperror.NewValidation("or_number is required")
	}
	if userID <= 0 {
		return nil, apperror.NewValidation("acting user is required")
	}
	span.SetAttributes(attribute.String("or_number", orNumber))

	var gen *Generation
	err := s.retry(ctx, "manual", func() error {
		return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			locked, err := s.lockActiveSeries(ctx)
			if err != nil {
				return err
			}

			n, err := locked.ParseNumber(orNumber)
			if err != nil {
				return err
			}
			if locked.FormatNumber(n) != orNumber {
				return apperror.NewValidation("OR number is not in canonical form").
					WithDetail("or_number", orNumber).
					WithDetail("expected", locked.FormatNumber(n))
			}
			if !locked.Contains(n) {
				return apperror.NewValidation("OR number is outside the series range").
					WithDetail("actual_number", n).
					WithDetail("series_id", locked.ID)
			}
			if n <= locked.LastIssued() {
				return apperror.NewValidation("OR number was already passed by the sequence").
					WithDetail("actual_number", n).
					WithDetail("last_issued", locked.LastIssued())
			}

			taken, err := s.repo.IsTaken(ctx, locked.ID, n, orNumber)
			if err != nil {
				return err
			}
			if taken {
				return apperror.NewDuplicateOrNumber(orNumber)
			}

			gen = &Generation{
				SeriesID:         locked.ID,
				OrNumber:         orNumber,
				ActualNumber:     n,
				GeneratedBy:      userID,
				GeneratedAt:      s.registry.Now().UTC(),
				GenerationMethod: MethodManual,
				Status:           StatusGenerated,
				Notes:            notes,
			}
			gen.Metadata.Set(entity.MetaSource, "manual_entry")
			gen.Metadata.Set(entity.MetaPreviousCounter, locked.CurrentNumber)
			if err := s.repo.Create(ctx, gen); err != nil {
				return err
			}
			return s.record(ctx, gen, domain.AuditGenerate, EventGenerated, map[string]any{
				"series_id":         gen.SeriesID,
				"actual_number":     gen.ActualNumber,
				"generation_method": gen.GenerationMethod,
			})
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.log.WithContext(ctx).Infow("manual OR number registered",
		"or_number", gen.OrNumber,
		"series_id", gen.SeriesID,
		"generation_id", gen.ID,
	)
	return gen, nil
}

// MarkUsed links a generated number to a payment transaction.
func (s *Service) MarkUsed(ctx context.Context, generationID, transactionID int64) (*Generation, error) {
	if transactionID <= 0 {
		return nil, apperror.NewValidation("transaction_id is required")
	}
	return s.transition(ctx, generationID, StatusUsed, EventUsed, func(g *Generation, at time.Time) error {
		return g.MarkUsed(transactionID, at)
	})
}

// Void retires a generated number with a mandatory reason.
func (s *Service) Void(ctx context.Context, generationID, by int64, reason string) (*Generation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.NewValidation("void reason is required")
	}
	return s.transition(ctx, generationID, StatusVoided, EventVoided, func(g *Generation, at time.Time) error {
		return g.Void(by, reason, at)
	})
}

// Cancel retires a generated number that was never printed.
func (s *Service) Cancel(ctx context.Context, generationID, by int64, reason string) (*Generation, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, generationID, StatusCancelled, EventCancelled, func(g *Generation, at time.Time) error {
		return g.Cancel(by, reason, at)
	})
}

// Expire retires a generated number that stayed unused.
func (s *Service) Expire(ctx context.Context, generationID int64, reason string) (*Generation, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, generationID, StatusExpired, EventExpired, func(g *Generation, at time.Time) error {
		return g.Expire(reason, at)
	})
}

// ExpireStale expires up to limit records still generated after olderThan.
// Records used concurrently are skipped.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, apperror.NewValidation("expiry age must be positive")
	}
	if limit <= 0 {
		limit = 100
	}

	cutoff := s.registry.Now().UTC().Add(-olderThan)
	ids, err := s.repo.ListStaleIDs(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	reason := fmt.Sprintf("unused for more than %s", olderThan)
	expired := 0
	for _, id := range ids {
		if _, err := s.Expire(ctx, id, reason); err != nil {
			if apperror.IsInvalidStateTransition(err) {
				continue
			}
			return expired, err
		}
		expired++
	}

	if expired > 0 {
		s.log.WithContext(ctx).Infow("stale OR numbers expired", "count", expired, "cutoff", cutoff)
	}
	return expired, nil
}

func (s *Service) transition(
	ctx context.Context,
	generationID int64,
	to Status,
	eventType string,
	apply func(g *Generation, at time.Time) error,
) (*Generation, error) {
	var gen *Generation
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		g, err := s.repo.GetForUpdate(ctx, generationID)
		if err != nil {
			return err
		}
		from := g.Status
		if err := apply(g, s.registry.Now().UTC()); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, g, from); err != nil {
			return err
		}
		gen = g
		return s.record(ctx, g, domain.AuditTransition, eventType, map[string]any{
			"status": map[string]any{"old": from, "new": to},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Infow("OR number status changed",
		"generation_id", gen.ID,
		"or_number", gen.OrNumber,
		"status", gen.Status,
	)
	return gen, nil
}

// GetGeneration returns a generation record by id.
func (s *Service) GetGeneration(ctx context.Context, id int64) (*Generation, error) {
	return s.repo.GetByID(ctx, id)
}

// FindByOrNumber returns the record carrying orNumber.
func (s *Service) FindByOrNumber(ctx context.Context, orNumber string) (*Generation, error) {
	return s.repo.FindByOrNumber(ctx, strings.TrimSpace(orNumber))
}

// ListGenerations returns a page of generation records plus the total count.
func (s *Service) ListGenerations(ctx context.Context, filter ListFilter) ([]*Generation, int64, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, apperror.NewValidation("unknown status").WithDetail("status", *filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// GetSeriesStatistics computes usage figures for a series.
func (s *Service) GetSeriesStatistics(ctx context.Context, seriesID int64) (*series.Statistics, error) {
	item, err := s.registry.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	stats := item.StatisticsAt(s.opts.NearLimitPercent)
	return &stats, nil
}

// ActiveSeriesStatistics computes usage figures for the active series.
func (s *Service) ActiveSeriesStatistics(ctx context.Context) (*series.Statistics, error) {
	item, err := s.registry.GetActiveSeries(ctx)
	if err != nil {
		return nil, err
	}
	stats := item.StatisticsAt(s.opts.NearLimitPercent)
	return &stats, nil
}

// NearLimitWarning is returned by CheckSeriesNearLimit.
type NearLimitWarning struct {
	series.Statistics
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Warning levels.
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// CheckSeriesNearLimit returns a warning when the active series is near its
// limit, and nil otherwise. A missing active series is not a warning.
func (s *Service) CheckSeriesNearLimit(ctx context.Context) (*NearLimitWarning, error) {
	stats, err := s.ActiveSeriesStatistics(ctx)
	if err != nil {
		if apperror.IsNoActiveSeries(err) {
			s.log.WithContext(ctx).Debugw("near-limit check skipped: no active series")
			return nil, nil
		}
		return nil, err
	}
	if !stats.IsNearLimit {
		return nil, nil
	}
	return NewNearLimitWarning(*stats), nil
}

// NewNearLimitWarning builds the warning payload for stats.
func NewNearLimitWarning(stats series.Statistics) *NearLimitWarning {
	w := &NearLimitWarning{Statistics: stats, Level: LevelWarning}
	remaining := int64(0)
	if stats.RemainingNumbers != nil {
		remaining = *stats.RemainingNumbers
	}
	if stats.HasReachedLimit {
		w.Level = LevelCritical
		w.Message = fmt.Sprintf("Series %q has reached its limit", stats.SeriesName)
	} else {
		w.Message = fmt.Sprintf("Series %q is at %.2f%% usage, %d numbers remaining",
			stats.SeriesName, stats.UsagePercentage, remaining)
	}
	return w
}

func (s *Service) record(ctx context.Context, g *Generation, action domain.AuditAction, eventType string, changes map[string]any) error {
	entityID := strconv.FormatInt(g.ID, 10)
	if err := s.audit.LogChange(ctx, domain.AggregateORNumber, entityID, action, changes); err != nil {
		return err
	}
	return s.events.Publish(ctx, domain.Event{
		AggregateType: domain.AggregateORNumber,
		AggregateID:   entityID,
		EventType:     eventType,
		Payload: map[string]any{
			"generation_id":     g.ID,
			"series_id":         g.SeriesID,
			"or_number":         g.OrNumber,
			"actual_number":     g.ActualNumber,
			"status":            g.Status,
			"generation_method": g.GenerationMethod,
		},
	})
}
