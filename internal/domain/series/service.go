package series

import (
	"context"
	"strconv"
	"strings"
	"time"

	"orseries/internal/core/apperror"
	appctx "orseries/internal/core/context"
	"orseries/internal/core/tx"
	"orseries/internal/core/validation"
	"orseries/internal/domain"
	"orseries/pkg/logger"
)

// Outbox event types.
const (
	EventCreated     = "series.created"
	EventUpdated     = "series.updated"
	EventActivated   = "series.activated"
	EventDeactivated = "series.deactivated"
	EventDeleted     = "series.deleted"
)

// CreateInput holds fields for a new series.
type CreateInput struct {
	SeriesName    string  `validate:"required,max=100"`
	Prefix        *string `validate:"omitempty,max=20"`
	StartNumber   int64   `validate:"gte=0"`
	EndNumber     *int64  `validate:"omitempty,gte=1"`
	Format        string  `validate:"required,max=100"`
	IsActive      bool
	EffectiveFrom time.Time `validate:"required"`
	EffectiveTo   *time.Time
	Notes         *string `validate:"omitempty,max=1000"`
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	SeriesName       *string `validate:"omitempty,min=1,max=100"`
	Prefix           *string `validate:"omitempty,max=20"`
	StartNumber      *int64  `validate:"omitempty,gte=1"`
	EndNumber        *int64  `validate:"omitempty,gte=1"`
	ClearEndNumber   bool
	Format           *string `validate:"omitempty,min=1,max=100"`
	EffectiveFrom    *time.Time
	EffectiveTo      *time.Time
	ClearEffectiveTo bool
	Notes            *string `validate:"omitempty,max=1000"`
}

func (in UpdateInput) changesNumbering() bool {
	return in.Prefix != nil || in.StartNumber != nil || in.Format != nil
}

// Config wires Service dependencies.
type Config struct {
	Repo      Repository
	TxManager tx.Manager
	Audit     domain.AuditRecorder
	Events    domain.EventPublisher
	Clock     func() time.Time
	Logger    *logger.Logger
}

// Service is the series registry.
type Service struct {
	repo   Repository
	txm    tx.Manager
	audit  domain.AuditRecorder
	events domain.EventPublisher
	now    func() time.Time
	log    *logger.Logger
}

// NewService creates a series registry.
func NewService(cfg Config) *Service {
	s := &Service{
		repo:   cfg.Repo,
		txm:    cfg.TxManager,
		audit:  cfg.Audit,
		events: cfg.Events,
		now:    cfg.Clock,
		log:    cfg.Logger,
	}
	if s.audit == nil {
		s.audit = domain.NopAudit{}
	}
	if s.events == nil {
		s.events = domain.NopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	s.log = s.log.WithComponent("series_registry")
	return s
}

// Now returns the registry clock. The allocator shares it so both agree on "today".
func (s *Service) Now() time.Time {
	return s.now()
}

// CreateSeries validates and stores a new series with current_number = 0.
// When in.IsActive is set the series becomes the only active one in the same transaction.
func (s *Service) CreateSeries(ctx context.Context, in CreateInput) (*Series, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	item := &Series{
		SeriesName:    strings.TrimSpace(in.SeriesName),
		Prefix:        normalizePrefix(in.Prefix),
		CurrentNumber: 0,
		StartNumber:   in.StartNumber,
		EndNumber:     in.EndNumber,
		Format:        in.Format,
		EffectiveFrom: DateOf(in.EffectiveFrom),
		CreatedBy:     appctx.GetUserID(ctx),
		Notes:         in.Notes,
	}
	if item.StartNumber == 0 {
		item.StartNumber = 1
	}
	if in.EffectiveTo != nil {
		to := DateOf(*in.EffectiveTo)
		item.EffectiveTo = &to
	}
	if item.SeriesName == "" {
		return nil, apperror.NewValidation("series_name is required")
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, item); err != nil {
			return err
		}
		if err := s.record(ctx, item, domain.AuditCreate, EventCreated, snapshot(item)); err != nil {
			return err
		}
		if in.IsActive {
			return s.activate(ctx, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Infow("series created",
		"series_id", item.ID,
		"series_name", item.SeriesName,
		"active", item.IsActive,
	)
	return item, nil
}

// GetSeries returns a series by id, including soft-deleted ones.
func (s *Service) GetSeries(ctx context.Context, id int64) (*Series, error) {
	return s.repo.GetByID(ctx, id)
}

// ListSeries returns a page of series plus the total count.
func (s *Service) ListSeries(ctx context.Context, filter ListFilter) ([]*Series, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// UpdateSeries applies a partial update. Prefix, start number and format are
// frozen once any OR number was recorded against the series.
func (s *Service) UpdateSeries(ctx context.Context, id int64, in UpdateInput) (*Series, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var updated *Series
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		item, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if item.IsDeleted() {
			return apperror.NewNotFound("transaction_series", id)
		}

		if in.changesNumbering() {
			issued, err := s.repo.HasGenerations(ctx, id)
			if err != nil {
				return err
			}
			if issued || item.CurrentNumber > 0 {
				return apperror.NewValidation("prefix, start_number and format cannot change after numbers were issued").
					WithDetail("series_id", id)
			}
		}

		before := snapshot(item)
		applyUpdate(item, in)
		if item.SeriesName == "" {
			return apperror.NewValidation("series_name is required")
		}
		if item.EndNumber != nil && *item.EndNumber < item.LastIssued() {
			return apperror.NewValidation("end_number cannot be below the last issued number").
				WithDetail("last_issued", item.LastIssued()).
				WithDetail("end_number", *item.EndNumber)
		}
		if err := item.Validate(); err != nil {
			return err
		}

		if err := s.repo.Update(ctx, item); err != nil {
			return err
		}
		updated = item
		return s.record(ctx, item, domain.AuditUpdate, EventUpdated, diff(before, snapshot(item)))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ActivateSeries makes id the only active series. Activating the already
// active series is a no-op apart from the audit entry.
func (s *Service) ActivateSeries(ctx context.Context, id int64) (*Series, error) {
	var item *Series
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if item.IsDeleted() {
			return apperror.NewNotFound("transaction_series", id)
		}
		if item.EffectiveTo != nil && DateOf(*item.EffectiveTo).Before(DateOf(s.now())) {
			return apperror.NewValidation("series effective period has ended").
				WithDetail("effective_to", item.EffectiveTo.Format(time.DateOnly))
		}
		return s.activate(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Infow("series activated", "series_id", id)
	return item, nil
}

func (s *Service) activate(ctx context.Context, item *Series) error {
	if err := s.repo.SetActive(ctx, item.ID); err != nil {
		return err
	}
	item.IsActive = true
	return s.record(ctx, item, domain.AuditActivate, EventActivated, map[string]any{"is_active": true})
}

// DeactivateSeries clears the active flag. Allocation fails until another series is activated.
func (s *Service) DeactivateSeries(ctx context.Context, id int64) (*Series, error) {
	var item *Series
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if item.IsDeleted() {
			return apperror.NewNotFound("transaction_series", id)
		}
		if err := s.repo.Deactivate(ctx, id); err != nil {
			return err
		}
		item.IsActive = false
		return s.record(ctx, item, domain.AuditDeactivate, EventDeactivated, map[string]any{"is_active": false})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Infow("series deactivated", "series_id", id)
	return item, nil
}

// DeleteSeries soft-deletes an inactive series. Its generation records stay.
func (s *Service) DeleteSeries(ctx context.Context, id int64) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		item, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if item.IsDeleted() {
			return apperror.NewNotFound("transaction_series", id)
		}
		if item.IsActive {
			return apperror.NewConflict("the active series cannot be deleted; activate another series first").
				WithDetail("series_id", id)
		}
		at := s.now().UTC()
		if err := s.repo.SoftDelete(ctx, id, at); err != nil {
			return err
		}
		item.DeletedAt = &at
		return s.record(ctx, item, domain.AuditDelete, EventDeleted, map[string]any{"deleted_at": at})
	})
}

// GetActiveSeries returns the active series effective today.
func (s *Service) GetActiveSeries(ctx context.Context) (*Series, error) {
	item, err := s.repo.FindActive(ctx, DateOf(s.now()))
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNoActiveSeries()
		}
		return nil, err
	}
	return item, nil
}

func (s *Service) record(ctx context.Context, item *Series, action domain.AuditAction, eventType string, changes map[string]any) error {
	entityID := strconv.FormatInt(item.ID, 10)
	if err := s.audit.LogChange(ctx, domain.AggregateSeries, entityID, action, changes); err != nil {
		return err
	}
	return s.events.Publish(ctx, domain.Event{
		AggregateType: domain.AggregateSeries,
		AggregateID:   entityID,
		EventType:     eventType,
		Payload: map[string]any{
			"series_id":   item.ID,
			"series_name": item.SeriesName,
			"is_active":   item.IsActive,
			"changes":     changes,
		},
	})
}

func applyUpdate(item *Series, in UpdateInput) {
	if in.SeriesName != nil {
		item.SeriesName = strings.TrimSpace(*in.SeriesName)
	}
	if in.Prefix != nil {
		item.Prefix = normalizePrefix(in.Prefix)
	}
	if in.StartNumber != nil {
		item.StartNumber = *in.StartNumber
	}
	if in.ClearEndNumber {
		item.EndNumber = nil
	} else if in.EndNumber != nil {
		end := *in.EndNumber
		item.EndNumber = &end
	}
	if in.Format != nil {
		item.Format = *in.Format
	}
	if in.EffectiveFrom != nil {
		item.EffectiveFrom = DateOf(*in.EffectiveFrom)
	}
	if in.ClearEffectiveTo {
		item.EffectiveTo = nil
	} else if in.EffectiveTo != nil {
		to := DateOf(*in.EffectiveTo)
		item.EffectiveTo = &to
	}
	if in.Notes != nil {
		item.Notes = in.Notes
	}
}

func normalizePrefix(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

func snapshot(item *Series) map[string]any {
	m := map[string]any{
		"series_name":    item.SeriesName,
		"prefix":         item.PrefixValue(),
		"current_number": item.CurrentNumber,
		"start_number":   item.StartNumber,
		"end_number":     nil,
		"format":         item.Format,
		"is_active":      item.IsActive,
		"effective_from": item.EffectiveFrom.Format(time.DateOnly),
		"effective_to":   nil,
	}
	if item.EndNumber != nil {
		m["end_number"] = *item.EndNumber
	}
	if item.EffectiveTo != nil {
		m["effective_to"] = item.EffectiveTo.Format(time.DateOnly)
	}
	if item.Notes != nil {
		m["notes"] = *item.Notes
	}
	return m
}

// diff returns {"field": {"old": x, "new": y}} for changed fields.
func diff(before, after map[string]any) map[string]any {
	changes := make(map[string]any)
	for key, newVal := range after {
		oldVal, ok := before[key]
		if !ok || oldVal != newVal {
			changes[key] = map[string]any{"old": oldVal, "new": newVal}
		}
	}
	for key, oldVal := range before {
		if _, ok := after[key]; !ok {
			changes[key] = map[string]any{"old": oldVal, "new": nil}
		}
	}
	return changes
}
