// Package testutil provides an in-memory store for domain tests.
//
// Store implements tx.Manager, both repositories, the outbox publisher and
// the audit recorder. GetForUpdate takes a real per-row mutex held until the
// surrounding transaction ends, and every write made inside a transaction is
// undone on rollback, so the allocator's locking and atomicity can be tested
// without PostgreSQL.
package testutil

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"orseries/internal/core/apperror"
	"orseries/internal/domain"
	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
)

// AuditEntry is one recorded LogChange call.
type AuditEntry struct {
	EntityType string
	EntityID   string
	Action     domain.AuditAction
	Changes    map[string]any
}

type txKey struct{}

type memTx struct {
	undo   []func()
	held   map[string]*sync.Mutex
	events []domain.Event
	audit  []AuditEntry
}

func (t *memTx) release() {
	for _, m := range t.held {
		m.Unlock()
	}
	t.held = nil
}

func txFrom(ctx context.Context) *memTx {
	t, _ := ctx.Value(txKey{}).(*memTx)
	return t
}

// Store is an in-memory database.
type Store struct {
	mu sync.Mutex

	series      map[int64]*series.Series
	generations map[int64]*ornumber.Generation
	lastSeries  int64
	lastGen     int64

	rowLocks map[string]*sync.Mutex
	faults   map[string]error

	events    []domain.Event
	audit     []AuditEntry
	commits   int
	rollbacks int

	now func() time.Time
}

// NewStore returns an empty store using time.Now for timestamps.
func NewStore() *Store {
	return &Store{
		series:      make(map[int64]*series.Series),
		generations: make(map[int64]*ornumber.Generation),
		rowLocks:    make(map[string]*sync.Mutex),
		faults:      make(map[string]error),
		now:         time.Now,
	}
}

// SetClock replaces the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext makes the next call of op return err. op is "<repo>.<Method>",
// e.g. "series.SetCurrentNumber" or "ornumber.Create".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.faults[op]
	if ok {
		delete(s.faults, op)
	}
	return err
}

// --- tx.Manager ---

// RunInTransaction runs fn in a transaction. Nested calls join the outer one.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	t := &memTx{held: make(map[string]*sync.Mutex)}
	defer t.release()
	defer func() {
		if p := recover(); p != nil {
			s.rollback(t)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		s.rollback(t)
		return err
	}
	s.commit(t)
	return nil
}

// InTransaction implements tx.Inspector.
func (s *Store) InTransaction(ctx context.Context) bool {
	return txFrom(ctx) != nil
}

func (s *Store) commit(t *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, t.events...)
	s.audit = append(s.audit, t.audit...)
	s.commits++
}

func (s *Store) rollback(t *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	s.rollbacks++
}

// journal registers undo for a write. Callers hold s.mu.
func (s *Store) journal(ctx context.Context, undo func()) {
	if t := txFrom(ctx); t != nil {
		t.undo = append(t.undo, undo)
	}
}

// lockRow takes the row mutex for key until the transaction in ctx ends.
// Outside a transaction it is a no-op, like a plain SELECT.
func (s *Store) lockRow(ctx context.Context, key string) {
	t := txFrom(ctx)
	if t == nil {
		return
	}
	if _, ok := t.held[key]; ok {
		return
	}

	s.mu.Lock()
	m, ok := s.rowLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.rowLocks[key] = m
	}
	s.mu.Unlock()

	m.Lock()
	t.held[key] = m
}

// Commits returns the number of committed top-level transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Rollbacks returns the number of rolled back top-level transactions.
func (s *Store) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// --- domain.EventPublisher / domain.AuditRecorder ---

// Publish buffers the event until commit.
func (s *Store) Publish(ctx context.Context, event domain.Event) error {
	if t := txFrom(ctx); t != nil {
		t.events = append(t.events, event)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// LogChange buffers the audit entry until commit.
func (s *Store) LogChange(ctx context.Context, entityType, entityID string, action domain.AuditAction, changes map[string]any) error {
	entry := AuditEntry{EntityType: entityType, EntityID: entityID, Action: action, Changes: changes}
	if t := txFrom(ctx); t != nil {
		t.audit = append(t.audit, entry)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// Events returns committed events.
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// EventTypes returns committed event types in order.
func (s *Store) EventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// Audit returns committed audit entries.
func (s *Store) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}

// Series returns the series repository view of the store.
func (s *Store) Series() series.Repository { return seriesRepo{s} }

// Generations returns the generation repository view of the store.
func (s *Store) Generations() ornumber.Repository { return generationRepo{s} }

// SeedSeries stores item as-is, bypassing validation. Useful for counters
// that would take many allocations to reach.
func (s *Store) SeedSeries(item *series.Series) *series.Series {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeries++
	c := *item
	c.ID = s.lastSeries
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
		c.UpdatedAt = c.CreatedAt
	}
	if c.IsActive {
		for _, other := range s.series {
			other.IsActive = false
		}
	}
	s.series[c.ID] = &c
	out := c
	return &out
}

// --- series.Repository ---

type seriesRepo struct{ s *Store }

func (r seriesRepo) Create(ctx context.Context, item *series.Series) error {
	s := r.s
	if err := s.fault("series.Create"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.series {
		if !other.IsDeleted() && strings.EqualFold(other.SeriesName, item.SeriesName) {
			return apperror.NewDuplicate("transaction_series", "series_name", item.SeriesName)
		}
	}

	s.lastSeries++
	item.ID = s.lastSeries
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	item.IsActive = false
	c := *item
	s.series[c.ID] = &c

	id := c.ID
	s.journal(ctx, func() { delete(s.series, id) })
	return nil
}

func (r seriesRepo) get(id int64) (*series.Series, error) {
	item, ok := r.s.series[id]
	if !ok {
		return nil, apperror.NewNotFound("transaction_series", id)
	}
	c := *item
	return &c, nil
}

func (r seriesRepo) GetByID(ctx context.Context, id int64) (*series.Series, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id)
}

func (r seriesRepo) GetForUpdate(ctx context.Context, id int64) (*series.Series, error) {
	if err := r.s.fault("series.GetForUpdate"); err != nil {
		return nil, err
	}
	r.s.lockRow(ctx, "series:"+strconv.FormatInt(id, 10))
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id)
}

func (r seriesRepo) FindActive(ctx context.Context, day time.Time) (*series.Series, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, item := range r.s.series {
		if item.IsActive && !item.IsDeleted() && item.IsEffectiveOn(day) {
			c := *item
			return &c, nil
		}
	}
	return nil, apperror.NewNotFound("transaction_series", "active")
}

func (r seriesRepo) List(ctx context.Context, filter series.ListFilter) ([]*series.Series, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []*series.Series
	for _, item := range r.s.series {
		if item.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		if filter.ActiveOnly && !item.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(item.SeriesName), strings.ToLower(filter.Search)) {
			continue
		}
		c := *item
		matched = append(matched, &c)
	}
	slices.SortFunc(matched, func(a, b *series.Series) int { return int(b.ID - a.ID) })

	return page(matched, filter.Offset, filter.Limit), int64(len(matched)), nil
}

func (r seriesRepo) Update(ctx context.Context, item *series.Series) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.series[item.ID]
	if !ok || stored.IsDeleted() {
		return apperror.NewNotFound("transaction_series", item.ID)
	}
	prev := *stored

	stored.SeriesName = item.SeriesName
	stored.Prefix = item.Prefix
	stored.StartNumber = item.StartNumber
	stored.EndNumber = item.EndNumber
	stored.Format = item.Format
	stored.EffectiveFrom = item.EffectiveFrom
	stored.EffectiveTo = item.EffectiveTo
	stored.Notes = item.Notes
	stored.UpdatedAt = s.now()
	item.UpdatedAt = stored.UpdatedAt

	s.journal(ctx, func() { *stored = prev })
	return nil
}

func (r seriesRepo) SetActive(ctx context.Context, id int64) error {
	s := r.s
	if err := s.fault("series.SetActive"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.series[id]
	if !ok || target.IsDeleted() {
		return apperror.NewNotFound("transaction_series", id)
	}

	// Same order as the SQL: clear the others, then flag the target, with
	// the single-active index checked after each step.
	prev := make(map[int64]bool, len(s.series))
	for sid, item := range s.series {
		if item.IsDeleted() {
			continue
		}
		prev[sid] = item.IsActive
		if sid != id {
			item.IsActive = false
		}
	}
	target.IsActive = true
	if s.activeCountLocked() > 1 {
		for sid, active := range prev {
			s.series[sid].IsActive = active
		}
		return apperror.NewTransactionConflict("another series was activated concurrently")
	}

	s.journal(ctx, func() {
		for sid, active := range prev {
			s.series[sid].IsActive = active
		}
	})
	return nil
}

func (s *Store) activeCountLocked() int {
	n := 0
	for _, item := range s.series {
		if item.IsActive && !item.IsDeleted() {
			n++
		}
	}
	return n
}

func (r seriesRepo) Deactivate(ctx context.Context, id int64) error {
	return r.mutate(ctx, id, func(item *series.Series) { item.IsActive = false })
}

func (r seriesRepo) SetCurrentNumber(ctx context.Context, id int64, current int64) error {
	if err := r.s.fault("series.SetCurrentNumber"); err != nil {
		return err
	}
	return r.mutate(ctx, id, func(item *series.Series) { item.CurrentNumber = current })
}

func (r seriesRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	return r.mutate(ctx, id, func(item *series.Series) {
		item.DeletedAt = &at
		item.IsActive = false
	})
}

func (r seriesRepo) mutate(ctx context.Context, id int64, apply func(item *series.Series)) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.series[id]
	if !ok || stored.IsDeleted() {
		return apperror.NewNotFound("transaction_series", id)
	}
	prev := *stored
	apply(stored)
	stored.UpdatedAt = s.now()

	s.journal(ctx, func() { *stored = prev })
	return nil
}

func (r seriesRepo) HasGenerations(ctx context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, g := range r.s.generations {
		if g.SeriesID == id {
			return true, nil
		}
	}
	return false, nil
}

// --- ornumber.Repository ---

type generationRepo struct{ s *Store }

func (r generationRepo) Create(ctx context.Context, g *ornumber.Generation) error {
	s := r.s
	if err := s.fault("ornumber.Create"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.generations {
		if other.OrNumber == g.OrNumber ||
			(other.SeriesID == g.SeriesID && other.ActualNumber == g.ActualNumber) {
			return apperror.NewDuplicateOrNumber(g.OrNumber)
		}
	}

	s.lastGen++
	g.ID = s.lastGen
	g.CreatedAt = s.now()
	g.UpdatedAt = g.CreatedAt
	s.generations[g.ID] = g.Clone()

	id := g.ID
	s.journal(ctx, func() { delete(s.generations, id) })
	return nil
}

func (r generationRepo) get(id int64) (*ornumber.Generation, error) {
	g, ok := r.s.generations[id]
	if !ok {
		return nil, apperror.NewNotFound("or_number_generation", id)
	}
	return g.Clone(), nil
}

func (r generationRepo) GetByID(ctx context.Context, id int64) (*ornumber.Generation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id)
}

func (r generationRepo) GetForUpdate(ctx context.Context, id int64) (*ornumber.Generation, error) {
	r.s.lockRow(ctx, "generation:"+strconv.FormatInt(id, 10))
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id)
}

func (r generationRepo) FindByOrNumber(ctx context.Context, orNumber string) (*ornumber.Generation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, g := range r.s.generations {
		if g.OrNumber == orNumber {
			return g.Clone(), nil
		}
	}
	return nil, apperror.NewNotFound("or_number_generation", orNumber)
}

func (r generationRepo) ExistsOrNumber(ctx context.Context, orNumber string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, g := range r.s.generations {
		if g.OrNumber == orNumber {
			return true, nil
		}
	}
	return false, nil
}

func (r generationRepo) IsTaken(ctx context.Context, seriesID, actualNumber int64, orNumber string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, g := range r.s.generations {
		if g.OrNumber == orNumber || (g.SeriesID == seriesID && g.ActualNumber == actualNumber) {
			return true, nil
		}
	}
	return false, nil
}

func (r generationRepo) UpdateStatus(ctx context.Context, g *ornumber.Generation, from ornumber.Status) error {
	s := r.s
	if err := s.fault("ornumber.UpdateStatus"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.generations[g.ID]
	if !ok {
		return apperror.NewNotFound("or_number_generation", g.ID)
	}
	if stored.Status != from {
		return apperror.NewInvalidStateTransition(g.ID, string(stored.Status), string(g.Status))
	}

	prev := stored
	g.UpdatedAt = s.now()
	s.generations[g.ID] = g.Clone()

	id := g.ID
	s.journal(ctx, func() { s.generations[id] = prev })
	return nil
}

func (r generationRepo) List(ctx context.Context, filter ornumber.ListFilter) ([]*ornumber.Generation, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []*ornumber.Generation
	for _, g := range r.s.generations {
		if filter.SeriesID != nil && g.SeriesID != *filter.SeriesID {
			continue
		}
		if filter.Status != nil && g.Status != *filter.Status {
			continue
		}
		if filter.GeneratedBy != nil && g.GeneratedBy != *filter.GeneratedBy {
			continue
		}
		if filter.From != nil && g.GeneratedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && g.GeneratedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, g.Clone())
	}
	slices.SortFunc(matched, func(a, b *ornumber.Generation) int { return int(b.ID - a.ID) })

	return page(matched, filter.Offset, filter.Limit), int64(len(matched)), nil
}

func (r generationRepo) ListStaleIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var stale []*ornumber.Generation
	for _, g := range r.s.generations {
		if g.Status == ornumber.StatusGenerated && g.GeneratedAt.Before(cutoff) {
			stale = append(stale, g)
		}
	}
	slices.SortFunc(stale, func(a, b *ornumber.Generation) int {
		if c := a.GeneratedAt.Compare(b.GeneratedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})

	ids := make([]int64, 0, len(stale))
	for _, g := range page(stale, 0, limit) {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
