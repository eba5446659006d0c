package series_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orseries/internal/core/apperror"
	appctx "orseries/internal/core/context"
	"orseries/internal/domain"
	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
	"orseries/internal/testutil"
	"orseries/pkg/logger"
)

var today = time.Date(2025, 10, 14, 9, 30, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*series.Service, *testutil.Store) {
	t.Helper()
	store := testutil.NewStore()
	store.SetClock(func() time.Time { return today })
	svc := series.NewService(series.Config{
		Repo:      store.Series(),
		TxManager: store,
		Audit:     store,
		Events:    store,
		Clock:     func() time.Time { return today },
		Logger:    logger.Nop(),
	})
	return svc, store
}

func adminCtx() context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{
		UserID: 42,
		Roles:  []string{appctx.RoleAdmin},
	})
}

func ptr[T any](v T) *T { return &v }

func validInput(name string) series.CreateInput {
	return series.CreateInput{
		SeriesName:    name,
		Prefix:        ptr("OR"),
		StartNumber:   1,
		EndNumber:     ptr(int64(1000)),
		Format:        "{PREFIX}{NUMBER:12}",
		EffectiveFrom: today.AddDate(0, 0, -1),
	}
}

func TestCreateSeries(t *testing.T) {
	svc, store := newRegistry(t)
	ctx := adminCtx()

	created, err := svc.CreateSeries(ctx, validInput("FY2025"))
	require.NoError(t, err)

	assert.NotZero(t, created.ID)
	assert.Zero(t, created.CurrentNumber)
	assert.False(t, created.IsActive)
	assert.Equal(t, int64(42), created.CreatedBy)
	assert.Equal(t, series.DateOf(today.AddDate(0, 0, -1)), created.EffectiveFrom)
	assert.Equal(t, []string{series.EventCreated}, store.EventTypes())

	audit := store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, domain.AggregateSeries, audit[0].EntityType)
	assert.Equal(t, domain.AuditCreate, audit[0].Action)
}

func TestCreateSeries_DefaultsStartNumber(t *testing.T) {
	svc, _ := newRegistry(t)

	in := validInput("FY2025")
	in.StartNumber = 0
	created, err := svc.CreateSeries(adminCtx(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.StartNumber)
}

func TestCreateSeries_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *series.CreateInput)
	}{
		{"missing name", func(in *series.CreateInput) { in.SeriesName = "" }},
		{"blank name", func(in *series.CreateInput) { in.SeriesName = "   " }},
		{"missing format", func(in *series.CreateInput) { in.Format = "" }},
		{"format without number", func(in *series.CreateInput) { in.Format = "{PREFIX}-X" }},
		{"end below start", func(in *series.CreateInput) { in.StartNumber = 50; in.EndNumber = ptr(int64(10)) }},
		{"missing effective_from", func(in *series.CreateInput) { in.EffectiveFrom = time.Time{} }},
		{"effective_to before from", func(in *series.CreateInput) { in.EffectiveTo = ptr(in.EffectiveFrom.AddDate(0, -1, 0)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newRegistry(t)
			in := validInput("FY2025")
			tt.mutate(&in)

			_, err := svc.CreateSeries(adminCtx(), in)
			assert.True(t, apperror.IsValidation(err), "got %v", err)
			assert.Empty(t, store.Events())
		})
	}
}

func TestCreateSeries_ActiveDeactivatesOthers(t *testing.T) {
	svc, _ := newRegistry(t)
	ctx := adminCtx()

	a := validInput("A")
	a.IsActive = true
	first, err := svc.CreateSeries(ctx, a)
	require.NoError(t, err)
	assert.True(t, first.IsActive)

	b := validInput("B")
	b.IsActive = true
	second, err := svc.CreateSeries(ctx, b)
	require.NoError(t, err)

	reloaded, err := svc.GetSeries(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)

	active, err := svc.GetActiveSeries(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestActivateSeries_Exclusive(t *testing.T) {
	svc, store := newRegistry(t)
	ctx := adminCtx()

	a, err := svc.CreateSeries(ctx, validInput("A"))
	require.NoError(t, err)
	b, err := svc.CreateSeries(ctx, validInput("B"))
	require.NoError(t, err)

	_, err = svc.ActivateSeries(ctx, a.ID)
	require.NoError(t, err)
	_, err = svc.ActivateSeries(ctx, b.ID)
	require.NoError(t, err)

	items, total, err := svc.ListSeries(ctx, series.ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ID)

	// idempotent
	_, err = svc.ActivateSeries(ctx, b.ID)
	require.NoError(t, err)
	active, err := svc.GetActiveSeries(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)

	assert.Contains(t, store.EventTypes(), series.EventActivated)
}

func TestActivateSeries_SwitchBetweenPreCreated(t *testing.T) {
	svc, _ := newRegistry(t)
	ctx := adminCtx()

	a, err := svc.CreateSeries(ctx, validInput("A"))
	require.NoError(t, err)
	b, err := svc.CreateSeries(ctx, validInput("B"))
	require.NoError(t, err)

	for _, id := range []int64{a.ID, b.ID, a.ID, b.ID} {
		_, err := svc.ActivateSeries(ctx, id)
		require.NoError(t, err)

		items, total, err := svc.ListSeries(ctx, series.ListFilter{ActiveOnly: true})
		require.NoError(t, err)
		require.Equal(t, int64(1), total)
		assert.Equal(t, id, items[0].ID)
	}
}

func TestActivateSeries_RollsBackOnFailure(t *testing.T) {
	svc, store := newRegistry(t)
	ctx := adminCtx()

	in := validInput("A")
	in.IsActive = true
	a, err := svc.CreateSeries(ctx, in)
	require.NoError(t, err)
	b, err := svc.CreateSeries(ctx, validInput("B"))
	require.NoError(t, err)

	store.FailNext("series.SetActive", apperror.NewTransactionConflict("lock timeout"))
	_, err = svc.ActivateSeries(ctx, b.ID)
	require.Error(t, err)

	active, err := svc.GetActiveSeries(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
}

func TestActivateSeries_Errors(t *testing.T) {
	svc, _ := newRegistry(t)
	ctx := adminCtx()

	_, err := svc.ActivateSeries(ctx, 999)
	assert.True(t, apperror.IsNotFound(err))

	expired := validInput("Expired")
	expired.EffectiveFrom = today.AddDate(0, -2, 0)
	expired.EffectiveTo = ptr(today.AddDate(0, -1, 0))
	item, err := svc.CreateSeries(ctx, expired)
	require.NoError(t, err)

	_, err = svc.ActivateSeries(ctx, item.ID)
	assert.True(t, apperror.IsValidation(err))

	other, err := svc.CreateSeries(ctx, validInput("Deleted"))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSeries(ctx, other.ID))
	_, err = svc.ActivateSeries(ctx, other.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestGetActiveSeries(t *testing.T) {
	svc, _ := newRegistry(t)
	ctx := adminCtx()

	_, err := svc.GetActiveSeries(ctx)
	require.Error(t, err)
	assert.True(t, apperror.IsNoActiveSeries(err))
	assert.Equal(t, "No active transaction series found", err.(*apperror.AppError).Message)

	future := validInput("Future")
	future.EffectiveFrom = today.AddDate(0, 0, 1)
	item, err := svc.CreateSeries(ctx, future)
	require.NoError(t, err)
	_, err = svc.ActivateSeries(ctx, item.ID)
	require.NoError(t, err)

	_, err = svc.GetActiveSeries(ctx)
	assert.True(t, apperror.IsNoActiveSeries(err), "series not yet effective")
}

func TestDeactivateSeries(t *testing.T) {
	svc, _ := newRegistry(t)
	ctx := adminCtx()

	in := validInput("A")
	in.IsActive = true
	a, err := svc.CreateSeries(ctx, in)
	require.NoError(t, err)

	deactivated, err := svc.DeactivateSeries(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	_, err = svc.GetActiveSeries(ctx)
	assert.True(t, apperror.IsNoActiveSeries(err))
}

func TestDeleteSeries(t *testing.T) {
	svc, _ := newRegistry(t)
	ctx := adminCtx()

	in := validInput("A")
	in.IsActive = true
	active, err := svc.CreateSeries(ctx, in)
	require.NoError(t, err)

	err = svc.DeleteSeries(ctx, active.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	idle, err := svc.CreateSeries(ctx, validInput("B"))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSeries(ctx, idle.ID))

	got, err := svc.GetSeries(ctx, idle.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())

	_, total, err := svc.ListSeries(ctx, series.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = svc.ListSeries(ctx, series.ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	assert.True(t, apperror.IsNotFound(svc.DeleteSeries(ctx, idle.ID)))
}

func TestUpdateSeries(t *testing.T) {
	svc, store := newRegistry(t)
	ctx := adminCtx()

	item, err := svc.CreateSeries(ctx, validInput("FY2025"))
	require.NoError(t, err)

	updated, err := svc.UpdateSeries(ctx, item.ID, series.UpdateInput{
		SeriesName: ptr("FY2025 main"),
		Format:     ptr("{PREFIX}-{NUMBER:8}"),
		Notes:      ptr("main counter"),
	})
	require.NoError(t, err)
	assert.Equal(t, "FY2025 main", updated.SeriesName)
	assert.Equal(t, "OR-00000001", updated.FormatNumber(1))

	audit := store.Audit()
	last := audit[len(audit)-1]
	assert.Equal(t, domain.AuditUpdate, last.Action)
	assert.Contains(t, last.Changes, "series_name")
	assert.Contains(t, last.Changes, "format")
	assert.NotContains(t, last.Changes, "start_number")

	cleared, err := svc.UpdateSeries(ctx, item.ID, series.UpdateInput{ClearEndNumber: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.EndNumber)
}

func TestUpdateSeries_NumberingFrozenAfterIssue(t *testing.T) {
	svc, store := newRegistry(t)
	ctx := adminCtx()

	in := validInput("FY2025")
	in.IsActive = true
	item, err := svc.CreateSeries(ctx, in)
	require.NoError(t, err)

	alloc := ornumber.NewService(ornumber.Config{
		Registry:   svc,
		SeriesRepo: store.Series(),
		Repo:       store.Generations(),
		TxManager:  store,
		Logger:     logger.Nop(),
	})
	_, err = alloc.GenerateNextOrNumber(ctx, 42)
	require.NoError(t, err)

	_, err = svc.UpdateSeries(ctx, item.ID, series.UpdateInput{Format: ptr("{NUMBER:6}")})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.UpdateSeries(ctx, item.ID, series.UpdateInput{Prefix: ptr("XX")})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.UpdateSeries(ctx, item.ID, series.UpdateInput{EndNumber: ptr(int64(5000))})
	assert.NoError(t, err)
}

func TestUpdateSeries_EndBelowLastIssued(t *testing.T) {
	svc, store := newRegistry(t)
	ctx := adminCtx()

	seeded := store.SeedSeries(&series.Series{
		SeriesName:    "FY2025",
		CurrentNumber: 500,
		StartNumber:   1,
		EndNumber:     ptr(int64(1000)),
		Format:        "{NUMBER:6}",
		EffectiveFrom: series.DateOf(today),
	})

	_, err := svc.UpdateSeries(ctx, seeded.ID, series.UpdateInput{EndNumber: ptr(int64(499))})
	assert.True(t, apperror.IsValidation(err))

	updated, err := svc.UpdateSeries(ctx, seeded.ID, series.UpdateInput{EndNumber: ptr(int64(500))})
	require.NoError(t, err)
	assert.True(t, updated.HasReachedLimit())
}

func TestListSeries_SearchAndPaging(t *testing.T) {
	svc, _ := newRegistry(t)
	ctx := adminCtx()

	for _, name := range []string{"Main 2024", "Main 2025", "Branch 2025"} {
		_, err := svc.CreateSeries(ctx, validInput(name))
		require.NoError(t, err)
	}

	items, total, err := svc.ListSeries(ctx, series.ListFilter{Search: "main"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, items, 2)

	items, total, err = svc.ListSeries(ctx, series.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, items, 1)
	assert.Equal(t, "Main 2025", items[0].SeriesName)
}
