// Package series_repo provides PostgreSQL repositories for OR number series
// and their generation records.
package series_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"orseries/internal/core/apperror"
	"orseries/internal/domain/series"
	"orseries/internal/infrastructure/storage/postgres"
)

const (
	seriesTable      = "transaction_series"
	generationsTable = "or_number_generations"
)

var _ series.Repository = (*SeriesRepo)(nil)

// builder returns a squirrel builder with PostgreSQL placeholders.
func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func wrap(op string, err error) error {
	return postgres.MapError(fmt.Errorf("%s: %w", op, err))
}

// SeriesRepo implements series.Repository.
type SeriesRepo struct {
	txm  *postgres.TxManager
	cols []string
}

// NewSeriesRepo creates a series repository.
func NewSeriesRepo(txm *postgres.TxManager) *SeriesRepo {
	return &SeriesRepo{txm: txm, cols: postgres.ExtractDBColumns[series.Series]()}
}

func (r *SeriesRepo) selectQuery() squirrel.SelectBuilder {
	return builder().Select(r.cols...).From(seriesTable)
}

func (r *SeriesRepo) get(ctx context.Context, q squirrel.SelectBuilder, key any) (*series.Series, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var item series.Series
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &item, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(seriesTable, key)
		}
		return nil, wrap("get series", err)
	}
	return &item, nil
}

func insertSeriesQuery(item *series.Series) squirrel.InsertBuilder {
	data := postgres.StructToMap(item, "id", "is_active", "created_at", "updated_at", "deleted_at")
	return builder().
		Insert(seriesTable).
		SetMap(data).
		Suffix("RETURNING id, is_active, created_at, updated_at")
}

// Create inserts item and fills its generated columns.
func (r *SeriesRepo) Create(ctx context.Context, item *series.Series) error {
	sql, args, err := insertSeriesQuery(item).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	err = r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).
		Scan(&item.ID, &item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return wrap("insert series", err)
	}
	return nil
}

// GetByID returns a series, soft-deleted ones included.
func (r *SeriesRepo) GetByID(ctx context.Context, id int64) (*series.Series, error) {
	return r.get(ctx, r.selectQuery().Where(squirrel.Eq{"id": id}), id)
}

// GetForUpdate takes the row lock that serializes allocation within a series.
func (r *SeriesRepo) GetForUpdate(ctx context.Context, id int64) (*series.Series, error) {
	q := r.selectQuery().Where(squirrel.Eq{"id": id}).Suffix("FOR UPDATE")
	return r.get(ctx, q, id)
}

func (r *SeriesRepo) findActiveQuery(day time.Time) squirrel.SelectBuilder {
	d := series.DateOf(day)
	return r.selectQuery().
		Where(squirrel.Eq{"is_active": true, "deleted_at": nil}).
		Where(squirrel.LtOrEq{"effective_from": d}).
		Where(squirrel.Or{
			squirrel.Eq{"effective_to": nil},
			squirrel.GtOrEq{"effective_to": d},
		}).
		Limit(1)
}

// FindActive returns the active series effective on day.
func (r *SeriesRepo) FindActive(ctx context.Context, day time.Time) (*series.Series, error) {
	return r.get(ctx, r.findActiveQuery(day), "active")
}

func (r *SeriesRepo) filtered(q squirrel.SelectBuilder, filter series.ListFilter) squirrel.SelectBuilder {
	if !filter.IncludeDeleted {
		q = q.Where(squirrel.Eq{"deleted_at": nil})
	}
	if filter.ActiveOnly {
		q = q.Where(squirrel.Eq{"is_active": true})
	}
	if filter.Search != "" {
		q = q.Where(squirrel.ILike{"series_name": "%" + filter.Search + "%"})
	}
	return q
}

// List returns a page of series, newest first, plus the total count.
func (r *SeriesRepo) List(ctx context.Context, filter series.ListFilter) ([]*series.Series, int64, error) {
	querier := r.txm.GetQuerier(ctx)

	countSQL, countArgs, err := r.filtered(builder().Select("COUNT(*)").From(seriesTable), filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, wrap("count series", err)
	}

	q := r.filtered(r.selectQuery(), filter).OrderBy("created_at DESC", "id DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build query: %w", err)
	}

	var items []*series.Series
	if err := pgxscan.Select(ctx, querier, &items, sql, args...); err != nil {
		return nil, 0, wrap("list series", err)
	}
	return items, total, nil
}

func updateSeriesQuery(item *series.Series) squirrel.UpdateBuilder {
	return builder().
		Update(seriesTable).
		SetMap(map[string]any{
			"series_name":    item.SeriesName,
			"prefix":         item.Prefix,
			"start_number":   item.StartNumber,
			"end_number":     item.EndNumber,
			"format":         item.Format,
			"effective_from": item.EffectiveFrom,
			"effective_to":   item.EffectiveTo,
			"notes":          item.Notes,
			"updated_at":     squirrel.Expr("NOW()"),
		}).
		Where(squirrel.Eq{"id": item.ID, "deleted_at": nil}).
		Suffix("RETURNING updated_at")
}

// Update persists the editable columns. The counter and the active flag
// have dedicated statements.
func (r *SeriesRepo) Update(ctx context.Context, item *series.Series) error {
	sql, args, err := updateSeriesQuery(item).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &item.UpdatedAt, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return apperror.NewNotFound(seriesTable, item.ID)
		}
		return wrap("update series", err)
	}
	return nil
}

// deactivateOthersQuery clears the active flag on every live series but id.
// The EXISTS guard keeps a bad id from deactivating everything.
func deactivateOthersQuery(id int64) squirrel.UpdateBuilder {
	return builder().
		Update(seriesTable).
		Set("is_active", false).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"deleted_at": nil, "is_active": true}).
		Where(squirrel.NotEq{"id": id}).
		Where(squirrel.Expr("EXISTS (SELECT 1 FROM "+seriesTable+" t WHERE t.id = ? AND t.deleted_at IS NULL)", id))
}

func activateQuery(id int64) squirrel.UpdateBuilder {
	return builder().
		Update(seriesTable).
		Set("is_active", true).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id, "deleted_at": nil})
}

// SetActive makes id the only active series. The partial unique index on
// is_active is checked row by row, so the others are cleared in a separate
// statement before the target is set. Callers run it inside a transaction.
func (r *SeriesRepo) SetActive(ctx context.Context, id int64) error {
	sql, args, err := deactivateOthersQuery(id).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return wrap("deactivate other series", err)
	}
	return r.exec(ctx, "activate series", activateQuery(id), id)
}

// Deactivate clears the active flag of id.
func (r *SeriesRepo) Deactivate(ctx context.Context, id int64) error {
	q := builder().
		Update(seriesTable).
		Set("is_active", false).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id, "deleted_at": nil})
	return r.exec(ctx, "deactivate series", q, id)
}

func setCurrentNumberQuery(id, current int64) squirrel.UpdateBuilder {
	return builder().
		Update(seriesTable).
		Set("current_number", current).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.LtOrEq{"current_number": current})
}

// SetCurrentNumber moves the counter forward. It never moves it back.
func (r *SeriesRepo) SetCurrentNumber(ctx context.Context, id int64, current int64) error {
	sql, args, err := setCurrentNumberQuery(id, current).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return wrap("advance counter", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("series counter cannot move backwards").
			WithDetail("series_id", id).
			WithDetail("current_number", current)
	}
	return nil
}

// SoftDelete marks id deleted and inactive.
func (r *SeriesRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	q := builder().
		Update(seriesTable).
		Set("deleted_at", at).
		Set("is_active", false).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id, "deleted_at": nil})
	return r.exec(ctx, "delete series", q, id)
}

// HasGenerations reports whether any OR number references the series.
func (r *SeriesRepo) HasGenerations(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+generationsTable+" WHERE series_id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, wrap("check generations", err)
	}
	return exists, nil
}

func (r *SeriesRepo) exec(ctx context.Context, op string, q squirrel.UpdateBuilder, id int64) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return wrap(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(seriesTable, id)
	}
	return nil
}
