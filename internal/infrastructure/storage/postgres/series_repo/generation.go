package series_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"orseries/internal/core/apperror"
	"orseries/internal/domain/ornumber"
	"orseries/internal/infrastructure/storage/postgres"
)

var _ ornumber.Repository = (*GenerationRepo)(nil)

// GenerationRepo implements ornumber.Repository.
type GenerationRepo struct {
	txm  *postgres.TxManager
	cols []string
}

// NewGenerationRepo creates a generation repository.
func NewGenerationRepo(txm *postgres.TxManager) *GenerationRepo {
	return &GenerationRepo{txm: txm, cols: postgres.ExtractDBColumns[ornumber.Generation]()}
}

func (r *GenerationRepo) selectQuery() squirrel.SelectBuilder {
	return builder().Select(r.cols...).From(generationsTable)
}

func (r *GenerationRepo) get(ctx context.Context, q squirrel.SelectBuilder, key any) (*ornumber.Generation, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var g ornumber.Generation
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &g, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(generationsTable, key)
		}
		return nil, wrap("get generation", err)
	}
	return &g, nil
}

func insertGenerationQuery(g *ornumber.Generation) squirrel.InsertBuilder {
	return builder().
		Insert(generationsTable).
		SetMap(postgres.StructToMap(g, "id", "created_at", "updated_at")).
		Suffix("RETURNING id, created_at, updated_at")
}

// Create inserts g. Unique violations on or_number or (series_id,
// actual_number) surface as DUPLICATE_OR_NUMBER through MapError.
func (r *GenerationRepo) Create(ctx context.Context, g *ornumber.Generation) error {
	sql, args, err := insertGenerationQuery(g).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	err = r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return wrap("insert generation", err)
	}
	return nil
}

func (r *GenerationRepo) GetByID(ctx context.Context, id int64) (*ornumber.Generation, error) {
	return r.get(ctx, r.selectQuery().Where(squirrel.Eq{"id": id}), id)
}

func (r *GenerationRepo) GetForUpdate(ctx context.Context, id int64) (*ornumber.Generation, error) {
	return r.get(ctx, r.selectQuery().Where(squirrel.Eq{"id": id}).Suffix("FOR UPDATE"), id)
}

func (r *GenerationRepo) FindByOrNumber(ctx context.Context, orNumber string) (*ornumber.Generation, error) {
	return r.get(ctx, r.selectQuery().Where(squirrel.Eq{"or_number": orNumber}), orNumber)
}

func existsQuery(where squirrel.Sqlizer) (string, []any, error) {
	return builder().Select("1").From(generationsTable).Where(where).Prefix("SELECT EXISTS (").Suffix(")").ToSql()
}

func (r *GenerationRepo) exists(ctx context.Context, op string, where squirrel.Sqlizer) (bool, error) {
	sql, args, err := existsQuery(where)
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var ok bool
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&ok); err != nil {
		return false, wrap(op, err)
	}
	return ok, nil
}

func (r *GenerationRepo) ExistsOrNumber(ctx context.Context, orNumber string) (bool, error) {
	return r.exists(ctx, "check or number", squirrel.Eq{"or_number": orNumber})
}

func takenCond(seriesID, actualNumber int64, orNumber string) squirrel.Sqlizer {
	return squirrel.Or{
		squirrel.And{squirrel.Eq{"series_id": seriesID}, squirrel.Eq{"actual_number": actualNumber}},
		squirrel.Eq{"or_number": orNumber},
	}
}

func (r *GenerationRepo) IsTaken(ctx context.Context, seriesID, actualNumber int64, orNumber string) (bool, error) {
	return r.exists(ctx, "check number taken", takenCond(seriesID, actualNumber, orNumber))
}

func updateStatusQuery(g *ornumber.Generation, from ornumber.Status) squirrel.UpdateBuilder {
	return builder().
		Update(generationsTable).
		SetMap(map[string]any{
			"status":            g.Status,
			"transaction_id":    g.TransactionID,
			"used_at":           g.UsedAt,
			"voided_at":         g.VoidedAt,
			"voided_by_user_id": g.VoidedBy,
			"void_reason":       g.VoidReason,
			"metadata":          g.Metadata,
			"updated_at":        squirrel.Expr("NOW()"),
		}).
		Where(squirrel.Eq{"id": g.ID, "status": from}).
		Suffix("RETURNING updated_at")
}

// UpdateStatus is a compare-and-set on status, so two racing transitions
// cannot both win.
func (r *GenerationRepo) UpdateStatus(ctx context.Context, g *ornumber.Generation, from ornumber.Status) error {
	sql, args, err := updateStatusQuery(g, from).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &g.UpdatedAt, sql, args...)
	if err == nil {
		return nil
	}
	if !pgxscan.NotFound(err) {
		return wrap("update generation status", err)
	}

	current, err := r.GetByID(ctx, g.ID)
	if err != nil {
		return err
	}
	return apperror.NewInvalidStateTransition(g.ID, string(current.Status), string(g.Status))
}

func generationFilter(q squirrel.SelectBuilder, f ornumber.ListFilter) squirrel.SelectBuilder {
	if f.SeriesID != nil {
		q = q.Where(squirrel.Eq{"series_id": *f.SeriesID})
	}
	if f.Status != nil {
		q = q.Where(squirrel.Eq{"status": *f.Status})
	}
	if f.GeneratedBy != nil {
		q = q.Where(squirrel.Eq{"generated_by_user_id": *f.GeneratedBy})
	}
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"generated_at": *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.Lt{"generated_at": *f.To})
	}
	return q
}

// List returns a page of generations, newest first, plus the total count.
func (r *GenerationRepo) List(ctx context.Context, f ornumber.ListFilter) ([]*ornumber.Generation, int64, error) {
	querier := r.txm.GetQuerier(ctx)

	countSQL, countArgs, err := generationFilter(builder().Select("COUNT(*)").From(generationsTable), f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, wrap("count generations", err)
	}

	q := generationFilter(r.selectQuery(), f).OrderBy("generated_at DESC", "id DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build query: %w", err)
	}

	var items []*ornumber.Generation
	if err := pgxscan.Select(ctx, querier, &items, sql, args...); err != nil {
		return nil, 0, wrap("list generations", err)
	}
	return items, total, nil
}

func staleQuery(cutoff time.Time, limit int) squirrel.SelectBuilder {
	q := builder().
		Select("id").
		From(generationsTable).
		Where(squirrel.Eq{"status": ornumber.StatusGenerated}).
		Where(squirrel.Lt{"generated_at": cutoff}).
		OrderBy("generated_at", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

func (r *GenerationRepo) ListStaleIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	sql, args, err := staleQuery(cutoff, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var ids []int64
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &ids, sql, args...); err != nil {
		return nil, wrap("list stale generations", err)
	}
	return ids, nil
}
