package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/filter"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
)

// RecordRepository reads and writes rows of any registry resource. Every method takes the
// Querier to run on so that writes join the caller's unit of work.
type RecordRepository interface {
	Search(ctx context.Context, q database.Querier, res *registry.Resource, where *filter.Compiled, page models.Page) ([]*models.Record, int, error)
	Get(ctx context.Context, q database.Querier, res *registry.Resource, id int64) (*models.Record, error)
	FindByKey(ctx context.Context, q database.Querier, res *registry.Resource, key map[string]any) (*models.Record, error)
	Insert(ctx context.Context, q database.Querier, res *registry.Resource, values map[string]any, actor string, now time.Time) (int64, error)
	Update(ctx context.Context, q database.Querier, res *registry.Resource, id int64, values map[string]any, actor string, now time.Time) error
	Delete(ctx context.Context, q database.Querier, res *registry.Resource, id int64) error
	Referencing(ctx context.Context, q database.Querier, res *registry.Resource, column string, id int64) ([]*models.Record, error)
}

type recordRepository struct {
	dialect database.Dialect
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(dialect database.Dialect) RecordRepository {
	return &recordRepository{dialect: dialect}
}

func selectColumns(res *registry.Resource, alias string) string {
	cols := make([]string, len(res.Fields))
	for i, f := range res.Fields {
		cols[i] = alias + "." + f.Column
	}
	return strings.Join(cols, ", ")
}

// Search returns one page of matching records ordered by id, and the total match count
func (r *recordRepository) Search(ctx context.Context, q database.Querier, res *registry.Resource, where *filter.Compiled, page models.Page) ([]*models.Record, int, error) {
	from := fmt.Sprintf(" FROM %s AS %s", res.Table(), filter.Alias)
	var args []any
	if where != nil {
		from += where.JoinSQL()
		cond, condArgs := where.Where()
		if cond != "" {
			from += " WHERE " + cond
			args = condArgs
		}
	}

	var total int
	countQuery := r.dialect.Rebind(fmt.Sprintf("SELECT COUNT(DISTINCT %s.id)", filter.Alias) + from)
	if err := q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", res.Name, apperr.FromDB(err))
	}
	if total == 0 {
		return nil, 0, nil
	}

	query := "SELECT DISTINCT " + selectColumns(res, filter.Alias) + from + fmt.Sprintf(" ORDER BY %s.id", filter.Alias)
	limit, limitArgs := r.dialect.LimitOffset(page.Limit, page.Offset)
	query += limit

	rows, err := q.QueryContext(ctx, r.dialect.Rebind(query), append(args, limitArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s: %w", res.Name, apperr.FromDB(err))
	}
	defer rows.Close()

	records, err := scanRecords(rows, res)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Get retrieves a record by its id
func (r *recordRepository) Get(ctx context.Context, q database.Querier, res *registry.Resource, id int64) (*models.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s AS t WHERE t.id = ?", selectColumns(res, "t"), res.Table())

	rows, err := q.QueryContext(ctx, r.dialect.Rebind(query), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", res.Name, id, apperr.FromDB(err))
	}
	defer rows.Close()

	records, err := scanRecords(rows, res)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperr.NotFound("%s %d not found", res.Name, id)
	}
	return records[0], nil
}

// FindByKey looks a record up by its natural key. A missing record is a NotFound error.
func (r *recordRepository) FindByKey(ctx context.Context, q database.Querier, res *registry.Resource, key map[string]any) (*models.Record, error) {
	conds := make([]string, len(res.NaturalKey))
	args := make([]any, len(res.NaturalKey))
	for i, k := range res.NaturalKey {
		f, _ := res.Field(k)
		conds[i] = "t." + f.Column + " = ?"
		args[i] = key[k]
	}
	query := fmt.Sprintf("SELECT %s FROM %s AS t WHERE %s", selectColumns(res, "t"), res.Table(), strings.Join(conds, " AND "))

	rows, err := q.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", res.Name, apperr.FromDB(err))
	}
	defer rows.Close()

	records, err := scanRecords(rows, res)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperr.NotFound("%s %s not found", res.Name, res.Label(key))
	}
	return records[0], nil
}

// Insert creates a record and returns its id
func (r *recordRepository) Insert(ctx context.Context, q database.Querier, res *registry.Resource, values map[string]any, actor string, now time.Time) (int64, error) {
	cols := []string{"created", "updated", "updated_by"}
	args := []any{now, now, actor}
	for _, f := range res.Fields {
		if f.ReadOnly {
			continue
		}
		if v, ok := values[f.Name]; ok && v != nil {
			cols = append(cols, f.Column)
			args = append(args, v)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		res.Table(), strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	var id int64
	if err := q.QueryRowContext(ctx, r.dialect.Rebind(query), args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", res.Name, apperr.FromDB(err))
	}
	return id, nil
}

// Update writes the given fields and stamps updated/updated_by
func (r *recordRepository) Update(ctx context.Context, q database.Querier, res *registry.Resource, id int64, values map[string]any, actor string, now time.Time) error {
	sets := []string{"updated = ?", "updated_by = ?"}
	args := []any{now, actor}
	for _, f := range res.Fields {
		if f.ReadOnly {
			continue
		}
		if v, ok := values[f.Name]; ok {
			sets = append(sets, f.Column+" = ?")
			args = append(args, v)
		}
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", res.Table(), strings.Join(sets, ", "))
	result, err := q.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %d: %w", res.Name, id, apperr.FromDB(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("%s %d not found", res.Name, id)
	}
	return nil
}

// Delete removes a record. Assignment rows go with it.
func (r *recordRepository) Delete(ctx context.Context, q database.Querier, res *registry.Resource, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", res.Table())
	result, err := q.ExecContext(ctx, r.dialect.Rebind(query), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", res.Name, id, apperr.FromDB(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("%s %d not found", res.Name, id)
	}
	return nil
}

// Referencing returns the records of res whose column points at id
func (r *recordRepository) Referencing(ctx context.Context, q database.Querier, res *registry.Resource, column string, id int64) ([]*models.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s AS t WHERE t.%s = ? ORDER BY t.id", selectColumns(res, "t"), res.Table(), column)

	rows, err := q.QueryContext(ctx, r.dialect.Rebind(query), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", res.Name, column, apperr.FromDB(err))
	}
	defer rows.Close()

	return scanRecords(rows, res)
}

// scanRecords reads every row into a record, converting NULLs to nil values
func scanRecords(rows *sql.Rows, res *registry.Resource) ([]*models.Record, error) {
	var records []*models.Record
	for rows.Next() {
		holders := make([]any, len(res.Fields))
		for i, f := range res.Fields {
			switch f.Kind {
			case registry.Int, registry.Reference:
				holders[i] = new(sql.NullInt64)
			case registry.Bool:
				holders[i] = new(sql.NullBool)
			case registry.Timestamp:
				holders[i] = new(sql.NullTime)
			default:
				holders[i] = new(sql.NullString)
			}
		}

		if err := rows.Scan(holders...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", res.Name, err)
		}

		record := &models.Record{Resource: res.Name, Values: make(map[string]any, len(res.Fields))}
		for i, f := range res.Fields {
			var v any
			switch h := holders[i].(type) {
			case *sql.NullInt64:
				if h.Valid {
					v = h.Int64
				}
			case *sql.NullBool:
				if h.Valid {
					v = h.Bool
				}
			case *sql.NullTime:
				if h.Valid {
					v = h.Time.UTC()
				}
			case *sql.NullString:
				if h.Valid {
					v = h.String
				}
			}
			record.Values[f.Name] = v
		}
		record.ID, _ = record.Values["id"].(int64)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", res.Name, err)
	}
	return records, nil
}
