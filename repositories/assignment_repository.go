package repositories

import (
	"context"
	"fmt"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/registry"
)

// AssignmentRepository handles the link rows of assignable relationships. local is always the
// id on the relationship's own side and remote the id on the target side.
type AssignmentRepository interface {
	Exists(ctx context.Context, q database.Querier, rel *registry.Relationship, local, remote int64) (bool, error)
	Insert(ctx context.Context, q database.Querier, rel *registry.Relationship, local, remote int64) error
	Delete(ctx context.Context, q database.Querier, rel *registry.Relationship, local, remote int64) (bool, error)
	RemoteIDs(ctx context.Context, q database.Querier, rel *registry.Relationship, local int64) ([]int64, error)
}

type assignmentRepository struct {
	dialect database.Dialect
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(dialect database.Dialect) AssignmentRepository {
	return &assignmentRepository{dialect: dialect}
}

// Exists reports whether the pair is linked
func (r *assignmentRepository) Exists(ctx context.Context, q database.Querier, rel *registry.Relationship, local, remote int64) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ?", rel.JoinTable, rel.LocalColumn, rel.RemoteColumn)

	var count int
	if err := q.QueryRowContext(ctx, r.dialect.Rebind(query), local, remote).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", rel.JoinTable, apperr.FromDB(err))
	}
	return count > 0, nil
}

// Insert links the pair
func (r *assignmentRepository) Insert(ctx context.Context, q database.Querier, rel *registry.Relationship, local, remote int64) error {
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", rel.JoinTable, rel.LocalColumn, rel.RemoteColumn)

	if _, err := q.ExecContext(ctx, r.dialect.Rebind(query), local, remote); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", rel.JoinTable, apperr.FromDB(err))
	}
	return nil
}

// Delete unlinks the pair and reports whether a link existed
func (r *assignmentRepository) Delete(ctx context.Context, q database.Querier, rel *registry.Relationship, local, remote int64) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?", rel.JoinTable, rel.LocalColumn, rel.RemoteColumn)

	result, err := q.ExecContext(ctx, r.dialect.Rebind(query), local, remote)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", rel.JoinTable, apperr.FromDB(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// RemoteIDs returns the ids linked to local, in ascending order
func (r *assignmentRepository) RemoteIDs(ctx context.Context, q database.Querier, rel *registry.Relationship, local int64) ([]int64, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s", rel.RemoteColumn, rel.JoinTable, rel.LocalColumn, rel.RemoteColumn)

	rows, err := q.QueryContext(ctx, r.dialect.Rebind(query), local)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", rel.JoinTable, apperr.FromDB(err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", rel.JoinTable, err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", rel.JoinTable, err)
	}
	return ids, nil
}
