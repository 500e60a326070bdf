package repositories

import (
	"context"
	"fmt"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
)

// AuditRepository handles audit record persistence. Records are only ever inserted.
type AuditRepository interface {
	Create(ctx context.Context, q database.Querier, res *registry.Resource, entry *models.AuditRecord) error
	ForObject(ctx context.Context, q database.Querier, res *registry.Resource, objectID int64) ([]models.AuditRecord, error)
}

type auditRepository struct {
	dialect database.Dialect
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(dialect database.Dialect) AuditRepository {
	return &auditRepository{dialect: dialect}
}

// Create inserts a new audit record into the resource's audit table and sets its id
func (r *auditRepository) Create(ctx context.Context, q database.Querier, res *registry.Resource, entry *models.AuditRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (object_id, field, old_value, new_value, updated_by, created)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, res.AuditTable())

	err := q.QueryRowContext(
		ctx,
		r.dialect.Rebind(query),
		entry.ObjectID,
		entry.Field,
		entry.OldValue,
		entry.NewValue,
		entry.UpdatedBy,
		entry.Created,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to write %s audit: %w", res.Name, apperr.FromDB(err))
	}
	return nil
}

// ForObject returns the audit trail of one record in insertion order
func (r *auditRepository) ForObject(ctx context.Context, q database.Querier, res *registry.Resource, objectID int64) ([]models.AuditRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, object_id, field, old_value, new_value, updated_by, created
		FROM %s
		WHERE object_id = ?
		ORDER BY id ASC
	`, res.AuditTable())

	rows, err := q.QueryContext(ctx, r.dialect.Rebind(query), objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s audit: %w", res.Name, apperr.FromDB(err))
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		err := rows.Scan(
			&rec.ID,
			&rec.ObjectID,
			&rec.Field,
			&rec.OldValue,
			&rec.NewValue,
			&rec.UpdatedBy,
			&rec.Created,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Created = rec.Created.UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return records, nil
}
