package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/events"
	"github.com/blogem/cmdb/metrics"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/repositories"
	"github.com/blogem/cmdb/tracing"
	"github.com/blogem/cmdb/userctx"
)

// MutationService defines create, update and delete of records with field-level auditing.
// Every call is one unit of work: the record change and all of its audit records commit
// together or not at all.
type MutationService interface {
	Upsert(ctx context.Context, resource string, payload map[string]any) (*models.Record, error)
	Create(ctx context.Context, resource string, payload map[string]any) (*models.Record, error)
	Update(ctx context.Context, resource string, id int64, payload map[string]any) (*models.Record, error)
	Delete(ctx context.Context, resource string, id int64) error
}

// mutator implements MutationService. Its unexported methods run inside a caller's unit of
// work and are shared with the assignment, registration and cascade paths.
type mutator struct {
	db       *database.DB
	reg      *registry.Registry
	records  repositories.RecordRepository
	audits   repositories.AuditRepository
	resolver *resolver
	guard    *tagGuard
	cascade  *CascadePolicy
	links    *assigner
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// writer is the actor and clock of one unit of work
type writer struct {
	tx    *database.Tx
	actor userctx.Actor
	now   time.Time
}

func (m *mutator) begin(ctx context.Context, fn func(w *writer) error) error {
	actor := userctx.GetActor(ctx)
	return m.db.WithTx(ctx, func(tx *database.Tx) error {
		return fn(&writer{tx: tx, actor: actor, now: m.now().UTC()})
	})
}

func (m *mutator) writable(resource string) (*registry.Resource, error) {
	res, err := m.reg.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if res.Audit {
		return nil, apperr.NotImplemented("audit records are immutable")
	}
	return res, nil
}

// Upsert creates the record named by the payload's natural key, or updates it when it exists
func (m *mutator) Upsert(ctx context.Context, resource string, payload map[string]any) (*models.Record, error) {
	ctx, span := tracing.Tracer().Start(ctx, "services.Upsert")
	span.SetAttributes(attribute.String("resource", resource))
	defer span.End()

	res, err := m.writable(resource)
	if err != nil {
		return nil, err
	}

	var rec *models.Record
	err = m.begin(ctx, func(w *writer) error {
		values, err := m.normalize(ctx, w, res, payload)
		if err != nil {
			return err
		}
		rec, err = m.upsert(ctx, w, res, values)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create creates a record. An existing natural key is a Conflict.
func (m *mutator) Create(ctx context.Context, resource string, payload map[string]any) (*models.Record, error) {
	ctx, span := tracing.Tracer().Start(ctx, "services.Create")
	span.SetAttributes(attribute.String("resource", resource))
	defer span.End()

	res, err := m.writable(resource)
	if err != nil {
		return nil, err
	}

	var rec *models.Record
	err = m.begin(ctx, func(w *writer) error {
		values, err := m.normalize(ctx, w, res, payload)
		if err != nil {
			return err
		}
		if err := requireKey(res, values); err != nil {
			return err
		}
		rec, err = m.create(ctx, w, res, values)
		if apperr.IsUniqueViolation(err) {
			return apperr.Conflict("%s %s already exists", res.Name, res.Label(values))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update changes fields of an existing record
func (m *mutator) Update(ctx context.Context, resource string, id int64, payload map[string]any) (*models.Record, error) {
	ctx, span := tracing.Tracer().Start(ctx, "services.Update")
	span.SetAttributes(attribute.String("resource", resource), attribute.Int64("id", id))
	defer span.End()

	res, err := m.writable(resource)
	if err != nil {
		return nil, err
	}

	var rec *models.Record
	err = m.begin(ctx, func(w *writer) error {
		existing, err := m.records.Get(ctx, w.tx, res, id)
		if err != nil {
			return err
		}
		values, err := m.normalize(ctx, w, res, payload)
		if err != nil {
			return err
		}
		rec, err = m.update(ctx, w, res, existing, values, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete deassigns every link of the record, writes the terminal audit record and removes it
func (m *mutator) Delete(ctx context.Context, resource string, id int64) error {
	ctx, span := tracing.Tracer().Start(ctx, "services.Delete")
	span.SetAttributes(attribute.String("resource", resource), attribute.Int64("id", id))
	defer span.End()

	res, err := m.writable(resource)
	if err != nil {
		return err
	}

	return m.begin(ctx, func(w *writer) error {
		existing, err := m.records.Get(ctx, w.tx, res, id)
		if err != nil {
			return err
		}
		if err := m.guard.check(w.actor, res, existing); err != nil {
			return err
		}

		if err := m.links.detach(ctx, w, res, existing); err != nil {
			return err
		}

		label, err := m.resolver.label(ctx, w.tx, res, existing)
		if err != nil {
			return err
		}
		if err := m.audit(ctx, w, res, id, res.KeyField(), label, models.AuditDeleted); err != nil {
			return err
		}
		if err := m.records.Delete(ctx, w.tx, res, id); err != nil {
			return err
		}

		m.resolver.forget(ctx, w.tx, res, id, label)
		m.committed(w, res, "delete")
		return nil
	})
}

// normalize converts a decoded payload into typed field values. Unknown fields are rejected,
// store-maintained fields are ignored and references are resolved to ids.
func (m *mutator) normalize(ctx context.Context, w *writer, res *registry.Resource, payload map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(payload))
	for name, raw := range payload {
		f, ok := res.Field(name)
		if !ok {
			return nil, apperr.BadRequest("%s has no field %q", res.Name, name)
		}
		if f.ReadOnly {
			continue
		}
		if raw == nil {
			values[name] = nil
			continue
		}
		if f.Kind == registry.Reference {
			id, err := m.resolver.reference(ctx, w.tx, f, raw)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			values[name] = id
			continue
		}
		v, err := f.Normalize(raw)
		if err != nil {
			return nil, apperr.BadRequest("%v", err)
		}
		values[name] = v
	}
	return values, nil
}

func requireKey(res *registry.Resource, values map[string]any) error {
	for _, k := range res.NaturalKey {
		if registry.Format(values[k]) == "" {
			return apperr.BadRequest("%s requires %s", res.Name, k)
		}
	}
	return nil
}

// upsert looks the record up by natural key, then creates or updates it. A create that loses
// a race on the natural key is retried as an update.
func (m *mutator) upsert(ctx context.Context, w *writer, res *registry.Resource, values map[string]any) (*models.Record, error) {
	if err := requireKey(res, values); err != nil {
		return nil, err
	}

	key := make(map[string]any, len(res.NaturalKey))
	for _, k := range res.NaturalKey {
		key[k] = values[k]
	}

	existing, err := m.records.FindByKey(ctx, w.tx, res, key)
	if err == nil {
		return m.update(ctx, w, res, existing, values, 0)
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	rec, err := m.create(ctx, w, res, values)
	if !apperr.IsUniqueViolation(err) {
		return rec, err
	}

	m.logger.Info("lost create race, retrying as update", zap.String("resource", res.Name), zap.String("key", res.Label(key)))
	existing, err = m.records.FindByKey(ctx, w.tx, res, key)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, w, res, existing, values, 0)
}

// create inserts the record inside a savepoint so that a duplicate key leaves the unit of
// work usable, then writes the "created" audit record
func (m *mutator) create(ctx context.Context, w *writer, res *registry.Resource, values map[string]any) (*models.Record, error) {
	if err := m.guard.checkValues(w.actor, res, values); err != nil {
		return nil, err
	}

	var id int64
	err := w.tx.Savepoint(ctx, func() error {
		var err error
		id, err = m.records.Insert(ctx, w.tx, res, values, w.actor.Name, w.now)
		return err
	})
	if err != nil {
		return nil, err
	}

	rec, err := m.records.Get(ctx, w.tx, res, id)
	if err != nil {
		return nil, err
	}
	label, err := m.resolver.label(ctx, w.tx, res, rec)
	if err != nil {
		return nil, err
	}
	if err := m.audit(ctx, w, res, id, res.KeyField(), models.AuditCreated, label); err != nil {
		return nil, err
	}

	m.committed(w, res, "create")
	return rec, nil
}

// update applies the changed fields of values to existing. Natural key fields and empty values
// are never written, every changed audited field gets exactly one audit record, and the row
// is only touched when something changed.
func (m *mutator) update(ctx context.Context, w *writer, res *registry.Resource, existing *models.Record, values map[string]any, depth int) (*models.Record, error) {
	if err := m.guard.check(w.actor, res, existing); err != nil {
		return nil, err
	}

	type change struct {
		field    *registry.Field
		old, new string
	}
	changed := make(map[string]any)
	var audits []change

	for _, f := range res.Fields {
		newValue, ok := values[f.Name]
		if !ok || f.ReadOnly || res.IsNaturalKey(f.Name) {
			continue
		}
		newText := registry.Format(newValue)
		if newValue == nil || newText == "" {
			continue
		}
		oldValue := existing.Get(f.Name)
		if registry.Same(oldValue, newValue) {
			continue
		}

		changed[f.Name] = newValue
		if f.NoAudit {
			continue
		}

		oldLabel, newLabel, err := m.auditValues(ctx, w, f, oldValue, newValue)
		if err != nil {
			return nil, err
		}
		audits = append(audits, change{field: f, old: oldLabel, new: newLabel})
	}

	if len(changed) == 0 {
		return existing, nil
	}

	if err := m.records.Update(ctx, w.tx, res, existing.ID, changed, w.actor.Name, w.now); err != nil {
		return nil, err
	}
	for _, c := range audits {
		if err := m.audit(ctx, w, res, existing.ID, c.field.Name, c.old, c.new); err != nil {
			return nil, err
		}
	}

	rec, err := m.records.Get(ctx, w.tx, res, existing.ID)
	if err != nil {
		return nil, err
	}

	if _, ok := changed["status"]; ok && m.cascade != nil {
		if err := m.cascade.apply(ctx, m, w, res, rec, depth); err != nil {
			return nil, err
		}
	}

	m.committed(w, res, "update")
	return rec, nil
}

// auditValues renders old and new values as stored in audit records. References are
// compared by id but audited by label.
func (m *mutator) auditValues(ctx context.Context, w *writer, f *registry.Field, oldValue, newValue any) (string, string, error) {
	if f.Kind != registry.Reference {
		oldText := registry.Format(oldValue)
		if oldText == "" {
			oldText = models.AuditUnset
		}
		return oldText, registry.Format(newValue), nil
	}

	target, err := m.reg.Lookup(f.Target)
	if err != nil {
		return "", "", err
	}
	oldLabel := models.AuditUnset
	if id, ok := oldValue.(int64); ok {
		if oldLabel, err = m.resolver.labelByID(ctx, w.tx, target, id); err != nil {
			return "", "", err
		}
	}
	newLabel, err := m.resolver.labelByID(ctx, w.tx, target, newValue.(int64))
	if err != nil {
		return "", "", err
	}
	return oldLabel, newLabel, nil
}

// audit writes one audit record and publishes it after commit
func (m *mutator) audit(ctx context.Context, w *writer, res *registry.Resource, objectID int64, field, oldValue, newValue string) error {
	entry := &models.AuditRecord{
		ObjectID:  objectID,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
		UpdatedBy: w.actor.Name,
		Created:   w.now,
	}
	if err := m.audits.Create(ctx, w.tx, res, entry); err != nil {
		return err
	}

	txID := w.tx.ID
	w.tx.OnCommit(func() {
		m.metrics.AuditWritten(res.Name)
		m.events.Publish(context.WithoutCancel(ctx), models.AuditEvent{TxID: txID, Resource: res.Name, Record: *entry})
	})
	return nil
}

func (m *mutator) committed(w *writer, res *registry.Resource, operation string) {
	w.tx.OnCommit(func() {
		m.metrics.Mutation(res.Name, operation)
	})
}
