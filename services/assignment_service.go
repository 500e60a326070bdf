package services

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/repositories"
	"github.com/blogem/cmdb/tracing"
)

// AssignmentService defines assigning and deassigning related records in bulk
type AssignmentService interface {
	Apply(ctx context.Context, resource string, id int64, relationship string, form *models.AssignmentForm) ([]models.ItemResult, error)
}

// assigner implements AssignmentService
type assigner struct {
	m           *mutator
	assignments repositories.AssignmentRepository
	maxItems    int
}

func newAssigner(m *mutator, assignments repositories.AssignmentRepository, maxItems int) *assigner {
	return &assigner{m: m, assignments: assignments, maxItems: maxItems}
}

// Apply links or unlinks every id in the form to the record. Items are processed in order,
// each in its own savepoint: a failing item is rolled back and reported while the others
// commit. A request for a single id fails with that item's error.
func (a *assigner) Apply(ctx context.Context, resource string, id int64, relationship string, form *models.AssignmentForm) ([]models.ItemResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "services.Assign")
	span.SetAttributes(attribute.String("resource", resource), attribute.String("relationship", relationship))
	defer span.End()

	res, err := a.m.writable(resource)
	if err != nil {
		return nil, err
	}
	rel, ok := res.Relationship(relationship)
	if !ok || !rel.Assignable() {
		return nil, apperr.NotImplemented("%s does not support assigning %s", res.Name, relationship)
	}
	if errors := form.Validate(a.maxItems); len(errors) > 0 {
		return nil, apperr.BadRequest("%s", strings.Join(errors, ", "))
	}
	target, err := a.m.reg.Lookup(rel.Target)
	if err != nil {
		return nil, err
	}
	assign := form.Action == models.ActionAssign

	var results []models.ItemResult
	err = a.m.begin(ctx, func(w *writer) error {
		owner, err := a.m.records.Get(ctx, w.tx, res, id)
		if err != nil {
			return err
		}

		for _, targetID := range form.IDs {
			err := w.tx.Savepoint(ctx, func() error {
				other, err := a.m.records.Get(ctx, w.tx, target, targetID)
				if err != nil {
					return err
				}
				if assign {
					return a.link(ctx, w, res, rel, target, owner, other)
				}
				return a.unlink(ctx, w, res, rel, target, owner, other)
			})

			ok := err == nil
			w.tx.OnCommit(func() { a.m.metrics.BulkItem(rel.Name, ok) })

			if err != nil {
				if len(form.IDs) == 1 {
					return err
				}
				a.m.logger.Warn("bulk item failed",
					zap.String("resource", res.Name), zap.Int64("id", id),
					zap.String("relationship", rel.Name), zap.String("action", form.Action),
					zap.Int64("target_id", targetID), zap.Error(err))
				results = append(results, models.ItemResult{
					ID:      targetID,
					Code:    apperr.KindOf(err).HTTPStatus(),
					Message: apperr.Message(err),
				})
				continue
			}
			results = append(results, models.ItemResult{ID: targetID, Code: http.StatusOK, Message: "OK"})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// link assigns other to owner through rel. An existing link is left alone. Tag exclusivity is
// enforced first: a tag with the same name already on the target is deassigned.
func (a *assigner) link(ctx context.Context, w *writer, res *registry.Resource, rel *registry.Relationship, target *registry.Resource, owner, other *models.Record) error {
	if err := a.guard(w, res, owner, target, other); err != nil {
		return err
	}

	exists, err := a.assignments.Exists(ctx, w.tx, rel, owner.ID, other.ID)
	if err != nil || exists {
		return err
	}

	if rel.ExclusiveField != "" {
		if err := a.exclusive(ctx, w, res, rel, target, owner, other); err != nil {
			return err
		}
	}

	if err := a.assignments.Insert(ctx, w.tx, rel, owner.ID, other.ID); err != nil {
		return err
	}
	return a.auditLink(ctx, w, res, rel, target, owner, other, models.AuditAssigned)
}

// unlink deassigns other from owner. Removing a link that does not exist is a no-op.
func (a *assigner) unlink(ctx context.Context, w *writer, res *registry.Resource, rel *registry.Relationship, target *registry.Resource, owner, other *models.Record) error {
	if err := a.guard(w, res, owner, target, other); err != nil {
		return err
	}

	removed, err := a.assignments.Delete(ctx, w.tx, rel, owner.ID, other.ID)
	if err != nil || !removed {
		return err
	}
	return a.auditLink(ctx, w, res, rel, target, owner, other, models.AuditDeassigned)
}

// detach removes every link of owner ahead of its deletion, auditing each as a deassignment.
// Protected tags are not checked again: the delete itself was already authorized.
func (a *assigner) detach(ctx context.Context, w *writer, res *registry.Resource, owner *models.Record) error {
	for _, rel := range res.Relationships {
		if !rel.Assignable() {
			continue
		}
		target, err := a.m.reg.Lookup(rel.Target)
		if err != nil {
			return err
		}
		ids, err := a.assignments.RemoteIDs(ctx, w.tx, rel, owner.ID)
		if err != nil {
			return err
		}
		for _, otherID := range ids {
			other, err := a.m.records.Get(ctx, w.tx, target, otherID)
			if err != nil {
				return err
			}
			removed, err := a.assignments.Delete(ctx, w.tx, rel, owner.ID, other.ID)
			if err != nil {
				return err
			}
			if !removed {
				continue
			}
			if err := a.auditLink(ctx, w, res, rel, target, owner, other, models.AuditDeassigned); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *assigner) guard(w *writer, res *registry.Resource, owner *models.Record, target *registry.Resource, other *models.Record) error {
	if err := a.m.guard.check(w.actor, res, owner); err != nil {
		return err
	}
	return a.m.guard.check(w.actor, target, other)
}

// exclusive deassigns tags sharing the exclusive field with the tag being assigned
func (a *assigner) exclusive(ctx context.Context, w *writer, res *registry.Resource, rel *registry.Relationship, target *registry.Resource, owner, other *models.Record) error {
	tag, tagged, tagRes, taggedRes, taggedRel := other, owner, target, res, rel
	if rel.ExclusiveOnLocal {
		tag, tagged, tagRes, taggedRes = owner, other, res, target
		taggedRel = inverse(rel, target)
		if taggedRel == nil {
			return apperr.Internal(nil, "relationship %s of %s has no inverse on %s", rel.Name, res.Name, target.Name)
		}
	}

	ids, err := a.assignments.RemoteIDs(ctx, w.tx, taggedRel, tagged.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == tag.ID {
			continue
		}
		current, err := a.m.records.Get(ctx, w.tx, tagRes, id)
		if err != nil {
			return err
		}
		if registry.Format(current.Get(rel.ExclusiveField)) != registry.Format(tag.Get(rel.ExclusiveField)) {
			continue
		}
		if err := a.unlink(ctx, w, taggedRes, taggedRel, tagRes, tagged, current); err != nil {
			return err
		}
	}
	return nil
}

// auditLink writes the assignment audit records on the sides the relationship names. Each
// record holds the action as old value and the other side's label as new value.
func (a *assigner) auditLink(ctx context.Context, w *writer, res *registry.Resource, rel *registry.Relationship, target *registry.Resource, owner, other *models.Record, action string) error {
	if rel.AuditsLocal() {
		label, err := a.m.resolver.label(ctx, w.tx, target, other)
		if err != nil {
			return err
		}
		if err := a.m.audit(ctx, w, res, owner.ID, rel.AuditField, action, label); err != nil {
			return err
		}
	}
	if rel.AuditsRemote() {
		label, err := a.m.resolver.label(ctx, w.tx, res, owner)
		if err != nil {
			return err
		}
		if err := a.m.audit(ctx, w, target, other.ID, rel.RemoteAuditField, action, label); err != nil {
			return err
		}
	}
	return nil
}

// inverse returns the relationship on target that reads the same link rows as rel
func inverse(rel *registry.Relationship, target *registry.Resource) *registry.Relationship {
	for _, r := range target.Relationships {
		if r.JoinTable == rel.JoinTable && r.LocalColumn == rel.RemoteColumn && r.RemoteColumn == rel.LocalColumn {
			return r
		}
	}
	return nil
}
