package services

import (
	"context"
	"strings"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
)

// FieldsAll selects every field and relationship of a resource
const FieldsAll = "all"

// fieldsFor resolves the fields parameter. Empty selects the resource's default fields.
func fieldsFor(res *registry.Resource, raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		if len(res.DefaultFields) > 0 {
			return res.DefaultFields, nil
		}
		return allFields(res), nil
	case FieldsAll:
		return allFields(res), nil
	}

	var fields []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" || name == "id" {
			continue
		}
		_, isField := res.Field(name)
		_, isRel := res.Relationship(name)
		if !isField && !isRel {
			return nil, apperr.BadRequest("%s has no field %q", res.Name, name)
		}
		fields = append(fields, name)
	}
	return fields, nil
}

func allFields(res *registry.Resource) []string {
	fields := make([]string, 0, len(res.Fields)+len(res.Relationships))
	for _, f := range res.Fields {
		if f.Name != "id" {
			fields = append(fields, f.Name)
		}
	}
	for _, rel := range res.Relationships {
		fields = append(fields, rel.Name)
	}
	return fields
}

// render turns records into result objects holding id plus the selected fields. References
// render as {id, label} and relationships as lists of them.
func (q *querier) render(ctx context.Context, res *registry.Resource, records []*models.Record, fields []string) ([]any, error) {
	results := make([]any, 0, len(records))
	for _, rec := range records {
		out := map[string]any{"id": rec.ID}
		for _, name := range fields {
			if f, ok := res.Field(name); ok {
				v, err := q.renderField(ctx, f, rec)
				if err != nil {
					return nil, err
				}
				out[name] = v
				continue
			}
			rel, _ := res.Relationship(name)
			v, err := q.renderRelationship(ctx, rel, rec)
			if err != nil {
				return nil, err
			}
			out[name] = v
		}
		results = append(results, out)
	}
	return results, nil
}

func (q *querier) renderField(ctx context.Context, f *registry.Field, rec *models.Record) (any, error) {
	if f.Kind != registry.Reference {
		return rec.Get(f.Name), nil
	}
	id, ok := rec.RefID(f.Name)
	if !ok {
		return nil, nil
	}
	target, err := q.reg.Lookup(f.Target)
	if err != nil {
		return nil, err
	}
	return q.ref(ctx, target, id)
}

func (q *querier) renderRelationship(ctx context.Context, rel *registry.Relationship, rec *models.Record) (any, error) {
	target, err := q.reg.Lookup(rel.Target)
	if err != nil {
		return nil, err
	}

	if rel.Assignable() {
		ids, err := q.assignments.RemoteIDs(ctx, q.db, rel, rec.ID)
		if err != nil {
			return nil, err
		}
		refs := make([]models.Ref, 0, len(ids))
		for _, id := range ids {
			ref, err := q.ref(ctx, target, id)
			if err != nil {
				return nil, err
			}
			refs = append(refs, *ref)
		}
		return refs, nil
	}

	related, err := q.records.Referencing(ctx, q.db, target, rel.RemoteColumn, rec.ID)
	if err != nil {
		return nil, err
	}
	refs := make([]models.Ref, 0, len(related))
	for _, r := range related {
		label, err := q.resolver.label(ctx, q.db, target, r)
		if err != nil {
			return nil, err
		}
		refs = append(refs, models.Ref{ID: r.ID, Label: label})
	}
	if rel.Kind == registry.Singular {
		if len(refs) == 0 {
			return nil, nil
		}
		return refs[0], nil
	}
	return refs, nil
}

func (q *querier) ref(ctx context.Context, target *registry.Resource, id int64) (*models.Ref, error) {
	label, err := q.resolver.labelByID(ctx, q.db, target, id)
	if err != nil {
		return nil, err
	}
	return &models.Ref{ID: id, Label: label}, nil
}
