package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/cache"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/repositories"
)

// resolver translates between record ids and labels. Lookups of cacheable resource types go
// through the label cache; cache fills happen only once the reading transaction commits.
type resolver struct {
	reg     *registry.Registry
	records repositories.RecordRepository
	cache   cache.Store
}

func newResolver(reg *registry.Registry, records repositories.RecordRepository, store cache.Store) *resolver {
	if store == nil {
		store = cache.Nop{}
	}
	return &resolver{reg: reg, records: records, cache: store}
}

// label renders the natural key of rec. Reference components render as their own label.
func (r *resolver) label(ctx context.Context, q database.Querier, res *registry.Resource, rec *models.Record) (string, error) {
	parts := make([]string, len(res.NaturalKey))
	for i, k := range res.NaturalKey {
		f, _ := res.Field(k)
		v := rec.Get(k)
		if f.Kind == registry.Reference && v != nil {
			target, err := r.reg.Lookup(f.Target)
			if err != nil {
				return "", err
			}
			l, err := r.labelByID(ctx, q, target, v.(int64))
			if err != nil {
				return "", err
			}
			parts[i] = l
			continue
		}
		parts[i] = registry.Format(v)
	}
	return strings.Join(parts, "="), nil
}

// labelByID returns the label of the record with the given id
func (r *resolver) labelByID(ctx context.Context, q database.Querier, res *registry.Resource, id int64) (string, error) {
	if res.Cacheable {
		if l, ok := r.cache.Label(ctx, res.Name, id); ok {
			return l, nil
		}
	}

	rec, err := r.records.Get(ctx, q, res, id)
	if err != nil {
		return "", err
	}
	l, err := r.label(ctx, q, res, rec)
	if err != nil {
		return "", err
	}
	r.remember(ctx, q, res, id, l)
	return l, nil
}

// byLabel finds the record a label names. Composite labels are split on "=".
func (r *resolver) byLabel(ctx context.Context, q database.Querier, res *registry.Resource, label string) (*models.Record, error) {
	parts := res.SplitLabel(label)
	if len(parts) != len(res.NaturalKey) {
		return nil, apperr.BadRequest("%q is not a valid %s label: expected %s", label, res.Name, res.KeyField())
	}

	key := make(map[string]any, len(parts))
	for i, k := range res.NaturalKey {
		f, _ := res.Field(k)
		if f.Kind == registry.Reference {
			target, err := r.reg.Lookup(f.Target)
			if err != nil {
				return nil, err
			}
			id, err := r.idByLabel(ctx, q, target, parts[i])
			if err != nil {
				return nil, err
			}
			key[k] = id
			continue
		}
		v, err := f.Parse(parts[i])
		if err != nil {
			return nil, apperr.BadRequest("%v", err)
		}
		key[k] = v
	}
	return r.records.FindByKey(ctx, q, res, key)
}

// idByLabel returns the id of the record a label names
func (r *resolver) idByLabel(ctx context.Context, q database.Querier, res *registry.Resource, label string) (int64, error) {
	if res.Cacheable {
		if id, ok := r.cache.ID(ctx, res.Name, label); ok {
			return id, nil
		}
	}

	rec, err := r.byLabel(ctx, q, res, label)
	if err != nil {
		return 0, err
	}
	r.remember(ctx, q, res, rec.ID, label)
	return rec.ID, nil
}

// remember caches a label once the current unit of work has committed
func (r *resolver) remember(ctx context.Context, q database.Querier, res *registry.Resource, id int64, label string) {
	if !res.Cacheable {
		return
	}
	database.AfterCommit(q, func() {
		r.cache.Put(context.WithoutCancel(ctx), res.Name, id, label)
	})
}

// forget drops a cached label once the current unit of work has committed
func (r *resolver) forget(ctx context.Context, q database.Querier, res *registry.Resource, id int64, label string) {
	if !res.Cacheable {
		return
	}
	database.AfterCommit(q, func() {
		r.cache.Invalidate(context.WithoutCancel(ctx), res.Name, id, label)
	})
}

// reference resolves the payload value of a reference field to the id of an existing record.
// Accepted forms are an id, a label, {"id": n} and an object holding the target's natural key.
func (r *resolver) reference(ctx context.Context, q database.Querier, f *registry.Field, raw any) (int64, error) {
	target, err := r.reg.Lookup(f.Target)
	if err != nil {
		return 0, err
	}

	switch v := raw.(type) {
	case string:
		return r.idByLabel(ctx, q, target, v)

	case json.Number, float64, int, int64:
		id, err := toID(v)
		if err != nil {
			return 0, apperr.BadRequest("field %s: %v", f.Name, err)
		}
		if _, err := r.records.Get(ctx, q, target, id); err != nil {
			return 0, err
		}
		return id, nil

	case map[string]any:
		if idRaw, ok := v["id"]; ok {
			return r.reference(ctx, q, f, normalizeID(idRaw))
		}
		key := make(map[string]any, len(target.NaturalKey))
		for _, k := range target.NaturalKey {
			kv, ok := v[k]
			if !ok {
				return 0, apperr.BadRequest("field %s: object needs id or %s", f.Name, target.KeyField())
			}
			kf, _ := target.Field(k)
			var typed any
			if kf.Kind == registry.Reference {
				typed, err = r.reference(ctx, q, kf, kv)
			} else {
				typed, err = kf.Normalize(kv)
				if err != nil {
					err = apperr.BadRequest("%v", err)
				}
			}
			if err != nil {
				return 0, err
			}
			key[k] = typed
		}
		rec, err := r.records.FindByKey(ctx, q, target, key)
		if err != nil {
			return 0, err
		}
		return rec.ID, nil

	default:
		return 0, apperr.BadRequest("field %s cannot reference %s with %T", f.Name, f.Target, raw)
	}
}

// normalizeID keeps numeric ids numeric; a string id inside {"id": ...} is still an id
func normalizeID(v any) any {
	if s, ok := v.(string); ok {
		return json.Number(s)
	}
	return v
}

func toID(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return strconv.ParseInt(n.String(), 10, 64)
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%v is not an id", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("%v is not an id", v)
	}
}
