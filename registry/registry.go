// Package registry maps resource type names to their schemas: reachable fields, natural keys,
// relationship metadata and audit tables. A Registry is built once at startup and passed to
// the filter compiler and the services; nothing resolves resource types through global state.
package registry

import (
	"fmt"
	"strings"

	"github.com/blogem/cmdb/apperr"
)

const auditSuffix = "_audit"

// Registry holds every resource type known to the store
type Registry struct {
	order     []*Resource
	resources map[string]*Resource
	audits    map[string]*Resource
}

// New validates and indexes the given resource types. Reference targets must be declared
// before the resources pointing at them so the schema can be created in order.
func New(resources ...*Resource) (*Registry, error) {
	reg := &Registry{
		resources: make(map[string]*Resource, len(resources)),
		audits:    make(map[string]*Resource, len(resources)),
	}

	for _, res := range resources {
		if res.Name == "" {
			return nil, fmt.Errorf("resource without a name")
		}
		if _, dup := reg.resources[res.Name]; dup {
			return nil, fmt.Errorf("resource %s declared twice", res.Name)
		}
		res.Fields = append(systemFields(), res.Fields...)
		res.index()

		if len(res.NaturalKey) == 0 {
			return nil, fmt.Errorf("resource %s has no natural key", res.Name)
		}
		for _, k := range res.NaturalKey {
			if _, ok := res.Field(k); !ok {
				return nil, fmt.Errorf("resource %s: natural key field %s is not declared", res.Name, k)
			}
		}
		for _, f := range res.Fields {
			if f.Kind != Reference {
				continue
			}
			if _, ok := reg.resources[f.Target]; !ok && f.Target != res.Name {
				return nil, fmt.Errorf("resource %s: field %s references undeclared %s", res.Name, f.Name, f.Target)
			}
		}
		for _, name := range res.DefaultFields {
			if _, ok := res.Field(name); !ok {
				return nil, fmt.Errorf("resource %s: default field %s is not declared", res.Name, name)
			}
		}

		reg.resources[res.Name] = res
		reg.order = append(reg.order, res)
		reg.audits[res.Name] = auditSchema(res)
	}

	// relationships may point forward, so they are checked once everything is declared
	for _, res := range reg.order {
		for _, rel := range res.Relationships {
			if _, ok := reg.resources[rel.Target]; !ok {
				return nil, fmt.Errorf("resource %s: relationship %s targets undeclared %s", res.Name, rel.Name, rel.Target)
			}
			if rel.RemoteColumn == "" {
				return nil, fmt.Errorf("resource %s: relationship %s has no remote column", res.Name, rel.Name)
			}
			if rel.JoinTable != "" && rel.LocalColumn == "" {
				return nil, fmt.Errorf("resource %s: relationship %s has no local column", res.Name, rel.Name)
			}
		}
	}

	return reg, nil
}

// MustNew is New for statically declared registries
func MustNew(resources ...*Resource) *Registry {
	reg, err := New(resources...)
	if err != nil {
		panic(err)
	}
	return reg
}

// Lookup returns the schema for a resource type name. "<type>_audit" names resolve to the
// synthesized audit schema of that type.
func (r *Registry) Lookup(name string) (*Resource, error) {
	if res, ok := r.resources[name]; ok {
		return res, nil
	}
	if base, ok := strings.CutSuffix(name, auditSuffix); ok {
		if audit, ok := r.audits[base]; ok {
			return audit, nil
		}
	}
	return nil, apperr.NotImplemented("unsupported resource type %q", name)
}

// AuditOf returns the audit schema of a resource type
func (r *Registry) AuditOf(res *Resource) *Resource {
	return r.audits[res.Name]
}

// All returns every resource type in declaration order
func (r *Registry) All() []*Resource {
	out := make([]*Resource, len(r.order))
	copy(out, r.order)
	return out
}

func systemFields() []*Field {
	return []*Field{
		{Name: "id", Kind: Int, ReadOnly: true},
		{Name: "created", Kind: Timestamp, ReadOnly: true},
		{Name: "updated", Kind: Timestamp, ReadOnly: true},
		{Name: "updated_by", Kind: String, ReadOnly: true},
	}
}

func auditSchema(res *Resource) *Resource {
	audit := &Resource{
		Name:       res.AuditTable(),
		NaturalKey: []string{"id"},
		Audit:      true,
		Fields: []*Field{
			{Name: "id", Kind: Int, ReadOnly: true},
			{Name: "object_id", Kind: Int, ReadOnly: true},
			{Name: "field", Kind: String, ReadOnly: true},
			{Name: "old_value", Kind: String, ReadOnly: true},
			{Name: "new_value", Kind: String, ReadOnly: true},
			{Name: "updated_by", Kind: String, ReadOnly: true},
			{Name: "created", Kind: Timestamp, ReadOnly: true},
		},
		DefaultFields: []string{"object_id", "field", "old_value", "new_value", "updated_by", "created"},
	}
	audit.index()
	return audit
}
