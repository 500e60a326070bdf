package registry

import "strings"

// RelationshipKind says how many related records a path can reach
type RelationshipKind int

const (
	Collection RelationshipKind = iota
	Singular
)

// AuditSide says which side of an assignment gets the audit record
type AuditSide int

const (
	AuditLocal AuditSide = iota
	AuditRemote
	AuditBoth
)

// Relationship is declarative metadata for a traversable link to another resource type.
//
// Collections stored in a join table are assignable. Collections without a join table are
// owned by the target through a reference column (RemoteColumn on the target table) and can
// only be filtered on. Singular relationships declared here are reverse references: the target
// table holds RemoteColumn pointing back at the local id. Forward singular links come from
// Reference fields and are not declared here.
type Relationship struct {
	Name   string
	Target string
	Kind   RelationshipKind

	JoinTable    string
	LocalColumn  string
	RemoteColumn string

	// AuditField is written on the local resource's audit, RemoteAuditField on the target's
	AuditField       string
	RemoteAuditField string
	Audit            AuditSide

	// ExclusiveField names the tag attribute that must be unique per target; ExclusiveOnLocal
	// is set when the local resource is the tag side
	ExclusiveField   string
	ExclusiveOnLocal bool
}

// Assignable reports whether links can be created and removed through the relationship
func (r *Relationship) Assignable() bool {
	return r.Kind == Collection && r.JoinTable != ""
}

// AuditsLocal reports whether the local side receives an audit record
func (r *Relationship) AuditsLocal() bool {
	return r.Audit == AuditLocal || r.Audit == AuditBoth
}

// AuditsRemote reports whether the remote side receives an audit record
func (r *Relationship) AuditsRemote() bool {
	return r.Audit == AuditRemote || r.Audit == AuditBoth
}

// Resource is the schema of one resource type
type Resource struct {
	Name          string
	NaturalKey    []string
	Fields        []*Field
	Relationships []*Relationship
	DefaultFields []string
	// Cacheable resources have their label/id pairs cached between requests
	Cacheable bool
	// Audit is set on the synthesized schema of an audit table
	Audit bool

	fields map[string]*Field
	rels   map[string]*Relationship
}

func (r *Resource) index() {
	r.fields = make(map[string]*Field, len(r.Fields))
	for _, f := range r.Fields {
		if f.Column == "" {
			f.Column = f.Name
		}
		r.fields[f.Name] = f
	}
	r.rels = make(map[string]*Relationship, len(r.Relationships))
	for _, rel := range r.Relationships {
		r.rels[rel.Name] = rel
	}
}

// Table is the name of the table holding the resource
func (r *Resource) Table() string {
	return r.Name
}

// AuditTable is the name of the append-only audit table for the resource
func (r *Resource) AuditTable() string {
	return r.Name + "_audit"
}

// Field returns the declared field with the given name
func (r *Resource) Field(name string) (*Field, bool) {
	f, ok := r.fields[name]
	return f, ok
}

// Relationship returns the declared relationship with the given name
func (r *Resource) Relationship(name string) (*Relationship, bool) {
	rel, ok := r.rels[name]
	return rel, ok
}

// IsNaturalKey reports whether the field is part of the natural key
func (r *Resource) IsNaturalKey(name string) bool {
	for _, k := range r.NaturalKey {
		if k == name {
			return true
		}
	}
	return false
}

// KeyField is the audit field name used for create and delete records
func (r *Resource) KeyField() string {
	return strings.Join(r.NaturalKey, "+")
}

// Label joins natural key values into the human-readable identity of a record
func (r *Resource) Label(values map[string]any) string {
	parts := make([]string, len(r.NaturalKey))
	for i, k := range r.NaturalKey {
		parts[i] = Format(values[k])
	}
	return strings.Join(parts, "=")
}

// SplitLabel splits a label back into natural key components
func (r *Resource) SplitLabel(label string) []string {
	if len(r.NaturalKey) == 1 {
		return []string{label}
	}
	return strings.SplitN(label, "=", len(r.NaturalKey))
}

// Columns returns the stored fields in declaration order
func (r *Resource) Columns() []*Field {
	return r.Fields
}
