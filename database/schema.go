package database

import (
	"fmt"
	"strings"

	"github.com/blogem/cmdb/registry"
)

// SchemaStatements generates the DDL for every resource, audit and assignment table in the
// registry. Resources are created in declaration order so references resolve.
func SchemaStatements(dialect Dialect, reg *registry.Registry) []string {
	var stmts []string
	for _, res := range reg.All() {
		stmts = append(stmts, resourceTable(dialect, res))
		stmts = append(stmts, auditTable(dialect, res)...)
	}

	seen := make(map[string]bool)
	for _, res := range reg.All() {
		for _, rel := range res.Relationships {
			if !rel.Assignable() || seen[rel.JoinTable] {
				continue
			}
			seen[rel.JoinTable] = true
			stmts = append(stmts, assignmentTable(dialect, res, rel)...)
		}
	}
	return stmts
}

func resourceTable(dialect Dialect, res *registry.Resource) string {
	cols := []string{"id " + dialect.primaryKey()}
	for _, f := range res.Fields {
		if f.Name == "id" {
			continue
		}
		cols = append(cols, columnDef(dialect, res, f))
	}

	keyCols := make([]string, len(res.NaturalKey))
	for i, k := range res.NaturalKey {
		f, _ := res.Field(k)
		keyCols[i] = f.Column
	}
	cols = append(cols, fmt.Sprintf("UNIQUE (%s)", strings.Join(keyCols, ", ")))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", res.Table(), strings.Join(cols, ",\n\t"))
}

func columnDef(dialect Dialect, res *registry.Resource, f *registry.Field) string {
	var def string
	switch f.Kind {
	case registry.Int:
		def = dialect.integerType()
	case registry.Bool:
		def = dialect.boolType()
	case registry.Timestamp:
		def = dialect.timestampType()
	case registry.Reference:
		def = fmt.Sprintf("%s REFERENCES %s(id)", dialect.integerType(), f.Target)
	default:
		def = "TEXT"
	}

	switch {
	case res.IsNaturalKey(f.Name), f.Name == "created", f.Name == "updated", f.Name == "updated_by":
		def += " NOT NULL"
	}
	return f.Column + " " + def
}

func auditTable(dialect Dialect, res *registry.Resource) []string {
	table := res.AuditTable()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s,
	object_id %s NOT NULL,
	field TEXT NOT NULL,
	old_value TEXT NOT NULL,
	new_value TEXT NOT NULL,
	updated_by TEXT NOT NULL,
	created %s NOT NULL
)`, table, dialect.primaryKey(), dialect.integerType(), dialect.timestampType()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_object_id ON %s (object_id)", table, table),
	}
}

func assignmentTable(dialect Dialect, res *registry.Resource, rel *registry.Relationship) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s %s NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	%s %s NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	PRIMARY KEY (%s, %s)
)`, rel.JoinTable,
			rel.LocalColumn, dialect.integerType(), res.Table(),
			rel.RemoteColumn, dialect.integerType(), rel.Target,
			rel.LocalColumn, rel.RemoteColumn),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", rel.JoinTable, rel.RemoteColumn, rel.JoinTable, rel.RemoteColumn),
	}
}
