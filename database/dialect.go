package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported stores
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DialectFor maps a database/sql driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", SQLiteDriver:
		return SQLite, nil
	case "pgx", "postgres":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Rebind rewrites '?' placeholders into the dialect's form. Queries built by this module never
// carry literal question marks, so no quoting rules apply.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Regexp returns a case-insensitive regular expression match of expr against one placeholder
func (d Dialect) Regexp(expr string) string {
	if d == Postgres {
		return fmt.Sprintf("CAST(%s AS TEXT) ~* ?", expr)
	}
	return fmt.Sprintf("%s REGEXP ?", expr)
}

// LimitOffset renders pagination. A zero limit means unlimited.
func (d Dialect) LimitOffset(limit, offset int) (string, []any) {
	switch {
	case limit > 0 && offset > 0:
		return " LIMIT ? OFFSET ?", []any{limit, offset}
	case limit > 0:
		return " LIMIT ?", []any{limit}
	case offset > 0:
		if d == Postgres {
			return " OFFSET ?", []any{offset}
		}
		return " LIMIT -1 OFFSET ?", []any{offset}
	default:
		return "", nil
	}
}

func (d Dialect) primaryKey() string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (d Dialect) integerType() string {
	if d == Postgres {
		return "BIGINT"
	}
	return "INTEGER"
}

func (d Dialect) timestampType() string {
	if d == Postgres {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

func (d Dialect) boolType() string {
	return "BOOLEAN"
}
