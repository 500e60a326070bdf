package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/registry"
)

// Operator is the comparison a single filter compiles to
type Operator int

const (
	OpEqual Operator = iota
	OpIn
	OpRegexp
	OpBetween
	OpLessThan
	OpGreaterThan
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpIn:
		return "IN"
	case OpRegexp:
		return "REGEXP"
	case OpBetween:
		return "BETWEEN"
	case OpLessThan:
		return "<"
	case OpGreaterThan:
		return ">"
	default:
		return "UNKNOWN"
	}
}

// predicate is one field comparison before it is rendered to SQL
type predicate struct {
	Operator Operator
	Values   []any
}

// parsePredicate turns a raw parameter value into a typed predicate for the field
func parsePredicate(f *registry.Field, raw string, exact bool) (*predicate, error) {
	if f.Kind == registry.Timestamp {
		return parseTimestampPredicate(f, raw)
	}

	candidates := strings.Split(raw, ",")

	// numbers and booleans always compare by equality so "id=1" does not find 11
	fuzzy := !exact && (f.Kind == registry.String || f.Kind == registry.UniqueID)

	if fuzzy {
		// regex matching is case-insensitive in every dialect; patterns are passed through untouched
		pattern := strings.Join(candidates, "|")
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, apperr.BadRequest("invalid pattern for %s: %v", f.Name, err)
		}
		return &predicate{Operator: OpRegexp, Values: []any{pattern}}, nil
	}

	values := make([]any, 0, len(candidates))
	for _, c := range candidates {
		v, err := f.Parse(c)
		if err != nil {
			return nil, apperr.BadRequest("%v", err)
		}
		values = append(values, v)
	}
	if len(values) == 1 {
		return &predicate{Operator: OpEqual, Values: values}, nil
	}
	return &predicate{Operator: OpIn, Values: values}, nil
}

func parseTimestampPredicate(f *registry.Field, raw string) (*predicate, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case strings.Contains(raw, ","):
		bounds := strings.Split(raw, ",")
		if len(bounds) != 2 {
			return nil, apperr.BadRequest("date range for %s must be two values separated by a comma", f.Name)
		}
		from, err := registry.ParseTimestamp(bounds[0])
		if err != nil {
			return nil, apperr.BadRequest("%s: %v", f.Name, err)
		}
		to, err := registry.ParseTimestamp(bounds[1])
		if err != nil {
			return nil, apperr.BadRequest("%s: %v", f.Name, err)
		}
		return &predicate{Operator: OpBetween, Values: []any{from, to}}, nil

	case strings.HasPrefix(raw, "<"), strings.HasPrefix(raw, ">"):
		op := OpLessThan
		if raw[0] == '>' {
			op = OpGreaterThan
		}
		t, err := registry.ParseTimestamp(raw[1:])
		if err != nil {
			return nil, apperr.BadRequest("%s: %v", f.Name, err)
		}
		return &predicate{Operator: op, Values: []any{t}}, nil

	default:
		return nil, apperr.BadRequest("invalid date operator for %s: use a range \"a,b\" or a bound \"<a\" or \">a\"", f.Name)
	}
}

// sql renders the predicate against a column expression
func (p *predicate) sql(dialect database.Dialect, expr string) (string, []any) {
	switch p.Operator {
	case OpIn:
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(p.Values)), ", ")
		return fmt.Sprintf("%s IN (%s)", expr, marks), p.Values
	case OpRegexp:
		return dialect.Regexp(expr), p.Values
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN ? AND ?", expr), p.Values
	case OpLessThan, OpGreaterThan:
		return fmt.Sprintf("%s %s ?", expr, p.Operator), p.Values
	default:
		return fmt.Sprintf("%s = ?", expr), p.Values
	}
}

// negate also keeps rows where the column is unset
func negate(expr, cond string) string {
	return fmt.Sprintf("(%s IS NULL OR NOT (%s))", expr, cond)
}
