// Package filter compiles flat request parameters into a SQL predicate over a registry
// resource. Keys name declared fields, `left.right` paths walk declared relationships and an
// `ex_` prefix negates the match. Only declared fields are reachable; everything else is
// ignored.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/registry"
)

// Alias is the table alias of the queried resource in compiled SQL
const Alias = "t"

// ExcludePrefix negates a filter key
const ExcludePrefix = "ex_"

// MetaKeys are request parameters that control the query rather than filter it
var MetaKeys = []string{"exact_get", "fields", "start", "perpage"}

// Options control a single compilation
type Options struct {
	// Exact selects equality matching instead of case-insensitive regular expressions
	Exact bool
	// Ignore lists additional parameter names that are not filters
	Ignore []string
}

// Condition is one compiled filter. Conditions on the same collection path and polarity share
// one semi-join and therefore one Condition.
type Condition struct {
	Key     string
	Negated bool
	SQL     string
	Args    []any
}

// Compiled is the composed predicate and the joins it needs
type Compiled struct {
	Joins      []string
	Conditions []Condition
}

// Where returns the AND of all conditions, or the empty string when nothing filters
func (c *Compiled) Where() (string, []any) {
	if len(c.Conditions) == 0 {
		return "", nil
	}
	parts := make([]string, len(c.Conditions))
	var args []any
	for i, cond := range c.Conditions {
		parts[i] = cond.SQL
		args = append(args, cond.Args...)
	}
	return strings.Join(parts, " AND "), args
}

// JoinSQL returns the joins to place after the FROM clause
func (c *Compiled) JoinSQL() string {
	if len(c.Joins) == 0 {
		return ""
	}
	return " " + strings.Join(c.Joins, " ")
}

// Keys returns the filter keys in evaluation order
func (c *Compiled) Keys() []string {
	keys := make([]string, len(c.Conditions))
	for i, cond := range c.Conditions {
		keys[i] = cond.Key
	}
	return keys
}

// Compiler turns request parameters into predicates for resources of one registry
type Compiler struct {
	reg     *registry.Registry
	dialect database.Dialect
	logger  *zap.Logger
}

// NewCompiler creates a new filter compiler
func NewCompiler(reg *registry.Registry, dialect database.Dialect, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{reg: reg, dialect: dialect, logger: logger}
}

// Compile builds the predicate for res from params. Positive filters come before excluded
// ones and each group is ordered by key.
func (c *Compiler) Compile(res *registry.Resource, params map[string]string, opts Options) (*Compiled, error) {
	b := &builder{
		compiler: c,
		exact:    opts.Exact,
		out:      &Compiled{},
		joins:    make(map[string]string),
		groups:   make(map[string]*existsGroup),
	}

	for _, key := range orderedKeys(params, opts.Ignore) {
		if err := b.add(res, key, params[key]); err != nil {
			return nil, err
		}
	}
	for _, g := range b.groupOrder {
		b.out.Conditions[g.index].SQL = g.render()
		b.out.Conditions[g.index].Args = g.args
	}
	return b.out, nil
}

func orderedKeys(params map[string]string, ignore []string) []string {
	skip := make(map[string]bool, len(MetaKeys)+len(ignore))
	for _, k := range MetaKeys {
		skip[k] = true
	}
	for _, k := range ignore {
		skip[k] = true
	}

	var positive, excluded []string
	for k := range params {
		if skip[k] {
			continue
		}
		if strings.HasPrefix(k, ExcludePrefix) {
			excluded = append(excluded, k)
		} else {
			positive = append(positive, k)
		}
	}
	sort.Strings(positive)
	sort.Strings(excluded)
	return append(positive, excluded...)
}

type existsGroup struct {
	index   int
	negated bool
	head    string
	conds   []string
	args    []any
}

func (g *existsGroup) render() string {
	sql := fmt.Sprintf("EXISTS (%s AND %s)", g.head, strings.Join(g.conds, " AND "))
	if g.negated {
		return "NOT " + sql
	}
	return sql
}

type builder struct {
	compiler *Compiler
	exact    bool
	out      *Compiled

	joins      map[string]string
	groups     map[string]*existsGroup
	groupOrder []*existsGroup
	lookups    int
}

func (b *builder) add(res *registry.Resource, key, raw string) error {
	name, negated := strings.CutPrefix(key, ExcludePrefix)

	left, right, dotted := strings.Cut(name, ".")
	if !dotted {
		return b.addField(res, Alias, key, name, raw, negated)
	}

	if f, ok := res.Field(left); ok && f.Kind == registry.Reference {
		target, err := b.compiler.reg.Lookup(f.Target)
		if err != nil {
			return err
		}
		alias := b.join(left, fmt.Sprintf("LEFT JOIN %s AS j_%s ON j_%s.id = %s.%s", target.Table(), left, left, Alias, f.Column))
		return b.addField(target, alias, key, right, raw, negated)
	}

	rel, ok := res.Relationship(left)
	if !ok {
		b.compiler.logger.Debug("ignoring unknown filter path", zap.String("resource", res.Name), zap.String("key", key))
		return nil
	}
	target, err := b.compiler.reg.Lookup(rel.Target)
	if err != nil {
		return err
	}

	if rel.Kind == registry.Singular {
		alias := b.join(left, fmt.Sprintf("LEFT JOIN %s AS j_%s ON j_%s.%s = %s.id", target.Table(), left, left, rel.RemoteColumn, Alias))
		return b.addField(target, alias, key, right, raw, negated)
	}

	alias := "x_" + left
	cond, _, args, ok, err := b.condition(target, alias, right, raw)
	if err != nil {
		return err
	}
	if !ok {
		b.compiler.logger.Debug("ignoring unknown filter field", zap.String("resource", target.Name), zap.String("key", key))
		return nil
	}

	groupKey := left
	if negated {
		groupKey = ExcludePrefix + left
	}
	g, exists := b.groups[groupKey]
	if !exists {
		g = &existsGroup{index: len(b.out.Conditions), negated: negated, head: existsHead(rel, target, alias)}
		b.groups[groupKey] = g
		b.groupOrder = append(b.groupOrder, g)
		b.out.Conditions = append(b.out.Conditions, Condition{Key: key, Negated: negated})
	}
	g.conds = append(g.conds, cond)
	g.args = append(g.args, args...)
	return nil
}

// existsHead opens the correlated subquery selecting the related rows of the outer record
func existsHead(rel *registry.Relationship, target *registry.Resource, alias string) string {
	if rel.JoinTable == "" {
		return fmt.Sprintf("SELECT 1 FROM %s AS %s WHERE %s.%s = %s.id", target.Table(), alias, alias, rel.RemoteColumn, Alias)
	}
	link := alias + "_l"
	return fmt.Sprintf("SELECT 1 FROM %s AS %s JOIN %s AS %s ON %s.id = %s.%s WHERE %s.%s = %s.id",
		rel.JoinTable, link, target.Table(), alias, alias, link, rel.RemoteColumn, link, rel.LocalColumn, Alias)
}

func (b *builder) join(path, sql string) string {
	if alias, ok := b.joins[path]; ok {
		return alias
	}
	alias := "j_" + path
	b.joins[path] = alias
	b.out.Joins = append(b.out.Joins, sql)
	return alias
}

func (b *builder) addField(res *registry.Resource, alias, key, name, raw string, negated bool) error {
	cond, nullable, args, ok, err := b.condition(res, alias, name, raw)
	if err != nil {
		return err
	}
	if !ok {
		b.compiler.logger.Debug("ignoring unknown filter key", zap.String("resource", res.Name), zap.String("key", key))
		return nil
	}
	if negated {
		cond = negate(nullable, cond)
	}
	b.out.Conditions = append(b.out.Conditions, Condition{Key: key, Negated: negated, SQL: cond, Args: args})
	return nil
}

// condition compiles one field match on the table behind alias. It also returns the column
// expression that is NULL when the field is unset.
func (b *builder) condition(res *registry.Resource, alias, name, raw string) (string, string, []any, bool, error) {
	f, ok := res.Field(name)
	if !ok {
		// <reference>_id filters on the raw foreign key
		base, isID := strings.CutSuffix(name, "_id")
		ref, found := res.Field(base)
		if !isID || !found || ref.Kind != registry.Reference {
			return "", "", nil, false, nil
		}
		f = &registry.Field{Name: name, Column: ref.Column, Kind: registry.Int}
	}

	column := alias + "." + f.Column

	if f.Kind != registry.Reference {
		p, err := parsePredicate(f, raw, b.exact)
		if err != nil {
			return "", "", nil, false, err
		}
		sql, args := p.sql(b.compiler.dialect, column)
		return sql, column, args, true, nil
	}

	// references compare against the label of the referenced record
	target, err := b.compiler.reg.Lookup(f.Target)
	if err != nil {
		return "", "", nil, false, err
	}
	b.lookups++
	lookup := fmt.Sprintf("l%d", b.lookups)

	labelField := &registry.Field{Name: f.Name, Kind: registry.String}
	if len(target.NaturalKey) == 1 {
		if kf, ok := target.Field(target.NaturalKey[0]); ok && kf.Kind == registry.UniqueID {
			labelField.Kind = registry.UniqueID
		}
	}
	p, err := parsePredicate(labelField, raw, b.exact)
	if err != nil {
		return "", "", nil, false, err
	}
	match, args := p.sql(b.compiler.dialect, LabelExpr(target, lookup))
	sql := fmt.Sprintf("%s IN (SELECT %s.id FROM %s AS %s WHERE %s)", column, lookup, target.Table(), lookup, match)
	return sql, column, args, true, nil
}

// LabelExpr renders the label of res as a SQL expression over alias. Composite keys are joined
// with "=".
func LabelExpr(res *registry.Resource, alias string) string {
	if len(res.NaturalKey) == 1 {
		f, _ := res.Field(res.NaturalKey[0])
		return alias + "." + f.Column
	}
	parts := make([]string, len(res.NaturalKey))
	for i, k := range res.NaturalKey {
		f, _ := res.Field(k)
		parts[i] = fmt.Sprintf("CAST(%s.%s AS TEXT)", alias, f.Column)
	}
	return strings.Join(parts, " || '=' || ")
}
