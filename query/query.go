// Package query defines the declarative read specification of the engine:
// field selection, a filter tree, sorting, pagination, and JSON path nodes
// targeting JSON-typed columns. It also implements the filter-operator
// language (_eq, _gt, _in, ...) and its translation into SQL predicates.
package query

import (
	"fmt"
	"sort"

	"github.com/tablekit/tablekit/dialect/sql"
)

// Query is a declarative read specification against one collection.
type Query struct {
	// Fields is the selection set. Empty means all columns.
	Fields []string
	// Filter restricts the returned rows.
	Filter Filter
	// Sort orders the result set.
	Sort []Sort
	// Limit caps the number of returned rows. Zero or negative means no cap.
	Limit int
	// Offset skips the first rows of the result set.
	Offset int
	// JSONFields are path selections into JSON-typed columns, compiled by
	// the dialect's JSON path compiler.
	JSONFields []JSONFieldNode
}

// Clone returns a copy of the query that can be mutated without affecting
// the caller's value.
func (q *Query) Clone() *Query {
	if q == nil {
		return &Query{}
	}
	c := *q
	c.Fields = append([]string(nil), q.Fields...)
	c.Sort = append([]Sort(nil), q.Sort...)
	c.JSONFields = append([]JSONFieldNode(nil), q.JSONFields...)
	return &c
}

// Sort is one ordering rule.
type Sort struct {
	Field string
	Desc  bool
}

// JSONFieldNode identifies a JSON column, the logical path into it, an
// output alias, and an optional nested query restricting which matched
// elements are returned. Paths support `[*]` array wildcards and `.*`
// object wildcards.
type JSONFieldNode struct {
	// Name is the JSON column name.
	Name string
	// FieldKey is the output alias the value is returned under.
	FieldKey string
	// JSONPath is the logical path into the column, e.g. "$.a[*].b".
	JSONPath string
	// Query optionally filters the matched elements.
	Query *Query
}

// Filtered reports whether the node carries a nested filter.
func (n JSONFieldNode) Filtered() bool {
	return n.Query != nil && len(n.Query.Filter) > 0
}

// Filter is a declarative filter tree. Keys are either logical group
// markers ("_and", "_or") whose values are []Filter, or field names whose
// values are operator maps such as {"_gt": 1}. A bare scalar value is
// shorthand for {"_eq": value}.
type Filter map[string]any

// Logical group keys.
const (
	andKey = "_and"
	orKey  = "_or"
)

// Predicate compiles the filter tree into a SQL predicate. The qualify
// function maps a field name to the column expression to compare against;
// it lets callers qualify fields with a table alias or redirect them to
// generated JSON extraction aliases.
func (f Filter) Predicate(qualify func(field string) string) (*sql.Predicate, error) {
	if len(f) == 0 {
		return nil, nil
	}
	var preds []*sql.Predicate
	for _, field := range sortedKeys(f) {
		value := f[field]
		switch field {
		case andKey, orKey:
			group, err := subFilters(value)
			if err != nil {
				return nil, err
			}
			var sub []*sql.Predicate
			for _, g := range group {
				p, err := g.Predicate(qualify)
				if err != nil {
					return nil, err
				}
				if p != nil {
					sub = append(sub, p)
				}
			}
			if len(sub) == 0 {
				continue
			}
			if field == andKey {
				preds = append(preds, sql.And(sub...))
			} else {
				preds = append(preds, sql.Or(sub...))
			}
		default:
			ops, err := FieldOperations(field, value)
			if err != nil {
				return nil, err
			}
			for _, op := range ops {
				p, err := op.Predicate(qualify(field))
				if err != nil {
					return nil, err
				}
				preds = append(preds, p)
			}
		}
	}
	switch len(preds) {
	case 0:
		return nil, nil
	case 1:
		return preds[0], nil
	default:
		return sql.And(preds...), nil
	}
}

// subFilters normalizes the value of a logical group key.
func subFilters(v any) ([]Filter, error) {
	switch v := v.(type) {
	case []Filter:
		return v, nil
	case []any:
		fs := make([]Filter, 0, len(v))
		for _, e := range v {
			switch e := e.(type) {
			case Filter:
				fs = append(fs, e)
			case map[string]any:
				fs = append(fs, Filter(e))
			default:
				return nil, fmt.Errorf("query: logical group element must be a filter, got %T", e)
			}
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("query: logical group must be a list of filters, got %T", v)
	}
}

// sortedKeys returns the filter keys in a stable order, so compiled
// statements are deterministic.
func sortedKeys(f Filter) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
