package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tablekit/tablekit/dialect/sql"
)

// Operator is a declarative filter operator key.
type Operator string

// Filter operators of the query language.
const (
	OpEq         Operator = "_eq"
	OpNeq        Operator = "_neq"
	OpGt         Operator = "_gt"
	OpGte        Operator = "_gte"
	OpLt         Operator = "_lt"
	OpLte        Operator = "_lte"
	OpIn         Operator = "_in"
	OpNotIn      Operator = "_nin"
	OpContains   Operator = "_contains"
	OpNContains  Operator = "_ncontains"
	OpStartsWith Operator = "_starts_with"
	OpEndsWith   Operator = "_ends_with"
	OpBetween    Operator = "_between"
	OpNBetween   Operator = "_nbetween"
	OpNull       Operator = "_null"
	OpNotNull    Operator = "_nnull"
)

// Class is the value class an operator compares, used by JSON path
// compilers to infer the extraction column type for filter conditions.
type Class int

// Operator value classes.
const (
	// ClassUntyped is for operators with no type inference.
	ClassUntyped Class = iota
	// ClassText is for equality and string-match operators.
	ClassText
	// ClassNumeric is for comparison and range operators.
	ClassNumeric
)

// Class returns the value class of the operator.
func (o Operator) Class() Class {
	switch o {
	case OpEq, OpNeq, OpContains, OpNContains, OpStartsWith, OpEndsWith, OpIn, OpNotIn:
		return ClassText
	case OpGt, OpGte, OpLt, OpLte, OpBetween, OpNBetween:
		return ClassNumeric
	default:
		return ClassUntyped
	}
}

// Operation is a normalized operator/value pair.
type Operation struct {
	Operator Operator
	Value    any
}

// GetOperation maps a declarative filter key and its raw value to a
// normalized operator/value pair. A key without a leading underscore is
// rejected; use FieldOperations for whole field entries.
func GetOperation(key string, raw any) (Operation, error) {
	op := Operator(key)
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpNContains,
		OpStartsWith, OpEndsWith, OpNull, OpNotNull:
		return Operation{Operator: op, Value: raw}, nil
	case OpIn, OpNotIn:
		return Operation{Operator: op, Value: toList(raw)}, nil
	case OpBetween, OpNBetween:
		vs := toList(raw)
		if len(vs) != 2 {
			return Operation{}, fmt.Errorf("query: %s expects exactly two values, got %d", op, len(vs))
		}
		return Operation{Operator: op, Value: vs}, nil
	default:
		return Operation{}, fmt.Errorf("query: unknown filter operator %q", key)
	}
}

// FieldOperations normalizes one field entry of a filter tree. A map value
// yields one operation per operator key; a bare value is shorthand for _eq.
func FieldOperations(field string, raw any) ([]Operation, error) {
	m, ok := rawMap(raw)
	if !ok {
		return []Operation{{Operator: OpEq, Value: raw}}, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ops := make([]Operation, 0, len(m))
	for _, k := range keys {
		op, err := GetOperation(k, m[k])
		if err != nil {
			return nil, fmt.Errorf("query: field %q: %w", field, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// rawMap normalizes map-shaped filter values.
func rawMap(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return v, true
	case Filter:
		return v, true
	default:
		return nil, false
	}
}

// toList normalizes list-shaped operator values. A comma-separated string
// is split into its elements.
func toList(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case []string:
		vs := make([]any, len(v))
		for i := range v {
			vs[i] = v[i]
		}
		return vs
	case string:
		parts := strings.Split(v, ",")
		vs := make([]any, len(parts))
		for i := range parts {
			vs[i] = strings.TrimSpace(parts[i])
		}
		return vs
	default:
		return []any{raw}
	}
}

// Predicate maps the operation onto the given column expression using the
// standard operator-to-predicate mapping. The same mapping serves ordinary
// relational filters and the post-join predicates recorded by JSON path
// compilers.
func (o Operation) Predicate(column string) (*sql.Predicate, error) {
	switch o.Operator {
	case OpEq:
		if o.Value == nil {
			return sql.IsNull(column), nil
		}
		return sql.EQ(column, o.Value), nil
	case OpNeq:
		if o.Value == nil {
			return sql.NotNull(column), nil
		}
		return sql.NEQ(column, o.Value), nil
	case OpGt:
		return sql.GT(column, o.Value), nil
	case OpGte:
		return sql.GTE(column, o.Value), nil
	case OpLt:
		return sql.LT(column, o.Value), nil
	case OpLte:
		return sql.LTE(column, o.Value), nil
	case OpIn:
		return sql.In(column, o.Value.([]any)...), nil
	case OpNotIn:
		return sql.NotIn(column, o.Value.([]any)...), nil
	case OpContains:
		return sql.Contains(column, fmt.Sprint(o.Value)), nil
	case OpNContains:
		return sql.NotContains(column, fmt.Sprint(o.Value)), nil
	case OpStartsWith:
		return sql.HasPrefix(column, fmt.Sprint(o.Value)), nil
	case OpEndsWith:
		return sql.HasSuffix(column, fmt.Sprint(o.Value)), nil
	case OpBetween:
		vs := o.Value.([]any)
		return sql.Between(column, vs[0], vs[1]), nil
	case OpNBetween:
		vs := o.Value.([]any)
		return sql.NotBetween(column, vs[0], vs[1]), nil
	case OpNull:
		if truthy(o.Value) {
			return sql.IsNull(column), nil
		}
		return sql.NotNull(column), nil
	case OpNotNull:
		if truthy(o.Value) {
			return sql.NotNull(column), nil
		}
		return sql.IsNull(column), nil
	default:
		return nil, fmt.Errorf("query: operator %q has no predicate mapping", o.Operator)
	}
}

// truthy interprets boolean-ish operator values ("true", 1, true).
func truthy(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case int:
		return v != 0
	case float64:
		return v != 0
	default:
		return v != nil
	}
}
