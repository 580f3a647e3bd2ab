package sqljson

import (
	"strings"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/query"
)

// oracle compiles JSON field nodes with the JSON_TABLE / JSON_VALUE /
// JSON_QUERY family. Join-required nodes become a common-table-expression
// over a nested table expression, grouped by the primary key and aggregated
// with JSON_ARRAYAGG, joined back to the main statement.
type oracle struct {
	gen   *aliasGenerator
	bound int // args bound by CTE bodies emitted so far
}

// PreProcess implements the Compiler interface.
func (o *oracle) PreProcess(s *sql.Selector, table, pk string, nodes []query.JSONFieldNode) error {
	for _, n := range nodes {
		if err := checkPath(n.JSONPath); err != nil {
			return err
		}
		if !NeedsJoin(n) {
			// Structured extraction first, scalar as fallback: JSON_QUERY
			// yields no result for scalar targets and JSON_VALUE none for
			// objects and arrays.
			col := qualify(table, n.Name)
			expr := "COALESCE(JSON_QUERY(" + col + ", '" + n.JSONPath + "'), " +
				"JSON_VALUE(" + col + ", '" + n.JSONPath + "'))"
			s.AppendSelectAs(expr, quote(n.FieldKey))
			continue
		}
		if err := o.joinNode(s, table, pk, n); err != nil {
			return err
		}
	}
	return nil
}

// joinNode satisfies a wildcard or filtered node with a derived table:
// JSON_TABLE expands one row per matching path occurrence, the CTE filters
// and aggregates the matches per primary key, and the main statement joins
// the aggregate back on the key.
func (o *oracle) joinNode(s *sql.Selector, table, pk string, n query.JSONFieldNode) error {
	segments, err := SplitPath(n.JSONPath)
	if err != nil {
		return err
	}
	switch {
	case wildcardSuffix(segments[len(segments)-1]):
		// A trailing wildcard expands rows; the matched element itself is
		// the value, extracted at the element root.
		segments = append(segments, "$")
	case len(segments) == 1:
		// A filtered scalar path: expand from the root so the filter
		// columns land next to the extraction.
		segments = []string{"$", segments[0]}
	}
	var (
		cteName  = o.gen.next("jq")
		jtAlias  = o.gen.next("jt")
		valAlias = o.gen.next("jv")
	)
	conds, err := filterConditions(n)
	if err != nil {
		return err
	}
	for i := range conds {
		conds[i].alias = o.gen.next("jf")
	}

	// Innermost column list: the matched value extracted twice, in its
	// JSON form and as raw text, plus one typed column per filter
	// condition.
	last := segments[len(segments)-1]
	var cols strings.Builder
	cols.WriteString(quote(valAlias+"_json") + " VARCHAR2(4000) FORMAT JSON PATH '" + last + "'")
	cols.WriteString(", " + quote(valAlias+"_txt") + " VARCHAR2(4000) PATH '" + last + "'")
	for _, c := range conds {
		cols.WriteString(", " + quote(c.alias))
		switch c.op.Operator.Class() {
		case query.ClassText:
			cols.WriteString(" VARCHAR2(4000)")
		case query.ClassNumeric:
			cols.WriteString(" NUMBER")
		}
		cols.WriteString(" PATH '" + fieldPath(c.field) + "'")
	}
	columns := cols.String()

	// Intermediate segments each contribute one level of nesting.
	for i := len(segments) - 2; i >= 1; i-- {
		columns = "NESTED PATH '" + segments[i] + "' COLUMNS (" + columns + ")"
	}
	jt := "JSON_TABLE(" + qualify(table, n.Name) + ", '" + segments[0] +
		"' COLUMNS (" + columns + ")) " + quote(jtAlias)

	// CTE: one aggregated JSON array of matches per primary key. The JSON
	// form of the aggregate wins unless empty, then the raw-text form
	// covers values that do not serialize under FORMAT JSON.
	b := sql.NewBuilder(dialect.Oracle).SetTotal(o.bound)
	b.WriteString("SELECT " + qualify(table, pk) + " AS " + quote("pk") + ", ")
	b.WriteString("COALESCE(NULLIF(JSON_ARRAYAGG(" + qualify(jtAlias, valAlias+"_json") + " FORMAT JSON), '[]'), ")
	b.WriteString("JSON_ARRAYAGG(" + qualify(jtAlias, valAlias+"_txt") + ")) AS " + quote("val"))
	b.WriteString(" FROM " + quote(table) + ", " + jt)
	for i, c := range conds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		p, err := c.op.Predicate(jtAlias + "." + c.alias)
		if err != nil {
			return err
		}
		p.Render(b)
	}
	b.WriteString(" GROUP BY " + qualify(table, pk))

	body, args := b.String(), b.BoundArgs()
	o.bound += len(args)
	s.WithRaw(cteName, body, args...)
	s.LeftJoin(sql.Table(cteName)).On(table+"."+pk, cteName+".pk")
	sel := qualify(cteName, "val")
	if n.Filtered() {
		// Filtered nodes distinguish "no matches" from "field absent".
		sel = "COALESCE(" + sel + ", '[]')"
	}
	s.AppendSelectAs(sel, quote(n.FieldKey))
	return nil
}

// PostProcess implements the Compiler interface.
func (o *oracle) PostProcess(items []tablekit.Item, nodes []query.JSONFieldNode) error {
	postProcess(items, nodes)
	return nil
}

// FilterQuery implements the Compiler interface.
func (o *oracle) FilterQuery(column, path string) string {
	return "JSON_VALUE(" + qualifyDotted(column) + ", '" + path + "')"
}

// checkPath rejects paths that cannot be embedded in a statement.
func checkPath(path string) error {
	if strings.ContainsAny(path, "'\"") {
		return &PathError{Path: path, Reason: "quotes are not allowed in paths"}
	}
	if !strings.HasPrefix(path, "$") {
		return &PathError{Path: path, Reason: "must begin with the root marker $"}
	}
	return nil
}

// fieldPath turns a filter field relative to the matched element into a
// JSON path.
func fieldPath(field string) string {
	return "$." + field
}

// quote double-quotes one identifier.
func quote(ident string) string {
	return `"` + ident + `"`
}

// qualify quotes a table/column pair.
func qualify(table, column string) string {
	return quote(table) + "." + quote(column)
}

// qualifyDotted quotes a possibly qualified column name part by part.
func qualifyDotted(column string) string {
	parts := strings.Split(column, ".")
	for i := range parts {
		parts[i] = quote(parts[i])
	}
	return strings.Join(parts, ".")
}
