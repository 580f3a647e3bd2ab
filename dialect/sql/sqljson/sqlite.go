package sqljson

import (
	"strings"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/query"
)

// sqlite compiles JSON field nodes with the json1 function family.
// Join-required nodes become a common-table-expression over chained
// json_each table-valued functions, one per wildcard segment, grouped by
// the primary key and aggregated with json_group_array, joined back to the
// main statement.
type sqlite struct {
	gen *aliasGenerator
}

// PreProcess implements the Compiler interface.
func (c *sqlite) PreProcess(s *sql.Selector, table, pk string, nodes []query.JSONFieldNode) error {
	for _, n := range nodes {
		if err := checkPath(n.JSONPath); err != nil {
			return err
		}
		if !NeedsJoin(n) {
			// json_extract handles scalars, objects and arrays alike.
			expr := "json_extract(" + qualify(table, n.Name) + ", '" + n.JSONPath + "')"
			s.AppendSelectAs(expr, quote(n.FieldKey))
			continue
		}
		if err := c.joinNode(s, table, pk, n); err != nil {
			return err
		}
	}
	return nil
}

// joinNode satisfies a wildcard or filtered node with a derived table: each
// wildcard segment contributes one json_each call expanding a row per
// element, the CTE filters and aggregates the matches per primary key, and
// the main statement joins the aggregate back on the key.
func (c *sqlite) joinNode(s *sql.Selector, table, pk string, n query.JSONFieldNode) error {
	segments, err := SplitPath(n.JSONPath)
	if err != nil {
		return err
	}
	cteName := c.gen.next("jq")

	// One json_each per wildcard segment, each expanding over the previous
	// segment's element value. A trailing non-wildcard segment is extracted
	// from the innermost element instead; filters still evaluate against the
	// element itself, matching the row context of the JSON_TABLE strategy.
	var (
		from     strings.Builder
		source   = qualify(table, n.Name)
		row      = source
		expanded bool
	)
	from.WriteString(quote(table))
	for i, seg := range segments {
		wc, ok := trimWildcard(seg)
		if !ok {
			if i != len(segments)-1 {
				return &PathError{Path: n.JSONPath, Reason: "wildcard expected in path segment"}
			}
			break
		}
		expanded = true
		alias := c.gen.next("je")
		from.WriteString(", json_each(" + row + ", '" + wc + "') AS " + quote(alias))
		row = qualify(alias, "value")
	}
	element := row
	if last := segments[len(segments)-1]; !wildcardSuffix(last) {
		element = "json_extract(" + row + ", '" + last + "')"
	}
	filterBase := element
	if expanded {
		filterBase = row
	}

	conds, err := filterConditions(n)
	if err != nil {
		return err
	}

	// Nested JSON stays structured inside the aggregate; scalars keep their
	// storage type.
	agg := "json_group_array(CASE WHEN json_valid(" + element + ") THEN json(" + element + ") ELSE " + element + " END)"

	b := sql.NewBuilder(dialect.SQLite)
	b.WriteString("SELECT " + qualify(table, pk) + " AS " + quote("pk") + ", ")
	b.WriteString(agg + " AS " + quote("val"))
	b.WriteString(" FROM " + from.String())
	for i, cd := range conds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		p, err := cd.op.Predicate("json_extract(" + filterBase + ", '" + fieldPath(cd.field) + "')")
		if err != nil {
			return err
		}
		p.Render(b)
	}
	b.WriteString(" GROUP BY " + qualify(table, pk))

	s.WithRaw(cteName, b.String(), b.BoundArgs()...)
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
func (c *sqlite) PostProcess(items []tablekit.Item, nodes []query.JSONFieldNode) error {
	postProcess(items, nodes)
	return nil
}

// FilterQuery implements the Compiler interface.
func (c *sqlite) FilterQuery(column, path string) string {
	return "json_extract(" + qualifyDotted(column) + ", '" + path + "')"
}

// trimWildcard strips the trailing wildcard token of a path segment,
// returning the json_each source path. The second result is false when the
// segment carries no wildcard.
func trimWildcard(seg string) (string, bool) {
	switch {
	case strings.HasSuffix(seg, "[*]"):
		return seg[:len(seg)-3], true
	case strings.HasSuffix(seg, ".*"):
		return seg[:len(seg)-2], true
	default:
		return "", false
	}
}
