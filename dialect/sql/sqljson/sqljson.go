// Package sqljson compiles logical JSON path selections and filters into
// dialect-native SQL.
//
// A query may carry JSON field nodes targeting JSON-typed columns, with
// paths such as "$.a[*].b" supporting `[*]` array wildcards and `.*` object
// wildcards, plus an optional nested filter restricting which matched
// elements are returned. Each dialect implements the Compiler contract and
// rewrites those nodes into SQL fragments: plain extraction expressions for
// scalar paths, and derived tables joined back on the primary key for
// wildcard or filtered paths, which can multiply row cardinality or require
// correlated filtering.
//
// Compilers are stateful: they own the alias generator of one statement
// compilation. Construct a fresh compiler per statement with New.
package sqljson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/query"
)

// Compiler rewrites JSON field nodes of one statement into dialect SQL and
// decodes the raw driver output back into structured values.
type Compiler interface {
	// PreProcess rewrites the selector to return each node's value under
	// its field key. Table is the collection's table name and pk its
	// primary key column.
	PreProcess(s *sql.Selector, table, pk string, nodes []query.JSONFieldNode) error

	// PostProcess parses values extracted through the JSON mechanism,
	// which arrive from the driver as raw text, back into structured
	// values (objects, arrays, scalars).
	PostProcess(items []tablekit.Item, nodes []query.JSONFieldNode) error

	// FilterQuery returns a scalar JSON extraction expression over the
	// column and path, for use as the left-hand side of an ordinary
	// comparison predicate.
	FilterQuery(column, path string) string
}

// New returns a fresh compiler for the given dialect. The compiler is
// scoped to one statement compilation; its generated aliases are unique
// within that statement only.
func New(name string) (Compiler, error) {
	switch name {
	case dialect.Oracle:
		return &oracle{gen: newAliasGenerator()}, nil
	case dialect.SQLite:
		return &sqlite{gen: newAliasGenerator()}, nil
	default:
		return nil, fmt.Errorf("sqljson: no JSON path compiler for dialect %q", name)
	}
}

// A PathError reports a malformed JSON path that cannot be compiled.
type PathError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("sqljson: invalid path %q: %s", e.Path, e.Reason)
}

// NeedsJoin reports whether the node must be satisfied by a derived table
// joined on the primary key. Wildcard paths expand to one row per match and
// filtered nodes require correlated filtering, so neither can be answered
// by a plain extraction in the select list.
func NeedsJoin(n query.JSONFieldNode) bool {
	return strings.Contains(n.JSONPath, "[*]") ||
		strings.Contains(n.JSONPath, ".*") ||
		n.Filtered()
}

// SplitPath splits a JSON path into segments at wildcard boundaries. The
// wildcard token stays attached to the segment that introduces it, and
// every segment is normalized to begin at the root marker:
//
//	$.a[*].b      → ["$.a[*]", "$.b"]
//	$.a[*].b[*].c → ["$.a[*]", "$.b[*]", "$.c"]
//	$.a.*.b       → ["$.a.*", "$.b"]
//
// A path without wildcards yields a single segment. Malformed paths (no
// root marker, dangling wildcard tail, empty segments) are rejected.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, &PathError{Path: path, Reason: "empty path"}
	}
	if !strings.HasPrefix(path, "$") {
		return nil, &PathError{Path: path, Reason: "must begin with the root marker $"}
	}
	var (
		segments []string
		rest     = path
	)
	for {
		cut := wildcardEnd(rest)
		if cut == -1 {
			break
		}
		segments = append(segments, rest[:cut])
		rest = rest[cut:]
		if rest == "" {
			break
		}
		if rest[0] != '.' && rest[0] != '[' {
			return nil, &PathError{Path: path, Reason: "wildcard must be followed by a path step"}
		}
		rest = "$" + rest
	}
	if rest != "" {
		segments = append(segments, rest)
	}
	for _, seg := range segments {
		if seg == "$" || seg == "$." {
			return nil, &PathError{Path: path, Reason: "empty path segment"}
		}
	}
	return segments, nil
}

// wildcardEnd returns the index just past the first wildcard token of the
// segment, or -1 when it has none. The object wildcard is only recognized
// as a full ".*" step, not as part of a longer name.
func wildcardEnd(s string) int {
	for i := 0; i < len(s); i++ {
		if strings.HasPrefix(s[i:], "[*]") {
			return i + 3
		}
		if strings.HasPrefix(s[i:], ".*") && (i+2 == len(s) || s[i+2] == '.' || s[i+2] == '[') {
			return i + 2
		}
	}
	return -1
}

// wildcardSuffix reports whether the segment ends with a wildcard token.
// SplitPath cuts segments right after their wildcard, so a wildcard segment
// always carries it as a suffix.
func wildcardSuffix(seg string) bool {
	return strings.HasSuffix(seg, "[*]") || strings.HasSuffix(seg, ".*")
}

// aliasGenerator produces identifiers unique within one compiled statement.
type aliasGenerator struct {
	n int
}

func newAliasGenerator() *aliasGenerator {
	return &aliasGenerator{}
}

// next returns the next generated identifier with the given role prefix.
func (g *aliasGenerator) next(prefix string) string {
	g.n++
	return prefix + strconv.Itoa(g.n)
}

// filterConditions flattens a node's nested filter into (field, operation)
// pairs. JSON filter fields are relative to the matched element.
func filterConditions(n query.JSONFieldNode) ([]condition, error) {
	if !n.Filtered() {
		return nil, nil
	}
	var conds []condition
	for field, raw := range n.Query.Filter {
		ops, err := query.FieldOperations(field, raw)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			conds = append(conds, condition{field: field, op: op})
		}
	}
	return conds, nil
}

// condition is one nested-filter condition of a join-required node, applied
// against a generated extraction alias.
type condition struct {
	field string
	alias string
	op    query.Operation
}

// decodeValue parses a raw driver value extracted through the JSON
// mechanism into a structured value. Unparseable text stays as-is: a bare
// string scalar extraction is legal output on some dialects.
func decodeValue(v any) any {
	var raw string
	switch v := v.(type) {
	case nil:
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		// Already a structured scalar (number, bool).
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return raw
	}
	return out
}

// postProcess decodes every node value of every item in place.
func postProcess(items []tablekit.Item, nodes []query.JSONFieldNode) {
	for _, it := range items {
		for _, n := range nodes {
			v := decodeValue(it[n.FieldKey])
			if v == nil && n.Filtered() {
				// A filtered node distinguishes "no matches" from
				// "field absent" with an empty array.
				v = []any{}
			}
			it[n.FieldKey] = v
		}
	}
}
