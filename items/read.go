package items

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/dialect/sql/sqljson"
	"github.com/tablekit/tablekit/query"
)

// ReadByQuery returns the items matching the query, in storage order. The
// gate rewrites the query to the accountability's permissions before it is
// compiled.
func (s *Service) ReadByQuery(ctx context.Context, q *query.Query) ([]tablekit.Item, error) {
	ctx = s.opCtx(ctx)
	q = q.Clone()
	if s.gate != nil {
		var err error
		if q, err = s.gate.ProcessQuery(ctx, s.acc, s.collection, q); err != nil {
			return nil, err
		}
	}
	key := s.cacheKey(q)
	if items, ok := s.cachedRead(ctx, key); ok {
		return items, nil
	}
	items, err := s.runQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	s.cacheWrite(ctx, key, items)
	return items, nil
}

// ReadOne returns the item with the given key. A key that matches no row,
// or one outside the accountability's row filter, yields a NotFoundError.
func (s *Service) ReadOne(ctx context.Context, key tablekit.PrimaryKey, q *query.Query) (tablekit.Item, error) {
	pk, err := s.primary(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.ReadByQuery(ctx, withKeyFilter(q, pk, key))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &tablekit.NotFoundError{Collection: s.collection, Key: key}
	}
	return items[0], nil
}

// ReadMany returns the items with the given keys. Missing keys are absent
// from the result rather than failing the read.
func (s *Service) ReadMany(ctx context.Context, keys []tablekit.PrimaryKey, q *query.Query) ([]tablekit.Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pk, err := s.primary(ctx)
	if err != nil {
		return nil, err
	}
	return s.ReadByQuery(ctx, withKeyFilter(q, pk, keys...))
}

// ReadSingleton returns the single row of a singleton collection. An empty
// collection yields an item synthesized from the declared column defaults,
// never a not-found error.
func (s *Service) ReadSingleton(ctx context.Context, q *query.Query) (tablekit.Item, error) {
	q = q.Clone()
	q.Limit = 1
	items, err := s.ReadByQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items[0], nil
	}
	cols, err := s.inspector.ColumnInfo(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	item := make(tablekit.Item, len(cols))
	for _, c := range cols {
		item[c.Name] = c.Default
	}
	return s.transform.ProcessValues(ctx, tablekit.ActionRead, s.collection, item)
}

// runQuery compiles and executes the query and transforms the result rows.
func (s *Service) runQuery(ctx context.Context, q *query.Query) ([]tablekit.Item, error) {
	pk, err := s.primary(ctx)
	if err != nil {
		return nil, err
	}
	var compiler sqljson.Compiler
	if len(q.JSONFields) > 0 || filterTargetsJSON(q.Filter) {
		if compiler, err = sqljson.New(s.dialect); err != nil {
			return nil, err
		}
	}
	sel := sql.Dialect(s.dialect).Select().FromTable(s.collection)
	if len(q.Fields) > 0 {
		cols := make([]string, len(q.Fields))
		for i, f := range q.Fields {
			cols[i] = s.collection + "." + f
		}
		sel.Select(cols...)
	} else {
		sel.Select(s.collection + ".*")
	}
	if len(q.Filter) > 0 {
		p, err := q.Filter.Predicate(s.qualifier(compiler))
		if err != nil {
			return nil, err
		}
		if p != nil {
			sel.Where(p)
		}
	}
	for _, o := range q.Sort {
		if o.Desc {
			sel.OrderByDesc(s.collection + "." + o.Field)
		} else {
			sel.OrderBy(s.collection + "." + o.Field)
		}
	}
	if q.Limit > 0 {
		sel.Limit(q.Limit)
	}
	if q.Offset > 0 {
		sel.Offset(q.Offset)
	}
	if compiler != nil && len(q.JSONFields) > 0 {
		if err := compiler.PreProcess(sel, s.collection, pk, q.JSONFields); err != nil {
			return nil, err
		}
	}
	stmt, args := sel.Query()
	rows := &sql.Rows{}
	if err := s.conn.Query(ctx, stmt, args, rows); err != nil {
		return nil, err
	}
	items, err := scanItems(rows)
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if compiler != nil {
		if err := compiler.PostProcess(items, q.JSONFields); err != nil {
			return nil, err
		}
	}
	jsonKeys := make(map[string]bool, len(q.JSONFields))
	for _, n := range q.JSONFields {
		jsonKeys[n.FieldKey] = true
	}
	for i := range items {
		item, err := s.transform.ProcessValues(ctx, tablekit.ActionRead, s.collection, items[i])
		if err != nil {
			return nil, err
		}
		// JSON path values are already decoded by the compiler; keep them
		// out of the column-type casting.
		for k := range jsonKeys {
			if v, ok := items[i][k]; ok {
				item[k] = v
			}
		}
		items[i] = item
	}
	return items, nil
}

// qualifier maps filter fields to column expressions. A field of the form
// "column$.path" targets a JSON path inside the column and compiles through
// the dialect's JSON extraction; anything else is qualified with the
// collection name.
func (s *Service) qualifier(compiler sqljson.Compiler) func(field string) string {
	return func(field string) string {
		if i := strings.Index(field, "$."); i > 0 && compiler != nil {
			return compiler.FilterQuery(s.collection+"."+field[:i], field[i:])
		}
		return s.collection + "." + field
	}
}

// filterTargetsJSON reports whether any filter leaf addresses a JSON path.
func filterTargetsJSON(f query.Filter) bool {
	for field, v := range f {
		if field == "_and" || field == "_or" {
			for _, sub := range subFilterList(v) {
				if filterTargetsJSON(sub) {
					return true
				}
			}
			continue
		}
		if strings.Index(field, "$.") > 0 {
			return true
		}
	}
	return false
}

// subFilterList normalizes logical group values, tolerating malformed ones;
// those fail later with a descriptive error during predicate compilation.
func subFilterList(v any) []query.Filter {
	switch v := v.(type) {
	case []query.Filter:
		return v
	case []any:
		var fs []query.Filter
		for _, e := range v {
			switch e := e.(type) {
			case query.Filter:
				fs = append(fs, e)
			case map[string]any:
				fs = append(fs, query.Filter(e))
			}
		}
		return fs
	default:
		return nil
	}
}

// scanItems reads every row into an item keyed by result column name.
func scanItems(rows *sql.Rows) ([]tablekit.Item, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var items []tablekit.Item
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		item := make(tablekit.Item, len(columns))
		for i, c := range columns {
			item[c] = values[i]
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// withKeyFilter merges a primary key constraint into the query by logical
// AND, preserving the caller's own filter.
func withKeyFilter(q *query.Query, pk string, keys ...tablekit.PrimaryKey) *query.Query {
	out := q.Clone()
	var kf query.Filter
	if len(keys) == 1 {
		kf = query.Filter{pk: map[string]any{"_eq": keys[0]}}
	} else {
		kf = query.Filter{pk: map[string]any{"_in": keys}}
	}
	if len(out.Filter) > 0 {
		out.Filter = query.Filter{"_and": []query.Filter{out.Filter, kf}}
	} else {
		out.Filter = kf
	}
	return out
}

// cacheKey derives the cache key of a gate-rewritten query.
func (s *Service) cacheKey(q *query.Query) string {
	if s.cache == nil {
		return ""
	}
	var sorts []string
	for _, o := range q.Sort {
		sorts = append(sorts, o.Field+":"+strconv.FormatBool(o.Desc))
	}
	return tablekit.CacheKey{
		Collection: s.collection,
		Operation:  "query",
		Filter:     fmt.Sprintf("%v|%v|%v", q.Fields, q.Filter, q.JSONFields),
		Sort:       strings.Join(sorts, ","),
		Limit:      q.Limit,
		Offset:     q.Offset,
	}.String()
}

// cachedRead returns the cached result of the key, if any. Cache failures
// fall through to storage.
func (s *Service) cachedRead(ctx context.Context, key string) ([]tablekit.Item, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, false
	}
	var items []tablekit.Item
	if err := msgpack.Unmarshal(raw, &items); err != nil {
		s.log.WarnContext(ctx, "cache entry decode failed", "collection", s.collection, "error", err)
		return nil, false
	}
	return items, true
}

// cacheWrite stores a read result under the key. Cache failures never fail
// the read.
func (s *Service) cacheWrite(ctx context.Context, key string, items []tablekit.Item) {
	if s.cache == nil {
		return
	}
	raw, err := msgpack.Marshal(items)
	if err != nil {
		s.log.WarnContext(ctx, "cache entry encode failed", "collection", s.collection, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.log.WarnContext(ctx, "cache write failed", "collection", s.collection, "error", err)
	}
}
