package payload

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/schema"
)

// Processor is the default Transformer, driven by schema metadata.
type Processor struct {
	inspector schema.Inspector
	dialect   string
}

// New builds a Processor over the inspector for the given SQL dialect.
func New(inspector schema.Inspector, name string) *Processor {
	return &Processor{inspector: inspector, dialect: name}
}

// ProcessValues implements the Transformer interface.
func (p *Processor) ProcessValues(ctx context.Context, action tablekit.Action, collection string, item tablekit.Item) (tablekit.Item, error) {
	cols, err := p.inspector.ColumnInfo(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := item.Clone()
	for _, col := range cols {
		v, ok := out[col.Name]
		if !ok || v == nil {
			continue
		}
		var cast any
		if action == tablekit.ActionRead {
			cast = fromStorage(col.Type, v)
		} else {
			cast, err = toStorage(col.Type, v)
			if err != nil {
				return nil, &tablekit.InvalidPayloadError{Collection: collection, Reason: fmt.Sprintf("field %q: %v", col.Name, err)}
			}
		}
		out[col.Name] = cast
	}
	return out, nil
}

// ProcessM2O implements the Transformer interface.
func (p *Processor) ProcessM2O(ctx context.Context, conn dialect.ExecQuerier, collection string, item tablekit.Item) (tablekit.Item, error) {
	rels, err := p.inspector.Relations(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := item.Clone()
	for _, r := range rels {
		if r.Collection != collection || r.Kind != schema.M2O {
			continue
		}
		nested, ok := asItem(out[r.Field])
		if !ok {
			continue
		}
		row, err := p.ProcessValues(ctx, tablekit.ActionUpdate, r.Related, nested)
		if err != nil {
			return nil, err
		}
		if row, err = p.columnsOnly(ctx, r.Related, row); err != nil {
			return nil, err
		}
		if key, ok := row[r.RelatedField]; ok {
			// Keyed nested payload updates the existing related row.
			delete(row, r.RelatedField)
			if len(row) > 0 {
				if err := p.update(ctx, conn, r.Related, r.RelatedField, key, row); err != nil {
					return nil, err
				}
			}
			out[r.Field] = key
			continue
		}
		key, err := p.insert(ctx, conn, r.Related, r.RelatedField, row)
		if err != nil {
			return nil, err
		}
		out[r.Field] = key
	}
	return out, nil
}

// ProcessO2M implements the Transformer interface.
func (p *Processor) ProcessO2M(ctx context.Context, conn dialect.ExecQuerier, collection string, key tablekit.PrimaryKey, item tablekit.Item) error {
	rels, err := p.inspector.Relations(ctx, collection)
	if err != nil {
		return err
	}
	for _, r := range rels {
		if r.Related != collection || r.Kind != schema.M2O {
			continue
		}
		children, ok := asList(item[r.Collection])
		if !ok {
			continue
		}
		childPK, err := p.inspector.Primary(ctx, r.Collection)
		if err != nil {
			return err
		}
		for _, raw := range children {
			child, ok := asItem(raw)
			if !ok {
				return &tablekit.InvalidPayloadError{Collection: collection, Reason: fmt.Sprintf("field %q: one-to-many element must be an item", r.Collection)}
			}
			row, err := p.ProcessValues(ctx, tablekit.ActionUpdate, r.Collection, child)
			if err != nil {
				return err
			}
			if row, err = p.columnsOnly(ctx, r.Collection, row); err != nil {
				return err
			}
			row[r.Field] = key
			if ck, ok := row[childPK]; ok {
				delete(row, childPK)
				if err := p.update(ctx, conn, r.Collection, childPK, ck, row); err != nil {
					return err
				}
				continue
			}
			if _, err := p.insert(ctx, conn, r.Collection, childPK, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// columnsOnly drops payload fields that have no backing column.
func (p *Processor) columnsOnly(ctx context.Context, collection string, row tablekit.Item) (tablekit.Item, error) {
	names, err := p.inspector.Columns(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make(tablekit.Item, len(row))
	for _, n := range names {
		if v, ok := row[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

// insert writes one row and returns its key: the payload value when the
// payload carries the key column, otherwise the generated key.
func (p *Processor) insert(ctx context.Context, conn dialect.ExecQuerier, collection, pk string, row tablekit.Item) (tablekit.PrimaryKey, error) {
	columns := sortedColumns(row)
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = row[c]
	}
	b := sql.Dialect(p.dialect).Insert(collection).Columns(columns...).Values(values...)
	if p.dialect == dialect.Postgres {
		q, args := b.Returning(pk).Query()
		rows := &sql.Rows{}
		if err := conn.Query(ctx, q, args, rows); err != nil {
			return nil, err
		}
		defer rows.Close()
		var key any
		if rows.Next() {
			if err := rows.Scan(&key); err != nil {
				return nil, err
			}
		}
		return key, rows.Err()
	}
	q, args := b.Query()
	var res sql.Result
	if err := conn.Exec(ctx, q, args, &res); err != nil {
		return nil, err
	}
	if key, ok := row[pk]; ok {
		return key, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return id, nil
}

// update rewrites one row identified by its key column.
func (p *Processor) update(ctx context.Context, conn dialect.ExecQuerier, collection, pk string, key tablekit.PrimaryKey, row tablekit.Item) error {
	b := sql.Dialect(p.dialect).Update(collection)
	for _, c := range sortedColumns(row) {
		b.Set(c, row[c])
	}
	q, args := b.Where(sql.EQ(pk, key)).Query()
	return conn.Exec(ctx, q, args, nil)
}

// toStorage casts a wire value to its storage representation.
func toStorage(t schema.Type, v any) (any, error) {
	switch t {
	case schema.TypeJSON:
		switch v.(type) {
		case string, []byte:
			return v, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case schema.TypeDatetime:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			return parseTime(v)
		}
		return nil, fmt.Errorf("cannot cast %T to datetime", v)
	case schema.TypeBoolean:
		switch v := v.(type) {
		case bool:
			return v, nil
		case string:
			return v == "true" || v == "1", nil
		case int:
			return v != 0, nil
		case int64:
			return v != 0, nil
		case float64:
			return v != 0, nil
		}
		return nil, fmt.Errorf("cannot cast %T to boolean", v)
	default:
		return v, nil
	}
}

// fromStorage casts a storage value to its wire representation. Values the
// driver already delivers in wire shape pass through, and unparseable
// values stay as-is rather than failing a read.
func fromStorage(t schema.Type, v any) any {
	switch t {
	case schema.TypeJSON:
		raw, ok := rawString(v)
		if !ok {
			return v
		}
		var out any
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return raw
		}
		return out
	case schema.TypeDatetime:
		raw, ok := rawString(v)
		if !ok {
			return v
		}
		if ts, err := parseTime(raw); err == nil {
			return ts
		}
		return raw
	case schema.TypeBoolean:
		switch v := v.(type) {
		case bool:
			return v
		case int:
			return v != 0
		case int64:
			return v != 0
		case float64:
			return v != 0
		}
		if raw, ok := rawString(v); ok {
			return raw == "true" || raw == "1"
		}
		return v
	case schema.TypeInteger:
		if raw, ok := rawString(v); ok {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return n
			}
		}
		return v
	case schema.TypeFloat:
		if raw, ok := rawString(v); ok {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				return f
			}
		}
		return v
	default:
		return v
	}
}

// timeLayouts are the accepted wire datetime formats, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// rawString normalizes driver text values.
func rawString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// asItem normalizes map-shaped payload values.
func asItem(v any) (tablekit.Item, bool) {
	switch v := v.(type) {
	case tablekit.Item:
		return v, true
	case map[string]any:
		return v, true
	default:
		return nil, false
	}
}

// asList normalizes list-shaped payload values.
func asList(v any) ([]any, bool) {
	switch v := v.(type) {
	case []any:
		return v, true
	case []tablekit.Item:
		vs := make([]any, len(v))
		for i := range v {
			vs[i] = v[i]
		}
		return vs, true
	case []map[string]any:
		vs := make([]any, len(v))
		for i := range v {
			vs[i] = v[i]
		}
		return vs, true
	default:
		return nil, false
	}
}

// sortedColumns returns the row's column names in a stable order.
func sortedColumns(row tablekit.Item) []string {
	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}
