package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tablekit/tablekit/dialect"
)

// Builder is the base query builder. It writes raw SQL with dialect-aware
// identifier quoting and argument placeholders, and accumulates the bound
// arguments alongside the statement text.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
	total   int // placeholder count, including args bound by earlier fragments
	errs    []error
}

// NewBuilder returns a new Builder for the given dialect.
func NewBuilder(dialect string) *Builder {
	return &Builder{dialect: dialect}
}

// Dialect returns the dialect of the builder.
func (b *Builder) Dialect() string {
	return b.dialect
}

// Quote quotes the given identifier with the dialect quote character.
func (b *Builder) Quote(ident string) string {
	quote := `"`
	if b.dialect == dialect.MySQL {
		quote = "`"
	}
	return quote + ident + quote
}

// Ident appends the given string as an identifier. Qualified names
// ("table.column") are quoted part by part. Strings that already look like
// expressions or quoted identifiers are written as-is.
func (b *Builder) Ident(s string) *Builder {
	switch {
	case s == "" || strings.ContainsAny(s, "()'` \""):
		// Expressions and pre-quoted identifiers pass through untouched.
		b.WriteString(s)
	case s == "*":
		b.WriteString(s)
	case strings.Contains(s, "."):
		parts := strings.Split(s, ".")
		for i, p := range parts {
			if i > 0 {
				b.WriteByte('.')
			}
			if p == "*" {
				b.WriteString(p)
			} else {
				b.WriteString(b.Quote(p))
			}
		}
	default:
		b.WriteString(b.Quote(s))
	}
	return b
}

// IdentComma appends the given identifiers separated by commas.
func (b *Builder) IdentComma(idents ...string) *Builder {
	for i, s := range idents {
		if i > 0 {
			b.Comma()
		}
		b.Ident(s)
	}
	return b
}

// WriteString appends the string to the statement.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteByte appends the byte to the statement.
func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Comma appends a comma separator.
func (b *Builder) Comma() *Builder {
	return b.WriteString(", ")
}

// Pad appends a single space.
func (b *Builder) Pad() *Builder {
	return b.WriteByte(' ')
}

// Wrap wraps the output of fn with parentheses.
func (b *Builder) Wrap(fn func(*Builder)) *Builder {
	b.WriteByte('(')
	fn(b)
	b.WriteByte(')')
	return b
}

// Arg appends an argument placeholder to the statement and binds its value.
func (b *Builder) Arg(v any) *Builder {
	b.total++
	b.args = append(b.args, v)
	switch b.dialect {
	case dialect.Postgres:
		b.WriteString("$" + strconv.Itoa(b.total))
	case dialect.Oracle:
		b.WriteString(":" + strconv.Itoa(b.total))
	default:
		b.WriteByte('?')
	}
	return b
}

// SetTotal sets the number of placeholders bound by fragments rendered
// before this builder. Numbered placeholder dialects (Postgres, Oracle)
// continue counting from it, so fragments built separately and stitched
// into one statement keep a consistent numbering.
func (b *Builder) SetTotal(n int) *Builder {
	b.total = n
	return b
}

// Total returns the placeholder count, including args bound by earlier
// fragments.
func (b *Builder) Total() int {
	return b.total
}

// Args appends a comma-separated list of argument placeholders.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.Comma()
		}
		b.Arg(v)
	}
	return b
}

// BoundArgs returns the argument values bound by this builder.
func (b *Builder) BoundArgs() []any {
	return b.args
}

// AddError records an error that occurred while building the statement.
// The first recorded error is returned by Err.
func (b *Builder) AddError(err error) *Builder {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Err returns the first error recorded while building the statement.
func (b *Builder) Err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return b.errs[0]
}

// String returns the accumulated statement text.
func (b *Builder) String() string {
	return b.sb.String()
}

// DialectBuilder prefixes all root builders with the given dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect creates a builder factory for the given dialect.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select returns a Selector for the given columns.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	return (&Selector{dialect: d.dialect}).Select(columns...)
}

// Insert returns an InsertBuilder for the given table.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	return &InsertBuilder{dialect: d.dialect, table: table}
}

// Update returns an UpdateBuilder for the given table.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	return &UpdateBuilder{dialect: d.dialect, table: table}
}

// Delete returns a DeleteBuilder for the given table.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{dialect: d.dialect, table: table}
}

// Table returns a SelectTable for the given table name.
func Table(name string) *SelectTable {
	return &SelectTable{name: name}
}

// SelectTable is a table selection with an optional alias.
type SelectTable struct {
	name  string
	alias string
}

// As sets the table alias.
func (t *SelectTable) As(alias string) *SelectTable {
	t.alias = alias
	return t
}

// C returns the column qualified by the table (alias when set).
func (t *SelectTable) C(column string) string {
	name := t.name
	if t.alias != "" {
		name = t.alias
	}
	return name + "." + column
}

// ref writes the table reference ("name" or "name AS alias").
func (t *SelectTable) ref(b *Builder) {
	b.Ident(t.name)
	if t.alias != "" {
		b.WriteString(" AS ").Ident(t.alias)
	}
}

type (
	// cte is a named common-table-expression attached to a Selector.
	cte struct {
		name string
		s    *Selector
		raw  string // raw body takes precedence over s.
		args []any
	}

	// join is a single join clause of a Selector.
	join struct {
		kind  string // "JOIN", "LEFT JOIN", ...
		table *SelectTable
		on    *Predicate
	}

	// orderTerm is one ORDER BY term.
	orderTerm struct {
		column string
		desc   bool
	}

	// Selector is a SELECT statement builder.
	Selector struct {
		dialect  string
		ctes     []cte
		columns  []string
		from     *SelectTable
		joins    []join
		where    *Predicate
		groupBy  []string
		having   *Predicate
		order    []orderTerm
		limit    *int
		offset   *int
		distinct bool
	}
)

// Select returns a new Selector for the given columns.
// Columns that contain parentheses or spaces are treated as raw expressions.
func Select(columns ...string) *Selector {
	return (&Selector{}).Select(columns...)
}

// Select sets the columns of the selection.
func (s *Selector) Select(columns ...string) *Selector {
	s.columns = append([]string(nil), columns...)
	return s
}

// AppendSelect appends additional columns to the selection.
func (s *Selector) AppendSelect(columns ...string) *Selector {
	s.columns = append(s.columns, columns...)
	return s
}

// AppendSelectAs appends a column or expression under an alias.
func (s *Selector) AppendSelectAs(column, as string) *Selector {
	s.columns = append(s.columns, column+" AS "+as)
	return s
}

// SelectedColumns returns the columns currently selected.
func (s *Selector) SelectedColumns() []string {
	return append([]string(nil), s.columns...)
}

// SetSelect replaces the selection with the given columns.
func (s *Selector) SetSelect(columns ...string) *Selector {
	s.columns = append([]string(nil), columns...)
	return s
}

// Distinct marks the selection as DISTINCT.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// From sets the FROM table of the selection.
func (s *Selector) From(t *SelectTable) *Selector {
	s.from = t
	return s
}

// FromTable sets the FROM table by name.
func (s *Selector) FromTable(name string) *Selector {
	return s.From(Table(name))
}

// Table returns the FROM table of the selection.
func (s *Selector) Table() *SelectTable {
	return s.from
}

// Dialect returns the dialect of the selector.
func (s *Selector) Dialect() string {
	return s.dialect
}

// SetDialect sets the dialect of the selector.
func (s *Selector) SetDialect(name string) *Selector {
	s.dialect = name
	return s
}

// With appends a common-table-expression to the statement.
func (s *Selector) With(name string, sub *Selector) *Selector {
	s.ctes = append(s.ctes, cte{name: name, s: sub})
	return s
}

// WithRaw appends a common-table-expression with a raw body.
func (s *Selector) WithRaw(name, body string, args ...any) *Selector {
	s.ctes = append(s.ctes, cte{name: name, raw: body, args: args})
	return s
}

// Join appends an INNER JOIN on the given table.
func (s *Selector) Join(t *SelectTable) *Selector {
	s.joins = append(s.joins, join{kind: "JOIN", table: t})
	return s
}

// LeftJoin appends a LEFT JOIN on the given table.
func (s *Selector) LeftJoin(t *SelectTable) *Selector {
	s.joins = append(s.joins, join{kind: "LEFT JOIN", table: t})
	return s
}

// On sets the join condition of the last join to c1 = c2.
func (s *Selector) On(c1, c2 string) *Selector {
	if len(s.joins) > 0 {
		s.joins[len(s.joins)-1].on = ColumnsEQ(c1, c2)
	}
	return s
}

// OnP sets the join condition of the last join to the given predicate.
func (s *Selector) OnP(p *Predicate) *Selector {
	if len(s.joins) > 0 {
		s.joins[len(s.joins)-1].on = p
	}
	return s
}

// Where sets or appends (with AND) the WHERE predicate.
func (s *Selector) Where(p *Predicate) *Selector {
	if p == nil {
		return s
	}
	if s.where == nil {
		s.where = p
	} else {
		s.where = And(s.where, p)
	}
	return s
}

// P returns the WHERE predicate of the selector.
func (s *Selector) P() *Predicate {
	return s.where
}

// GroupBy appends the given columns to the GROUP BY clause.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.groupBy = append(s.groupBy, columns...)
	return s
}

// Having sets the HAVING predicate.
func (s *Selector) Having(p *Predicate) *Selector {
	s.having = p
	return s
}

// OrderBy appends an ascending ORDER BY term.
func (s *Selector) OrderBy(column string) *Selector {
	s.order = append(s.order, orderTerm{column: column})
	return s
}

// OrderByDesc appends a descending ORDER BY term.
func (s *Selector) OrderByDesc(column string) *Selector {
	s.order = append(s.order, orderTerm{column: column, desc: true})
	return s
}

// ClearOrder drops all ORDER BY terms.
func (s *Selector) ClearOrder() *Selector {
	s.order = nil
	return s
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// Query builds the SELECT statement and returns it with its arguments.
func (s *Selector) Query() (string, []any) {
	b := NewBuilder(s.dialect)
	s.query(b)
	return b.String(), b.args
}

// query renders the statement into the given builder.
func (s *Selector) query(b *Builder) {
	if len(s.ctes) > 0 {
		b.WriteString("WITH ")
		for i, c := range s.ctes {
			if i > 0 {
				b.Comma()
			}
			b.Ident(c.name).WriteString(" AS ")
			b.Wrap(func(b *Builder) {
				if c.raw != "" {
					b.WriteString(c.raw)
					b.args = append(b.args, c.args...)
					b.total += len(c.args)
					return
				}
				c.s.SetDialect(s.dialect)
				c.s.query(b)
			})
		}
		b.Pad()
	}
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.WriteString("*")
	} else {
		b.IdentComma(s.columns...)
	}
	if s.from != nil {
		b.WriteString(" FROM ")
		s.from.ref(b)
	}
	for _, j := range s.joins {
		b.Pad().WriteString(j.kind).Pad()
		j.table.ref(b)
		if j.on != nil {
			b.WriteString(" ON ")
			j.on.query(b)
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.query(b)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.IdentComma(s.groupBy...)
	}
	if s.having != nil {
		b.WriteString(" HAVING ")
		s.having.query(b)
	}
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.order {
			if i > 0 {
				b.Comma()
			}
			b.Ident(o.column)
			if o.desc {
				b.WriteString(" DESC")
			}
		}
	}
	s.limitOffset(b)
}

// limitOffset writes the pagination clause in the dialect's syntax.
// Oracle uses the ANSI OFFSET/FETCH form, the rest use LIMIT/OFFSET.
func (s *Selector) limitOffset(b *Builder) {
	if s.limit == nil && s.offset == nil {
		return
	}
	if s.dialect == dialect.Oracle {
		if s.offset != nil {
			b.WriteString(" OFFSET " + strconv.Itoa(*s.offset) + " ROWS")
		}
		if s.limit != nil {
			b.WriteString(" FETCH FIRST " + strconv.Itoa(*s.limit) + " ROWS ONLY")
		}
		return
	}
	if s.limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*s.offset))
	}
}

// InsertBuilder is an INSERT statement builder.
type InsertBuilder struct {
	dialect   string
	table     string
	columns   []string
	values    [][]any
	returning []string
}

// Insert returns a new InsertBuilder for the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// SetDialect sets the dialect of the builder.
func (i *InsertBuilder) SetDialect(name string) *InsertBuilder {
	i.dialect = name
	return i
}

// Columns sets the columns of the INSERT statement.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append([]string(nil), columns...)
	return i
}

// Values appends one row of values. May be called multiple times for a
// multi-row insert.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Returning appends a RETURNING clause (PostgreSQL).
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = append([]string(nil), columns...)
	return i
}

// Query builds the INSERT statement and returns it with its arguments.
func (i *InsertBuilder) Query() (string, []any) {
	b := NewBuilder(i.dialect)
	b.WriteString("INSERT INTO ").Ident(i.table)
	b.WriteString(" (").IdentComma(i.columns...).WriteString(")")
	b.WriteString(" VALUES ")
	for j, row := range i.values {
		if j > 0 {
			b.Comma()
		}
		b.Wrap(func(b *Builder) {
			b.Args(row...)
		})
	}
	if len(i.returning) > 0 && i.dialect == dialect.Postgres {
		b.WriteString(" RETURNING ").IdentComma(i.returning...)
	}
	return b.String(), b.args
}

// UpdateBuilder is an UPDATE statement builder.
type UpdateBuilder struct {
	dialect string
	table   string
	columns []string
	values  []any
	where   *Predicate
}

// Update returns a new UpdateBuilder for the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// SetDialect sets the dialect of the builder.
func (u *UpdateBuilder) SetDialect(name string) *UpdateBuilder {
	u.dialect = name
	return u
}

// Set assigns a value to a column.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, v)
	return u
}

// Empty reports whether the builder carries no assignments.
func (u *UpdateBuilder) Empty() bool {
	return len(u.columns) == 0
}

// Where sets or appends (with AND) the WHERE predicate.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if u.where == nil {
		u.where = p
	} else if p != nil {
		u.where = And(u.where, p)
	}
	return u
}

// Query builds the UPDATE statement and returns it with its arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	b := NewBuilder(u.dialect)
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for j, column := range u.columns {
		if j > 0 {
			b.Comma()
		}
		b.Ident(column).WriteString(" = ").Arg(u.values[j])
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.query(b)
	}
	return b.String(), b.args
}

// DeleteBuilder is a DELETE statement builder.
type DeleteBuilder struct {
	dialect string
	table   string
	where   *Predicate
}

// Delete returns a new DeleteBuilder for the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// SetDialect sets the dialect of the builder.
func (d *DeleteBuilder) SetDialect(name string) *DeleteBuilder {
	d.dialect = name
	return d
}

// Where sets or appends (with AND) the WHERE predicate.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if d.where == nil {
		d.where = p
	} else if p != nil {
		d.where = And(d.where, p)
	}
	return d
}

// Query builds the DELETE statement and returns it with its arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	b := NewBuilder(d.dialect)
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.query(b)
	}
	return b.String(), b.args
}

// Raw returns a raw SQL expression that is written as-is, e.g.
//
//	sql.Select(sql.Raw("COUNT(*)")).FromTable("users")
func Raw(expr string) string {
	return expr
}

// As returns the expression aliased with the given name.
func As(expr, alias string) string {
	return expr + " AS " + alias
}

// Count returns a COUNT aggregation expression over the given column.
func Count(column string) string {
	if column == "" || column == "*" {
		return "COUNT(*)"
	}
	return fmt.Sprintf("COUNT(%s)", column)
}
