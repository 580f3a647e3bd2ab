package sql

// Predicate is a filter condition of a statement. Predicates compose with
// And/Or/Not and render themselves into the statement builder, so one
// predicate tree serves every dialect.
type Predicate struct {
	fns []func(*Builder)
}

// P creates a new predicate from the given builder functions.
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

// Append appends a builder function to the predicate.
func (p *Predicate) Append(fn func(*Builder)) *Predicate {
	p.fns = append(p.fns, fn)
	return p
}

// query renders the predicate into the builder.
func (p *Predicate) query(b *Builder) {
	for _, fn := range p.fns {
		fn(b)
	}
}

// Render writes the predicate into the given builder, continuing its
// placeholder numbering. It lets separately assembled fragments (e.g. JSON
// compiler CTE bodies) apply the shared operator mapping.
func (p *Predicate) Render(b *Builder) {
	p.query(b)
}

// Query builds the predicate as a standalone fragment for the given dialect.
func (p *Predicate) Query(dialect string) (string, []any) {
	b := NewBuilder(dialect)
	p.query(b)
	return b.String(), b.args
}

// And combines the given predicates with AND, wrapping each in parentheses.
func And(preds ...*Predicate) *Predicate {
	return P(func(b *Builder) {
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.Wrap(p.query)
		}
	})
}

// Or combines the given predicates with OR, wrapping each in parentheses.
func Or(preds ...*Predicate) *Predicate {
	return P(func(b *Builder) {
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.Wrap(p.query)
		}
	})
}

// Not negates the given predicate.
func Not(pred *Predicate) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("NOT ")
		b.Wrap(pred.query)
	})
}

// EQ returns a column = value predicate.
func EQ(column string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" = ").Arg(v)
	})
}

// NEQ returns a column <> value predicate.
func NEQ(column string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" <> ").Arg(v)
	})
}

// GT returns a column > value predicate.
func GT(column string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" > ").Arg(v)
	})
}

// GTE returns a column >= value predicate.
func GTE(column string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" >= ").Arg(v)
	})
}

// LT returns a column < value predicate.
func LT(column string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" < ").Arg(v)
	})
}

// LTE returns a column <= value predicate.
func LTE(column string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" <= ").Arg(v)
	})
}

// In returns a column IN (values...) predicate.
// An empty value list renders an always-false condition, since IN () is
// invalid SQL.
func In(column string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("1 = 0")
			return
		}
		b.Ident(column).WriteString(" IN ")
		b.Wrap(func(b *Builder) {
			b.Args(vs...)
		})
	})
}

// NotIn returns a column NOT IN (values...) predicate.
func NotIn(column string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("1 = 1")
			return
		}
		b.Ident(column).WriteString(" NOT IN ")
		b.Wrap(func(b *Builder) {
			b.Args(vs...)
		})
	})
}

// Like returns a column LIKE pattern predicate.
func Like(column, pattern string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" LIKE ").Arg(pattern)
	})
}

// NotLike returns a column NOT LIKE pattern predicate.
func NotLike(column, pattern string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" NOT LIKE ").Arg(pattern)
	})
}

// Contains returns a substring-match predicate (LIKE %v%).
func Contains(column, v string) *Predicate {
	return Like(column, "%"+v+"%")
}

// NotContains returns a negated substring-match predicate.
func NotContains(column, v string) *Predicate {
	return NotLike(column, "%"+v+"%")
}

// HasPrefix returns a prefix-match predicate (LIKE v%).
func HasPrefix(column, v string) *Predicate {
	return Like(column, v+"%")
}

// HasSuffix returns a suffix-match predicate (LIKE %v).
func HasSuffix(column, v string) *Predicate {
	return Like(column, "%"+v)
}

// IsNull returns a column IS NULL predicate.
func IsNull(column string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IS NULL")
	})
}

// NotNull returns a column IS NOT NULL predicate.
func NotNull(column string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IS NOT NULL")
	})
}

// Between returns a column BETWEEN lo AND hi predicate.
func Between(column string, lo, hi any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" BETWEEN ").Arg(lo).WriteString(" AND ").Arg(hi)
	})
}

// NotBetween returns a column NOT BETWEEN lo AND hi predicate.
func NotBetween(column string, lo, hi any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" NOT BETWEEN ").Arg(lo).WriteString(" AND ").Arg(hi)
	})
}

// ColumnsEQ returns a column-to-column equality predicate, used for join
// conditions.
func ColumnsEQ(c1, c2 string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(c1).WriteString(" = ").Ident(c2)
	})
}

// ExprP returns a predicate over a raw SQL expression. Each "?" placeholder
// in the expression binds the next argument, translated to the dialect's
// placeholder syntax.
func ExprP(expr string, args ...any) *Predicate {
	return P(func(b *Builder) {
		i := 0
		for _, r := range expr {
			if r == '?' && i < len(args) {
				b.Arg(args[i])
				i++
				continue
			}
			b.WriteString(string(r))
		}
	})
}

// False returns an always-false predicate.
func False() *Predicate {
	return P(func(b *Builder) {
		b.WriteString("1 = 0")
	})
}
