package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/query"
	"github.com/tablekit/tablekit/schema"
)

// Enforcer is the default Gate: a rule chain evaluated first, then a
// declarative role policy. Nil and admin accountability bypass both.
type Enforcer struct {
	policy    *Policy
	inspector schema.Inspector
	dialect   string
	rules     Rules
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithRules prepends a rule chain evaluated before the policy. An Allow
// decision grants the request outright, a Deny decision rejects it, and an
// exhausted or skipping chain falls through to the policy.
func WithRules(rules ...Rule) EnforcerOption {
	return func(e *Enforcer) {
		e.rules = append(e.rules, rules...)
	}
}

// NewEnforcer builds a Gate over the policy. The inspector resolves primary
// key columns for row-level checks and name is the SQL dialect the checks
// are compiled for.
func NewEnforcer(policy *Policy, inspector schema.Inspector, name string, opts ...EnforcerOption) *Enforcer {
	e := &Enforcer{policy: policy, inspector: inspector, dialect: name}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessValues implements the Gate interface.
func (e *Enforcer) ProcessValues(ctx context.Context, acc *tablekit.Accountability, action tablekit.Action, collection string, item tablekit.Item) (tablekit.Item, error) {
	out := item.Clone()
	if acc.Trusted() {
		return out, nil
	}
	perm, err := e.resolve(ctx, Request{Accountability: acc, Action: action, Collection: collection})
	if err != nil {
		return nil, err
	}
	for field := range out {
		if !perm.AllowsField(field) {
			return nil, &tablekit.UnprocessableFieldError{Collection: collection, Field: field}
		}
	}
	for field, v := range perm.Presets {
		out[field] = v
	}
	return out, nil
}

// ProcessQuery implements the Gate interface.
func (e *Enforcer) ProcessQuery(ctx context.Context, acc *tablekit.Accountability, collection string, q *query.Query) (*query.Query, error) {
	out := q.Clone()
	if acc.Trusted() {
		return out, nil
	}
	perm, err := e.resolve(ctx, Request{Accountability: acc, Action: tablekit.ActionRead, Collection: collection})
	if err != nil {
		return nil, err
	}
	if len(out.Fields) == 0 {
		if !perm.AllowsField("*") {
			out.Fields = append([]string(nil), perm.Fields...)
		}
	} else {
		for _, f := range out.Fields {
			if !perm.AllowsField(f) {
				return nil, &tablekit.UnprocessableFieldError{Collection: collection, Field: f}
			}
		}
	}
	if len(perm.Filter) > 0 {
		if len(out.Filter) > 0 {
			out.Filter = query.Filter{"_and": []query.Filter{out.Filter, perm.Filter}}
		} else {
			out.Filter = perm.Filter
		}
	}
	return out, nil
}

// CheckAccess implements the Gate interface.
func (e *Enforcer) CheckAccess(ctx context.Context, conn dialect.ExecQuerier, acc *tablekit.Accountability, action tablekit.Action, collection string, keys []tablekit.PrimaryKey) error {
	if acc.Trusted() || len(keys) == 0 {
		return nil
	}
	perm, err := e.resolve(ctx, Request{Accountability: acc, Action: action, Collection: collection})
	if err != nil {
		return err
	}
	if len(perm.Filter) == 0 {
		return nil
	}
	pk, err := e.inspector.Primary(ctx, collection)
	if err != nil {
		return err
	}
	filter, err := perm.Filter.Predicate(func(field string) string { return field })
	if err != nil {
		return err
	}
	if filter == nil {
		return nil
	}
	q, args := sql.Dialect(e.dialect).
		Select(sql.Count("*")).
		FromTable(collection).
		Where(sql.And(sql.In(pk, keys...), filter)).
		Query()
	rows := &sql.Rows{}
	if err := conn.Query(ctx, q, args, rows); err != nil {
		return fmt.Errorf("access: row check: %w", err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if n != len(keys) {
		return &tablekit.ForbiddenError{
			Action:     action,
			Collection: collection,
			Reason:     fmt.Sprintf("one or more %s rows are outside the permitted set", schema.SingularLabel(collection)),
		}
	}
	return nil
}

// resolve runs the rule chain and falls back to the policy permission.
func (e *Enforcer) resolve(ctx context.Context, r Request) (Permission, error) {
	switch decision := e.rules.Eval(ctx, r); {
	case decision == nil:
		return Permission{Fields: []string{"*"}}, nil
	case errors.Is(decision, Skip):
	default:
		return Permission{}, &tablekit.ForbiddenError{Action: r.Action, Collection: r.Collection, Reason: decision.Error()}
	}
	role := PublicRole
	if r.Accountability != nil && r.Accountability.Role != "" {
		role = r.Accountability.Role
	}
	perm, ok := e.policy.permission(role, r.Action, r.Collection)
	if !ok {
		return Permission{}, &tablekit.ForbiddenError{
			Action:     r.Action,
			Collection: r.Collection,
			Reason:     fmt.Sprintf("role %q has no %s permission on %s", role, r.Action, schema.Label(r.Collection)),
		}
	}
	return perm, nil
}
