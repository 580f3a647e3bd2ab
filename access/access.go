// Package access implements the authorization gate of the engine: payload
// field validation, query rewriting, and row-level access checks. The
// default Enforcer evaluates a declarative role policy; custom logic plugs
// in as rules evaluated ahead of the policy, using Allow/Deny/Skip
// decisions checked with errors.Is.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/query"
)

// Rule decision sentinel errors. Rules return one of these (or a wrapped
// form via Allowf/Denyf/Skipf) to steer chain evaluation.
var (
	// Allow terminates the chain with an allow decision, bypassing the
	// policy.
	Allow = errors.New("access: allow rule")

	// Deny terminates the chain with a deny decision.
	Deny = errors.New("access: deny rule")

	// Skip abstains and passes evaluation to the next rule.
	Skip = errors.New("access: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Request is the subject of one rule evaluation.
type Request struct {
	Accountability *tablekit.Accountability
	Action         tablekit.Action
	Collection     string
}

// Rule decides on a request with Allow, Deny, or Skip.
type Rule interface {
	Eval(ctx context.Context, r Request) error
}

// RuleFunc adapts an ordinary function to a Rule.
type RuleFunc func(ctx context.Context, r Request) error

// Eval returns f(ctx, r).
func (f RuleFunc) Eval(ctx context.Context, r Request) error {
	return f(ctx, r)
}

// Rules is an ordered rule chain. A nil or Skip decision moves to the next
// rule, Allow terminates with nil, and anything else terminates with that
// error. An exhausted chain abstains with Skip.
type Rules []Rule

// Eval evaluates the chain on the request.
func (rules Rules) Eval(ctx context.Context, r Request) error {
	for _, rule := range rules {
		switch decision := rule.Eval(ctx, r); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return Skip
}

// AllowIfAdmin returns a rule allowing requests carrying admin
// accountability.
func AllowIfAdmin() Rule {
	return RuleFunc(func(_ context.Context, r Request) error {
		if r.Accountability != nil && r.Accountability.Admin {
			return Allow
		}
		return Skip
	})
}

// DenyIfNoAccountability returns a rule denying anonymous requests. Use it
// first in a chain to require authentication regardless of policy.
func DenyIfNoAccountability() Rule {
	return RuleFunc(func(_ context.Context, r Request) error {
		if r.Accountability == nil {
			return Denyf("access: accountability required")
		}
		return Skip
	})
}

// OnAction evaluates the rule only for the given actions.
func OnAction(rule Rule, actions ...tablekit.Action) Rule {
	return RuleFunc(func(ctx context.Context, r Request) error {
		for _, a := range actions {
			if r.Action == a {
				return rule.Eval(ctx, r)
			}
		}
		return Skip
	})
}

// Gate authorizes engine operations. Implementations must treat a nil
// accountability as internal trusted access and an Admin accountability as
// unrestricted.
type Gate interface {
	// ProcessValues validates a mutation payload against the permissions
	// of the accountability: fields outside the allowed set fail with an
	// UnprocessableFieldError, and permission presets are folded into the
	// returned payload. The input item is not mutated.
	ProcessValues(ctx context.Context, acc *tablekit.Accountability, action tablekit.Action, collection string, item tablekit.Item) (tablekit.Item, error)

	// ProcessQuery rewrites a read query to the permissions of the
	// accountability: the selection set is restricted to allowed fields
	// and the permission row filter is merged into the query filter. The
	// input query is not mutated.
	ProcessQuery(ctx context.Context, acc *tablekit.Accountability, collection string, q *query.Query) (*query.Query, error)

	// CheckAccess verifies that every given key is reachable under the
	// permission row filter for the action, using the operation's own
	// statement handle. A key outside the filter fails with a
	// ForbiddenError.
	CheckAccess(ctx context.Context, conn dialect.ExecQuerier, acc *tablekit.Accountability, action tablekit.Action, collection string, keys []tablekit.PrimaryKey) error
}
