package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/vellum/dialect/sql"
)

// Policy decision sentinel errors. Rules return them, possibly wrapped,
// to steer the evaluation:
//
//	if errors.Is(err, privacy.Deny) { ... }
var (
	// Allow terminates the evaluation with an allow decision.
	Allow = errors.New("vellum/privacy: allow rule")

	// Deny terminates the evaluation with a deny decision.
	Deny = errors.New("vellum/privacy: deny rule")

	// Skip passes the decision to the next rule.
	Skip = errors.New("vellum/privacy: skip rule")
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

// Op is the kind of write a Mutation describes.
type Op uint

// Write operations.
const (
	OpInsert Op = 1 << iota
	OpUpdate
	OpDelete
	OpUpdateMany
	OpDeleteMany
)

// Is reports whether o matches any operation of the given mask.
func (o Op) Is(mask Op) bool { return o&mask != 0 }

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "OpInsert"
	case OpUpdate:
		return "OpUpdate"
	case OpDelete:
		return "OpDelete"
	case OpUpdateMany:
		return "OpUpdateMany"
	case OpDeleteMany:
		return "OpDeleteMany"
	}
	return fmt.Sprintf("Op(%d)", uint(o))
}

type (
	// Mutation is the view of a write given to mutation rules. Flushes
	// describe one entity per mutation; bulk statements describe the
	// values they set, with a nil Key.
	Mutation interface {
		Table() string
		Op() Op
		// Key returns the primary key of the written row, nil when the
		// backend has not assigned it yet.
		Key() any
		// Field returns the value written to a column.
		Field(column string) (any, bool)
	}

	// Query is the view of a SELECT or bulk statement given to query
	// rules.
	Query interface {
		Table() string
		// WhereP ANDs the predicates to the filter of the statement.
		WhereP(preds ...sql.Expr)
	}

	// Policy decides whether queries and writes of a table are allowed.
	Policy interface {
		EvalQuery(context.Context, Query) error
		EvalMutation(context.Context, Mutation) error
	}
)

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextQueryMutationRule creates a query/mutation rule from a context
// evaluation function. A nil result is equivalent to Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

type (
	// QueryRule decides whether a query is allowed and may narrow it.
	QueryRule interface {
		EvalQuery(context.Context, Query) error
	}

	// QueryPolicy combines multiple query rules into a single policy.
	QueryPolicy []QueryRule

	// MutationRule decides whether a write is allowed.
	MutationRule interface {
		EvalMutation(context.Context, Mutation) error
	}

	// MutationPolicy combines multiple mutation rules into a single policy.
	MutationPolicy []MutationRule

	// QueryMutationRule groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// QueryRuleFunc adapts an ordinary function to a QueryRule.
type QueryRuleFunc func(context.Context, Query) error

// EvalQuery returns f(ctx, q).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, q Query) error {
	return f(ctx, q)
}

// MutationRuleFunc adapts an ordinary function to a MutationRule.
type MutationRuleFunc func(context.Context, Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m Mutation) error {
	return f(ctx, m)
}

// OnMutationOperation evaluates rule only for the operations of op.
func OnMutationOperation(rule MutationRule, op Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		if m.Op().Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// DenyMutationOperationRule returns a rule denying the operations of op.
func DenyMutationOperationRule(op Op) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m Mutation) error {
		return Denyf("vellum/privacy: operation %s on %s is not allowed", m.Op(), m.Table())
	})
	return OnMutationOperation(rule, op)
}

// AllowMutationOperationRule returns a rule allowing the operations of op.
func AllowMutationOperationRule(op Op) MutationRule {
	rule := MutationRuleFunc(func(context.Context, Mutation) error {
		return Allow
	})
	return OnMutationOperation(rule, op)
}

// Rules groups query and mutation policies. It is the usual value given
// to schema.TableSchema.Policy.
type Rules struct {
	Query    QueryPolicy
	Mutation MutationPolicy
}

// EvalQuery forwards evaluation to the query policy.
func (r Rules) EvalQuery(ctx context.Context, q Query) error {
	return r.Query.EvalQuery(ctx, q)
}

// EvalMutation forwards evaluation to the mutation policy.
func (r Rules) EvalMutation(ctx context.Context, m Mutation) error {
	return r.Mutation.EvalMutation(ctx, m)
}

// Policies combines the policies declared on one table. An Allow from
// one of them stops the evaluation with a nil error.
type Policies []Policy

// NewPolicies returns the non-nil policies as one Policy.
func NewPolicies(policies ...Policy) Policies {
	out := make(Policies, 0, len(policies))
	for _, p := range policies {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// EvalQuery evaluates the query policies.
func (policies Policies) EvalQuery(ctx context.Context, q Query) error {
	return policies.eval(ctx, func(policy Policy) error {
		return policy.EvalQuery(ctx, q)
	})
}

// EvalMutation evaluates the mutation policies.
func (policies Policies) EvalMutation(ctx context.Context, m Mutation) error {
	return policies.eval(ctx, func(policy Policy) error {
		return policy.EvalMutation(ctx, m)
	})
}

func (policies Policies) eval(ctx context.Context, eval func(Policy) error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := eval(policy); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// EvalQuery evaluates a query against a query policy.
func (policies QueryPolicy) EvalQuery(ctx context.Context, q Query) error {
	for _, policy := range policies {
		switch decision := policy.EvalQuery(ctx, q); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates a mutation against a mutation policy.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m Mutation) error {
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext returns a context carrying a decision that overrides
// every policy evaluated under it. Skip and nil return parent.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the decision attached to ctx. An Allow
// decision is returned as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, Query) error {
	return f.decision
}

func (f fixedDecision) EvalMutation(context.Context, Mutation) error {
	return f.decision
}

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ Query) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalMutation(ctx context.Context, _ Mutation) error {
	return c.eval(ctx)
}

// FilterFunc is a query rule narrowing queries with predicates built from
// the context. The predicates are ANDed to the filter and the rule
// decision is Skip unless f returns another one.
//
//	privacy.FilterFunc(func(ctx context.Context, table string) ([]sql.Expr, error) {
//	    return []sql.Expr{sql.EQ(sql.C(table, "workspace_id"), workspace(ctx))}, nil
//	})
type FilterFunc func(ctx context.Context, table string) ([]sql.Expr, error)

// EvalQuery applies the predicates of f to q.
func (f FilterFunc) EvalQuery(ctx context.Context, q Query) error {
	preds, err := f(ctx, q.Table())
	if err != nil {
		return err
	}
	q.WhereP(preds...)
	return Skip
}

var _ QueryRule = FilterFunc(nil)
