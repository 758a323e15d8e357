package privacy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/privacy"
)

type mockMutation struct {
	table  string
	op     privacy.Op
	key    any
	fields map[string]any
}

func (m *mockMutation) Table() string  { return m.table }
func (m *mockMutation) Op() privacy.Op { return m.op }
func (m *mockMutation) Key() any       { return m.key }

func (m *mockMutation) Field(name string) (any, bool) {
	v, ok := m.fields[name]
	return v, ok
}

type mockQuery struct {
	table string
	preds []sql.Expr
}

func (q *mockQuery) Table() string            { return q.table }
func (q *mockQuery) WhereP(preds ...sql.Expr) { q.preds = append(q.preds, preds...) }

func TestDecisionErrors(t *testing.T) {
	tests := []struct {
		name      string
		decision  error
		wantAllow bool
		wantDeny  bool
		wantSkip  bool
	}{
		{name: "allow", decision: privacy.Allow, wantAllow: true},
		{name: "deny", decision: privacy.Deny, wantDeny: true},
		{name: "skip", decision: privacy.Skip, wantSkip: true},
		{name: "allowf", decision: privacy.Allowf("user %s allowed", "admin"), wantAllow: true},
		{name: "denyf", decision: privacy.Denyf("user %s denied", "guest"), wantDeny: true},
		{name: "skipf", decision: privacy.Skipf("rule %d skipped", 1), wantSkip: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAllow, errors.Is(tt.decision, privacy.Allow))
			assert.Equal(t, tt.wantDeny, errors.Is(tt.decision, privacy.Deny))
			assert.Equal(t, tt.wantSkip, errors.Is(tt.decision, privacy.Skip))
		})
	}
	assert.Contains(t, privacy.Denyf("user %s denied", "guest").Error(), "user guest denied")
}

func TestOp(t *testing.T) {
	assert.True(t, privacy.OpInsert.Is(privacy.OpInsert|privacy.OpUpdate))
	assert.False(t, privacy.OpDelete.Is(privacy.OpInsert|privacy.OpUpdate))
	assert.True(t, privacy.OpDeleteMany.Is(privacy.OpDelete|privacy.OpDeleteMany))
	assert.Equal(t, "OpUpdateMany", privacy.OpUpdateMany.String())
	assert.Equal(t, "Op(64)", privacy.Op(64).String())
}

func TestAlwaysRules(t *testing.T) {
	ctx := context.Background()
	allow, deny := privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()
	assert.ErrorIs(t, allow.EvalQuery(ctx, &mockQuery{}), privacy.Allow)
	assert.ErrorIs(t, allow.EvalMutation(ctx, &mockMutation{}), privacy.Allow)
	assert.ErrorIs(t, deny.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
	assert.ErrorIs(t, deny.EvalMutation(ctx, &mockMutation{}), privacy.Deny)
}

type ctxKey struct{}

func TestContextQueryMutationRule(t *testing.T) {
	rule := privacy.ContextQueryMutationRule(func(ctx context.Context) error {
		if ctx.Value(ctxKey{}) != nil {
			return privacy.Allow
		}
		return privacy.Deny
	})
	ctx := context.Background()
	assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
	assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), privacy.Deny)
	ctx = context.WithValue(ctx, ctxKey{}, true)
	assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Allow)
	assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), privacy.Allow)
}

func TestMutationOperationRules(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		rule privacy.MutationRule
		op   privacy.Op
		want error
	}{
		{"deny matching", privacy.DenyMutationOperationRule(privacy.OpDelete | privacy.OpDeleteMany), privacy.OpDeleteMany, privacy.Deny},
		{"deny other", privacy.DenyMutationOperationRule(privacy.OpDelete), privacy.OpUpdate, privacy.Skip},
		{"allow matching", privacy.AllowMutationOperationRule(privacy.OpInsert), privacy.OpInsert, privacy.Allow},
		{"allow other", privacy.AllowMutationOperationRule(privacy.OpInsert), privacy.OpUpdateMany, privacy.Skip},
		{"on operation", privacy.OnMutationOperation(privacy.AlwaysDenyRule(), privacy.OpUpdate), privacy.OpUpdate, privacy.Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.EvalMutation(ctx, &mockMutation{table: "notes", op: tt.op})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	err := privacy.DenyMutationOperationRule(privacy.OpDelete).EvalMutation(ctx, &mockMutation{table: "notes", op: privacy.OpDelete})
	assert.Contains(t, err.Error(), "operation OpDelete on notes is not allowed")
}

func TestQueryPolicy(t *testing.T) {
	ctx := context.Background()
	var calls []string
	rule := func(name string, decision error) privacy.QueryRule {
		return privacy.QueryRuleFunc(func(context.Context, privacy.Query) error {
			calls = append(calls, name)
			return decision
		})
	}

	t.Run("first decision wins", func(t *testing.T) {
		calls = nil
		p := privacy.QueryPolicy{rule("a", privacy.Skip), rule("b", nil), rule("c", privacy.Deny), rule("d", privacy.Allow)}
		assert.ErrorIs(t, p.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
		assert.Equal(t, []string{"a", "b", "c"}, calls)
	})
	t.Run("all skip", func(t *testing.T) {
		calls = nil
		p := privacy.QueryPolicy{rule("a", privacy.Skip), rule("b", privacy.Skipf("later"))}
		assert.NoError(t, p.EvalQuery(ctx, &mockQuery{}))
		assert.Len(t, calls, 2)
	})
	t.Run("other errors stop", func(t *testing.T) {
		boom := errors.New("boom")
		p := privacy.QueryPolicy{rule("a", boom), rule("b", privacy.Allow)}
		assert.ErrorIs(t, p.EvalQuery(ctx, &mockQuery{}), boom)
	})
}

func TestMutationPolicy(t *testing.T) {
	ctx := context.Background()
	p := privacy.MutationPolicy{
		privacy.MutationRuleFunc(func(_ context.Context, m privacy.Mutation) error {
			if v, ok := m.Field("locked"); ok && v == true {
				return privacy.Denyf("%s is locked", m.Table())
			}
			return privacy.Skip
		}),
		privacy.AlwaysAllowRule(),
	}
	assert.ErrorIs(t, p.EvalMutation(ctx, &mockMutation{table: "notes"}), privacy.Allow)
	err := p.EvalMutation(ctx, &mockMutation{table: "notes", fields: map[string]any{"locked": true}})
	assert.ErrorIs(t, err, privacy.Deny)
	assert.Contains(t, err.Error(), "notes is locked")
}

func TestPolicies(t *testing.T) {
	ctx := context.Background()
	skip := privacy.Rules{}
	allow := privacy.Rules{
		Query:    privacy.QueryPolicy{privacy.AlwaysAllowRule()},
		Mutation: privacy.MutationPolicy{privacy.AlwaysAllowRule()},
	}
	deny := privacy.Rules{
		Query:    privacy.QueryPolicy{privacy.AlwaysDenyRule()},
		Mutation: privacy.MutationPolicy{privacy.AlwaysDenyRule()},
	}

	tests := []struct {
		name     string
		policies privacy.Policies
		want     error
	}{
		{"empty", privacy.NewPolicies(), nil},
		{"nil policies are dropped", privacy.NewPolicies(nil, skip, nil), nil},
		{"allow stops", privacy.NewPolicies(skip, allow, deny), nil},
		{"deny stops", privacy.NewPolicies(skip, deny, allow), privacy.Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qerr := tt.policies.EvalQuery(ctx, &mockQuery{})
			merr := tt.policies.EvalMutation(ctx, &mockMutation{})
			if tt.want == nil {
				assert.NoError(t, qerr)
				assert.NoError(t, merr)
				return
			}
			assert.ErrorIs(t, qerr, tt.want)
			assert.ErrorIs(t, merr, tt.want)
		})
	}
	assert.Len(t, privacy.NewPolicies(nil, skip, nil), 1)
}

func TestDecisionContext(t *testing.T) {
	ctx := context.Background()
	_, ok := privacy.DecisionFromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, ctx, privacy.DecisionContext(ctx, nil))
	assert.Equal(t, ctx, privacy.DecisionContext(ctx, privacy.Skip))

	allowed := privacy.DecisionContext(ctx, privacy.Allowf("migration"))
	decision, ok := privacy.DecisionFromContext(allowed)
	assert.True(t, ok)
	assert.NoError(t, decision)

	denied := privacy.DecisionContext(ctx, privacy.Deny)
	decision, ok = privacy.DecisionFromContext(denied)
	assert.True(t, ok)
	assert.ErrorIs(t, decision, privacy.Deny)

	policies := privacy.NewPolicies(privacy.Rules{
		Query:    privacy.QueryPolicy{privacy.AlwaysDenyRule()},
		Mutation: privacy.MutationPolicy{privacy.AlwaysDenyRule()},
	})
	assert.NoError(t, policies.EvalQuery(allowed, &mockQuery{}), "the context decision overrides the rules")
	assert.NoError(t, policies.EvalMutation(allowed, &mockMutation{}))

	open := privacy.NewPolicies(privacy.Rules{})
	assert.ErrorIs(t, open.EvalMutation(denied, &mockMutation{}), privacy.Deny)
}

func TestFilterFunc(t *testing.T) {
	ctx := context.Background()
	f := privacy.FilterFunc(func(_ context.Context, table string) ([]sql.Expr, error) {
		return []sql.Expr{sql.EQ(sql.C(table, "workspace_id"), 7)}, nil
	})
	q := &mockQuery{table: "notes"}
	assert.ErrorIs(t, f.EvalQuery(ctx, q), privacy.Skip)
	require.Len(t, q.preds, 1)
	cols := sql.Columns(q.preds[0])
	require.Len(t, cols, 1)
	assert.Equal(t, "notes", cols[0].Table())
	assert.Equal(t, "workspace_id", cols[0].Name())

	failing := privacy.FilterFunc(func(context.Context, string) ([]sql.Expr, error) {
		return nil, privacy.Denyf("no workspace")
	})
	q = &mockQuery{table: "notes"}
	assert.ErrorIs(t, failing.EvalQuery(ctx, q), privacy.Deny)
	assert.Empty(t, q.preds)
}
