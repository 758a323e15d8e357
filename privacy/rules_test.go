package privacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/privacy"
)

func withViewer(id string, tenant string, roles ...string) context.Context {
	return privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: id, TenantID: tenant, Roles: roles})
}

func TestViewerContext(t *testing.T) {
	assert.Nil(t, privacy.ViewerFromContext(context.Background()))
	v := privacy.ViewerFromContext(withViewer("42", "acme", "admin"))
	require.NotNil(t, v)
	assert.Equal(t, "42", v.GetID())
	assert.Equal(t, "acme", v.GetTenantID())
	assert.Equal(t, []string{"admin"}, v.GetRoles())
}

func TestDenyIfNoViewer(t *testing.T) {
	rule := privacy.DenyIfNoViewer()
	assert.ErrorIs(t, rule.EvalQuery(context.Background(), &mockQuery{}), privacy.Deny)
	assert.ErrorIs(t, rule.EvalMutation(context.Background(), &mockMutation{}), privacy.Deny)
	assert.ErrorIs(t, rule.EvalMutation(withViewer("1", ""), &mockMutation{}), privacy.Skip)
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		rule privacy.QueryMutationRule
		want error
	}{
		{"no viewer", context.Background(), privacy.HasRole("admin"), privacy.Skip},
		{"has role", withViewer("1", "", "editor", "admin"), privacy.HasRole("admin"), privacy.Allow},
		{"lacks role", withViewer("1", "", "editor"), privacy.HasRole("admin"), privacy.Skip},
		{"any role", withViewer("1", "", "moderator"), privacy.HasAnyRole("admin", "moderator"), privacy.Allow},
		{"no roles given", withViewer("1", "", "admin"), privacy.HasAnyRole(), privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.rule.EvalQuery(tt.ctx, &mockQuery{}), tt.want)
			assert.ErrorIs(t, tt.rule.EvalMutation(tt.ctx, &mockMutation{}), tt.want)
		})
	}
}

func TestIsOwner(t *testing.T) {
	rule := privacy.IsOwner("user_id")
	tests := []struct {
		name   string
		ctx    context.Context
		fields map[string]any
		want   error
	}{
		{"no viewer", context.Background(), map[string]any{"user_id": int64(7)}, privacy.Skip},
		{"int64 owner", withViewer("7", ""), map[string]any{"user_id": int64(7)}, privacy.Allow},
		{"string owner", withViewer("7", ""), map[string]any{"user_id": "7"}, privacy.Allow},
		{"other owner", withViewer("8", ""), map[string]any{"user_id": int64(7)}, privacy.Skip},
		{"column not written", withViewer("7", ""), map[string]any{"body": "x"}, privacy.Skip},
		{"nil owner", withViewer("7", ""), map[string]any{"user_id": nil}, privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.EvalMutation(tt.ctx, &mockMutation{table: "orders", op: privacy.OpInsert, fields: tt.fields})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOwnerQueryRule(t *testing.T) {
	rule := privacy.OwnerQueryRule("user_id")
	q := &mockQuery{table: "orders"}
	assert.ErrorIs(t, rule.EvalQuery(context.Background(), q), privacy.Deny)
	assert.Empty(t, q.preds)

	assert.ErrorIs(t, rule.EvalQuery(withViewer("7", ""), q), privacy.Skip)
	require.Len(t, q.preds, 1)
	b, ok := q.preds[0].(*sql.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, sql.OpEQ, b.Op())
	cols := sql.Columns(b)
	require.Len(t, cols, 1)
	assert.Equal(t, "orders", cols[0].Table())
	assert.Equal(t, "user_id", cols[0].Name())
}

func TestTenantRule(t *testing.T) {
	rule := privacy.TenantRule("tenant_id")
	tests := []struct {
		name   string
		ctx    context.Context
		fields map[string]any
		want   error
	}{
		{"no viewer", context.Background(), map[string]any{"tenant_id": "acme"}, privacy.Skip},
		{"viewer without tenant", withViewer("1", ""), map[string]any{"tenant_id": "acme"}, privacy.Skip},
		{"same tenant", withViewer("1", "acme"), map[string]any{"tenant_id": "acme"}, privacy.Allow},
		{"numeric tenant", withViewer("1", "12"), map[string]any{"tenant_id": int64(12)}, privacy.Allow},
		{"other tenant", withViewer("1", "acme"), map[string]any{"tenant_id": "globex"}, privacy.Deny},
		{"column not written", withViewer("1", "acme"), map[string]any{}, privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.EvalMutation(tt.ctx, &mockMutation{table: "orders", op: privacy.OpUpdate, fields: tt.fields})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTenantQueryRule(t *testing.T) {
	rule := privacy.TenantQueryRule("tenant_id")
	assert.ErrorIs(t, rule.EvalQuery(context.Background(), &mockQuery{table: "orders"}), privacy.Deny)
	assert.ErrorIs(t, rule.EvalQuery(withViewer("1", ""), &mockQuery{table: "orders"}), privacy.Deny)
	q := &mockQuery{table: "orders"}
	assert.ErrorIs(t, rule.EvalQuery(withViewer("1", "acme"), q), privacy.Skip)
	assert.Len(t, q.preds, 1)
}

func TestPolicyChain(t *testing.T) {
	policy := privacy.NewPolicies(privacy.Rules{
		Query: privacy.QueryPolicy{
			privacy.HasRole("admin"),
			privacy.TenantQueryRule("tenant_id"),
		},
		Mutation: privacy.MutationPolicy{
			privacy.DenyIfNoViewer(),
			privacy.DenyMutationOperationRule(privacy.OpDeleteMany),
			privacy.HasRole("admin"),
			privacy.TenantRule("tenant_id"),
			privacy.AlwaysDenyRule(),
		},
	})
	insert := func(tenant string) privacy.Mutation {
		return &mockMutation{table: "orders", op: privacy.OpInsert, fields: map[string]any{"tenant_id": tenant}}
	}

	assert.ErrorIs(t, policy.EvalMutation(context.Background(), insert("acme")), privacy.Deny)
	assert.NoError(t, policy.EvalMutation(withViewer("1", "acme"), insert("acme")))
	assert.ErrorIs(t, policy.EvalMutation(withViewer("1", "acme"), insert("globex")), privacy.Deny)
	assert.NoError(t, policy.EvalMutation(withViewer("1", "", "admin"), insert("globex")))
	assert.ErrorIs(t, policy.EvalMutation(withViewer("1", "", "admin"), &mockMutation{op: privacy.OpDeleteMany}), privacy.Deny)

	admin := &mockQuery{table: "orders"}
	assert.NoError(t, policy.EvalQuery(withViewer("1", "", "admin"), admin))
	assert.Empty(t, admin.preds, "admins see every tenant")
	member := &mockQuery{table: "orders"}
	assert.NoError(t, policy.EvalQuery(withViewer("2", "acme"), member))
	assert.Len(t, member.preds, 1)
}
