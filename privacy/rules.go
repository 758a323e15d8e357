package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/vellum/dialect/sql"
)

// Viewer represents the authenticated user making a request.
type Viewer interface {
	GetID() string
	GetRoles() []string
	// GetTenantID returns the tenant of the viewer, empty when the
	// application has no tenants.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic Viewer.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

func (v *SimpleViewer) GetID() string       { return v.UserID }
func (v *SimpleViewer) GetRoles() []string  { return v.Roles }
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer returns a rule denying access when the context carries
// no viewer. It usually comes first:
//
//	privacy.Rules{
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.HasRole("admin"),
//	        privacy.AlwaysDenyRule(),
//	    },
//	}
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("vellum/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule allowing viewers with the given role.
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule allowing viewers with one of the roles.
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a mutation rule allowing writes whose column holds the
// ID of the viewer.
func IsOwner(column string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		v, ok := m.Field(column)
		if !ok || v == nil {
			return Skip
		}
		if idString(v) == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// OwnerQueryRule returns a query rule restricting queries to the rows
// whose column holds the ID of the viewer. Queries without a viewer are
// denied.
func OwnerQueryRule(column string) QueryRule {
	return QueryRuleFunc(func(ctx context.Context, q Query) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("vellum/privacy: viewer required for owner-filtered query")
		}
		q.WhereP(sql.EQ(sql.C(q.Table(), column), viewer.GetID()))
		return Skip
	})
}

// TenantRule returns a mutation rule comparing the tenant column of a
// write with the tenant of the viewer. A mismatch is denied.
func TenantRule(column string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		v, ok := m.Field(column)
		if !ok {
			return Skip
		}
		if idString(v) == viewer.GetTenantID() {
			return Allow
		}
		return Denyf("vellum/privacy: tenant mismatch on %s", m.Table())
	})
}

// TenantQueryRule returns a query rule restricting queries to the rows
// of the tenant of the viewer. Queries without a viewer or a tenant are
// denied.
func TenantQueryRule(column string) QueryRule {
	return QueryRuleFunc(func(ctx context.Context, q Query) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("vellum/privacy: viewer required for tenant-filtered query")
		}
		if viewer.GetTenantID() == "" {
			return Denyf("vellum/privacy: tenant required")
		}
		q.WhereP(sql.EQ(sql.C(q.Table(), column), viewer.GetTenantID()))
		return Skip
	})
}

func idString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
