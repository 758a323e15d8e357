// Package privacy provides the rules a table declares to guard the
// queries and writes of a session, and their evaluation at runtime.
//
// A table declares its policy with schema.TableSchema.Policy:
//
//	vschema.Table("orders", ...).Policy(privacy.Rules{
//	    Query: privacy.QueryPolicy{
//	        privacy.HasRole("admin"),
//	        privacy.OwnerQueryRule("user_id"),
//	    },
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.DenyMutationOperationRule(privacy.OpDeleteMany),
//	        privacy.IsOwner("user_id"),
//	        privacy.AlwaysDenyRule(),
//	    },
//	})
//
// Rules are evaluated in order until one returns a decision other than
// Skip. Allow grants access, Deny or any other error rejects it, and a
// policy that runs out of rules allows the operation.
//
// Query rules run before every SELECT and bulk statement of the table
// and may narrow it through Query.WhereP. Mutation rules run during a
// flush, for every inserted, updated and deleted entity, before any
// statement is sent, so a denied write leaves the transaction untouched.
//
// A decision attached with DecisionContext overrides every policy
// evaluated under the context:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
package privacy
