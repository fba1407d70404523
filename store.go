package authz

import "context"

// ============================================================================
// STORE INTERFACES
// ============================================================================

// PolicyReader is the narrow dependency the decision engine consumes: one
// point-in-time read of the active policy set. Ordering is the store's
// choice but must be stable so matched-policy lists stay deterministic.
type PolicyReader interface {
	FindActivePolicies(ctx context.Context) ([]Policy, error)
}

// PolicyStore adds management operations on top of PolicyReader.
// UpdatePolicy bumps Version past the stored one through the passed
// pointer, so condition caches keyed by version pick up the new text.
type PolicyStore interface {
	PolicyReader
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, name string) error
	GetPolicy(ctx context.Context, name string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
}

// PolicyHistoryStore is implemented by stores that keep an append-only
// trail of every policy version written.
type PolicyHistoryStore interface {
	GetPolicyHistory(ctx context.Context, name string) ([]Policy, error)
}

// RoleStore manages role persistence.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id string) error
	GetRole(ctx context.Context, id string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
}

// MembershipStore maps users to role IDs.
type MembershipStore interface {
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	ListUserRoles(ctx context.Context, userID string) ([]string, error)
}

// GrantStore holds the directly-assigned permissions of service principals.
type GrantStore interface {
	GrantPermission(ctx context.Context, serviceID string, g Grant) error
	RevokePermission(ctx context.Context, serviceID, permission string) error
	ListGrants(ctx context.Context, serviceID string) ([]Grant, error)
}

// AuditStore records authorization decisions.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}
