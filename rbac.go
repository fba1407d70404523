package authz

import (
	"context"
	"sync"
	"time"

	"github.com/fathomlabs/authz/logger"
)

// ============================================================================
// RBAC RESOLUTION
// ============================================================================

// Role is a named permission collection. Inherits lists parent role IDs;
// inheritance may contain cycles and resolution must not loop on them.
type Role struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Permissions []string  `json:"permissions" yaml:"permissions"`
	Inherits    []string  `json:"inherits,omitempty" yaml:"inherits,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// PermissionResolver flattens a user's role memberships into the permission
// set carried on the principal. It runs at authentication time, not per
// authorization check.
type PermissionResolver struct {
	roles       RoleStore
	memberships MembershipStore
	roleCache   sync.Map // role ID -> *Role
	log         logger.Logger
}

func NewPermissionResolver(roles RoleStore, memberships MembershipStore, log logger.Logger) *PermissionResolver {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &PermissionResolver{roles: roles, memberships: memberships, log: log}
}

// ResolveUserPermissions unions the permissions of every role the user
// holds, walking inheritance with a visited guard. A role that fails to
// load is skipped with a warning; membership read failures surface.
func (r *PermissionResolver) ResolveUserPermissions(ctx context.Context, userID string) (PermissionSet, error) {
	roleIDs, err := r.memberships.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := NewPermissionSet()
	visited := make(map[string]bool)
	for _, id := range roleIDs {
		r.collectRolePermissions(ctx, id, set, visited)
	}
	return set, nil
}

func (r *PermissionResolver) collectRolePermissions(ctx context.Context, roleID string, set PermissionSet, visited map[string]bool) {
	if visited[roleID] {
		return
	}
	visited[roleID] = true

	role, err := r.getRoleWithCache(ctx, roleID)
	if err != nil {
		r.log.Warn("role lookup failed during permission resolution", "role", roleID, "error", err.Error())
		return
	}
	set.Add(role.Permissions...)
	for _, parentID := range role.Inherits {
		r.collectRolePermissions(ctx, parentID, set, visited)
	}
}

func (r *PermissionResolver) getRoleWithCache(ctx context.Context, roleID string) (*Role, error) {
	if cached, ok := r.roleCache.Load(roleID); ok {
		return cached.(*Role), nil
	}
	role, err := r.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	r.roleCache.Store(roleID, role)
	return role, nil
}

// InvalidateRoles drops the role cache, e.g. after role edits.
func (r *PermissionResolver) InvalidateRoles() {
	r.roleCache.Clear()
}
