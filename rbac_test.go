package authz_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/fathomlabs/authz"
	"github.com/fathomlabs/authz/logger"
	"github.com/fathomlabs/authz/stores"
)

func seedRoles(t *testing.T, rs authz.RoleStore, roles ...*authz.Role) {
	t.Helper()
	ctx := context.Background()
	for _, r := range roles {
		if err := rs.CreateRole(ctx, r); err != nil {
			t.Fatalf("seed role %s: %v", r.ID, err)
		}
	}
}

func TestResolveUserPermissionsUnion(t *testing.T) {
	ctx := context.Background()
	roles := stores.NewMemoryRoleStore()
	members := stores.NewMemoryMembershipStore()
	seedRoles(t, roles,
		&authz.Role{ID: "viewer", Permissions: []string{"document:read"}},
		&authz.Role{ID: "auditor", Permissions: []string{"audit:read", "document:read"}},
	)
	_ = members.AssignRole(ctx, "42", "viewer")
	_ = members.AssignRole(ctx, "42", "auditor")

	resolver := authz.NewPermissionResolver(roles, members, logger.NewNullLogger())
	set, err := resolver.ResolveUserPermissions(ctx, "42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"audit:read", "document:read"}
	if got := set.Slice(); !reflect.DeepEqual(got, want) {
		t.Fatalf("permissions = %v, want %v", got, want)
	}
}

func TestResolveWalksInheritance(t *testing.T) {
	ctx := context.Background()
	roles := stores.NewMemoryRoleStore()
	members := stores.NewMemoryMembershipStore()
	seedRoles(t, roles,
		&authz.Role{ID: "viewer", Permissions: []string{"document:read"}},
		&authz.Role{ID: "editor", Permissions: []string{"document:write"}, Inherits: []string{"viewer"}},
		&authz.Role{ID: "admin", Permissions: []string{"document:delete"}, Inherits: []string{"editor"}},
	)
	_ = members.AssignRole(ctx, "42", "admin")

	resolver := authz.NewPermissionResolver(roles, members, logger.NewNullLogger())
	set, err := resolver.ResolveUserPermissions(ctx, "42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"document:delete", "document:read", "document:write"}
	if got := set.Slice(); !reflect.DeepEqual(got, want) {
		t.Fatalf("inherited permissions = %v, want %v", got, want)
	}
}

func TestResolveTerminatesOnInheritanceCycle(t *testing.T) {
	ctx := context.Background()
	roles := stores.NewMemoryRoleStore()
	members := stores.NewMemoryMembershipStore()
	seedRoles(t, roles,
		&authz.Role{ID: "a", Permissions: []string{"perm:a"}, Inherits: []string{"b"}},
		&authz.Role{ID: "b", Permissions: []string{"perm:b"}, Inherits: []string{"a"}},
	)
	_ = members.AssignRole(ctx, "42", "a")

	resolver := authz.NewPermissionResolver(roles, members, logger.NewNullLogger())
	set, err := resolver.ResolveUserPermissions(ctx, "42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"perm:a", "perm:b"}
	if got := set.Slice(); !reflect.DeepEqual(got, want) {
		t.Fatalf("cycle union = %v, want %v", got, want)
	}
}

func TestResolveSkipsMissingRoles(t *testing.T) {
	ctx := context.Background()
	roles := stores.NewMemoryRoleStore()
	members := stores.NewMemoryMembershipStore()
	seedRoles(t, roles, &authz.Role{ID: "viewer", Permissions: []string{"document:read"}})
	_ = members.AssignRole(ctx, "42", "viewer")
	_ = members.AssignRole(ctx, "42", "ghost")

	resolver := authz.NewPermissionResolver(roles, members, logger.NewNullLogger())
	set, err := resolver.ResolveUserPermissions(ctx, "42")
	if err != nil {
		t.Fatalf("a dangling membership must not fail resolution: %v", err)
	}
	if got := set.Slice(); !reflect.DeepEqual(got, []string{"document:read"}) {
		t.Fatalf("permissions = %v", got)
	}
}

type failingMemberships struct{ err error }

func (f *failingMemberships) AssignRole(ctx context.Context, userID, roleID string) error { return nil }
func (f *failingMemberships) RevokeRole(ctx context.Context, userID, roleID string) error { return nil }
func (f *failingMemberships) ListUserRoles(ctx context.Context, userID string) ([]string, error) {
	return nil, f.err
}

func TestResolveSurfacesMembershipErrors(t *testing.T) {
	backendErr := errors.New("membership backend down")
	resolver := authz.NewPermissionResolver(stores.NewMemoryRoleStore(), &failingMemberships{err: backendErr}, logger.NewNullLogger())
	if _, err := resolver.ResolveUserPermissions(context.Background(), "42"); !errors.Is(err, backendErr) {
		t.Fatalf("membership failure must surface: %v", err)
	}
}

func TestResolverRoleCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	roles := stores.NewMemoryRoleStore()
	members := stores.NewMemoryMembershipStore()
	seedRoles(t, roles, &authz.Role{ID: "viewer", Permissions: []string{"document:read"}})
	_ = members.AssignRole(ctx, "42", "viewer")

	resolver := authz.NewPermissionResolver(roles, members, logger.NewNullLogger())
	if _, err := resolver.ResolveUserPermissions(ctx, "42"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	_ = roles.UpdateRole(ctx, &authz.Role{ID: "viewer", Permissions: []string{"document:read", "document:export"}})

	set, _ := resolver.ResolveUserPermissions(ctx, "42")
	if set.Has("document:export") {
		t.Fatal("cached role should still serve until invalidation")
	}
	resolver.InvalidateRoles()
	set, _ = resolver.ResolveUserPermissions(ctx, "42")
	if !set.Has("document:export") {
		t.Fatal("invalidation should pick up the updated role")
	}
}
