package authz

import (
	"fmt"
	"sort"

	"github.com/fathomlabs/authz/utils"
)

// ============================================================================
// PRINCIPALS
// ============================================================================

// PermissionSet is the precomputed flat permission set of a user principal,
// resolved from role memberships at authentication time.
type PermissionSet map[string]struct{}

func NewPermissionSet(perms ...string) PermissionSet {
	s := make(PermissionSet, len(perms))
	s.Add(perms...)
	return s
}

func (s PermissionSet) Add(perms ...string) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

func (s PermissionSet) Merge(o PermissionSet) {
	for p := range o {
		s[p] = struct{}{}
	}
}

// Slice returns the permissions sorted, for stable logs and attributes.
func (s PermissionSet) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Grant is a directly-assigned service permission, optionally scoped to a
// resource pattern such as "inventory:product:*".
type Grant struct {
	Permission      string `json:"permission" yaml:"permission"`
	ResourcePattern string `json:"resource_pattern,omitempty" yaml:"resource_pattern,omitempty"`
}

type GrantSet []Grant

// Allows reports whether the set covers permission for resource. An empty
// pattern is unscoped. A resource-less check ignores patterns: holding the
// permission under any scope satisfies it.
func (g GrantSet) Allows(permission, resource string) bool {
	for _, gr := range g {
		if gr.Permission != permission {
			continue
		}
		if gr.ResourcePattern == "" || resource == "" {
			return true
		}
		if utils.Match(resource, gr.ResourcePattern) {
			return true
		}
	}
	return false
}

// Permissions returns the distinct permission names in the set, sorted.
func (g GrantSet) Permissions() []string {
	set := NewPermissionSet()
	for _, gr := range g {
		set.Add(gr.Permission)
	}
	return set.Slice()
}

// Principal is the verified caller identity the router dispatches on. The
// variant set is closed: user, service, or both combined.
type Principal interface {
	// Subject is the audit/log label, e.g. "user:42" or "service:billing".
	Subject() string
	// SubjectAttributes feeds the "subject" namespace of condition
	// evaluation: identity fields, permission names, and token claims.
	SubjectAttributes() map[string]any

	sealedPrincipal()
}

// UserPrincipal is a human caller with an RBAC-resolved permission set.
type UserPrincipal struct {
	UserID      string
	Permissions PermissionSet
	Claims      map[string]any
}

func NewUserPrincipal(userID string, perms PermissionSet, claims map[string]any) *UserPrincipal {
	if perms == nil {
		perms = NewPermissionSet()
	}
	return &UserPrincipal{UserID: userID, Permissions: perms, Claims: claims}
}

func (u *UserPrincipal) Subject() string { return "user:" + u.UserID }

func (u *UserPrincipal) SubjectAttributes() map[string]any {
	attrs := make(map[string]any, len(u.Claims)+2)
	for k, v := range u.Claims {
		attrs[k] = v
	}
	attrs["userId"] = u.UserID
	attrs["permissions"] = u.Permissions.Slice()
	return attrs
}

func (u *UserPrincipal) sealedPrincipal() {}

// ServicePrincipal is a machine caller with directly-assigned grants.
type ServicePrincipal struct {
	ServiceID string
	Grants    GrantSet
	Claims    map[string]any
}

func NewServicePrincipal(serviceID string, grants GrantSet, claims map[string]any) *ServicePrincipal {
	return &ServicePrincipal{ServiceID: serviceID, Grants: grants, Claims: claims}
}

func (s *ServicePrincipal) Subject() string { return "service:" + s.ServiceID }

func (s *ServicePrincipal) SubjectAttributes() map[string]any {
	attrs := make(map[string]any, len(s.Claims)+2)
	for k, v := range s.Claims {
		attrs[k] = v
	}
	attrs["serviceId"] = s.ServiceID
	attrs["permissions"] = s.Grants.Permissions()
	return attrs
}

func (s *ServicePrincipal) sealedPrincipal() {}

// CombinedPrincipal is a service call carrying a propagated user context.
// Authorization applies AND semantics: both identities must pass.
type CombinedPrincipal struct {
	User    *UserPrincipal
	Service *ServicePrincipal
}

func NewCombinedPrincipal(user *UserPrincipal, service *ServicePrincipal) (*CombinedPrincipal, error) {
	if user == nil || service == nil {
		return nil, fmt.Errorf("combined principal requires both identities")
	}
	return &CombinedPrincipal{User: user, Service: service}, nil
}

func (c *CombinedPrincipal) Subject() string {
	return c.Service.Subject() + "+" + c.User.Subject()
}

// SubjectAttributes merges both identities; user claims win on key clashes
// and the permission list is the union of both sides.
func (c *CombinedPrincipal) SubjectAttributes() map[string]any {
	attrs := c.Service.SubjectAttributes()
	for k, v := range c.User.SubjectAttributes() {
		attrs[k] = v
	}
	merged := NewPermissionSet(c.User.Permissions.Slice()...)
	merged.Add(c.Service.Grants.Permissions()...)
	attrs["permissions"] = merged.Slice()
	return attrs
}

func (c *CombinedPrincipal) sealedPrincipal() {}
