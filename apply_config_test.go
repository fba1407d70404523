package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fathomlabs/authz"
	"github.com/fathomlabs/authz/logger"
	"github.com/fathomlabs/authz/stores"
)

func memoryStores() authz.Stores {
	return authz.Stores{
		Policies:    stores.NewMemoryPolicyStore(),
		Roles:       stores.NewMemoryRoleStore(),
		Memberships: stores.NewMemoryMembershipStore(),
		Grants:      stores.NewMemoryGrantStore(),
	}
}

func TestApplyConfigSeedsStores(t *testing.T) {
	ctx := context.Background()
	st := memoryStores()
	cfg := validTestAuthzConfig()

	if err := authz.ApplyConfig(ctx, cfg, st); err != nil {
		t.Fatalf("apply: %v", err)
	}

	p, err := st.Policies.GetPolicy(ctx, "block-archived")
	if err != nil {
		t.Fatalf("policy not seeded: %v", err)
	}
	if p.Version != 1 || p.Effect != authz.EffectDeny {
		t.Fatalf("policy = %+v", p)
	}
	if _, err := st.Roles.GetRole(ctx, "viewer"); err != nil {
		t.Fatalf("role not seeded: %v", err)
	}
	roleIDs, _ := st.Memberships.ListUserRoles(ctx, "42")
	if len(roleIDs) != 1 || roleIDs[0] != "viewer" {
		t.Fatalf("memberships = %v", roleIDs)
	}
	grants, _ := st.Grants.ListGrants(ctx, "billing")
	if len(grants) != 1 || grants[0].Permission != "invoice:read" {
		t.Fatalf("grants = %+v", grants)
	}

	// a second apply updates instead of duplicating
	if err := authz.ApplyConfig(ctx, cfg, st); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	p, _ = st.Policies.GetPolicy(ctx, "block-archived")
	if p.Version != 2 {
		t.Fatalf("re-apply should go through the update path, version = %d", p.Version)
	}
	roleIDs, _ = st.Memberships.ListUserRoles(ctx, "42")
	if len(roleIDs) != 1 {
		t.Fatalf("memberships duplicated: %v", roleIDs)
	}
	grants, _ = st.Grants.ListGrants(ctx, "billing")
	if len(grants) != 1 {
		t.Fatalf("grants duplicated: %+v", grants)
	}
}

func TestApplyConfigSkipsNilStores(t *testing.T) {
	ctx := context.Background()
	st := authz.Stores{Grants: stores.NewMemoryGrantStore()}
	cfg := validTestAuthzConfig()

	if err := authz.ApplyConfig(ctx, cfg, st); err != nil {
		t.Fatalf("apply with partial stores: %v", err)
	}
	grants, _ := st.Grants.ListGrants(ctx, "billing")
	if len(grants) != 1 {
		t.Fatalf("grants = %+v", grants)
	}
}

func validTestAuthzConfig() *authz.Config {
	return authz.NewConfigBuilder().
		AddPolicy(authz.NewPolicyBuilder().Name("block-archived").Deny().
			Condition(authz.Eq("resource.status", "ARCHIVED")).Build()).
		AddRole(authz.NewRoleBuilder().ID("viewer").Name("Viewer").Permissions("document:read").Build()).
		AddMembership("42", "viewer").
		AddServiceGrant("billing", authz.Grant{Permission: "invoice:read", ResourcePattern: "billing:*"}).
		Build()
}

func TestConfigDrivenAuthorizationEndToEnd(t *testing.T) {
	yamlDoc := []byte(`
version: 1
policies:
  - name: block-archived
    effect: DENY
    condition: '{"eq":{"resource.status":"ARCHIVED"}}'
    active: true
    version: 1
roles:
  - id: viewer
    name: Viewer
    permissions:
      - document:read
memberships:
  - user_id: "42"
    role_id: viewer
services:
  - service_id: billing
    grants:
      - permission: invoice:read
        resource_pattern: "billing:*"
engine:
  combine_mode: veto
  audit_buffer: 64
`)
	cfg, err := authz.NewConfigLoader().LoadYAML(yamlDoc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	ctx := context.Background()
	st := memoryStores()
	if err := authz.ApplyConfig(ctx, cfg, st); err != nil {
		t.Fatalf("apply: %v", err)
	}

	resolver := authz.NewPermissionResolver(st.Roles, st.Memberships, logger.NewNullLogger())
	perms, err := resolver.ResolveUserPermissions(ctx, "42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	user := authz.NewUserPrincipal("42", perms, nil)

	engine := authz.NewEngine(st.Policies,
		authz.WithLogger(logger.NewNullLogger()))
	routerOpts := append(cfg.Engine.RouterOptions(),
		authz.WithEngine(engine), authz.WithRouterLogger(logger.NewNullLogger()))
	router := authz.NewRouter(routerOpts...)

	if err := router.AuthorizeResource(ctx, user, "document:read", "doc:7",
		map[string]any{"status": "DRAFT"}); err != nil {
		t.Fatalf("draft document should be readable: %v", err)
	}
	err = router.AuthorizeResource(ctx, user, "document:read", "doc:8",
		map[string]any{"status": "ARCHIVED"})
	if !errors.Is(err, authz.ErrPermissionDenied) {
		t.Fatalf("archived document should be vetoed: %v", err)
	}
}

func TestExplainRequest(t *testing.T) {
	ctx := context.Background()
	policies := stores.NewMemoryPolicyStore()
	seedPolicies(t, policies, &authz.Policy{
		Name: "block-archived", Effect: authz.EffectDeny, Active: true, Version: 1,
		Condition: `{"eq":{"resource.status":"ARCHIVED"}}`,
	})
	audits := stores.NewMemoryAuditStore()
	router := authz.NewRouter(
		authz.WithEngine(quietEngine(policies)),
		authz.WithAuditStore(audits),
		authz.WithRouterLogger(logger.NewNullLogger()),
	)

	exp, err := router.ExplainRequest(ctx, &authz.ExplainRequest{
		UserID:        "42",
		Permissions:   []string{"document:read"},
		Permission:    "document:read",
		Resource:      "doc:7",
		ResourceAttrs: map[string]any{"status": "ARCHIVED"},
	})
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if exp.Subject != "user:42" || !exp.FlatAllowed || exp.Allowed {
		t.Fatalf("explanation = %+v", exp)
	}
	if exp.Decision != authz.DecisionDeny || exp.CombineMode != "veto" {
		t.Fatalf("explanation = %+v", exp)
	}
	if len(exp.MatchedPolicies) != 1 || exp.MatchedPolicies[0] != "block-archived" {
		t.Fatalf("explanations are the one place policy names belong: %+v", exp.MatchedPolicies)
	}

	// a what-if is a preview, not access: nothing lands in the audit log
	if err := router.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, _ := audits.GetAccessLog(ctx, authz.AuditFilter{})
	if len(entries) != 0 {
		t.Fatalf("explain must not audit: %d entries", len(entries))
	}
}

func TestExplainRequestWithoutIdentity(t *testing.T) {
	router := authz.NewRouter(authz.WithRouterLogger(logger.NewNullLogger()))
	_, err := router.ExplainRequest(context.Background(), &authz.ExplainRequest{Permission: "document:read"})
	if !errors.Is(err, authz.ErrAuthenticationRequired) {
		t.Fatalf("identity-free request: %v", err)
	}
}

func TestExplainCombinedRequest(t *testing.T) {
	router := authz.NewRouter(authz.WithRouterLogger(logger.NewNullLogger()))
	exp, err := router.ExplainRequest(context.Background(), &authz.ExplainRequest{
		UserID:      "42",
		Permissions: []string{"invoice:read"},
		ServiceID:   "billing",
		Grants:      []authz.Grant{{Permission: "invoice:read", ResourcePattern: "billing:*"}},
		Permission:  "invoice:read",
		Resource:    "billing:invoice:7",
	})
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if exp.Subject != "service:billing+user:42" {
		t.Fatalf("subject = %q", exp.Subject)
	}
	if !exp.Allowed || !exp.FlatAllowed {
		t.Fatalf("both identities hold the permission: %+v", exp)
	}
}
