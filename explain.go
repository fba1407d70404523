package authz

import "context"

// ============================================================================
// EXPLAIN (admin/debug)
// ============================================================================

// ExplainRequest describes a hypothetical authorization for admin tooling.
// Principal fields mirror the token claim set so operators can pose
// "what if" questions without minting tokens.
type ExplainRequest struct {
	UserID        string         `json:"user_id,omitempty"`
	Permissions   []string       `json:"permissions,omitempty"`
	ServiceID     string         `json:"service_id,omitempty"`
	Grants        []Grant        `json:"grants,omitempty"`
	Permission    string         `json:"permission"`
	Resource      string         `json:"resource,omitempty"`
	ResourceAttrs map[string]any `json:"resource_attrs,omitempty"`
	ContextAttrs  map[string]any `json:"context_attrs,omitempty"`
}

// Principal builds the principal variant the request describes, or nil when
// it names no identity.
func (req *ExplainRequest) Principal() Principal {
	var user *UserPrincipal
	var svc *ServicePrincipal
	if req.UserID != "" {
		user = NewUserPrincipal(req.UserID, NewPermissionSet(req.Permissions...), nil)
	}
	if req.ServiceID != "" {
		svc = NewServicePrincipal(req.ServiceID, req.Grants, nil)
	}
	switch {
	case user != nil && svc != nil:
		combined, _ := NewCombinedPrincipal(user, svc)
		return combined
	case user != nil:
		return user
	case svc != nil:
		return svc
	}
	return nil
}

// Explanation is the full decision breakdown. It names matched policies and
// is for operators only, never for API clients.
type Explanation struct {
	Subject         string   `json:"subject"`
	Permission      string   `json:"permission"`
	Resource        string   `json:"resource,omitempty"`
	FlatAllowed     bool     `json:"flat_allowed"`
	Decision        Decision `json:"decision,omitempty"`
	MatchedPolicies []string `json:"matched_policies,omitempty"`
	CombineMode     string   `json:"combine_mode"`
	Allowed         bool     `json:"allowed"`
	Reason          string   `json:"reason"`
	EngineError     string   `json:"engine_error,omitempty"`
}

// Explain runs the same decision path as Authorize but reports every
// intermediate instead of collapsing to an error. No audit entry is
// emitted: explanations are previews, not access.
func (r *Router) Explain(ctx context.Context, p Principal, permission, resource string, resourceAttrs map[string]any) (*Explanation, error) {
	if p == nil {
		return nil, ErrAuthenticationRequired
	}
	out, err := r.decide(ctx, p, permission, resource, resourceAttrs)
	if err != nil {
		return nil, err
	}
	exp := &Explanation{
		Subject:         p.Subject(),
		Permission:      permission,
		Resource:        resource,
		FlatAllowed:     out.flatOK,
		Decision:        out.decision,
		MatchedPolicies: out.matched,
		CombineMode:     r.mode.String(),
		Allowed:         out.allowed,
		Reason:          out.reason,
	}
	if out.engineErr != nil {
		exp.EngineError = out.engineErr.Error()
	}
	return exp, nil
}

// ExplainRequest resolves the request into a principal and explains it.
func (r *Router) ExplainRequest(ctx context.Context, req *ExplainRequest) (*Explanation, error) {
	ctx = ContextWithAttributes(ctx, req.ContextAttrs)
	return r.Explain(ctx, req.Principal(), req.Permission, req.Resource, req.ResourceAttrs)
}
