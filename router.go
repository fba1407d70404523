package authz

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fathomlabs/authz/logger"
)

// ============================================================================
// PERMISSION ROUTER
// ============================================================================

// CombineMode selects how engine decisions layer onto the flat permission
// check. The mode is a deployment choice, not a per-call flag.
type CombineMode uint8

const (
	// CombineVeto requires the flat check to pass and lets a DENY decision
	// veto it; an ALLOW decision on its own grants nothing.
	CombineVeto CombineMode = iota
	// CombineOverride lets an engine decision replace the flat result;
	// with no decision the flat result stands. DENY still always wins.
	CombineOverride
)

func (m CombineMode) String() string {
	if m == CombineOverride {
		return "override"
	}
	return "veto"
}

// Router authorizes verified principals: flat permission dispatch by
// principal type, optionally layered with policy evaluation, with async
// audit of every outcome.
type Router struct {
	engine  *Engine
	audits  AuditStore
	mode    CombineMode
	log     logger.Logger
	traceID logger.TraceIDFunc

	auditBuf  int
	auditCh   chan AuditEntry
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type RouterOption func(*Router)

// WithEngine layers policy evaluation onto every authorization.
func WithEngine(e *Engine) RouterOption {
	return func(r *Router) { r.engine = e }
}

func WithCombineMode(m CombineMode) RouterOption {
	return func(r *Router) { r.mode = m }
}

// WithAuditStore records every decision through an async worker.
func WithAuditStore(s AuditStore) RouterOption {
	return func(r *Router) { r.audits = s }
}

func WithRouterLogger(l logger.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

func WithRouterTraceIDFunc(f logger.TraceIDFunc) RouterOption {
	return func(r *Router) {
		if f != nil {
			r.traceID = f
		}
	}
}

// WithAuditBuffer sizes the audit channel; entries beyond it are dropped,
// never blocked on.
func WithAuditBuffer(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.auditBuf = n
		}
	}
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		mode:     CombineVeto,
		log:      logger.NewPhusluLogger(),
		traceID:  uuid.NewString,
		auditBuf: 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.audits != nil {
		r.auditCh = make(chan AuditEntry, r.auditBuf)
		r.stopCh = make(chan struct{})
		r.wg.Add(1)
		go r.auditWorker()
	}
	return r
}

// Authorize checks a bare permission, e.g. "security:group:update".
func (r *Router) Authorize(ctx context.Context, p Principal, permission string) error {
	return r.authorize(ctx, p, permission, "", nil)
}

// AuthorizeResource checks a permission against a concrete resource key.
// resourceAttrs feeds the "resource" namespace of policy conditions.
func (r *Router) AuthorizeResource(ctx context.Context, p Principal, permission, resource string, resourceAttrs map[string]any) error {
	return r.authorize(ctx, p, permission, resource, resourceAttrs)
}

func (r *Router) authorize(ctx context.Context, p Principal, permission, resource string, resourceAttrs map[string]any) error {
	if p == nil {
		r.emitAudit("", permission, resource, false, DecisionNone, "no verified principal", nil)
		return ErrAuthenticationRequired
	}

	out, err := r.decide(ctx, p, permission, resource, resourceAttrs)
	if err != nil {
		r.emitAudit(p.Subject(), permission, resource, false, DecisionNone, err.Error(), nil)
		return err
	}

	r.emitAudit(p.Subject(), permission, resource, out.allowed, out.decision, out.reason, out.matched)

	if !out.allowed {
		r.log.Info("authorization denied",
			"subject", p.Subject(), "permission", permission, "resource", resource, "reason", out.reason)
		return fmt.Errorf("%w: %s", ErrPermissionDenied, permission)
	}
	r.log.Debug("authorization granted",
		"subject", p.Subject(), "permission", permission, "resource", resource, "reason", out.reason)
	return nil
}

type decisionOutcome struct {
	flatOK    bool
	allowed   bool
	decision  Decision
	reason    string
	matched   []string
	engineErr error
}

// decide runs the flat check, layers the engine per the combine mode, and
// reports every intermediate alongside the outcome.
func (r *Router) decide(ctx context.Context, p Principal, permission, resource string, resourceAttrs map[string]any) (decisionOutcome, error) {
	var out decisionOutcome

	flatOK, err := flatCheck(p, permission, resource)
	if err != nil {
		return out, err
	}
	out.flatOK = flatOK
	out.allowed = flatOK
	out.reason = "permission held"
	if !flatOK {
		out.reason = "permission not held"
	}

	if r.engine != nil {
		evalRes, evalErr := r.engine.EvaluateForPrincipal(ctx, p, resourceAttrs, ContextAttributes(ctx))
		if evalErr != nil {
			// no grant and no veto can come from an unreadable policy set;
			// the flat result stands
			out.engineErr = evalErr
			r.log.Error("policy evaluation unavailable",
				"subject", p.Subject(), "permission", permission, "error", evalErr.Error())
		} else {
			out.decision = evalRes.Decision
			out.matched = evalRes.MatchedNames()
			switch {
			case out.decision == DecisionDeny:
				out.allowed = false
				out.reason = evalRes.Reason
			case out.decision == DecisionAllow && r.mode == CombineOverride:
				out.allowed = true
				out.reason = evalRes.Reason
			}
		}
	}
	return out, nil
}

// flatCheck dispatches on the principal variant. A combined principal needs
// both identities to pass (AND semantics).
func flatCheck(p Principal, permission, resource string) (bool, error) {
	switch pr := p.(type) {
	case *UserPrincipal:
		return pr.Permissions.Has(permission), nil
	case *ServicePrincipal:
		return pr.Grants.Allows(permission, resource), nil
	case *CombinedPrincipal:
		if pr.User == nil || pr.Service == nil {
			return false, fmt.Errorf("%w: combined principal missing an identity", ErrAuthenticationRequired)
		}
		return pr.User.Permissions.Has(permission) && pr.Service.Grants.Allows(permission, resource), nil
	}
	return false, fmt.Errorf("%w: unrecognized principal type %T", ErrAuthenticationRequired, p)
}

func (r *Router) emitAudit(subject, permission, resource string, allowed bool, decision Decision, reason string, matched []string) {
	if r.audits == nil {
		return
	}
	entry := NewAuditEntry(r.traceID())
	entry.Subject = subject
	entry.Permission = permission
	entry.Resource = resource
	entry.Allowed = allowed
	entry.Decision = decision
	entry.Reason = reason
	entry.MatchedPolicies = matched
	select {
	case r.auditCh <- *entry:
	default:
		r.log.Warn("audit channel full, dropping entry", "subject", subject, "permission", permission)
	}
}

func (r *Router) auditWorker() {
	defer r.wg.Done()
	bg := context.Background()
	for {
		select {
		case entry := <-r.auditCh:
			if err := r.audits.LogDecision(bg, &entry); err != nil {
				r.log.Error("audit write failed", "id", entry.ID, "error", err.Error())
			}
		case <-r.stopCh:
			// drain whatever is buffered, then exit
			for {
				select {
				case entry := <-r.auditCh:
					if err := r.audits.LogDecision(bg, &entry); err != nil {
						r.log.Error("audit write failed", "id", entry.ID, "error", err.Error())
					}
				default:
					return
				}
			}
		}
	}
}

// Close stops the audit worker after flushing buffered entries. Safe to
// call more than once.
func (r *Router) Close() error {
	if r.audits == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
	return nil
}

// ============================================================================
// REQUEST CONTEXT ATTRIBUTES
// ============================================================================

type ctxKey int

const attrsCtxKey ctxKey = iota

// ContextWithAttributes attaches request-scoped attributes consumed as the
// "context" namespace during policy evaluation.
func ContextWithAttributes(ctx context.Context, attrs map[string]any) context.Context {
	return context.WithValue(ctx, attrsCtxKey, attrs)
}

// ContextAttributes returns attributes attached by ContextWithAttributes,
// or nil.
func ContextAttributes(ctx context.Context) map[string]any {
	attrs, _ := ctx.Value(attrsCtxKey).(map[string]any)
	return attrs
}
