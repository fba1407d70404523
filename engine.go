package authz

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/fathomlabs/authz/logger"
)

// ============================================================================
// DECISION ENGINE
// ============================================================================

// Engine evaluates the active policy set against request attributes and
// aggregates matches with deny overriding allow. It holds no mutable policy
// state: every evaluation works on one point-in-time read from the store.
type Engine struct {
	policies PolicyReader
	log      logger.Logger
	traceID  logger.TraceIDFunc

	// parsed conditions keyed by policy name and version
	conds            *ristretto.Cache
	cacheNumCounters int64
	cacheMaxCost     int64
	cacheDisabled    bool
}

type EngineOption func(*Engine)

// WithConditionCache sizes the parsed-condition cache.
func WithConditionCache(numCounters, maxCost int64) EngineOption {
	return func(e *Engine) {
		e.cacheNumCounters = numCounters
		e.cacheMaxCost = maxCost
	}
}

// WithoutConditionCache re-parses conditions on every evaluation.
func WithoutConditionCache() EngineOption {
	return func(e *Engine) { e.cacheDisabled = true }
}

func NewEngine(policies PolicyReader, opts ...EngineOption) *Engine {
	e := &Engine{
		policies:         policies,
		log:              logger.NewPhusluLogger(),
		traceID:          uuid.NewString,
		cacheNumCounters: 10_000,
		cacheMaxCost:     1 << 20,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.cacheDisabled {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: e.cacheNumCounters,
			MaxCost:     e.cacheMaxCost,
			BufferItems: 64,
		})
		if err != nil {
			e.log.Warn("condition cache unavailable, evaluations will re-parse", "error", err.Error())
		} else {
			e.conds = cache
		}
	}
	return e
}

// EvaluatePolicies runs one evaluation pass. The store read happening first
// and exactly once means a policy edit mid-request cannot produce a mixed
// snapshot; a store failure surfaces instead of evaluating a partial set.
// Individual policies are isolated: one bad condition is scored as a
// non-match and the rest still evaluate.
func (e *Engine) EvaluatePolicies(ctx context.Context, subject, resource, reqContext map[string]any) (*EvaluationResult, error) {
	policies, err := e.policies.FindActivePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active policies: %w", err)
	}
	attrs := NewAttributes(subject, resource, reqContext)

	res := &EvaluationResult{MatchedPolicies: []Policy{}}
	var anyAllow, anyDeny bool
	for i := range policies {
		p := &policies[i]
		if !p.Active {
			// inactive policies never match, whatever the store returned
			continue
		}
		if !e.policyMatches(p, attrs) {
			continue
		}
		res.MatchedPolicies = append(res.MatchedPolicies, *p)
		switch p.Effect {
		case EffectDeny:
			anyDeny = true
		case EffectAllow:
			anyAllow = true
		default:
			e.log.Warn("policy with unknown effect matched", "policy", p.Name, "effect", string(p.Effect))
		}
	}

	switch {
	case anyDeny:
		res.Decision, res.Reason = DecisionDeny, ReasonDenyMatched
	case anyAllow:
		res.Decision, res.Reason = DecisionAllow, ReasonAllowMatched
	default:
		res.Decision, res.Reason = DecisionNone, ReasonNoMatch
	}
	e.log.Debug("policy evaluation finished",
		"decision", string(res.Decision),
		"matched", len(res.MatchedPolicies),
		"evaluated", len(policies))
	return res, nil
}

// EvaluateForPrincipal feeds the principal's identity, permissions, and
// claims into the subject namespace.
func (e *Engine) EvaluateForPrincipal(ctx context.Context, principal Principal, resource, reqContext map[string]any) (*EvaluationResult, error) {
	var subject map[string]any
	if principal != nil {
		subject = principal.SubjectAttributes()
	}
	return e.EvaluatePolicies(ctx, subject, resource, reqContext)
}

// policyMatches scores one policy, swallowing parse failures, evaluation
// aborts, and panics as non-matches.
func (e *Engine) policyMatches(p *Policy, attrs *Attributes) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("policy evaluation panicked", "policy", p.Name, "panic", fmt.Sprint(r))
			matched = false
		}
	}()
	ok, err := e.conditionFor(p).eval(attrs, 0)
	if err != nil {
		e.log.Warn("policy condition aborted", "policy", p.Name, "error", err.Error())
		return false
	}
	return ok
}

func (e *Engine) conditionFor(p *Policy) ConditionNode {
	key := p.cacheKey()
	if e.conds != nil {
		if cached, ok := e.conds.Get(key); ok {
			if node, ok := cached.(ConditionNode); ok {
				return node
			}
		}
	}
	node, err := parseCondition(p.Condition, func(op string) {
		e.log.Warn("unknown condition operator", "policy", p.Name, "operator", op)
	})
	if err != nil {
		e.log.Warn("policy condition failed to parse", "policy", p.Name, "error", err.Error())
		node = NeverMatch()
	}
	if e.conds != nil {
		// sentinel entries are cached too, so a broken policy is not
		// re-parsed on every request
		e.conds.Set(key, node, 1)
	}
	return node
}

// InvalidateConditions drops every cached parsed condition. Call it after
// policy edits that reuse a name without bumping the version.
func (e *Engine) InvalidateConditions() {
	if e.conds != nil {
		e.conds.Clear()
	}
}

// TraceID returns a fresh correlation ID from the configured generator.
func (e *Engine) TraceID() string {
	return e.traceID()
}
