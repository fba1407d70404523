package authz

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// POLICY MODEL
// ============================================================================

// Effect is a policy's verdict when its condition matches.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// ParseEffect normalizes stored/configured effect strings.
func ParseEffect(s string) (Effect, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(EffectAllow):
		return EffectAllow, nil
	case string(EffectDeny):
		return EffectDeny, nil
	}
	return "", fmt.Errorf("unknown effect %q", s)
}

// Decision is the aggregate outcome of a policy evaluation pass.
// DecisionNone means no active policy matched: the caller's flat permission
// check stands on its own.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
	DecisionNone  Decision = ""
)

// Policy is an attribute-based rule. Name is the unique handle; Condition
// holds the raw JSON condition document exactly as stored.
type Policy struct {
	Name      string    `json:"name" yaml:"name"`
	Effect    Effect    `json:"effect" yaml:"effect"`
	Condition string    `json:"condition" yaml:"condition"`
	Active    bool      `json:"active" yaml:"active"`
	Version   int       `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Checksum returns a deterministic hash over the fields that define the
// policy's behavior. Bundle signing signs this.
func (p *Policy) Checksum() string {
	data, _ := json.Marshal(struct {
		Name      string
		Effect    Effect
		Condition string
		Version   int
	}{p.Name, p.Effect, p.Condition, p.Version})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cacheKey identifies a parsed condition; bumping Version invalidates it.
func (p *Policy) cacheKey() string {
	return p.Name + ":" + fmt.Sprint(p.Version)
}

// Reason strings keyed to the aggregation branch that produced a decision.
const (
	ReasonDenyMatched  = "explicit deny policy matched"
	ReasonAllowMatched = "allow policy matched"
	ReasonNoMatch      = "no policy matched"
)

// EvaluationResult reports one evaluation pass. MatchedPolicies lists every
// matching policy (both effects) in evaluation order; it exists for
// server-side auditing and must never be surfaced to API clients.
type EvaluationResult struct {
	Decision        Decision `json:"decision,omitempty"`
	MatchedPolicies []Policy `json:"matched_policies"`
	Reason          string   `json:"reason"`
}

// MatchedNames returns the matched policy names in evaluation order.
func (r *EvaluationResult) MatchedNames() []string {
	names := make([]string, 0, len(r.MatchedPolicies))
	for _, p := range r.MatchedPolicies {
		names = append(names, p.Name)
	}
	return names
}
