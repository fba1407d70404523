package authz

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// AUDIT
// ============================================================================

// AuditEntry records one authorization decision. MatchedPolicies carries
// policy names for operators; entries stay server-side.
type AuditEntry struct {
	ID              string         `json:"id"`
	TraceID         string         `json:"trace_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Subject         string         `json:"subject"`
	Permission      string         `json:"permission"`
	Resource        string         `json:"resource,omitempty"`
	Allowed         bool           `json:"allowed"`
	Decision        Decision       `json:"decision,omitempty"`
	Reason          string         `json:"reason"`
	MatchedPolicies []string       `json:"matched_policies,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// AuditFilter narrows access-log queries.
type AuditFilter struct {
	Subject    string
	Permission string
	Resource   string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// NewAuditEntry stamps identity and time; callers fill in the decision.
func NewAuditEntry(traceID string) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.NewString(),
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	}
}
