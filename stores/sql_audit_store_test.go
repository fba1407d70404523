package stores

import (
	"context"
	"testing"
	"time"

	"github.com/fathomlabs/authz"
)

func TestSQLAuditStoreTraceIDRoundtrip(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLAuditStore(db)

	entry := &authz.AuditEntry{
		ID:              "evt-1",
		TraceID:         "trace-abc-123",
		Timestamp:       time.Now(),
		Subject:         "user:42",
		Permission:      "document:read",
		Resource:        "docs:contracts:7",
		Allowed:         true,
		Decision:        authz.DecisionAllow,
		Reason:          authz.ReasonAllowMatched,
		MatchedPolicies: []string{"allow-readers"},
		Metadata:        map[string]any{"trace_id": "trace-abc-123"},
	}

	if err := store.LogDecision(context.Background(), entry); err != nil {
		t.Fatalf("log decision: %v", err)
	}

	logs, err := store.GetAccessLog(context.Background(), authz.AuditFilter{Subject: "user:42", Limit: 10})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	got := logs[0]
	if got.TraceID != "trace-abc-123" {
		t.Fatalf("expected trace_id=trace-abc-123 got=%s", got.TraceID)
	}
	if got.Decision != authz.DecisionAllow || !got.Allowed {
		t.Fatalf("decision not preserved: %+v", got)
	}
	if len(got.MatchedPolicies) != 1 || got.MatchedPolicies[0] != "allow-readers" {
		t.Fatalf("matched policies not preserved: %v", got.MatchedPolicies)
	}
}

func TestSQLAuditStoreFilters(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLAuditStore(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, sub := range []string{"user:1", "user:2", "user:1"} {
		entry := &authz.AuditEntry{
			ID:         "evt-" + string(rune('a'+i)),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Subject:    sub,
			Permission: "order:write",
			Allowed:    false,
			Reason:     authz.ReasonDenyMatched,
		}
		if err := store.LogDecision(ctx, entry); err != nil {
			t.Fatalf("log decision %d: %v", i, err)
		}
	}

	logs, err := store.GetAccessLog(ctx, authz.AuditFilter{Subject: "user:1"})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries for user:1, got %d", len(logs))
	}
	if !logs[0].Timestamp.Before(logs[1].Timestamp) {
		t.Fatalf("entries not ordered by timestamp")
	}

	logs, err = store.GetAccessLog(ctx, authz.AuditFilter{Subject: "user:1", Limit: 1})
	if err != nil {
		t.Fatalf("get access log with limit: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("limit ignored, got %d entries", len(logs))
	}
}
