package stores

import (
	"context"
	"encoding/json"

	"github.com/fathomlabs/authz"
	"github.com/oarkflow/squealx"
)

// SQLAuditStore persists audit entries in SQL (squealx).
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *authz.AuditEntry) error {
	matchedB, _ := json.Marshal(entry.MatchedPolicies)
	metaB, _ := json.Marshal(entry.Metadata)
	q := `INSERT INTO audit_log(id, trace_id, timestamp, subject, permission, resource, allowed, decision, reason, matched_json, metadata_json) VALUES(:id, :trace_id, :timestamp, :subject, :permission, :resource, :allowed, :decision, :reason, :matched_json, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            entry.ID,
		"trace_id":      entry.TraceID,
		"timestamp":     entry.Timestamp,
		"subject":       entry.Subject,
		"permission":    entry.Permission,
		"resource":      entry.Resource,
		"allowed":       boolToInt(entry.Allowed),
		"decision":      string(entry.Decision),
		"reason":        entry.Reason,
		"matched_json":  string(matchedB),
		"metadata_json": string(metaB),
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter authz.AuditFilter) ([]*authz.AuditEntry, error) {
	q := `SELECT id, trace_id, timestamp, subject, permission, resource, allowed, decision, reason, matched_json, metadata_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.Subject != "" {
		q += " AND subject = :subject"
		params["subject"] = filter.Subject
	}
	if filter.Permission != "" {
		q += " AND permission = :permission"
		params["permission"] = filter.Permission
	}
	if filter.Resource != "" {
		q += " AND resource = :resource"
		params["resource"] = filter.Resource
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.AuditEntry, 0)
	for r.Next() {
		var decision, matchedJSON, metaJSON string
		var timestampRaw any
		var allowedInt int
		entry := &authz.AuditEntry{}
		if err := r.Scan(&entry.ID, &entry.TraceID, &timestampRaw, &entry.Subject, &entry.Permission, &entry.Resource, &allowedInt, &decision, &entry.Reason, &matchedJSON, &metaJSON); err != nil {
			return nil, err
		}
		entry.Timestamp = scanTime(timestampRaw)
		entry.Allowed = allowedInt != 0
		entry.Decision = authz.Decision(decision)
		_ = json.Unmarshal([]byte(matchedJSON), &entry.MatchedPolicies)
		_ = json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		out = append(out, entry)
	}
	return out, nil
}
