package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fathomlabs/authz"
	"github.com/oarkflow/squealx"
)

const policyColumns = `name, effect, condition_json, active, version, created_at, updated_at`

// SQLPolicyStore persists policies in SQL (squealx). Every write also
// appends a JSON snapshot to policy_history, so the table carries the full
// version trail of each policy.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *authz.Policy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	q := `INSERT INTO policies(name, effect, condition_json, active, version, created_at, updated_at) VALUES(:name, :effect, :condition_json, :active, :version, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"name":           p.Name,
		"effect":         string(p.Effect),
		"condition_json": p.Condition,
		"active":         boolToInt(p.Active),
		"version":        p.Version,
		"created_at":     p.CreatedAt,
		"updated_at":     p.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return s.insertPolicyHistory(ctx, p)
}

// UpdatePolicy bumps Version past the stored one, through the passed
// pointer, so cached conditions keyed by version fall out of use.
func (s *SQLPolicyStore) UpdatePolicy(ctx context.Context, p *authz.Policy) error {
	old, err := s.GetPolicy(ctx, p.Name)
	if err != nil {
		return err
	}
	p.Version = old.Version + 1
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now()
	q := `UPDATE policies SET effect=:effect, condition_json=:condition_json, active=:active, version=:version, updated_at=:updated_at WHERE name=:name`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"name":           p.Name,
		"effect":         string(p.Effect),
		"condition_json": p.Condition,
		"active":         boolToInt(p.Active),
		"version":        p.Version,
		"updated_at":     p.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return s.insertPolicyHistory(ctx, p)
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, name string) error {
	q := `DELETE FROM policies WHERE name = :name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"name": name})
	return err
}

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, name string) (*authz.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p, err := scanPolicy(r)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLPolicyStore) ListPolicies(ctx context.Context) ([]authz.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies ORDER BY name ASC`
	return s.queryPolicies(ctx, q, map[string]any{})
}

func (s *SQLPolicyStore) FindActivePolicies(ctx context.Context) ([]authz.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE active = 1 ORDER BY name ASC`
	return s.queryPolicies(ctx, q, map[string]any{})
}

func (s *SQLPolicyStore) queryPolicies(ctx context.Context, q string, params map[string]any) ([]authz.Policy, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]authz.Policy, 0)
	for r.Next() {
		p, err := scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanPolicy(r rowScanner) (authz.Policy, error) {
	var p authz.Policy
	var effect string
	var activeInt int
	var createdRaw, updatedRaw any
	if err := r.Scan(&p.Name, &effect, &p.Condition, &activeInt, &p.Version, &createdRaw, &updatedRaw); err != nil {
		return authz.Policy{}, err
	}
	p.Effect = authz.Effect(effect)
	p.Active = activeInt != 0
	p.CreatedAt = scanTime(createdRaw)
	p.UpdatedAt = scanTime(updatedRaw)
	return p, nil
}

func (s *SQLPolicyStore) insertPolicyHistory(ctx context.Context, p *authz.Policy) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	q := `INSERT INTO policy_history(policy_name, snapshot_json) VALUES(:policy_name, :snapshot_json)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{"policy_name": p.Name, "snapshot_json": string(b)})
	return err
}

// GetPolicyHistory returns every version written, oldest first. History
// survives deletion of the policy itself.
func (s *SQLPolicyStore) GetPolicyHistory(ctx context.Context, name string) ([]authz.Policy, error) {
	q := `SELECT snapshot_json FROM policy_history WHERE policy_name = :policy_name ORDER BY id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]authz.Policy, 0)
	for r.Next() {
		var snap string
		if err := r.Scan(&snap); err != nil {
			return nil, err
		}
		var p authz.Policy
		if err := json.Unmarshal([]byte(snap), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no history for policy %s", name)
	}
	return out, nil
}
