package stores

import (
	"context"
	"time"

	"github.com/fathomlabs/authz"
	"github.com/oarkflow/squealx"
)

// SQLGrantStore persists service grants in SQL (squealx). A service may
// hold the same permission under several resource patterns; rows are unique
// per (service, permission, pattern).
type SQLGrantStore struct {
	db *squealx.DB
}

func NewSQLGrantStore(db *squealx.DB) *SQLGrantStore {
	return &SQLGrantStore{db: db}
}

func (s *SQLGrantStore) GrantPermission(ctx context.Context, serviceID string, g authz.Grant) error {
	q := `INSERT OR IGNORE INTO principal_permissions(service_id, permission, resource_pattern, created_at) VALUES(:service_id, :permission, :resource_pattern, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"service_id":       serviceID,
		"permission":       g.Permission,
		"resource_pattern": g.ResourcePattern,
		"created_at":       time.Now(),
	})
	return err
}

// RevokePermission removes the permission under every resource pattern it
// was granted with.
func (s *SQLGrantStore) RevokePermission(ctx context.Context, serviceID, permission string) error {
	q := `DELETE FROM principal_permissions WHERE service_id = :service_id AND permission = :permission`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"service_id": serviceID, "permission": permission})
	return err
}

func (s *SQLGrantStore) ListGrants(ctx context.Context, serviceID string) ([]authz.Grant, error) {
	q := `SELECT permission, resource_pattern FROM principal_permissions WHERE service_id = :service_id ORDER BY permission ASC, resource_pattern ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"service_id": serviceID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]authz.Grant, 0)
	for r.Next() {
		var g authz.Grant
		if err := r.Scan(&g.Permission, &g.ResourcePattern); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}
