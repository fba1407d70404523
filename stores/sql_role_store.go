package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fathomlabs/authz"
	"github.com/oarkflow/squealx"
)

const roleColumns = `id, name, permissions_json, inherits_json, created_at`

// SQLRoleStore persists roles in SQL (squealx). Permission and inheritance
// lists are stored as JSON columns.
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *authz.Role) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	perms, _ := json.Marshal(r.Permissions)
	inherits, _ := json.Marshal(r.Inherits)
	q := `INSERT INTO roles(id, name, permissions_json, inherits_json, created_at) VALUES(:id, :name, :permissions_json, :inherits_json, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               r.ID,
		"name":             r.Name,
		"permissions_json": string(perms),
		"inherits_json":    string(inherits),
		"created_at":       r.CreatedAt,
	})
	return err
}

func (s *SQLRoleStore) UpdateRole(ctx context.Context, r *authz.Role) error {
	perms, _ := json.Marshal(r.Permissions)
	inherits, _ := json.Marshal(r.Inherits)
	q := `UPDATE roles SET name=:name, permissions_json=:permissions_json, inherits_json=:inherits_json WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               r.ID,
		"name":             r.Name,
		"permissions_json": string(perms),
		"inherits_json":    string(inherits),
	})
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, id string) error {
	q := `DELETE FROM roles WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id string) (*authz.Role, error) {
	q := `SELECT ` + roleColumns + ` FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role not found: %s", id)
	}
	role, err := scanRole(r)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *SQLRoleStore) ListRoles(ctx context.Context) ([]authz.Role, error) {
	q := `SELECT ` + roleColumns + ` FROM roles ORDER BY id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]authz.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func scanRole(r rowScanner) (authz.Role, error) {
	var role authz.Role
	var permsJSON, inheritsJSON string
	var createdRaw any
	if err := r.Scan(&role.ID, &role.Name, &permsJSON, &inheritsJSON, &createdRaw); err != nil {
		return authz.Role{}, err
	}
	_ = json.Unmarshal([]byte(permsJSON), &role.Permissions)
	_ = json.Unmarshal([]byte(inheritsJSON), &role.Inherits)
	role.CreatedAt = scanTime(createdRaw)
	return role, nil
}
