package stores

import (
	"context"

	"github.com/oarkflow/squealx"
)

// SQLMembershipStore maps users to role IDs in SQL (squealx).
type SQLMembershipStore struct {
	db *squealx.DB
}

func NewSQLMembershipStore(db *squealx.DB) *SQLMembershipStore {
	return &SQLMembershipStore{db: db}
}

func (s *SQLMembershipStore) AssignRole(ctx context.Context, userID, roleID string) error {
	q := `INSERT OR IGNORE INTO user_roles(user_id, role_id) VALUES(:user_id, :role_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role_id": roleID})
	return err
}

func (s *SQLMembershipStore) RevokeRole(ctx context.Context, userID, roleID string) error {
	q := `DELETE FROM user_roles WHERE user_id = :user_id AND role_id = :role_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role_id": roleID})
	return err
}

func (s *SQLMembershipStore) ListUserRoles(ctx context.Context, userID string) ([]string, error) {
	q := `SELECT role_id FROM user_roles WHERE user_id = :user_id ORDER BY role_id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var roleID string
		if err := r.Scan(&roleID); err != nil {
			return nil, err
		}
		out = append(out, roleID)
	}
	return out, nil
}
