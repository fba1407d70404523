package stores

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisMembershipStore keeps user role sets in Redis (key: userroles:{userID})
type RedisMembershipStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "userroles:%s"
}

func NewRedisMembershipStore(client *redis.Client) *RedisMembershipStore {
	return &RedisMembershipStore{client: client, keyFmt: "userroles:%s"}
}

func (r *RedisMembershipStore) key(userID string) string {
	return fmt.Sprintf(r.keyFmt, userID)
}

func (r *RedisMembershipStore) AssignRole(ctx context.Context, userID, roleID string) error {
	return r.client.SAdd(ctx, r.key(userID), roleID).Err()
}

func (r *RedisMembershipStore) RevokeRole(ctx context.Context, userID, roleID string) error {
	return r.client.SRem(ctx, r.key(userID), roleID).Err()
}

func (r *RedisMembershipStore) ListUserRoles(ctx context.Context, userID string) ([]string, error) {
	res, err := r.client.SMembers(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(res)
	return res, nil
}
