package stores

import (
	"context"
	"fmt"
	"sort"

	"github.com/fathomlabs/authz"
	"github.com/redis/go-redis/v9"
)

// RedisGrantStore keeps service grants in a Redis hash per service
// (key: svcgrants:{serviceID}, field: permission, value: resource pattern).
// A permission carries at most one pattern here; granting it again replaces
// the pattern.
type RedisGrantStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "svcgrants:%s"
}

func NewRedisGrantStore(client *redis.Client) *RedisGrantStore {
	return &RedisGrantStore{client: client, keyFmt: "svcgrants:%s"}
}

func (r *RedisGrantStore) key(serviceID string) string {
	return fmt.Sprintf(r.keyFmt, serviceID)
}

func (r *RedisGrantStore) GrantPermission(ctx context.Context, serviceID string, g authz.Grant) error {
	return r.client.HSet(ctx, r.key(serviceID), g.Permission, g.ResourcePattern).Err()
}

func (r *RedisGrantStore) RevokePermission(ctx context.Context, serviceID, permission string) error {
	return r.client.HDel(ctx, r.key(serviceID), permission).Err()
}

func (r *RedisGrantStore) ListGrants(ctx context.Context, serviceID string) ([]authz.Grant, error) {
	res, err := r.client.HGetAll(ctx, r.key(serviceID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]authz.Grant, 0, len(res))
	for perm, pattern := range res {
		out = append(out, authz.Grant{Permission: perm, ResourcePattern: pattern})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission < out[j].Permission })
	return out, nil
}
