package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	trustedSourcesKey  = "policy:trusted-sources"
	blockedVersionsKey = "policy:blocked-versions"
)

// PolicyStore holds the two server-controlled policy sets: the third-party
// step source allow-list and the blocked client version list. Both live in
// Redis and are read fresh on every decision — clients must never act on a
// stale policy.
type PolicyStore struct {
	rdb *redis.Client
}

// NewPolicyStore creates a PolicyStore over the given Redis client.
func NewPolicyStore(rdb *redis.Client) *PolicyStore {
	return &PolicyStore{rdb: rdb}
}

// TrustedSourceIDs returns the current allow-list as a set.
func (p *PolicyStore) TrustedSourceIDs(ctx context.Context) (map[string]struct{}, error) {
	ids, err := p.rdb.SMembers(ctx, trustedSourcesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allow-list fetch: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// ListTrustedSourceIDs returns the allow-list sorted, for the admin surface.
func (p *PolicyStore) ListTrustedSourceIDs(ctx context.Context) ([]string, error) {
	ids, err := p.rdb.SMembers(ctx, trustedSourcesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allow-list fetch: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// SetTrustedSourceIDs replaces the allow-list atomically.
func (p *PolicyStore) SetTrustedSourceIDs(ctx context.Context, ids []string) error {
	return p.replaceSet(ctx, trustedSourcesKey, ids)
}

// IsVersionBlocked reports whether the given client version is on the
// server-published blocked list.
func (p *PolicyStore) IsVersionBlocked(ctx context.Context, version string) (bool, error) {
	blocked, err := p.rdb.SIsMember(ctx, blockedVersionsKey, version).Result()
	if err != nil {
		return false, fmt.Errorf("blocked version fetch: %w", err)
	}
	return blocked, nil
}

// ListBlockedVersions returns the blocked version list sorted.
func (p *PolicyStore) ListBlockedVersions(ctx context.Context) ([]string, error) {
	versions, err := p.rdb.SMembers(ctx, blockedVersionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("blocked version fetch: %w", err)
	}
	sort.Strings(versions)
	return versions, nil
}

// SetBlockedVersions replaces the blocked version list atomically.
func (p *PolicyStore) SetBlockedVersions(ctx context.Context, versions []string) error {
	return p.replaceSet(ctx, blockedVersionsKey, versions)
}

func (p *PolicyStore) replaceSet(ctx context.Context, key string, members []string) error {
	pipe := p.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		args := make([]interface{}, 0, len(members))
		for _, m := range members {
			args = append(args, m)
		}
		pipe.SAdd(ctx, key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("policy set update: %w", err)
	}
	return nil
}
