package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyclaw/engine/internal/domain"
)

const groupTTL = 15 * time.Minute

// GroupCache implements domain.GroupCache using JSON-serialized groups. The
// scanner reads the full set every sweep, so the whole list is kept under
// one key alongside per-group entries for point lookups.
//
// Key schema:
//
//	group:all  - JSON array of all groups
//	group:{id} - JSON of one group
type GroupCache struct {
	rdb *redis.Client
}

// NewGroupCache creates a GroupCache backed by the given Client.
func NewGroupCache(c *Client) *GroupCache {
	return &GroupCache{rdb: c.Underlying()}
}

func groupKey(id string) string { return "group:" + id }

// SetGroups replaces the cached group set with a 15-minute TTL.
func (gc *GroupCache) SetGroups(ctx context.Context, groups []domain.MarketGroup) error {
	all, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("redis: marshal groups: %w", err)
	}

	pipe := gc.rdb.TxPipeline()
	pipe.Set(ctx, "group:all", all, groupTTL)
	for _, g := range groups {
		data, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("redis: marshal group %s: %w", g.ID, err)
		}
		pipe.Set(ctx, groupKey(g.ID), data, groupTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set groups: %w", err)
	}
	return nil
}

// GetGroups retrieves the full cached group set. It returns
// domain.ErrNotFound when the cache is empty or expired.
func (gc *GroupCache) GetGroups(ctx context.Context) ([]domain.MarketGroup, error) {
	data, err := gc.rdb.Get(ctx, "group:all").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get groups: %w", err)
	}

	var groups []domain.MarketGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("redis: unmarshal groups: %w", err)
	}
	return groups, nil
}

// GetGroup retrieves one group by its ID. It returns domain.ErrNotFound when
// the key does not exist.
func (gc *GroupCache) GetGroup(ctx context.Context, id string) (domain.MarketGroup, error) {
	data, err := gc.rdb.Get(ctx, groupKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketGroup{}, domain.ErrNotFound
		}
		return domain.MarketGroup{}, fmt.Errorf("redis: get group %s: %w", id, err)
	}

	var group domain.MarketGroup
	if err := json.Unmarshal(data, &group); err != nil {
		return domain.MarketGroup{}, fmt.Errorf("redis: unmarshal group %s: %w", id, err)
	}
	return group, nil
}

// Compile-time interface check.
var _ domain.GroupCache = (*GroupCache)(nil)
