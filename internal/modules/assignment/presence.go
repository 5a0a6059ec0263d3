// README: Rider presence store backed by Redis sets.
package assignment

import (
	"context"

	"github.com/redis/go-redis/v9"

	"grocer/internal/types"
)

const (
	activeRidersKey  = "riders:active"
	blockedRidersKey = "riders:blocked"
)

// Presence answers whether a rider may receive assignments.
type Presence interface {
	IsActive(ctx context.Context, riderID types.ID) (bool, error)
	IsBlocked(ctx context.Context, riderID types.ID) (bool, error)
}

type PresenceStore struct {
	redis *redis.Client
}

func NewPresenceStore(redis *redis.Client) *PresenceStore {
	return &PresenceStore{redis: redis}
}

func (s *PresenceStore) SetActive(ctx context.Context, riderID types.ID, active bool) error {
	if active {
		return s.redis.SAdd(ctx, activeRidersKey, string(riderID)).Err()
	}
	return s.redis.SRem(ctx, activeRidersKey, string(riderID)).Err()
}

func (s *PresenceStore) IsActive(ctx context.Context, riderID types.ID) (bool, error) {
	return s.redis.SIsMember(ctx, activeRidersKey, string(riderID)).Result()
}

func (s *PresenceStore) Block(ctx context.Context, riderID types.ID) error {
	return s.redis.SAdd(ctx, blockedRidersKey, string(riderID)).Err()
}

func (s *PresenceStore) Unblock(ctx context.Context, riderID types.ID) error {
	return s.redis.SRem(ctx, blockedRidersKey, string(riderID)).Err()
}

func (s *PresenceStore) IsBlocked(ctx context.Context, riderID types.ID) (bool, error) {
	return s.redis.SIsMember(ctx, blockedRidersKey, string(riderID)).Result()
}
