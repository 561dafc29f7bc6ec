package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"readsync/server/sessiond/domain"
)

// PresenceService tracks heartbeat liveness in redis: one key per
// (session, member) with the freshness window as TTL. A member whose key
// expired is offline regardless of what their row still says.
type PresenceService struct {
	redis *redis.Client
}

func NewPresenceService(client *redis.Client) *PresenceService {
	return &PresenceService{redis: client}
}

func presenceKey(sessionID, userID string) string {
	return fmt.Sprintf("presence:%s:%s", sessionID, userID)
}

func (p *PresenceService) Touch(ctx context.Context, sessionID, userID string) error {
	if p == nil || p.redis == nil {
		return nil
	}
	return p.redis.Set(ctx, presenceKey(sessionID, userID), "1", domain.PresenceFreshness).Err()
}

func (p *PresenceService) SetOffline(ctx context.Context, sessionID, userID string) error {
	if p == nil || p.redis == nil {
		return nil
	}
	return p.redis.Del(ctx, presenceKey(sessionID, userID)).Err()
}

// FilterOnline reports which of the given users have a live heartbeat key.
// Without redis it returns nil and the caller falls back to row timestamps.
func (p *PresenceService) FilterOnline(ctx context.Context, sessionID string, userIDs []string) (map[string]bool, error) {
	if p == nil || p.redis == nil || len(userIDs) == 0 {
		return nil, nil
	}
	pipe := p.redis.Pipeline()
	results := make([]*redis.IntCmd, len(userIDs))
	for i, userID := range userIDs {
		results[i] = pipe.Exists(ctx, presenceKey(sessionID, userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	online := make(map[string]bool, len(userIDs))
	for i, userID := range userIDs {
		online[userID] = results[i].Val() > 0
	}
	return online, nil
}
