package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"collab-service/internal/models"

	"github.com/redis/go-redis/v9"
)

// PresenceRepository is the shared presence store. Every server instance reads
// and writes it concurrently; all writes are overwrite-by-key or set ops, so
// no coordination is needed beyond Redis itself.
type PresenceRepository interface {
	AddPresence(ctx context.Context, roomID string, user *models.PresenceUser) error
	RemovePresence(ctx context.Context, roomID, userID string) error
	RoomSnapshot(ctx context.Context, roomID string) ([]*models.PresenceUser, error)
}

type presenceRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresenceRepository(client *redis.Client, ttl time.Duration) PresenceRepository {
	return &presenceRepository{client: client, ttl: ttl}
}

func presenceKey(roomID, userID string) string {
	return fmt.Sprintf("presence:%s:%s", roomID, userID)
}

func membersKey(roomID string) string {
	return fmt.Sprintf("room:%s:members", roomID)
}

// AddPresence writes the user's metadata with a TTL and adds the user to the
// room membership set. The TTL is the recovery mechanism for ungraceful
// disconnects: entries left behind by a crashed instance expire on their own.
func (r *presenceRepository) AddPresence(ctx context.Context, roomID string, user *models.PresenceUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, presenceKey(roomID, user.UserID), data, r.ttl)
	pipe.SAdd(ctx, membersKey(roomID), user.UserID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

func (r *presenceRepository) RemovePresence(ctx context.Context, roomID, userID string) error {
	pipe := r.client.Pipeline()
	pipe.SRem(ctx, membersKey(roomID), userID)
	pipe.Del(ctx, presenceKey(roomID, userID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

// RoomSnapshot reads the full membership of a room: the member set, then all
// metadata keys in one pipelined round-trip. Members whose metadata key has
// expired are dropped from the result; the set entry is lazily cleaned up so
// TTL expiry heals the snapshot without an explicit leave.
func (r *presenceRepository) RoomSnapshot(ctx context.Context, roomID string) ([]*models.PresenceUser, error) {
	userIDs, err := r.client.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room members: %w", err)
	}
	if len(userIDs) == 0 {
		return []*models.PresenceUser{}, nil
	}

	cmds, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, uid := range userIDs {
			pipe.Get(ctx, presenceKey(roomID, uid))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read presence metadata: %w", err)
	}

	users := make([]*models.PresenceUser, 0, len(userIDs))
	for i, cmd := range cmds {
		data, err := cmd.(*redis.StringCmd).Result()
		if err == redis.Nil {
			// Metadata expired but the set entry survived; drop the stale member.
			if remErr := r.client.SRem(ctx, membersKey(roomID), userIDs[i]).Err(); remErr != nil {
				slog.Debug("Failed to prune stale room member",
					"roomID", roomID, "userID", userIDs[i], "error", remErr)
			}
			continue
		}
		if err != nil {
			slog.Warn("Failed to read presence entry",
				"roomID", roomID, "userID", userIDs[i], "error", err)
			continue
		}

		var user models.PresenceUser
		if err := json.Unmarshal([]byte(data), &user); err != nil {
			slog.Warn("Failed to unmarshal presence entry",
				"roomID", roomID, "userID", userIDs[i], "error", err)
			continue
		}
		users = append(users, &user)
	}

	return users, nil
}
