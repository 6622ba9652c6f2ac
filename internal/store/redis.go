package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syncspace-live/syncspace/internal/models"
)

// connIndexTTL bounds how long a stale reverse-index entry can outlive a
// crashed process that never ran disconnect cleanup.
const connIndexTTL = 24 * time.Hour

// RedisStore handles Redis operations for presence and typing state.
// Keeping this state external means room membership survives a process
// restart and is visible to every server instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomPresenceKey returns the key for a room's member set.
func roomPresenceKey(roomID string) string {
	return fmt.Sprintf("presence:room:%s", roomID)
}

// userPresenceKey returns the key for a user's presence hash.
func userPresenceKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// typingKey returns the key for a room's typing set.
func typingKey(roomID string) string {
	return fmt.Sprintf("typing:room:%s", roomID)
}

// connKey returns the key for the connection-handle reverse index.
func connKey(connID string) string {
	return fmt.Sprintf("presence:conn:%s", connID)
}

// UpsertPresence writes a user's presence record and adds the user to the
// room member set and the connection reverse index.
func (s *RedisStore) UpsertPresence(ctx context.Context, rec models.PresenceRecord) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, roomPresenceKey(rec.RoomID), rec.UserID)
	pipe.HSet(ctx, userPresenceKey(rec.UserID), map[string]interface{}{
		"room_id":   rec.RoomID,
		"username":  rec.Username,
		"conn_id":   rec.ConnID,
		"last_seen": strconv.FormatInt(rec.LastSeen, 10),
	})
	pipe.Set(ctx, connKey(rec.ConnID), rec.UserID, connIndexTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetPresence retrieves a user's presence record, nil if absent.
func (s *RedisStore) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	fields, err := s.client.HGetAll(ctx, userPresenceKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	lastSeen, _ := strconv.ParseInt(fields["last_seen"], 10, 64)
	return &models.PresenceRecord{
		UserID:   userID,
		RoomID:   fields["room_id"],
		Username: fields["username"],
		ConnID:   fields["conn_id"],
		LastSeen: lastSeen,
	}, nil
}

// RemovePresence deletes a user's presence record and removes the user
// from the room member set, the typing set, and the reverse index.
// Best-effort single logical operation; not transactional.
func (s *RedisStore) RemovePresence(ctx context.Context, roomID, userID, connID string) error {
	pipe := s.client.Pipeline()
	pipe.SRem(ctx, roomPresenceKey(roomID), userID)
	pipe.Del(ctx, userPresenceKey(userID))
	pipe.SRem(ctx, typingKey(roomID), userID)
	if connID != "" {
		pipe.Del(ctx, connKey(connID))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RoomMembers returns the user ids currently in a room.
func (s *RedisStore) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return s.client.SMembers(ctx, roomPresenceKey(roomID)).Result()
}

// UserByConn resolves a connection handle to a user id via the reverse
// index, "" if unknown.
func (s *RedisStore) UserByConn(ctx context.Context, connID string) (string, error) {
	userID, err := s.client.Get(ctx, connKey(connID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return userID, err
}

// SetTyping toggles a user's membership in a room's typing set.
func (s *RedisStore) SetTyping(ctx context.Context, roomID, userID string, typing bool) error {
	if typing {
		return s.client.SAdd(ctx, typingKey(roomID), userID).Err()
	}
	return s.client.SRem(ctx, typingKey(roomID), userID).Err()
}

// TypingMembers returns the user ids currently typing in a room.
func (s *RedisStore) TypingMembers(ctx context.Context, roomID string) ([]string, error) {
	return s.client.SMembers(ctx, typingKey(roomID)).Result()
}
