// Package chat implements the chat pipeline: validate, persist, then
// broadcast. A message is never broadcast unless it was durably recorded
// first.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/control/event"
	"github.com/syncspace-live/syncspace/internal/metrics"
	"github.com/syncspace-live/syncspace/internal/models"
	"github.com/syncspace-live/syncspace/internal/store"
)

var (
	// ErrEmptyContent rejects empty or whitespace-only messages before
	// anything touches the store.
	ErrEmptyContent = errors.New("chat: empty message content")

	// ErrBadID rejects malformed room or user identifiers.
	ErrBadID = errors.New("chat: invalid room or user id")
)

const (
	// DefaultHistoryLimit is used when the caller does not override it.
	DefaultHistoryLimit = 50

	// maxHistoryLimit caps caller-supplied limits.
	maxHistoryLimit = 200

	maxContentBytes = 4096
)

// Broadcaster is the room-scoped fan-out the pipeline publishes persisted
// messages on. Implemented by the control hub.
type Broadcaster interface {
	BroadcastRoom(roomID, excludeConn string, payload []byte)
}

// Pipeline persists chat messages and fans out their server-stamped
// representation.
type Pipeline struct {
	store store.MessageStore
	hub   Broadcaster
	log   zerolog.Logger
}

// NewPipeline creates a chat pipeline.
func NewPipeline(messages store.MessageStore, hub Broadcaster, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store: messages,
		hub:   hub,
		log:   logger.With().Str("component", "chat").Logger(),
	}
}

// Send validates and persists a message, then broadcasts the persisted
// representation to the room. The broadcast strictly follows successful
// persistence; on store failure the error is returned to the sender and
// nothing is broadcast.
func (p *Pipeline) Send(ctx context.Context, roomID, userID, username, content string) (*models.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > maxContentBytes {
		return nil, fmt.Errorf("chat: content too long (max %d bytes)", maxContentBytes)
	}

	room, err := uuid.Parse(roomID)
	if err != nil {
		return nil, ErrBadID
	}
	user, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrBadID
	}

	msg, err := p.store.InsertMessage(ctx, room, user, content)
	if err != nil {
		return nil, fmt.Errorf("chat: persist failed: %w", err)
	}
	// The stored record only carries the user id; the wire shape includes
	// the send-time username.
	msg.Username = username

	payload, err := event.Encode(event.ChatMessage, event.ChatMessagePayload{
		ID:        msg.ID.String(),
		RoomID:    msg.RoomID.String(),
		UserID:    msg.UserID.String(),
		Username:  username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	p.hub.BroadcastRoom(roomID, "", payload)
	metrics.MessagesPosted.Inc()

	return msg, nil
}

// History returns the most recent limit messages for a room in
// chronological (oldest-first) order. limit <= 0 means the default.
func (p *Pipeline) History(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	room, err := uuid.Parse(roomID)
	if err != nil {
		return nil, ErrBadID
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := p.store.RoomMessages(ctx, room, limit)
	if err != nil {
		return nil, err
	}

	// Store returns newest first; clients consume oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
