package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage represents a persisted chat message. Immutable once stored;
// the server assigns ID and CreatedAt at persistence time. Username is
// denormalized at send time and travels on the wire only.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
