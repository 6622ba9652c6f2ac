package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/syncspace-live/syncspace/internal/models"
)

// MessageStore defines the interface for durable storage of chat messages
// and document snapshots. Both PostgresStore and SQLiteStore implement it.
type MessageStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Chat messages
	InsertMessage(ctx context.Context, roomID, userID uuid.UUID, content string) (*models.ChatMessage, error)
	RoomMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]models.ChatMessage, error)

	// Document snapshots (out-of-band persistence collaborator)
	SaveDocument(ctx context.Context, roomID uuid.UUID, state []byte) error
	LoadDocument(ctx context.Context, roomID uuid.UUID) ([]byte, error)
}
