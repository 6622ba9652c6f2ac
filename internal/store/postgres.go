package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncspace-live/syncspace/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertMessage persists a chat message. The server assigns id and
// created_at; the returned message carries both.
func (s *PostgresStore) InsertMessage(ctx context.Context, roomID, userID uuid.UUID, content string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (room_id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, room_id, user_id, content, created_at
	`, roomID, userID, content).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.UserID,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RoomMessages retrieves the most recent messages for a room, newest first.
func (s *PostgresStore) RoomMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, content, created_at
		FROM chat_messages
		WHERE room_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.UserID,
			&msg.Content,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveDocument upserts the document snapshot for a room.
func (s *PostgresStore) SaveDocument(ctx context.Context, roomID uuid.UUID, state []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (room_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`, roomID, state)
	return err
}

// LoadDocument retrieves the document snapshot for a room, nil if none.
func (s *PostgresStore) LoadDocument(ctx context.Context, roomID uuid.UUID) ([]byte, error) {
	var state []byte
	err := s.pool.QueryRow(ctx, `
		SELECT state FROM documents WHERE room_id = $1
	`, roomID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}

// RunMigrations creates the schema if it does not exist.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			room_id UUID NOT NULL,
			user_id UUID,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created
			ON chat_messages(room_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS documents (
			room_id UUID PRIMARY KEY,
			state BYTEA,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}
