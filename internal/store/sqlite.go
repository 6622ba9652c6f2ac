package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/syncspace-live/syncspace/internal/models"
)

// SQLiteStore handles SQLite database operations. Used in development when
// no DATABASE_URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/syncspace.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/syncspace.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		user_id TEXT,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created
		ON chat_messages(room_id, created_at);

	CREATE TABLE IF NOT EXISTS documents (
		room_id TEXT PRIMARY KEY,
		state BLOB,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertMessage persists a chat message. SQLite has no gen_random_uuid(),
// so the id and timestamp are assigned here.
func (s *SQLiteStore) InsertMessage(ctx context.Context, roomID, userID uuid.UUID, content string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:        uuid.New(),
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, room_id, user_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID.String(), roomID.String(), userID.String(), content, msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RoomMessages retrieves the most recent messages for a room, newest first.
func (s *SQLiteStore) RoomMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, content, created_at
		FROM chat_messages
		WHERE room_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, roomID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var (
			msg            models.ChatMessage
			id, room, user string
		)
		if err := rows.Scan(&id, &room, &user, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if msg.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if msg.RoomID, err = uuid.Parse(room); err != nil {
			return nil, err
		}
		if msg.UserID, err = uuid.Parse(user); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveDocument upserts the document snapshot for a room.
func (s *SQLiteStore) SaveDocument(ctx context.Context, roomID uuid.UUID, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (room_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (room_id)
		DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, roomID.String(), state, time.Now().UTC())
	return err
}

// LoadDocument retrieves the document snapshot for a room, nil if none.
func (s *SQLiteStore) LoadDocument(ctx context.Context, roomID uuid.UUID) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM documents WHERE room_id = ?
	`, roomID.String()).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}
