// Package presence coordinates room membership and typing indicators.
// State lives in an external store so it is visible to every server
// instance and survives a single process restart; the cost is explicit
// cleanup on disconnect. Presence and document sync are independent
// subsystems: a store failure here never affects the sync path.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/control/event"
	"github.com/syncspace-live/syncspace/internal/metrics"
	"github.com/syncspace-live/syncspace/internal/models"
)

// Store is the external presence store interface, implemented by the
// Redis store.
type Store interface {
	UpsertPresence(ctx context.Context, rec models.PresenceRecord) error
	GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error)
	RemovePresence(ctx context.Context, roomID, userID, connID string) error
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
	UserByConn(ctx context.Context, connID string) (string, error)
	SetTyping(ctx context.Context, roomID, userID string, typing bool) error
}

// Broadcaster is the room-scoped fan-out for presence events.
type Broadcaster interface {
	BroadcastRoom(roomID, excludeConn string, payload []byte)
}

// Coordinator implements join/leave/typing bookkeeping over the store and
// announces deltas to the room.
type Coordinator struct {
	store Store
	hub   Broadcaster
	log   zerolog.Logger
}

// NewCoordinator creates a presence coordinator.
func NewCoordinator(store Store, hub Broadcaster, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store: store,
		hub:   hub,
		log:   logger.With().Str("component", "presence").Logger(),
	}
}

// Join upserts the user's presence record, announces the join to the rest
// of the room, and returns the full member snapshot for the joiner.
// Asymmetric on purpose: the joiner gets the snapshot, peers get a delta.
func (c *Coordinator) Join(ctx context.Context, roomID, userID, username, connID string) ([]event.User, error) {
	rec := models.PresenceRecord{
		UserID:   userID,
		RoomID:   roomID,
		Username: username,
		ConnID:   connID,
		LastSeen: time.Now().UnixMilli(),
	}
	if err := c.store.UpsertPresence(ctx, rec); err != nil {
		return nil, fmt.Errorf("presence: join failed: %w", err)
	}

	users, err := c.members(ctx, roomID)
	if err != nil {
		return nil, err
	}

	payload, err := event.Encode(event.PresenceJoined, event.PresenceJoinedData{
		UserID:   userID,
		Username: username,
	})
	if err != nil {
		return nil, err
	}
	c.hub.BroadcastRoom(roomID, connID, payload)
	metrics.PresenceEvents.WithLabelValues("join").Inc()

	return users, nil
}

// Leave removes the user's presence record, member-set entry and typing
// entry, then announces the leave. Best-effort single logical operation.
func (c *Coordinator) Leave(ctx context.Context, roomID, userID string) error {
	rec, err := c.store.GetPresence(ctx, userID)
	if err != nil {
		return fmt.Errorf("presence: leave failed: %w", err)
	}
	connID := ""
	if rec != nil {
		connID = rec.ConnID
	}
	if err := c.store.RemovePresence(ctx, roomID, userID, connID); err != nil {
		return fmt.Errorf("presence: leave failed: %w", err)
	}

	payload, err := event.Encode(event.PresenceLeft, event.PresenceLeftData{UserID: userID})
	if err != nil {
		return err
	}
	c.hub.BroadcastRoom(roomID, connID, payload)
	metrics.PresenceEvents.WithLabelValues("leave").Inc()
	return nil
}

// CleanupConn handles a transport disconnect, which carries no
// application identity: the connection handle is resolved through the
// reverse index instead of scanning every presence record. Returns the
// room and user that were cleaned up, both "" when the handle is unknown.
func (c *Coordinator) CleanupConn(ctx context.Context, connID string) (roomID, userID string, err error) {
	userID, err = c.store.UserByConn(ctx, connID)
	if err != nil {
		return "", "", fmt.Errorf("presence: disconnect lookup failed: %w", err)
	}
	if userID == "" {
		return "", "", nil
	}

	rec, err := c.store.GetPresence(ctx, userID)
	if err != nil || rec == nil {
		return "", "", err
	}
	// The user may have reconnected elsewhere; only clean up if this
	// connection is still the one on record.
	if rec.ConnID != connID {
		return "", "", nil
	}
	if err := c.Leave(ctx, rec.RoomID, userID); err != nil {
		return "", "", err
	}
	return rec.RoomID, userID, nil
}

// SetTyping toggles the user's typing-set membership and announces the
// change to everyone else in the room. No persistence beyond the set, no
// delivery guarantee.
func (c *Coordinator) SetTyping(ctx context.Context, roomID, userID, username, connID string, typing bool) error {
	if err := c.store.SetTyping(ctx, roomID, userID, typing); err != nil {
		return fmt.Errorf("presence: typing update failed: %w", err)
	}

	payload, err := event.Encode(event.ChatTyping, event.ChatTypingData{
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
		IsTyping: typing,
	})
	if err != nil {
		return err
	}
	c.hub.BroadcastRoom(roomID, connID, payload)
	return nil
}

// ListMembers returns the room's current members.
func (c *Coordinator) ListMembers(ctx context.Context, roomID string) ([]event.User, error) {
	return c.members(ctx, roomID)
}

func (c *Coordinator) members(ctx context.Context, roomID string) ([]event.User, error) {
	ids, err := c.store.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("presence: member list failed: %w", err)
	}

	users := make([]event.User, 0, len(ids))
	for _, id := range ids {
		rec, err := c.store.GetPresence(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Username == "" {
			// Member-set entry without a record: stale leftover from a
			// crashed cleanup. Skip it.
			continue
		}
		users = append(users, event.User{
			ID:       rec.UserID,
			Username: rec.Username,
			LastSeen: rec.LastSeen,
		})
	}
	return users, nil
}
