package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/control/event"
	"github.com/syncspace-live/syncspace/internal/metrics"
	"github.com/syncspace-live/syncspace/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	opTimeout      = 5 * time.Second
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatService is what the control channel needs from the chat pipeline.
type ChatService interface {
	Send(ctx context.Context, roomID, userID, username, content string) (*models.ChatMessage, error)
}

// PresenceService is what the control channel needs from the presence
// coordinator.
type PresenceService interface {
	Join(ctx context.Context, roomID, userID, username, connID string) ([]event.User, error)
	Leave(ctx context.Context, roomID, userID string) error
	CleanupConn(ctx context.Context, connID string) (roomID, userID string, err error)
	SetTyping(ctx context.Context, roomID, userID, username, connID string, typing bool) error
}

// Client is one control channel connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	id       string
	chat     ChatService
	presence PresenceService
	log      zerolog.Logger
}

// ServeControl upgrades the request to a control channel connection.
func ServeControl(hub *Hub, chat ChatService, presence PresenceService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("control upgrade failed")
			return
		}

		id := ulid.Make().String()
		c := &Client{
			hub:      hub,
			conn:     conn,
			send:     make(chan []byte, sendBuffer),
			done:     make(chan struct{}),
			id:       id,
			chat:     chat,
			presence: presence,
			log:      logger.With().Str("conn", id).Logger(),
		}

		hub.Register(c)
		metrics.ControlConnections.Inc()

		go c.writePump()
		go c.readPump()
	}
}

// ID returns the connection handle used by the presence reverse index.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) readPump() {
	defer func() {
		c.cleanup()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("control read error")
			}
			break
		}
		c.handleEvent(message)
	}
}

// handleEvent dispatches one inbound control frame. Unknown or malformed
// events are ignored; operational failures are reported to the sender
// only.
func (c *Client) handleEvent(data []byte) {
	ev, err := event.DecodeInbound(data)
	if err != nil {
		if !errors.Is(err, event.ErrUnknownEvent) {
			c.log.Debug().Err(err).Msg("bad control frame")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch d := ev.(type) {
	case event.RoomJoinData:
		c.hub.JoinRoom(c, d.RoomID)
		users, err := c.presence.Join(ctx, d.RoomID, d.UserID, d.Username, c.id)
		if err != nil {
			c.log.Warn().Err(err).Str("room", d.RoomID).Msg("presence join failed")
			c.sendError("presence unavailable")
			return
		}
		c.sendEvent(event.PresenceList, event.PresenceListData{Users: users})

	case event.RoomLeaveData:
		if err := c.presence.Leave(ctx, d.RoomID, d.UserID); err != nil {
			c.log.Warn().Err(err).Str("room", d.RoomID).Msg("presence leave failed")
		}
		c.hub.LeaveRoom(c, d.RoomID)

	case event.ChatMessageData:
		if _, err := c.chat.Send(ctx, d.RoomID, d.UserID, d.Username, d.Content); err != nil {
			c.log.Warn().Err(err).Str("room", d.RoomID).Msg("chat send failed")
			c.sendError(err.Error())
		}

	case event.ChatTypingData:
		if err := c.presence.SetTyping(ctx, d.RoomID, d.UserID, d.Username, c.id, d.IsTyping); err != nil {
			c.log.Warn().Err(err).Str("room", d.RoomID).Msg("typing update failed")
		}
	}
}

// cleanup runs when the socket drops: presence is cleaned up by
// connection handle (the disconnect carries no user identity) and the
// client leaves every room scope.
func (c *Client) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if roomID, userID, err := c.presence.CleanupConn(ctx, c.id); err != nil {
		c.log.Warn().Err(err).Msg("disconnect cleanup failed")
	} else if userID != "" {
		c.log.Info().Str("room", roomID).Str("user", userID).Msg("presence cleaned up on disconnect")
	}

	c.hub.Unregister(c)
	metrics.ControlConnections.Dec()
}

func (c *Client) sendEvent(t event.Type, data any) {
	payload, err := event.Encode(t, data)
	if err != nil {
		c.log.Error().Err(err).Msg("event encode failed")
		return
	}
	c.trySend(payload)
}

func (c *Client) sendError(msg string) {
	c.sendEvent(event.Error, event.ErrorData{Message: msg})
}

// trySend queues a payload without blocking; a full buffer means the
// client is too slow and the payload is dropped for it.
func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
