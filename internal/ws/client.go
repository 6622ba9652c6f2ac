// Package ws implements the document channel transport: one binary
// websocket per connection, attached to a room's document session.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/syncspace-live/syncspace/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 512

	// Inbound frame rate per connection. Editors produce bursts while
	// typing; a sustained flooder is slowed down, never silently dropped,
	// since every accepted frame must reach the document.
	framesPerSecond = 100
	frameBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one document channel connection. It implements session.Conn.
type Client struct {
	registry *session.Registry
	sess     *session.Session
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	room     string
	id       string
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// ServeDoc upgrades the request and attaches the connection to the
// room's document session. A registry capacity failure closes the socket
// with a policy violation before any handshake traffic.
func ServeDoc(registry *session.Registry, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "room")
		if room == "" {
			http.Error(w, "room required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("doc upgrade failed")
			return
		}

		id := ulid.Make().String()
		c := &Client{
			registry: registry,
			conn:     conn,
			send:     make(chan []byte, sendBuffer),
			done:     make(chan struct{}),
			room:     room,
			id:       id,
			limiter:  rate.NewLimiter(framesPerSecond, frameBurst),
			log:      logger.With().Str("room", room).Str("conn", id).Logger(),
		}

		// The write pump must be running before attach: the session sends
		// SyncStep1 and the awareness snapshot immediately.
		go c.writePump()

		sess, err := registry.Attach(room, c)
		if err != nil {
			if errors.Is(err, session.ErrCapacity) {
				c.log.Warn().Msg("session capacity reached")
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session capacity reached"),
					time.Now().Add(writeWait))
			}
			close(c.done)
			return
		}
		c.sess = sess

		go c.readPump()
	}
}

// ID returns the connection handle.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame for delivery; false when the connection is gone or
// its buffer is full. Never blocks, so a slow peer cannot stall fan-out.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.registry.Detach(c.room, c)
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
				c.log.Warn().Err(err).Msg("doc read error")
			}
			break
		}

		// Backpressure, not drop: blocking the read loop pushes back on the
		// sender through its own TCP window. Dropping an update here would
		// leave the room diverged with the connection still open.
		if err := c.limiter.Wait(ctx); err != nil {
			break
		}

		// Frames are handled in receipt order on this goroutine, which is
		// what preserves per-sender update ordering.
		c.sess.HandleFrame(c, message)
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

			w, err := c.conn.NextWriter(websocket.BinaryMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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
