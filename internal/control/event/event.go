// Package event defines the control channel protocol: a closed set of
// named JSON events carried in a small envelope. Inbound events form a
// tagged union so dispatch is exhaustive at compile time instead of
// keying handlers off arbitrary strings.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type names a control channel event.
type Type string

const (
	// Client -> server
	RoomJoin    Type = "room:join"
	RoomLeave   Type = "room:leave"
	ChatMessage Type = "chat:message"
	ChatTyping  Type = "chat:typing"

	// Server -> client
	PresenceJoined Type = "presence:joined"
	PresenceLeft   Type = "presence:left"
	PresenceList   Type = "presence:list"
	Error          Type = "error"
)

// ErrUnknownEvent marks an event name outside the closed set. Callers
// ignore the frame; the protocol tolerates newer peers.
var ErrUnknownEvent = errors.New("event: unknown event")

// Envelope frames every event on the wire.
type Envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is the closed union of client-originated events.
type Inbound interface {
	inbound()
}

// RoomJoinData asks to join a room's control scope.
type RoomJoinData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// RoomLeaveData asks to leave a room's control scope.
type RoomLeaveData struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ChatMessageData submits a chat message.
type ChatMessageData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

// ChatTypingData toggles the sender's typing indicator.
type ChatTypingData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

func (RoomJoinData) inbound()    {}
func (RoomLeaveData) inbound()   {}
func (ChatMessageData) inbound() {}
func (ChatTypingData) inbound()  {}

// User is the wire shape of a room member in presence events.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	LastSeen int64  `json:"lastSeen"`
}

// PresenceJoinedData announces a user joining to the rest of the room.
type PresenceJoinedData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PresenceLeftData announces a user leaving.
type PresenceLeftData struct {
	UserID string `json:"userId"`
}

// PresenceListData is the full member snapshot sent to a joiner.
type PresenceListData struct {
	Users []User `json:"users"`
}

// ChatMessagePayload is the server-stamped wire shape of a persisted
// message, including the send-time username the stored record omits.
type ChatMessagePayload struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"` // RFC 3339
}

// ErrorData reports a rejected operation to the sender only.
type ErrorData struct {
	Message string `json:"message"`
}

// DecodeInbound parses a raw control frame into the inbound union.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("event: bad envelope: %w", err)
	}

	switch env.Event {
	case RoomJoin:
		var d RoomJoinData
		return d, json.Unmarshal(env.Data, &d)
	case RoomLeave:
		var d RoomLeaveData
		return d, json.Unmarshal(env.Data, &d)
	case ChatMessage:
		var d ChatMessageData
		return d, json.Unmarshal(env.Data, &d)
	case ChatTyping:
		var d ChatTypingData
		return d, json.Unmarshal(env.Data, &d)
	default:
		return nil, ErrUnknownEvent
	}
}

// Encode frames an event for the wire.
func Encode(t Type, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: t, Data: raw})
}
