package models

// PresenceRecord is the durable-ish record of a connected user, stored in
// Redis so presence is visible across server processes.
type PresenceRecord struct {
	UserID   string `json:"id"`
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
	ConnID   string `json:"-"`
	LastSeen int64  `json:"last_seen"` // Unix ms
}
