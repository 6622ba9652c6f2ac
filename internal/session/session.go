// Package session implements the in-memory document session layer: one
// session per active room, multiplexing every attached connection onto a
// shared document, running the sync handshake per connection and fanning
// out update and awareness frames.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/crdt"
	"github.com/syncspace-live/syncspace/internal/metrics"
	"github.com/syncspace-live/syncspace/internal/wire"
)

// Session coordinates document sync for all connections attached to one
// room. Created on first attach, discarded when the last connection
// detaches.
type Session struct {
	room string
	log  zerolog.Logger

	seed sync.Once // snapshot load, serialized across concurrent attaches

	mu        sync.Mutex
	doc       crdt.Document
	conns     map[Conn]*connState
	awareness *Awareness
	closed    bool
}

type connState struct {
	state syncState
}

func newSession(room string, doc crdt.Document, logger zerolog.Logger) *Session {
	return &Session{
		room:      room,
		log:       logger.With().Str("room", room).Logger(),
		doc:       doc,
		conns:     make(map[Conn]*connState),
		awareness: NewAwareness(),
	}
}

// Room returns the session's room key.
func (s *Session) Room() string {
	return s.room
}

// attach registers a connection and starts its handshake: the server
// immediately sends SyncStep1 with its state vector, plus the current
// awareness snapshot so the new peer sees existing cursors right away.
// Returns false when the session has already been torn down, in which
// case the caller must resolve a fresh session.
func (s *Session) attach(c Conn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.conns[c] = &connState{state: stateConnected}
	step1 := wire.EncodeFrame(wire.MessageSyncStep1, s.doc.StateVector())
	snapshot := s.awareness.Snapshot()
	s.conns[c].state = stateSyncing
	s.mu.Unlock()

	c.Send(step1)
	if snapshot != nil {
		c.Send(wire.EncodeFrame(wire.MessageAwareness, snapshot))
	}
	metrics.DocConnections.Inc()
	return true
}

// detach removes a connection, forces removal of the awareness client-ids
// it controlled and broadcasts the removal delta to the remaining peers.
// Returns true when the session is now empty.
func (s *Session) detach(c Conn) bool {
	s.mu.Lock()
	if _, ok := s.conns[c]; !ok {
		empty := len(s.conns) == 0
		s.mu.Unlock()
		return empty
	}
	delete(s.conns, c)
	removed, delta := s.awareness.RemoveConn(c.ID())
	empty := len(s.conns) == 0
	var frame []byte
	if delta != nil && !empty {
		frame = wire.EncodeFrame(wire.MessageAwareness, delta)
	}
	targets := s.targetsLocked(nil)
	s.mu.Unlock()

	if frame != nil {
		deliver(targets, frame)
		metrics.AwarenessDeltas.Inc()
	}
	if len(removed) > 0 {
		s.log.Debug().Ints64("clients", toInt64(removed)).Msg("awareness clients removed on detach")
	}
	metrics.DocConnections.Dec()
	return empty
}

// HandleFrame processes one inbound frame from a connection. Frames from a
// single connection arrive here in receipt order (one read loop per
// connection), which preserves the per-sender ordering guarantee.
// Malformed or unknown frames are ignored; the connection stays open.
func (s *Session) HandleFrame(c Conn, data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		metrics.ProtocolErrors.Inc()
		return
	}

	switch frame.Type {
	case wire.MessageSyncStep1:
		s.handleSyncStep1(c, frame.Payload)
	case wire.MessageSyncStep2, wire.MessageUpdate:
		s.handleUpdate(c, data, frame.Payload)
	case wire.MessageAwareness:
		s.handleAwareness(c, frame.Payload)
	default:
		// Forward-compatible: tolerate frames from newer peers.
		metrics.ProtocolErrors.Inc()
	}
}

// handleSyncStep1 answers a peer's state vector with the update that
// brings it up to date. The receiver's own handshake state is unchanged.
func (s *Session) handleSyncStep1(c Conn, stateVector []byte) {
	s.mu.Lock()
	diff, err := s.doc.Diff(stateVector)
	s.mu.Unlock()
	if err != nil {
		metrics.ProtocolErrors.Inc()
		return
	}
	c.Send(wire.EncodeFrame(wire.MessageSyncStep2, diff))
}

// handleUpdate applies an update to the shared document, marks the sender
// synced and forwards the raw frame bytes to every other connection.
func (s *Session) handleUpdate(c Conn, raw, update []byte) {
	s.mu.Lock()
	if err := s.doc.ApplyUpdate(update); err != nil {
		s.mu.Unlock()
		metrics.ProtocolErrors.Inc()
		return
	}
	if st, ok := s.conns[c]; ok {
		st.state = stateSynced
	}
	targets := s.targetsLocked(c)
	s.mu.Unlock()

	deliver(targets, raw)
	metrics.UpdatesRelayed.Inc()
}

// handleAwareness merges an awareness batch and broadcasts the resulting
// delta to every attached connection, sender included, so the whole room
// observes presence changes.
func (s *Session) handleAwareness(c Conn, payload []byte) {
	s.mu.Lock()
	change, delta, err := s.awareness.Apply(payload, c.ID())
	targets := s.targetsLocked(nil)
	s.mu.Unlock()

	if err != nil {
		metrics.ProtocolErrors.Inc()
		return
	}
	if change.Empty() {
		return
	}
	deliver(targets, wire.EncodeFrame(wire.MessageAwareness, delta))
	metrics.AwarenessDeltas.Inc()
}

// Broadcast sends a frame to every attached connection except exclude.
func (s *Session) Broadcast(frame []byte, exclude Conn) {
	s.mu.Lock()
	targets := s.targetsLocked(exclude)
	s.mu.Unlock()
	deliver(targets, frame)
}

// close marks the session defunct so no further connection can register.
// Succeeds only while no connections are attached; a concurrent attach
// that won the race keeps the session alive and close reports false.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) > 0 || s.closed {
		return false
	}
	s.closed = true
	return true
}

// ConnCount returns the number of attached connections.
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// targetsLocked snapshots the recipients for a fan-out. Caller holds mu;
// delivery happens outside the lock so a slow connection cannot stall the
// session.
func (s *Session) targetsLocked(exclude Conn) []Conn {
	targets := make([]Conn, 0, len(s.conns))
	for c := range s.conns {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	return targets
}

// deliver pushes a frame to each target; a connection that is gone or has
// a full buffer is skipped.
func deliver(targets []Conn, frame []byte) {
	for _, c := range targets {
		c.Send(frame)
	}
}

func toInt64(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
