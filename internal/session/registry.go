package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/crdt"
	"github.com/syncspace-live/syncspace/internal/metrics"
)

// ErrCapacity is returned when the registry cannot create another session.
var ErrCapacity = errors.New("session: active session limit reached")

const snapshotTimeout = 10 * time.Second

// SnapshotStore is the out-of-band persistence collaborator for document
// state. Implemented by the message store; optional.
type SnapshotStore interface {
	SaveDocument(ctx context.Context, roomID uuid.UUID, state []byte) error
	LoadDocument(ctx context.Context, roomID uuid.UUID) ([]byte, error)
}

// Registry owns the room-key -> session mapping. Create-or-get for a given
// key is serialized; sessions for different keys operate fully in parallel
// since per-session work happens under each session's own lock.
type Registry struct {
	factory     crdt.Factory
	snapshots   SnapshotStore
	maxSessions int
	log         zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry. snapshots may be nil to disable
// document persistence; maxSessions <= 0 means unlimited.
func NewRegistry(factory crdt.Factory, snapshots SnapshotStore, maxSessions int, logger zerolog.Logger) *Registry {
	return &Registry{
		factory:     factory,
		snapshots:   snapshots,
		maxSessions: maxSessions,
		log:         logger.With().Str("component", "registry").Logger(),
		sessions:    make(map[string]*Session),
	}
}

// Attach resolves or creates the session for roomKey and registers the
// connection into it. Idempotent per connection. Returns ErrCapacity when
// a new session would exceed the limit.
func (r *Registry) Attach(roomKey string, c Conn) (*Session, error) {
	for {
		r.mu.Lock()
		s, ok := r.sessions[roomKey]
		if !ok {
			if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
				r.mu.Unlock()
				return nil, ErrCapacity
			}
			s = newSession(roomKey, r.factory(), r.log)
			r.sessions[roomKey] = s
			metrics.ActiveSessions.Set(float64(len(r.sessions)))
			r.log.Info().Str("room", roomKey).Msg("session created")
		}
		r.mu.Unlock()

		// Seed from the persisted snapshot exactly once, outside the
		// registry lock so other rooms are not blocked on store I/O.
		// Concurrent attachers for the same room wait here until the seed
		// completes.
		s.seed.Do(func() { r.seedSession(s, roomKey) })

		if s.attach(c) {
			return s, nil
		}
		// The session was torn down between map resolution and
		// registration; resolve again.
	}
}

// Detach removes the connection from the room's session. When the last
// connection leaves, the session is torn down, its state handed to the
// snapshot store out of band, and the map entry reclaimed.
func (r *Registry) Detach(roomKey string, c Conn) {
	r.mu.Lock()
	s, ok := r.sessions[roomKey]
	r.mu.Unlock()
	if !ok {
		return
	}

	if !s.detach(c) {
		return
	}

	r.mu.Lock()
	// close only succeeds while the session is still empty, and a closed
	// session refuses registration, so a concurrent Attach either lands
	// before teardown (close fails, session stays) or after it (attach
	// fails and re-resolves a fresh session).
	if r.sessions[roomKey] == s && s.close() {
		delete(r.sessions, roomKey)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
		r.mu.Unlock()
		r.log.Info().Str("room", roomKey).Msg("session destroyed")
		r.persistSnapshot(s, roomKey)
		return
	}
	r.mu.Unlock()
}

// Get returns the session for roomKey, or nil when none is active.
func (r *Registry) Get(roomKey string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[roomKey]
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) seedSession(s *Session, roomKey string) {
	roomID, store := r.snapshotTarget(roomKey)
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	state, err := store.LoadDocument(ctx, roomID)
	if err != nil {
		r.log.Warn().Err(err).Str("room", roomKey).Msg("document snapshot load failed")
		return
	}
	if len(state) == 0 {
		return
	}
	s.mu.Lock()
	err = s.doc.ApplyUpdate(state)
	s.mu.Unlock()
	if err != nil {
		r.log.Warn().Err(err).Str("room", roomKey).Msg("document snapshot apply failed")
	}
}

// persistSnapshot hands the final document state to the snapshot store on
// a background goroutine. Best-effort; failures are logged only.
func (r *Registry) persistSnapshot(s *Session, roomKey string) {
	roomID, store := r.snapshotTarget(roomKey)
	if store == nil {
		return
	}
	s.mu.Lock()
	state := s.doc.Encode()
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if err := store.SaveDocument(ctx, roomID, state); err != nil {
			r.log.Warn().Err(err).Str("room", roomKey).Msg("document snapshot save failed")
		}
	}()
}

// snapshotTarget resolves the room key to a persistence target. Rooms
// whose keys are not UUIDs (ad-hoc scratch rooms) are not persisted.
func (r *Registry) snapshotTarget(roomKey string) (uuid.UUID, SnapshotStore) {
	if r.snapshots == nil {
		return uuid.Nil, nil
	}
	roomID, err := uuid.Parse(roomKey)
	if err != nil {
		return uuid.Nil, nil
	}
	return roomID, r.snapshots
}
