package session

import (
	"github.com/syncspace-live/syncspace/internal/wire"
)

// nullState marks a removed client in the awareness encoding, mirroring
// the JSON "null" the y-protocols awareness codec uses.
const nullState = "null"

// Change lists the client-ids affected by an awareness batch.
type Change struct {
	Added   []uint64
	Updated []uint64
	Removed []uint64
}

// Empty reports whether the batch changed nothing.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

type awarenessEntry struct {
	clock uint64
	state []byte // JSON metadata blob, opaque to the server
}

// Awareness owns the ephemeral per-client metadata for one session:
// client-id -> (state, clock, owning connection). Last-writer-wins by
// clock, so re-delivered updates are idempotent. Not goroutine-safe;
// the owning session serializes access.
//
// Wire format per batch: uvarint entry count, then per entry
// uvarint clientID, uvarint clock, length-prefixed JSON state.
type Awareness struct {
	states map[uint64]awarenessEntry
	owners map[string]map[uint64]struct{} // conn id -> controlled client-ids
}

// NewAwareness returns an empty awareness map.
func NewAwareness() *Awareness {
	return &Awareness{
		states: make(map[uint64]awarenessEntry),
		owners: make(map[string]map[uint64]struct{}),
	}
}

// Apply merges a batch of (client-id, clock, state) tuples from the given
// connection. It returns the changed client-id sets and the encoded delta
// to broadcast; delta is nil when nothing changed.
func (a *Awareness) Apply(payload []byte, connID string) (Change, []byte, error) {
	count, rest, err := wire.ReadUint(payload)
	if err != nil {
		return Change{}, nil, err
	}

	var change Change
	delta := []byte(nil)
	entries := 0

	appendEntry := func(clientID, clock uint64, state []byte) {
		if delta == nil {
			delta = make([]byte, 0, len(payload))
		}
		delta = wire.AppendUint(delta, clientID)
		delta = wire.AppendUint(delta, clock)
		delta = wire.AppendBytes(delta, state)
		entries++
	}

	for i := uint64(0); i < count; i++ {
		var clientID, clock uint64
		var state []byte

		if clientID, rest, err = wire.ReadUint(rest); err != nil {
			return Change{}, nil, err
		}
		if clock, rest, err = wire.ReadUint(rest); err != nil {
			return Change{}, nil, err
		}
		if state, rest, err = wire.ReadBytes(rest); err != nil {
			return Change{}, nil, err
		}

		stored, known := a.states[clientID]
		if known && clock <= stored.clock {
			// Stale or duplicate; safe to drop.
			continue
		}

		removal := len(state) == 0 || string(state) == nullState
		switch {
		case removal && known:
			delete(a.states, clientID)
			a.disown(clientID)
			change.Removed = append(change.Removed, clientID)
			appendEntry(clientID, clock, []byte(nullState))
		case removal:
			// Removal for a client we never saw; nothing to do.
		case known:
			a.states[clientID] = awarenessEntry{clock: clock, state: cloneBytes(state)}
			a.own(connID, clientID)
			change.Updated = append(change.Updated, clientID)
			appendEntry(clientID, clock, state)
		default:
			a.states[clientID] = awarenessEntry{clock: clock, state: cloneBytes(state)}
			a.own(connID, clientID)
			change.Added = append(change.Added, clientID)
			appendEntry(clientID, clock, state)
		}
	}

	if change.Empty() {
		return change, nil, nil
	}
	return change, finishBatch(entries, delta), nil
}

// RemoveConn forces removal of every client-id the connection controlled,
// as when its socket drops without an explicit removal frame. Returns the
// removed ids and the encoded removal delta (nil if it controlled none).
func (a *Awareness) RemoveConn(connID string) ([]uint64, []byte) {
	controlled := a.owners[connID]
	delete(a.owners, connID)
	if len(controlled) == 0 {
		return nil, nil
	}

	var removed []uint64
	var delta []byte
	entries := 0
	for clientID := range controlled {
		stored, ok := a.states[clientID]
		if !ok {
			continue
		}
		delete(a.states, clientID)
		removed = append(removed, clientID)
		delta = wire.AppendUint(delta, clientID)
		delta = wire.AppendUint(delta, stored.clock+1)
		delta = wire.AppendBytes(delta, []byte(nullState))
		entries++
	}
	if entries == 0 {
		return nil, nil
	}
	return removed, finishBatch(entries, delta)
}

// Snapshot encodes the full current awareness state, for bringing a newly
// attached connection up to date. Returns nil when no clients are known.
func (a *Awareness) Snapshot() []byte {
	if len(a.states) == 0 {
		return nil
	}
	var delta []byte
	for clientID, entry := range a.states {
		delta = wire.AppendUint(delta, clientID)
		delta = wire.AppendUint(delta, entry.clock)
		delta = wire.AppendBytes(delta, entry.state)
	}
	return finishBatch(len(a.states), delta)
}

// Len returns the number of known clients.
func (a *Awareness) Len() int {
	return len(a.states)
}

func (a *Awareness) own(connID string, clientID uint64) {
	set, ok := a.owners[connID]
	if !ok {
		set = make(map[uint64]struct{})
		a.owners[connID] = set
	}
	set[clientID] = struct{}{}
}

func (a *Awareness) disown(clientID uint64) {
	for _, set := range a.owners {
		delete(set, clientID)
	}
}

func finishBatch(entries int, body []byte) []byte {
	buf := wire.AppendUint(make([]byte, 0, len(body)+2), uint64(entries))
	return append(buf, body...)
}

func cloneBytes(b []byte) []byte {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
