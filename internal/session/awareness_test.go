package session

import (
	"testing"

	"github.com/syncspace-live/syncspace/internal/wire"
)

// batch encodes awareness entries in the wire layout the coordinator
// consumes: entry count, then (clientID, clock, state) per entry.
func batch(entries ...entry) []byte {
	body := []byte(nil)
	for _, e := range entries {
		body = wire.AppendUint(body, e.clientID)
		body = wire.AppendUint(body, e.clock)
		body = wire.AppendBytes(body, []byte(e.state))
	}
	return finishBatch(len(entries), body)
}

type entry struct {
	clientID uint64
	clock    uint64
	state    string
}

func decodeBatch(t *testing.T, payload []byte) map[uint64]entry {
	t.Helper()
	count, rest, err := wire.ReadUint(payload)
	if err != nil {
		t.Fatalf("bad batch header: %v", err)
	}
	out := make(map[uint64]entry, count)
	for i := uint64(0); i < count; i++ {
		var e entry
		var state []byte
		if e.clientID, rest, err = wire.ReadUint(rest); err != nil {
			t.Fatalf("bad entry %d: %v", i, err)
		}
		if e.clock, rest, err = wire.ReadUint(rest); err != nil {
			t.Fatalf("bad entry %d: %v", i, err)
		}
		if state, rest, err = wire.ReadBytes(rest); err != nil {
			t.Fatalf("bad entry %d: %v", i, err)
		}
		e.state = string(state)
		out[e.clientID] = e
	}
	if len(rest) != 0 {
		t.Fatalf("%d trailing bytes in batch", len(rest))
	}
	return out
}

func TestAwarenessAddUpdateRemove(t *testing.T) {
	a := NewAwareness()

	change, delta, err := a.Apply(batch(entry{1, 1, `{"cursor":5}`}), "conn-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(change.Added) != 1 || change.Added[0] != 1 {
		t.Fatalf("expected client 1 added, got %+v", change)
	}
	if delta == nil {
		t.Fatal("expected a delta for a new client")
	}

	change, _, err = a.Apply(batch(entry{1, 2, `{"cursor":9}`}), "conn-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(change.Updated) != 1 || change.Updated[0] != 1 {
		t.Fatalf("expected client 1 updated, got %+v", change)
	}

	change, delta, err = a.Apply(batch(entry{1, 3, "null"}), "conn-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(change.Removed) != 1 || change.Removed[0] != 1 {
		t.Fatalf("expected client 1 removed, got %+v", change)
	}
	if got := decodeBatch(t, delta)[1].state; got != "null" {
		t.Fatalf("removal delta should carry null state, got %q", got)
	}
	if a.Len() != 0 {
		t.Fatalf("expected empty awareness, have %d clients", a.Len())
	}
}

func TestAwarenessStaleClockDiscarded(t *testing.T) {
	a := NewAwareness()
	a.Apply(batch(entry{1, 5, `{"cursor":5}`}), "conn-a")

	// Same clock and an older clock both lose; last-writer-wins by clock.
	for _, clock := range []uint64{5, 3} {
		change, delta, err := a.Apply(batch(entry{1, clock, `{"cursor":0}`}), "conn-a")
		if err != nil {
			t.Fatal(err)
		}
		if !change.Empty() || delta != nil {
			t.Fatalf("clock %d should have been discarded, got %+v", clock, change)
		}
	}
}

func TestAwarenessRemovalForUnknownClient(t *testing.T) {
	a := NewAwareness()
	change, delta, err := a.Apply(batch(entry{42, 1, "null"}), "conn-a")
	if err != nil {
		t.Fatal(err)
	}
	if !change.Empty() || delta != nil {
		t.Fatal("removal of a never-seen client must be a no-op")
	}
}

func TestAwarenessOrderIndependence(t *testing.T) {
	// Two batches for different clients converge regardless of arrival
	// order.
	b1 := batch(entry{1, 1, `{"u":"a"}`})
	b2 := batch(entry{2, 1, `{"u":"b"}`})

	x := NewAwareness()
	x.Apply(b1, "conn-a")
	x.Apply(b2, "conn-b")

	y := NewAwareness()
	y.Apply(b2, "conn-b")
	y.Apply(b1, "conn-a")

	sx := decodeBatch(t, x.Snapshot())
	sy := decodeBatch(t, y.Snapshot())
	if len(sx) != 2 || len(sy) != 2 {
		t.Fatalf("expected 2 clients each, got %d and %d", len(sx), len(sy))
	}
	for id, e := range sx {
		if sy[id] != e {
			t.Fatalf("divergent state for client %d: %+v vs %+v", id, e, sy[id])
		}
	}
}

func TestRemoveConn(t *testing.T) {
	a := NewAwareness()
	a.Apply(batch(entry{5, 1, `{"u":"a"}`}, entry{7, 1, `{"u":"a2"}`}), "conn-a")
	a.Apply(batch(entry{9, 1, `{"u":"b"}`}), "conn-b")

	removed, delta := a.RemoveConn("conn-a")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed clients, got %v", removed)
	}
	entries := decodeBatch(t, delta)
	for _, id := range []uint64{5, 7} {
		e, ok := entries[id]
		if !ok {
			t.Fatalf("client %d missing from removal delta", id)
		}
		if e.state != "null" {
			t.Fatalf("client %d: expected null state, got %q", id, e.state)
		}
		// Clock must advance past the stored value so the removal wins
		// against re-delivered older updates.
		if e.clock != 2 {
			t.Fatalf("client %d: expected bumped clock 2, got %d", id, e.clock)
		}
	}

	if a.Len() != 1 {
		t.Fatalf("conn-b's client should survive, have %d", a.Len())
	}

	// Second removal for the same connection is a no-op.
	removed, delta = a.RemoveConn("conn-a")
	if removed != nil || delta != nil {
		t.Fatal("repeated RemoveConn must return nothing")
	}
}

func TestSnapshotEmpty(t *testing.T) {
	if NewAwareness().Snapshot() != nil {
		t.Fatal("empty awareness must snapshot to nil")
	}
}
