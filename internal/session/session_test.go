package session

import (
	"bytes"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/crdt"
	"github.com/syncspace-live/syncspace/internal/wire"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeConn) received(t *testing.T) []wire.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Frame, 0, len(f.frames))
	for _, raw := range f.frames {
		frame, err := wire.DecodeFrame(raw)
		if err != nil {
			t.Fatalf("received malformed frame: %v", err)
		}
		out = append(out, frame)
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func newTestSession() *Session {
	return newSession("room-1", crdt.NewUpdateLog(), zerolog.Nop())
}

func TestAttachSendsSyncStep1(t *testing.T) {
	s := newTestSession()
	c := &fakeConn{id: "c1"}
	s.attach(c)

	frames := c.received(t)
	if len(frames) != 1 {
		t.Fatalf("expected exactly the handshake frame, got %d", len(frames))
	}
	if frames[0].Type != wire.MessageSyncStep1 {
		t.Fatalf("expected SyncStep1, got type %d", frames[0].Type)
	}
}

func TestAttachSendsAwarenessSnapshot(t *testing.T) {
	s := newTestSession()
	c1 := &fakeConn{id: "c1"}
	s.attach(c1)
	s.HandleFrame(c1, wire.EncodeFrame(wire.MessageAwareness, batch(entry{1, 1, `{"u":"a"}`})))

	c2 := &fakeConn{id: "c2"}
	s.attach(c2)

	frames := c2.received(t)
	if len(frames) != 2 {
		t.Fatalf("expected SyncStep1 plus awareness snapshot, got %d frames", len(frames))
	}
	if frames[1].Type != wire.MessageAwareness {
		t.Fatalf("expected awareness snapshot, got type %d", frames[1].Type)
	}
	if _, ok := decodeBatch(t, frames[1].Payload)[1]; !ok {
		t.Fatal("snapshot missing client 1")
	}
}

func TestSyncStep1GetsSyncStep2Reply(t *testing.T) {
	s := newTestSession()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	s.attach(c1)
	s.attach(c2)

	s.HandleFrame(c1, wire.EncodeFrame(wire.MessageUpdate, []byte("edit-1")))
	c1.reset()
	c2.reset()

	// Peer asks for everything it is missing.
	s.HandleFrame(c2, wire.EncodeFrame(wire.MessageSyncStep1, nil))

	frames := c2.received(t)
	if len(frames) != 1 || frames[0].Type != wire.MessageSyncStep2 {
		t.Fatalf("expected one SyncStep2 reply, got %v", frames)
	}
	// The reply goes only to the asker.
	if got := c1.received(t); len(got) != 0 {
		t.Fatalf("SyncStep2 leaked to another connection: %v", got)
	}

	peer := crdt.NewUpdateLog()
	if err := peer.ApplyUpdate(frames[0].Payload); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	converged := bytes.Equal(peer.Encode(), s.doc.Encode())
	s.mu.Unlock()
	if !converged {
		t.Fatal("SyncStep2 payload did not bring the peer up to date")
	}
}

func TestUpdateForwardedToOthers(t *testing.T) {
	s := newTestSession()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	c3 := &fakeConn{id: "c3"}
	for _, c := range []*fakeConn{c1, c2, c3} {
		s.attach(c)
		c.reset()
	}

	raw := wire.EncodeFrame(wire.MessageUpdate, []byte("edit-1"))
	s.HandleFrame(c1, raw)

	for _, c := range []*fakeConn{c2, c3} {
		c.mu.Lock()
		frames := c.frames
		c.mu.Unlock()
		if len(frames) != 1 || !bytes.Equal(frames[0], raw) {
			t.Fatalf("%s: expected the raw update frame, got %v", c.id, frames)
		}
	}
	// Sender must not get its own update echoed back.
	if got := c1.received(t); len(got) != 0 {
		t.Fatalf("update echoed to sender: %v", got)
	}
}

func TestAwarenessBroadcastIncludesSender(t *testing.T) {
	s := newTestSession()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	s.attach(c1)
	s.attach(c2)
	c1.reset()
	c2.reset()

	s.HandleFrame(c1, wire.EncodeFrame(wire.MessageAwareness, batch(entry{1, 1, `{"u":"a"}`})))

	for _, c := range []*fakeConn{c1, c2} {
		frames := c.received(t)
		if len(frames) != 1 || frames[0].Type != wire.MessageAwareness {
			t.Fatalf("%s: expected one awareness frame, got %v", c.id, frames)
		}
	}
}

func TestStaleAwarenessNotBroadcast(t *testing.T) {
	s := newTestSession()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	s.attach(c1)
	s.attach(c2)

	s.HandleFrame(c1, wire.EncodeFrame(wire.MessageAwareness, batch(entry{1, 5, `{"u":"a"}`})))
	c2.reset()

	s.HandleFrame(c1, wire.EncodeFrame(wire.MessageAwareness, batch(entry{1, 4, `{"u":"old"}`})))

	if got := c2.received(t); len(got) != 0 {
		t.Fatalf("stale awareness update was broadcast: %v", got)
	}
}

func TestDetachBroadcastsControlledClients(t *testing.T) {
	s := newTestSession()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	s.attach(c1)
	s.attach(c2)

	s.HandleFrame(c1, wire.EncodeFrame(wire.MessageAwareness,
		batch(entry{5, 1, `{"u":"a"}`}, entry{7, 1, `{"u":"a2"}`})))
	c2.reset()

	if empty := s.detach(c1); empty {
		t.Fatal("session still has c2, must not report empty")
	}

	frames := c2.received(t)
	if len(frames) != 1 || frames[0].Type != wire.MessageAwareness {
		t.Fatalf("expected one removal broadcast, got %v", frames)
	}
	entries := decodeBatch(t, frames[0].Payload)
	if len(entries) != 2 {
		t.Fatalf("expected both controlled clients removed, got %v", entries)
	}
	for _, id := range []uint64{5, 7} {
		if entries[id].state != "null" {
			t.Fatalf("client %d: expected null state, got %q", id, entries[id].state)
		}
	}
}

func TestMalformedFrameIgnored(t *testing.T) {
	s := newTestSession()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	s.attach(c1)
	s.attach(c2)
	c2.reset()

	s.HandleFrame(c1, nil)
	s.HandleFrame(c1, []byte{9})                                      // unknown discriminant
	s.HandleFrame(c1, wire.EncodeFrame(wire.MessageAwareness, []byte{0x80})) // truncated varint

	if got := c2.received(t); len(got) != 0 {
		t.Fatalf("malformed frames produced broadcasts: %v", got)
	}
	if s.ConnCount() != 2 {
		t.Fatal("connections must survive malformed frames")
	}
}
