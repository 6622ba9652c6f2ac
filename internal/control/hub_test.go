package control

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(id string) *Client {
	return &Client{
		id:   id,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  zerolog.Nop(),
	}
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-c.send:
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestBroadcastRoomScoped(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := newTestClient("a")
	b := newTestClient("b")
	c := newTestClient("c")
	for _, cl := range []*Client{a, b, c} {
		h.Register(cl)
	}
	h.JoinRoom(a, "room-1")
	h.JoinRoom(b, "room-1")
	h.JoinRoom(c, "room-2")

	payload := []byte(`{"event":"test"}`)
	h.BroadcastRoom("room-1", "", payload)

	for _, cl := range []*Client{a, b} {
		got := drain(cl)
		if len(got) != 1 || !bytes.Equal(got[0], payload) {
			t.Fatalf("%s: expected the payload once, got %v", cl.id, got)
		}
	}
	if got := drain(c); len(got) != 0 {
		t.Fatalf("broadcast leaked across rooms: %v", got)
	}
}

func TestBroadcastExcludesConnection(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := newTestClient("a")
	b := newTestClient("b")
	h.Register(a)
	h.Register(b)
	h.JoinRoom(a, "room-1")
	h.JoinRoom(b, "room-1")

	h.BroadcastRoom("room-1", "a", []byte("x"))

	if got := drain(a); len(got) != 0 {
		t.Fatalf("excluded connection received the payload: %v", got)
	}
	if got := drain(b); len(got) != 1 {
		t.Fatalf("expected b to receive the payload, got %v", got)
	}
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := newTestClient("a")
	h.Register(a)
	h.JoinRoom(a, "room-1")
	h.JoinRoom(a, "room-2")

	h.Unregister(a)

	h.BroadcastRoom("room-1", "", []byte("x"))
	h.BroadcastRoom("room-2", "", []byte("x"))
	if got := drain(a); len(got) != 0 {
		t.Fatalf("unregistered client still reachable: %v", got)
	}

	h.SendTo("a", []byte("x"))
	if got := drain(a); len(got) != 0 {
		t.Fatal("unregistered client still addressable by id")
	}
}

func TestLeaveRoom(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := newTestClient("a")
	h.Register(a)
	h.JoinRoom(a, "room-1")
	h.LeaveRoom(a, "room-1")

	h.BroadcastRoom("room-1", "", []byte("x"))
	if got := drain(a); len(got) != 0 {
		t.Fatalf("client received payload after leaving: %v", got)
	}
}

func TestSendTo(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := newTestClient("a")
	h.Register(a)

	h.SendTo("a", []byte("direct"))
	if got := drain(a); len(got) != 1 || string(got[0]) != "direct" {
		t.Fatalf("expected direct payload, got %v", got)
	}

	// Unknown ids are ignored.
	h.SendTo("nobody", []byte("x"))
}

func TestFullBufferDropsPayload(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := &Client{id: "a", send: make(chan []byte, 1), done: make(chan struct{}), log: zerolog.Nop()}
	h.Register(a)
	h.JoinRoom(a, "room-1")

	h.BroadcastRoom("room-1", "", []byte("first"))
	// Buffer is now full; this one is dropped instead of blocking.
	h.BroadcastRoom("room-1", "", []byte("second"))

	got := drain(a)
	if len(got) != 1 || string(got[0]) != "first" {
		t.Fatalf("expected only the first payload, got %v", got)
	}
}
