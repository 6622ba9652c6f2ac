package crdt

import (
	"bytes"
	"testing"
)

func TestApplyAndDiff(t *testing.T) {
	doc := NewUpdateLog()

	if err := doc.ApplyUpdate([]byte("update-a")); err != nil {
		t.Fatal(err)
	}
	if err := doc.ApplyUpdate([]byte("update-b")); err != nil {
		t.Fatal(err)
	}

	// A peer that knows nothing gets both updates.
	diff, err := doc.Diff(nil)
	if err != nil {
		t.Fatal(err)
	}

	peer := NewUpdateLog()
	if err := peer.ApplyUpdate(diff); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(peer.Encode(), doc.Encode()) {
		t.Fatal("peer did not converge after applying diff")
	}
}

func TestDiffFromStateVector(t *testing.T) {
	doc := NewUpdateLog()
	doc.ApplyUpdate([]byte("one"))

	peer := NewUpdateLog()
	peer.ApplyUpdate(mustDiff(t, doc, nil))

	// Peer is caught up; new update lands only on doc.
	doc.ApplyUpdate([]byte("two"))

	peer.ApplyUpdate(mustDiff(t, doc, peer.StateVector()))

	if !bytes.Equal(peer.Encode(), doc.Encode()) {
		t.Fatal("incremental diff did not converge")
	}
}

func mustDiff(t *testing.T, d *UpdateLog, sv []byte) []byte {
	t.Helper()
	diff, err := d.Diff(sv)
	if err != nil {
		t.Fatal(err)
	}
	return diff
}

func TestIdempotentApply(t *testing.T) {
	doc := NewUpdateLog()
	doc.ApplyUpdate([]byte("once"))
	before := doc.Encode()

	// Re-delivery of the same update must not double-count.
	doc.ApplyUpdate([]byte("once"))
	if !bytes.Equal(doc.Encode(), before) {
		t.Fatal("re-applied update changed document state")
	}
}

func TestEmptyDiffIsNoOp(t *testing.T) {
	doc := NewUpdateLog()
	doc.ApplyUpdate([]byte("x"))

	diff, err := doc.Diff(doc.StateVector())
	if err != nil {
		t.Fatal(err)
	}

	before := doc.Encode()
	if err := doc.ApplyUpdate(diff); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(doc.Encode(), before) {
		t.Fatal("empty diff changed document state")
	}
}

func TestBadStateVector(t *testing.T) {
	doc := NewUpdateLog()
	if _, err := doc.Diff([]byte{0x80, 0x80}); err != ErrBadStateVector {
		t.Fatalf("expected ErrBadStateVector, got %v", err)
	}
}

func TestSnapshotSeedsFreshDocument(t *testing.T) {
	doc := NewUpdateLog()
	doc.ApplyUpdate([]byte("alpha"))
	doc.ApplyUpdate([]byte("beta"))

	fresh := NewUpdateLog()
	if err := fresh.ApplyUpdate(doc.Encode()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fresh.Encode(), doc.Encode()) {
		t.Fatal("snapshot did not seed an equivalent document")
	}
}
