// Package crdt defines the pluggable document merge contract. The engine
// treats conflict resolution as a black box: it only needs to apply opaque
// updates, summarize what it knows as a state vector, and compute the
// update that brings a peer from its declared state vector to the current
// state.
package crdt

import "errors"

var ErrBadStateVector = errors.New("crdt: malformed state vector")

// Document is the merge function the session layer multiplexes connections
// onto. Implementations must be safe for use by a single goroutine; the
// session serializes access.
type Document interface {
	// ApplyUpdate merges an opaque update into the document. Re-applying
	// an already-applied update must leave the document unchanged.
	ApplyUpdate(update []byte) error

	// StateVector returns a compact summary of what this document knows.
	StateVector() []byte

	// Diff returns the update that brings a peer with the given state
	// vector up to the current state.
	Diff(stateVector []byte) ([]byte, error)

	// Encode returns a snapshot of the full document state, suitable for
	// the out-of-band persistence collaborator and for seeding a fresh
	// document via ApplyUpdate.
	Encode() []byte
}

// Factory creates the document for a new session. A Yjs-compatible
// implementation can be dropped in here without touching the session layer.
type Factory func() Document
