package crdt

import (
	"crypto/sha256"
	"sync"

	"github.com/syncspace-live/syncspace/internal/wire"
)

// UpdateLog is the default Document implementation: an append-only relay
// log. It does not interpret update payloads; it remembers them in receipt
// order so late joiners can catch up, and deduplicates by digest so
// re-delivered updates are no-ops.
//
// State vector encoding: uvarint count of applied updates. Diff encoding:
// uvarint count followed by length-prefixed updates, which is also a valid
// update payload (ApplyUpdate unpacks batches).
type UpdateLog struct {
	mu      sync.Mutex
	updates [][]byte
	seen    map[[sha256.Size]byte]struct{}
}

// NewUpdateLog returns an empty update-log document.
func NewUpdateLog() *UpdateLog {
	return &UpdateLog{seen: make(map[[sha256.Size]byte]struct{})}
}

// NewUpdateLogDocument is a Factory for UpdateLog.
func NewUpdateLogDocument() Document {
	return NewUpdateLog()
}

func (d *UpdateLog) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range unpackBatch(update) {
		digest := sha256.Sum256(u)
		if _, ok := d.seen[digest]; ok {
			continue
		}
		d.seen[digest] = struct{}{}
		cp := make([]byte, len(u))
		copy(cp, u)
		d.updates = append(d.updates, cp)
	}
	return nil
}

// unpackBatch splits a batch payload into individual updates. A payload
// that does not parse as a batch is treated as a single update.
func unpackBatch(update []byte) [][]byte {
	count, rest, err := wire.ReadUint(update)
	if err != nil || count > uint64(len(rest)) {
		return [][]byte{update}
	}
	if count == 0 {
		if len(rest) == 0 {
			return nil
		}
		return [][]byte{update}
	}
	parts := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		var u []byte
		u, rest, err = wire.ReadBytes(rest)
		if err != nil {
			return [][]byte{update}
		}
		parts = append(parts, u)
	}
	if len(rest) != 0 {
		return [][]byte{update}
	}
	return parts
}

func (d *UpdateLog) StateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return wire.AppendUint(nil, uint64(len(d.updates)))
}

func (d *UpdateLog) Diff(stateVector []byte) ([]byte, error) {
	known := uint64(0)
	if len(stateVector) > 0 {
		v, rest, err := wire.ReadUint(stateVector)
		if err != nil || len(rest) != 0 {
			return nil, ErrBadStateVector
		}
		known = v
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if known > uint64(len(d.updates)) {
		known = uint64(len(d.updates))
	}
	missing := d.updates[known:]
	buf := wire.AppendUint(nil, uint64(len(missing)))
	for _, u := range missing {
		buf = wire.AppendBytes(buf, u)
	}
	return buf, nil
}

func (d *UpdateLog) Encode() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := wire.AppendUint(nil, uint64(len(d.updates)))
	for _, u := range d.updates {
		buf = wire.AppendBytes(buf, u)
	}
	return buf
}
