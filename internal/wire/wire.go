// Package wire implements the binary frame format shared by the document
// channel. A frame is a uvarint message-type discriminant followed by an
// opaque payload that is passed through byte-for-byte; the payload encoding
// belongs to the CRDT library, not to this package.
package wire

import (
	"encoding/binary"
	"errors"
)

// MessageType is the frame discriminant carried in the first uvarint.
type MessageType uint64

const (
	// MessageSyncStep1 carries a state vector describing what the sender knows.
	MessageSyncStep1 MessageType = 0

	// MessageSyncStep2 carries the update that brings the recipient up to date.
	MessageSyncStep2 MessageType = 1

	// MessageUpdate carries an incremental document update.
	MessageUpdate MessageType = 2

	// MessageAwareness carries an awareness (cursor/presence metadata) delta.
	MessageAwareness MessageType = 3
)

var (
	ErrEmptyFrame     = errors.New("wire: empty frame")
	ErrTruncatedFrame = errors.New("wire: truncated frame")
)

// Frame is a decoded document-channel message.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// EncodeFrame builds the wire representation of a frame.
func EncodeFrame(t MessageType, payload []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(payload))
	buf = binary.AppendUvarint(buf, uint64(t))
	return append(buf, payload...)
}

// DecodeFrame parses a raw websocket message into a frame. The payload
// slice aliases the input.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	t, n := binary.Uvarint(data)
	if n <= 0 {
		return Frame{}, ErrTruncatedFrame
	}
	return Frame{Type: MessageType(t), Payload: data[n:]}, nil
}

// AppendUint appends a uvarint.
func AppendUint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

// ReadUint consumes a uvarint from the front of data.
func ReadUint(data []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, nil, ErrTruncatedFrame
	}
	return v, data[n:], nil
}

// AppendBytes appends a length-prefixed byte string.
func AppendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// ReadBytes consumes a length-prefixed byte string from the front of data.
// The returned slice aliases the input.
func ReadBytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := ReadUint(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, ErrTruncatedFrame
	}
	return rest[:n], rest[n:], nil
}

// AppendString appends a length-prefixed string.
func AppendString(buf []byte, s string) []byte {
	return AppendBytes(buf, []byte(s))
}

// ReadString consumes a length-prefixed string from the front of data.
func ReadString(data []byte) (string, []byte, error) {
	b, rest, err := ReadBytes(data)
	if err != nil {
		return "", nil, err
	}
	return string(b), rest, nil
}
