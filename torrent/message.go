package torrent

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MessageID is an enumeration of BitTorrent protocol message types
type MessageID uint8

const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

// Extended is the BEP10 extension protocol message id
const Extended MessageID = 20

// Frames larger than this are rejected as hostile; the biggest legitimate
// frame is a piece message of one block plus its 9-byte header.
const maxFrameLength = 1 << 20

// Message represents a BitTorrent protocol frame: a message id and its
// payload. A nil *Message stands for the zero-length keep-alive frame.
type Message struct {
	ID      MessageID
	Payload []byte
}

// --------------------------------------------------------------------------------------------- //

/*
Serialize encodes a message with its 4-byte big-endian length prefix.
A nil message serializes to the keep-alive frame: a bare zero length.

Parameters:
  - m: Pointer to the Message to encode, or nil for keep-alive.

Returns:
  - []byte: The encoded frame, ready to be written to the wire.
*/
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}

	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)

	return buf
}

// --------------------------------------------------------------------------------------------- //

/*
ReadMessage reads one length-prefixed frame from a byte stream.
Partial reads loop until the expected byte count arrives; a premature EOF or
an expired read deadline mid-frame is reported as a closed connection.

Parameters:
  - r: Reader positioned at the start of a frame.

Returns:
  - *Message: The decoded message, or nil for a keep-alive frame.
  - error: Non-nil if the stream ends mid-frame or the frame is oversized.
*/
func ReadMessage(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, errors.Wrapf(ErrConnectionClosed, "reading length prefix: %v", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}

	if length > maxFrameLength {
		return nil, errors.Wrapf(ErrProtocol, "frame of %d bytes exceeds limit", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrapf(ErrConnectionClosed, "reading %d-byte frame: %v", length, err)
	}

	return &Message{
		ID:      MessageID(buf[0]),
		Payload: buf[1:],
	}, nil
}

// --------------------------------------------------------------------------------------------- //

/*
FormatRequest builds a request message for one block of a piece.

Parameters:
  - index: Piece index the block belongs to.
  - begin: Byte offset of the block within the piece.
  - length: Number of bytes requested.

Returns:
  - *Message: The request message with its fixed 12-byte payload.
*/
func FormatRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))

	return &Message{ID: Request, Payload: payload}
}

// --------------------------------------------------------------------------------------------- //

/*
ParsePiece validates a piece message and copies its block into a piece buffer.
Block bytes start at offset 8 of the payload, after the index and begin words.

Parameters:
  - index: Piece index the caller is downloading.
  - buf: Buffer sized to the whole piece; the block is copied in at its begin offset.
  - msg: The piece message to parse.

Returns:
  - int: The begin offset of the block within the piece.
  - int: Number of block bytes copied.
  - error: Non-nil if the message is not a well-formed piece for this index.
*/
func ParsePiece(index int, buf []byte, msg *Message) (int, int, error) {
	if msg.ID != Piece {
		return 0, 0, errors.Wrapf(ErrProtocol, "expected piece message, got id %d", msg.ID)
	}

	if len(msg.Payload) < 8 {
		return 0, 0, errors.Wrapf(ErrProtocol, "piece payload of %d bytes is too short", len(msg.Payload))
	}

	parsedIndex := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	if parsedIndex != index {
		return 0, 0, errors.Wrapf(ErrProtocol, "piece %d arrived while downloading piece %d", parsedIndex, index)
	}

	begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	if begin >= len(buf) {
		return 0, 0, errors.Wrapf(ErrProtocol, "block offset %d outside piece of %d bytes", begin, len(buf))
	}

	data := msg.Payload[8:]
	if begin+len(data) > len(buf) {
		return 0, 0, errors.Wrapf(ErrProtocol, "block of %d bytes at offset %d overruns piece of %d bytes",
			len(data), begin, len(buf))
	}

	copy(buf[begin:], data)

	return begin, len(data), nil
}

// --------------------------------------------------------------------------------------------- //

/*
ParseHave extracts the piece index announced by a have message.

Parameters:
  - msg: The have message to parse.

Returns:
  - int: The announced piece index.
  - error: Non-nil if the message is not a well-formed have.
*/
func ParseHave(msg *Message) (int, error) {
	if msg.ID != Have {
		return 0, errors.Wrapf(ErrProtocol, "expected have message, got id %d", msg.ID)
	}

	if len(msg.Payload) != 4 {
		return 0, errors.Wrapf(ErrProtocol, "have payload of %d bytes, want 4", len(msg.Payload))
	}

	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}
