package torrent

import (
	"bytes"
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const protocolName = "BitTorrent protocol"

// --------------------------------------------------------------------------------------------- //

/*
Handshake represents the fixed 68-byte frame that opens a peer connection.

Fields:
  - ProtocolNameLength: Length of the protocol name (19 for "BitTorrent protocol").
  - Protocol: Fixed-size array containing the protocol name.
  - Reserved: Reserved bytes; bit 20 advertises the extension protocol.
  - InfoHash: 20-byte SHA-1 hash of the torrent's info dictionary.
  - PeerID: 20-byte unique identifier for the peer.
*/
type Handshake struct {
	ProtocolNameLength byte
	Protocol           [19]byte
	Reserved           [8]byte
	InfoHash           [20]byte
	PeerID             [20]byte
}

// --------------------------------------------------------------------------------------------- //

/*
NewHandshake builds the handshake frame this client sends.

Parameters:
  - infoHash: 20-byte SHA-1 hash identifying the torrent.
  - extensions: Whether to advertise the extension protocol in the reserved bytes.

Returns:
  - *Handshake: The populated handshake frame.
*/
func NewHandshake(infoHash [20]byte, extensions bool) *Handshake {
	var hs Handshake
	hs.ProtocolNameLength = byte(len(protocolName))
	copy(hs.Protocol[:], protocolName)
	hs.InfoHash = infoHash
	copy(hs.PeerID[:], PeerID)

	if extensions {
		hs.Reserved[5] |= 0x10
	}

	return &hs
}

// --------------------------------------------------------------------------------------------- //

/*
Serialize encodes the handshake as its exact 68-byte wire form.

Parameters:
  - hs: Pointer to the Handshake to encode.

Returns:
  - []byte: The 68-byte frame.
*/
func (hs *Handshake) Serialize() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, hs)

	return buf.Bytes()
}

// --------------------------------------------------------------------------------------------- //

/*
SupportsExtensions reports whether the handshake advertises the extension
protocol via reserved bit 20.

Parameters:
  - hs: Pointer to the Handshake to inspect.

Returns:
  - bool: True if the extension bit is set.
*/
func (hs *Handshake) SupportsExtensions() bool {
	return hs.Reserved[5]&0x10 != 0
}

// --------------------------------------------------------------------------------------------- //

/*
PerformHandshake exchanges handshakes with a peer over an open connection.
It sends this client's 68-byte frame, reads exactly 68 bytes back, and
verifies the protocol string and info hash of the response.

Parameters:
  - conn: Open TCP connection to the peer.
  - infoHash: 20-byte SHA-1 hash identifying the torrent.
  - extensions: Whether to advertise the extension protocol.

Returns:
  - *Handshake: The peer's handshake frame, including its peer id.
  - error: Non-nil if the exchange fails or the response does not match.
*/
func PerformHandshake(conn net.Conn, infoHash [20]byte, extensions bool) (*Handshake, error) {
	hs := NewHandshake(infoHash, extensions)

	conn.SetWriteDeadline(time.Now().Add(ReadTimeout))
	err := binary.Write(conn, binary.BigEndian, hs)
	if err != nil {
		return nil, errors.Wrapf(ErrConnectionClosed, "sending handshake: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	var response Handshake

	err = binary.Read(conn, binary.BigEndian, &response)
	if err != nil {
		return nil, errors.Wrapf(ErrConnectionClosed, "reading handshake: %v", err)
	}

	if response.ProtocolNameLength != byte(len(protocolName)) ||
		string(response.Protocol[:]) != protocolName {
		return nil, errors.Wrap(ErrProtocol, "invalid protocol string in handshake")
	}

	if !bytes.Equal(response.InfoHash[:], infoHash[:]) {
		return nil, errors.Wrap(ErrProtocol, "info hash mismatch in handshake")
	}

	log.Debugf("handshake with %s complete, remote peer id %x, extensions=%v",
		conn.RemoteAddr(), response.PeerID, response.SupportsExtensions())

	return &response, nil
}
