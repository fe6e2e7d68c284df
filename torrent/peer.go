package torrent

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Peer is one address from the tracker's compact peer list
type Peer struct {
	IP   string
	Port uint16
}

// Addr formats the peer as a dialable host:port string
func (p Peer) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// --------------------------------------------------------------------------------------------- //

/*
ParsePeers converts a compact peer list from a tracker response into a slice of
Peer structs. The peer list is a binary string where each peer is represented
by 6 bytes (4 for IP, 2 for port).

Parameters:
  - peers: String containing the compact peer list.

Returns:
  - []Peer: Slice of Peer structs with IP and port information.
  - error: Non-nil if the peer list length is invalid (not a multiple of 6).
*/
func ParsePeers(peers string) ([]Peer, error) {
	peerBytes := []byte(peers)
	if len(peerBytes)%6 != 0 {
		return nil, errors.Wrapf(ErrProtocol, "peers length %d is not a multiple of 6", len(peerBytes))
	}

	var result []Peer

	for i := 0; i < len(peerBytes); i += 6 {
		ip := fmt.Sprintf("%d.%d.%d.%d", peerBytes[i], peerBytes[i+1], peerBytes[i+2], peerBytes[i+3])
		port := binary.BigEndian.Uint16(peerBytes[i+4 : i+6])
		result = append(result, Peer{IP: ip, Port: port})
	}

	return result, nil
}

// --------------------------------------------------------------------------------------------- //

// SessionState tracks where a peer connection is in its lifecycle
type SessionState int

const (
	StateDialing SessionState = iota
	StateHandshaking
	StateAwaitingBitfield
	StateChoked
	StateInterested
	StateUnchoked
	StateDownloading
	StateClosed
)

/*
PeerSession is a stateful handle bound to one TCP connection.
It owns the connection exclusively for its lifetime and is discarded when the
download completes or the connection fails.

Fields:
  - ID: Short identifier attached to this session's log lines.
  - Peer: Address the session is connected to.
  - Conn: The underlying TCP connection.
  - RemoteID: Peer id the remote side sent in its handshake.
  - Extensions: Whether the remote handshake advertised the extension protocol.
  - Bitfield: Raw bitfield payload from the peer; retained but never consulted.
  - State: Current lifecycle state.
*/
type PeerSession struct {
	ID         string
	Peer       Peer
	Conn       net.Conn
	RemoteID   [20]byte
	Extensions bool
	Bitfield   []byte
	State      SessionState

	choked     bool
	interested bool
}

// --------------------------------------------------------------------------------------------- //

/*
DialPeer connects to a peer and exchanges handshakes, leaving the session in
the AwaitingBitfield state.

Parameters:
  - peer: Address of the peer to connect to.
  - infoHash: 20-byte SHA-1 hash identifying the torrent.
  - extensions: Whether to advertise the extension protocol in the handshake.

Returns:
  - *PeerSession: The connected session, ready to await the peer's bitfield.
  - error: Non-nil if dialing or the handshake fails.
*/
func DialPeer(peer Peer, infoHash [20]byte, extensions bool) (*PeerSession, error) {
	session := &PeerSession{
		ID:     uuid.NewString()[:8],
		Peer:   peer,
		State:  StateDialing,
		choked: true,
	}

	conn, err := net.DialTimeout("tcp", peer.Addr(), ConnectTimeout)
	if err != nil {
		session.State = StateClosed
		return nil, errors.Wrapf(ErrConnectionClosed, "connecting to %s: %v", peer.Addr(), err)
	}

	session.Conn = conn
	session.State = StateHandshaking

	response, err := PerformHandshake(conn, infoHash, extensions)
	if err != nil {
		session.Close()
		return nil, err
	}

	session.RemoteID = response.PeerID
	session.Extensions = response.SupportsExtensions()
	session.State = StateAwaitingBitfield

	log.Debugf("session %s: connected to %s, remote peer id %x", session.ID, peer.Addr(), session.RemoteID)

	return session, nil
}

// --------------------------------------------------------------------------------------------- //

/*
AwaitBitfield waits for the peer's bitfield message and moves the session to
the Choked state. The bitfield contents are retained but never used to refuse
pieces; the tracker is trusted to advertise fully-seeded peers.

Parameters:
  - s: The session to advance.

Returns:
  - error: Non-nil if the connection fails or the peer sends an unexpected message.
*/
func (s *PeerSession) AwaitBitfield() error {
	msg, err := s.expect(Bitfield)
	if err != nil {
		return err
	}

	s.Bitfield = msg.Payload
	s.State = StateChoked

	return nil
}

// --------------------------------------------------------------------------------------------- //

// Close shuts the connection and marks the session dead.
func (s *PeerSession) Close() {
	if s.Conn != nil {
		s.Conn.Close()
	}

	s.State = StateClosed
}

// --------------------------------------------------------------------------------------------- //

func (s *PeerSession) send(msg *Message) error {
	s.Conn.SetWriteDeadline(time.Now().Add(ReadTimeout))

	_, err := s.Conn.Write(msg.Serialize())
	if err != nil {
		return errors.Wrapf(ErrConnectionClosed, "session %s: sending message id %d: %v", s.ID, msg.ID, err)
	}

	return nil
}

func (s *PeerSession) receive() (*Message, error) {
	s.Conn.SetReadDeadline(time.Now().Add(ReadTimeout))

	return ReadMessage(s.Conn)
}

// --------------------------------------------------------------------------------------------- //

/*
expect reads messages until one with the wanted id arrives.
Keep-alive frames are no-ops and have messages are discarded; any other id is
a protocol violation for this session.

Parameters:
  - s: The session to read from.
  - id: The message id to wait for.

Returns:
  - *Message: The first message carrying the wanted id.
  - error: Non-nil on connection failure or an unexpected message id.
*/
func (s *PeerSession) expect(id MessageID) (*Message, error) {
	for {
		msg, err := s.receive()
		if err != nil {
			return nil, err
		}

		if msg == nil {
			continue
		}

		if msg.ID == Have {
			continue
		}

		if msg.ID != id {
			return nil, errors.Wrapf(ErrProtocol, "session %s: expected message id %d, got %d", s.ID, id, msg.ID)
		}

		return msg, nil
	}
}

// --------------------------------------------------------------------------------------------- //

/*
awaitUnchoke blocks until the peer unchokes this session.
Choke messages keep the session waiting; keep-alives and have messages are
skipped; anything else is a protocol violation.
*/
func (s *PeerSession) awaitUnchoke() error {
	for {
		msg, err := s.receive()
		if err != nil {
			return err
		}

		if msg == nil {
			continue
		}

		switch msg.ID {
		case Unchoke:
			s.choked = false
			s.State = StateUnchoked
			return nil

		case Choke:
			s.choked = true
			s.State = StateChoked

		case Have:

		default:
			return errors.Wrapf(ErrProtocol, "session %s: expected unchoke, got message id %d", s.ID, msg.ID)
		}
	}
}

// --------------------------------------------------------------------------------------------- //

/*
DownloadPiece fetches and verifies one piece over this session.
Blocks are requested with up to MaxBacklog outstanding at a time, in ascending
begin order; returned blocks may arrive in any order and are placed by their
begin offset. A mid-piece choke returns the in-flight requests to the pending
set and the download resumes after the next unchoke.

Parameters:
  - s: The session to download over.
  - index: Index of the piece to fetch.
  - length: Expected length of the piece in bytes.
  - hash: Expected SHA-1 digest of the piece.

Returns:
  - []byte: The verified piece bytes.
  - error: Non-nil on connection failure, protocol violation, or hash mismatch.
*/
func (s *PeerSession) DownloadPiece(index int, length int, hash [20]byte) ([]byte, error) {
	if s.choked {
		if !s.interested {
			if err := s.send(&Message{ID: Interested}); err != nil {
				return nil, err
			}

			s.interested = true
			s.State = StateInterested
		}

		if err := s.awaitUnchoke(); err != nil {
			return nil, err
		}
	}

	s.State = StateDownloading

	buf := make([]byte, length)

	pending := make([]int, 0, (length+BlockSize-1)/BlockSize)
	for begin := 0; begin < length; begin += BlockSize {
		pending = append(pending, begin)
	}

	inflight := make(map[int]struct{})
	downloaded := 0

	for downloaded < length {
		if s.choked {
			for begin := range inflight {
				pending = append(pending, begin)
			}

			inflight = make(map[int]struct{})
			sort.Ints(pending)

			log.Debugf("session %s: choked mid-piece %d, %d blocks returned to pending", s.ID, index, len(pending))

			if err := s.awaitUnchoke(); err != nil {
				return nil, err
			}

			s.State = StateDownloading
		}

		for len(inflight) < MaxBacklog && len(pending) > 0 {
			begin := pending[0]
			pending = pending[1:]

			blockLen := BlockSize
			if length-begin < blockLen {
				blockLen = length - begin
			}

			if err := s.send(FormatRequest(index, begin, blockLen)); err != nil {
				return nil, err
			}

			inflight[begin] = struct{}{}
		}

		msg, err := s.receive()
		if err != nil {
			return nil, err
		}

		if msg == nil {
			continue
		}

		switch msg.ID {
		case Piece:
			begin, n, err := ParsePiece(index, buf, msg)
			if err != nil {
				return nil, err
			}

			if _, ok := inflight[begin]; !ok {
				log.Debugf("session %s: unsolicited block at offset %d for piece %d", s.ID, begin, index)
				continue
			}

			expected := BlockSize
			if length-begin < expected {
				expected = length - begin
			}

			if n != expected {
				return nil, errors.Wrapf(ErrProtocol, "session %s: block at offset %d is %d bytes, want %d",
					s.ID, begin, n, expected)
			}

			delete(inflight, begin)
			downloaded += n

		case Choke:
			s.choked = true
			s.State = StateChoked

		case Unchoke:
			s.choked = false

		case Have:
			// peers keep announcing pieces mid-download; contents unused

		default:
			log.Debugf("session %s: ignoring message id %d during piece %d", s.ID, msg.ID, index)
		}
	}

	s.State = StateUnchoked

	sum := sha1.Sum(buf)
	if !bytes.Equal(sum[:], hash[:]) {
		return nil, errors.Wrapf(ErrHashMismatch, "piece %d from %s", index, s.Peer.Addr())
	}

	log.Debugf("session %s: piece %d complete (%d bytes)", s.ID, index, length)

	return buf, nil
}
