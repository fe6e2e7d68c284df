package torrent

import (
	"crypto/sha1"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

const mockRemoteID = "-XX0001-xxxxxxxxxxxx"

// startMockPeer listens on a loopback port, answers one incoming handshake,
// and hands the connection to the given script.
func startMockPeer(t *testing.T, infoHash [20]byte, extensions bool, script func(conn net.Conn)) Peer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 68)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}

		response := NewHandshake(infoHash, extensions)
		copy(response.PeerID[:], mockRemoteID)
		if _, err := conn.Write(response.Serialize()); err != nil {
			return
		}

		if script != nil {
			script(conn)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)

	return Peer{IP: "127.0.0.1", Port: uint16(addr.Port)}
}

func writeMsg(conn net.Conn, msg *Message) {
	conn.Write(msg.Serialize())
}

// respondBlock answers one request message with the matching bytes of content,
// addressing content as the concatenation of pieceLength-sized pieces.
func respondBlock(conn net.Conn, content []byte, pieceLength int, req *Message, corrupt bool) {
	index := int(binary.BigEndian.Uint32(req.Payload[0:4]))
	begin := int(binary.BigEndian.Uint32(req.Payload[4:8]))
	length := int(binary.BigEndian.Uint32(req.Payload[8:12]))

	start := index*pieceLength + begin
	block := make([]byte, length)
	copy(block, content[start:start+length])

	if corrupt {
		block[0] ^= 0xFF
	}

	payload := make([]byte, 8+length)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)

	writeMsg(conn, &Message{ID: Piece, Payload: payload})
}

// servePieces runs a fully cooperative seed: bitfield, unchoke on interest,
// and a correct (or corrupted) block for every request until the peer hangs up.
func servePieces(content []byte, pieceLength int, corrupt bool) func(conn net.Conn) {
	return func(conn net.Conn) {
		writeMsg(conn, &Message{ID: Bitfield, Payload: []byte{0xFF}})

		for {
			msg, err := ReadMessage(conn)
			if err != nil {
				return
			}

			if msg == nil {
				continue
			}

			switch msg.ID {
			case Interested:
				writeMsg(conn, &Message{ID: Unchoke})
			case Request:
				respondBlock(conn, content, pieceLength, msg, corrupt)
			}
		}
	}
}

func testContent(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i*7 + i>>8)
	}

	return content
}

func TestDialPeerStates(t *testing.T) {
	hash := testInfoHash()
	peer := startMockPeer(t, hash, false, servePieces(nil, 1, false))

	session, err := DialPeer(peer, hash, false)
	require.NoError(t, err)
	defer session.Close()

	require.Equal(t, StateAwaitingBitfield, session.State)
	require.Equal(t, mockRemoteID, string(session.RemoteID[:]))
	require.False(t, session.Extensions)

	require.NoError(t, session.AwaitBitfield())
	require.Equal(t, StateChoked, session.State)
	require.Equal(t, []byte{0xFF}, session.Bitfield)
}

func TestDialPeerInfoHashMismatch(t *testing.T) {
	var wrong [20]byte
	copy(wrong[:], "99999999999999999999")
	peer := startMockPeer(t, wrong, false, nil)

	_, err := DialPeer(peer, testInfoHash(), false)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestAwaitBitfieldSkipsHaveAndKeepAlive(t *testing.T) {
	hash := testInfoHash()
	peer := startMockPeer(t, hash, false, func(conn net.Conn) {
		var keepAlive *Message
		conn.Write(keepAlive.Serialize())
		writeMsg(conn, &Message{ID: Have, Payload: []byte{0, 0, 0, 1}})
		writeMsg(conn, &Message{ID: Bitfield, Payload: []byte{0xF0}})
	})

	session, err := DialPeer(peer, hash, false)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.AwaitBitfield())
	require.Equal(t, []byte{0xF0}, session.Bitfield)
}

func TestAwaitBitfieldUnexpectedMessage(t *testing.T) {
	hash := testInfoHash()
	peer := startMockPeer(t, hash, false, func(conn net.Conn) {
		writeMsg(conn, &Message{ID: Unchoke})
	})

	session, err := DialPeer(peer, hash, false)
	require.NoError(t, err)
	defer session.Close()

	require.ErrorIs(t, session.AwaitBitfield(), ErrProtocol)
}

func TestDownloadPieceFromMockPeer(t *testing.T) {
	hash := testInfoHash()
	pieceLength := 32768
	content := testContent(pieceLength)
	pieceHash := sha1.Sum(content)

	peer := startMockPeer(t, hash, false, servePieces(content, pieceLength, false))

	session, err := DialPeer(peer, hash, false)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.AwaitBitfield())

	data, err := session.DownloadPiece(0, pieceLength, pieceHash)
	require.NoError(t, err)
	require.Equal(t, content, data)
	require.Equal(t, StateUnchoked, session.State)
}

func TestDownloadPieceShortFinalBlock(t *testing.T) {
	hash := testInfoHash()
	// 26528 bytes: one full block plus a 10144-byte tail
	content := testContent(26528)
	pieceHash := sha1.Sum(content)

	peer := startMockPeer(t, hash, false, servePieces(content, len(content), false))

	session, err := DialPeer(peer, hash, false)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.AwaitBitfield())

	data, err := session.DownloadPiece(0, len(content), pieceHash)
	require.NoError(t, err)
	require.Equal(t, content, data)
}

func TestDownloadPieceHashMismatch(t *testing.T) {
	hash := testInfoHash()
	pieceLength := 16384
	content := testContent(pieceLength)
	pieceHash := sha1.Sum(content)

	peer := startMockPeer(t, hash, false, servePieces(content, pieceLength, true))

	session, err := DialPeer(peer, hash, false)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.AwaitBitfield())

	_, err = session.DownloadPiece(0, pieceLength, pieceHash)
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestDownloadPieceChokeMidPiece(t *testing.T) {
	hash := testInfoHash()
	pieceLength := 32768
	content := testContent(pieceLength)
	pieceHash := sha1.Sum(content)

	peer := startMockPeer(t, hash, false, func(conn net.Conn) {
		writeMsg(conn, &Message{ID: Bitfield, Payload: []byte{0xFF}})

		// interested
		for {
			msg, err := ReadMessage(conn)
			if err != nil {
				return
			}
			if msg != nil && msg.ID == Interested {
				break
			}
		}

		writeMsg(conn, &Message{ID: Unchoke})

		// both blocks get requested; serve the first, choke away the second
		first, err := ReadMessage(conn)
		if err != nil {
			return
		}
		if _, err := ReadMessage(conn); err != nil {
			return
		}

		respondBlock(conn, content, pieceLength, first, false)
		writeMsg(conn, &Message{ID: Choke})
		writeMsg(conn, &Message{ID: Unchoke})

		for {
			msg, err := ReadMessage(conn)
			if err != nil {
				return
			}
			if msg != nil && msg.ID == Request {
				respondBlock(conn, content, pieceLength, msg, false)
			}
		}
	})

	session, err := DialPeer(peer, hash, false)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.AwaitBitfield())

	data, err := session.DownloadPiece(0, pieceLength, pieceHash)
	require.NoError(t, err)
	require.Equal(t, content, data)
}

func TestParsePeersCompact(t *testing.T) {
	peers, err := ParsePeers(compactPeers)
	require.NoError(t, err)
	require.Equal(t, []Peer{
		{IP: "192.168.1.2", Port: 6881},
		{IP: "10.0.0.5", Port: 80},
	}, peers)
}
