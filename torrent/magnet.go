package torrent

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Magnet is the parsed form of a magnet URI: the tracker to announce to and
// the info hash identifying the torrent.
type Magnet struct {
	Announce string
	InfoHash [20]byte
	Name     string
}

// message id this client assigns to ut_metadata in its extension handshake
const utMetadataID = 16

// extensionHandshake is the bencoded dictionary carried by the BEP10
// handshake message (extended message, sub-id 0).
type extensionHandshake struct {
	M map[string]int `bencode:"m"`
}

// --------------------------------------------------------------------------------------------- //

/*
ParseMagnet parses a magnet URI into its tracker URL and info hash.
The xt parameter must carry a urn:btih info hash, hex or base32 encoded; the
tr parameter supplies the tracker. Other parameters are ignored.

Parameters:
  - link: The magnet URI to parse.

Returns:
  - *Magnet: The parsed magnet.
  - error: Non-nil if the URI is malformed or a required parameter is missing.
*/
func ParseMagnet(link string) (*Magnet, error) {
	if !strings.HasPrefix(link, "magnet:?") {
		return nil, errors.Wrap(ErrMetainfo, "magnet link must start with \"magnet:?\"")
	}

	u, err := url.Parse(link)
	if err != nil {
		return nil, errors.Wrapf(ErrMetainfo, "parsing magnet link: %v", err)
	}

	query := u.Query()

	xt := query.Get("xt")
	if xt == "" {
		return nil, errors.Wrap(ErrMetainfo, "magnet link missing xt parameter")
	}

	if !strings.HasPrefix(xt, "urn:btih:") {
		return nil, errors.Wrapf(ErrMetainfo, "unsupported xt format %q", xt)
	}

	encoded := strings.TrimPrefix(xt, "urn:btih:")

	var hash [20]byte
	switch len(encoded) {
	case 40:
		decoded, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrapf(ErrMetainfo, "invalid hex info hash: %v", err)
		}
		copy(hash[:], decoded)

	case 32:
		decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(encoded))
		if err != nil {
			return nil, errors.Wrapf(ErrMetainfo, "invalid base32 info hash: %v", err)
		}
		copy(hash[:], decoded)

	default:
		return nil, errors.Wrapf(ErrMetainfo, "info hash length %d, want 40 hex or 32 base32 chars", len(encoded))
	}

	announce := query.Get("tr")
	if announce == "" {
		return nil, errors.Wrap(ErrMetainfo, "magnet link missing tr parameter")
	}

	return &Magnet{
		Announce: announce,
		InfoHash: hash,
		Name:     query.Get("dn"),
	}, nil
}

// --------------------------------------------------------------------------------------------- //

/*
ExtendedHandshake performs the BEP10 handshake on an established session.
It sends this client's m dictionary and parses the peer's reply, returning
the message id the peer assigned to ut_metadata (zero if it offers none).

Parameters:
  - s: A session whose remote handshake advertised the extension protocol.

Returns:
  - int: The peer's ut_metadata message id, or zero.
  - error: Non-nil on connection failure or a malformed extension message.
*/
func (s *PeerSession) ExtendedHandshake() (int, error) {
	var payload bytes.Buffer
	payload.WriteByte(0)

	ours := extensionHandshake{M: map[string]int{"ut_metadata": utMetadataID}}
	if err := bencode.Marshal(&payload, ours); err != nil {
		return 0, errors.Wrapf(err, "encoding extension handshake")
	}

	if err := s.send(&Message{ID: Extended, Payload: payload.Bytes()}); err != nil {
		return 0, err
	}

	msg, err := s.expect(Extended)
	if err != nil {
		return 0, err
	}

	if len(msg.Payload) < 2 {
		return 0, errors.Wrapf(ErrProtocol, "extension message of %d bytes is too short", len(msg.Payload))
	}

	if msg.Payload[0] != 0 {
		return 0, errors.Wrapf(ErrProtocol, "expected extension handshake sub-id 0, got %d", msg.Payload[0])
	}

	// peers pack arbitrary extra keys (v, yourip, reqq) into the handshake
	// dictionary, so it is decoded generically rather than into a struct
	value, err := bencode.Decode(bytes.NewReader(msg.Payload[1:]))
	if err != nil {
		return 0, errors.Wrapf(ErrProtocol, "decoding extension handshake: %v", err)
	}

	dict, ok := value.(map[string]interface{})
	if !ok {
		return 0, errors.Wrap(ErrProtocol, "extension handshake is not a dictionary")
	}

	m, ok := dict["m"].(map[string]interface{})
	if !ok {
		return 0, errors.Wrap(ErrProtocol, "extension handshake has no m dictionary")
	}

	metadataID, _ := m["ut_metadata"].(int64)

	return int(metadataID), nil
}

// --------------------------------------------------------------------------------------------- //

/*
Handshake announces the magnet's tracker and performs the extended handshake
with the first advertised peer that supports the extension protocol. Peers
without the reserved extension bit are closed and skipped.

Parameters:
  - m: The parsed magnet to connect through.

Returns:
  - *PeerSession: The session left open after the extended handshake.
  - int: The peer's ut_metadata message id, or zero.
  - error: Non-nil if the announce fails or no peer completes the exchange.
*/
func (m *Magnet) Handshake() (*PeerSession, int, error) {
	// content length is unknown before the metadata exchange
	peers, err := AnnounceTracker(m.Announce, m.InfoHash, 999)
	if err != nil {
		return nil, 0, err
	}

	for _, peer := range peers {
		session, err := DialPeer(peer, m.InfoHash, true)
		if err != nil {
			log.Warnf("peer %s: %v", peer.Addr(), err)
			continue
		}

		if !session.Extensions {
			log.Debugf("session %s: peer does not advertise extensions", session.ID)
			session.Close()
			continue
		}

		if err := session.AwaitBitfield(); err != nil {
			log.Warnf("session %s: awaiting bitfield: %v", session.ID, err)
			session.Close()
			continue
		}

		metadataID, err := session.ExtendedHandshake()
		if err != nil {
			log.Warnf("session %s: extended handshake: %v", session.ID, err)
			session.Close()
			continue
		}

		return session, metadataID, nil
	}

	return nil, 0, errors.Wrap(ErrProtocol, "no peer completed the extended handshake")
}
