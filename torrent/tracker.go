package torrent

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TrackerResponse represents the bencoded body returned by an HTTP tracker
type TrackerResponse struct {
	Failure  string `bencode:"failure reason"`
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// --------------------------------------------------------------------------------------------- //

/*
AnnounceTracker sends an HTTP announce to a tracker and returns the peers it
advertises. The request carries the standard leecher parameters and asks for
the compact peer list format.

Parameters:
  - announceURL: URL of the HTTP tracker to contact.
  - infoHash: 20-byte SHA-1 hash identifying the torrent.
  - left: Number of bytes the client still has to download.

Returns:
  - []Peer: Peers parsed from the tracker's compact peer list.
  - error: Non-nil if URL parsing, the HTTP exchange, or response decoding fails.
*/
func AnnounceTracker(announceURL string, infoHash [20]byte, left int64) ([]Peer, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, errors.Wrapf(ErrTracker, "parsing announce URL %q: %v", announceURL, err)
	}

	params := url.Values{}
	params.Add("info_hash", string(infoHash[:]))
	params.Add("peer_id", PeerID)
	params.Add("port", fmt.Sprintf("%d", ClientPort))
	params.Add("uploaded", "0")
	params.Add("downloaded", "0")
	params.Add("left", fmt.Sprintf("%d", left))
	params.Add("compact", "1")

	u.RawQuery = params.Encode()

	client := &http.Client{
		Timeout: 15 * time.Second,
	}

	log.Debugf("announcing to %s", u.String())

	response, err := client.Get(u.String())
	if err != nil {
		return nil, errors.Wrapf(ErrTracker, "sending announce: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrTracker, "announce status %d", response.StatusCode)
	}

	var trackerResp TrackerResponse
	err = bencode.Unmarshal(response.Body, &trackerResp)
	if err != nil {
		return nil, errors.Wrapf(ErrProtocol, "decoding tracker response: %v", err)
	}

	if trackerResp.Failure != "" {
		return nil, errors.Wrapf(ErrTracker, "tracker failure: %s", trackerResp.Failure)
	}

	log.Debugf("tracker interval %d seconds, %d peer bytes", trackerResp.Interval, len(trackerResp.Peers))

	return ParsePeers(trackerResp.Peers)
}

// --------------------------------------------------------------------------------------------- //

/*
RequestPeers announces the torrent to its tracker and returns the advertised
peers. The full content length is reported as remaining.

Parameters:
  - Torrent: Pointer to the TorrentFile containing the announce URL and metadata.

Returns:
  - []Peer: Peers parsed from the tracker's compact peer list.
  - error: Non-nil if the announce fails.
*/
func (Torrent *TorrentFile) RequestPeers() ([]Peer, error) {
	return AnnounceTracker(Torrent.Announce, Torrent.Info.InfoHash, Torrent.Info.Length)
}
