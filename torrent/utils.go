package torrent

import "time"

// Wire and scheduling constants shared by every session.
const (
	// PeerID is the fixed 20-byte ASCII identity sent to trackers and peers.
	PeerID = "-GT0001-093215467801"

	// ClientPort is reported to trackers; the client never actually listens.
	ClientPort = 6881

	// BlockSize is the canonical request granularity within a piece.
	BlockSize = 16384

	// MaxBacklog bounds outstanding requests on a single connection.
	MaxBacklog = 5

	// MaxPieceAttempts is the per-piece retry budget across peers.
	MaxPieceAttempts = 3

	ConnectTimeout = 10 * time.Second
	ReadTimeout    = 30 * time.Second
)

// --------------------------------------------------------------------------------------------- //

/*
GetInfoHash retrieves the SHA-1 hash of the torrent's info dictionary.
It returns the InfoHash computed during Parse.

Parameters:
  - Torrent: Pointer to the TorrentFile containing the InfoHash.

Returns:
  - [20]byte: The 20-byte SHA-1 hash of the info dictionary.
*/
func (Torrent *TorrentFile) GetInfoHash() [20]byte {
	return Torrent.Info.InfoHash
}

// --------------------------------------------------------------------------------------------- //

/*
GetTotalSize returns the total size of the torrent's content in bytes.

Parameters:
  - Torrent: Pointer to the TorrentFile containing file metadata.

Returns:
  - int64: Total size of the torrent content in bytes.
*/
func (Torrent *TorrentFile) GetTotalSize() int64 {
	return Torrent.Info.Length
}
