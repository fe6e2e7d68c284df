package torrent

import "errors"

// Error kinds surfaced by the client. During a whole-file download,
// session-local failures (protocol violations, closed connections, bad piece
// hashes) are recovered by the scheduler and only become user-visible once a
// piece exhausts its retry budget and cascades into ErrDownloadFailed.
// Commands that talk to a single peer or tracker return them directly.
var (
	ErrBencode          = errors.New("malformed bencode")
	ErrMetainfo         = errors.New("invalid metainfo")
	ErrTracker          = errors.New("tracker request failed")
	ErrProtocol         = errors.New("peer protocol violation")
	ErrConnectionClosed = errors.New("peer connection closed")
	ErrHashMismatch     = errors.New("piece hash mismatch")
	ErrDownloadFailed   = errors.New("download failed")
)
