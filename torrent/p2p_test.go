package torrent

import (
	"crypto/sha1"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func compactPeerList(peers []Peer) string {
	var compact []byte
	for _, peer := range peers {
		ip := net.ParseIP(peer.IP).To4()
		compact = append(compact, ip...)
		compact = append(compact, byte(peer.Port>>8), byte(peer.Port&0xFF))
	}

	return string(compact)
}

func startTracker(t *testing.T, peers []Peer) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, trackerBody(compactPeerList(peers)))
	}))
	t.Cleanup(server.Close)

	return server.URL
}

// buildContentTorrent derives piece hashes from content and writes a matching
// metainfo file pointing at announce.
func buildContentTorrent(t *testing.T, announce string, content []byte, pieceLength int) string {
	t.Helper()

	infoDict := buildInfoDict(int64(len(content)), int64(pieceLength), contentHashes(content, pieceLength))

	return writeMetainfo(t, buildMetainfo(announce, infoDict))
}

func contentHashes(content []byte, pieceLength int) [][20]byte {
	numPieces := (len(content) + pieceLength - 1) / pieceLength
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		end := (i + 1) * pieceLength
		if end > len(content) {
			end = len(content)
		}
		hashes[i] = sha1.Sum(content[i*pieceLength : end])
	}

	return hashes
}

func infoHashFor(content []byte, pieceLength int) [20]byte {
	return sha1.Sum([]byte(buildInfoDict(int64(len(content)), int64(pieceLength), contentHashes(content, pieceLength))))
}

func TestDownloadEndToEnd(t *testing.T) {
	pieceLength := 32768
	content := testContent(81000) // 32768 + 32768 + 15464
	infoHash := infoHashFor(content, pieceLength)

	seed := startMockPeer(t, infoHash, false, servePieces(content, pieceLength, false))
	announce := startTracker(t, []Peer{seed})

	path := buildContentTorrent(t, announce, content, pieceLength)
	tor, err := SetTorrentFile(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "output.bin")
	require.NoError(t, tor.Download(out))

	assembled, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, content, assembled)

	for index := 0; index < tor.Info.NumPieces; index++ {
		_, err := os.Stat(PartPath(out, index))
		require.True(t, os.IsNotExist(err), "staged piece %d should be removed", index)
	}
}

func TestDownloadRecoversFromBadPeer(t *testing.T) {
	pieceLength := 16384
	content := testContent(40000) // three pieces, short tail
	infoHash := infoHashFor(content, pieceLength)

	// the bad peer corrupts every block it serves; its pieces fail
	// verification, get re-queued, and complete on the honest peer
	bad := startMockPeer(t, infoHash, false, servePieces(content, pieceLength, true))
	good := startMockPeer(t, infoHash, false, servePieces(content, pieceLength, false))
	announce := startTracker(t, []Peer{bad, good})

	path := buildContentTorrent(t, announce, content, pieceLength)
	tor, err := SetTorrentFile(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "output.bin")
	require.NoError(t, tor.Download(out))

	assembled, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, content, assembled)
}

func TestDownloadAllPeersFail(t *testing.T) {
	pieceLength := 16384
	content := testContent(16384)
	infoHash := infoHashFor(content, pieceLength)

	bad := startMockPeer(t, infoHash, false, servePieces(content, pieceLength, true))
	announce := startTracker(t, []Peer{bad})

	path := buildContentTorrent(t, announce, content, pieceLength)
	tor, err := SetTorrentFile(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "output.bin")
	require.ErrorIs(t, tor.Download(out), ErrDownloadFailed)
}

func TestDownloadSinglePieceCommand(t *testing.T) {
	pieceLength := 32768
	content := testContent(81000)
	infoHash := infoHashFor(content, pieceLength)

	seed := startMockPeer(t, infoHash, false, servePieces(content, pieceLength, false))
	announce := startTracker(t, []Peer{seed})

	path := buildContentTorrent(t, announce, content, pieceLength)
	tor, err := SetTorrentFile(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "piece1.bin")
	require.NoError(t, tor.DownloadSinglePiece(1, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, content[pieceLength:2*pieceLength], data)

	_, err = os.Stat(PartPath(out, 1))
	require.True(t, os.IsNotExist(err), "staging file should be renamed away")
}

func TestDownloadSinglePieceIndexOutOfRange(t *testing.T) {
	content := testContent(16384)
	path := buildContentTorrent(t, "http://tracker.invalid/announce", content, 16384)

	tor, err := SetTorrentFile(path)
	require.NoError(t, err)

	require.ErrorIs(t, tor.DownloadSinglePiece(5, "out.bin"), ErrMetainfo)
}
