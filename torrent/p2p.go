package torrent

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
)

// pieceJob is one piece waiting to be fetched. Jobs circulate on the
// scheduler's queue; a job is held by at most one worker at a time and its
// attempt count only changes in the hands of that worker.
type pieceJob struct {
	index    int
	length   int
	hash     [20]byte
	attempts int
}

// PieceResult represents a downloaded and verified piece of the torrent
type PieceResult struct {
	Index int
	Data  []byte
}

// --------------------------------------------------------------------------------------------- //

/*
downloadWorker drives one peer session against the shared piece queue.
It dials the peer, performs the handshake and bitfield exchange, then pulls
pieces until done is closed or the session fails; an empty queue only makes
it wait, since a failed piece may be re-queued later. A failed piece is
returned to the queue for another peer unless its retry budget is spent, in
which case the failure is escalated as fatal.

Parameters:
  - Torrent: Pointer to the TorrentFile containing metadata.
  - peer: Address of the peer this worker owns.
  - jobs: Shared queue of pending pieces.
  - results: Channel for verified pieces.
  - fatal: Channel for retry-budget exhaustion.
  - done: Closed by the collector when the download is finished.
  - wg: WaitGroup tracking live workers.
*/
func (Torrent *TorrentFile) downloadWorker(peer Peer, jobs chan *pieceJob, results chan<- PieceResult,
	fatal chan<- error, done <-chan struct{}, wg *sync.WaitGroup) {

	defer wg.Done()

	session, err := DialPeer(peer, Torrent.Info.InfoHash, false)
	if err != nil {
		log.Warnf("peer %s: %v", peer.Addr(), err)
		return
	}
	defer session.Close()

	if err := session.AwaitBitfield(); err != nil {
		log.Warnf("session %s: awaiting bitfield: %v", session.ID, err)
		return
	}

	for {
		select {
		case <-done:
			return

		case job := <-jobs:
			data, err := session.DownloadPiece(job.index, job.length, job.hash)
			if err != nil {
				job.attempts++
				log.Warnf("session %s: piece %d attempt %d failed: %v", session.ID, job.index, job.attempts, err)

				if job.attempts >= MaxPieceAttempts {
					select {
					case fatal <- errors.Wrapf(ErrDownloadFailed, "piece %d failed %d times", job.index, job.attempts):
					default:
					}
				} else {
					jobs <- job
				}

				// the session is untrusted after any failure
				return
			}

			select {
			case results <- PieceResult{Index: job.index, Data: data}:
			case <-done:
				return
			}
		}
	}
}

// --------------------------------------------------------------------------------------------- //

/*
Download fetches the whole torrent and writes it to outPath.
Pieces are dispatched FIFO across one session per peer, staged to per-piece
temp files as they verify, and concatenated in ascending index order once all
are present.

Parameters:
  - Torrent: Pointer to the TorrentFile containing metadata.
  - outPath: Destination path for the assembled file.

Returns:
  - error: Non-nil if the tracker yields no peers, a piece exhausts its retry
    budget, every session dies early, or the final assembly fails.
*/
func (Torrent *TorrentFile) Download(outPath string) error {
	peers, err := Torrent.RequestPeers()
	if err != nil {
		return err
	}

	if len(peers) == 0 {
		return errors.Wrap(ErrTracker, "tracker returned no peers")
	}

	numPieces := Torrent.Info.NumPieces

	jobs := make(chan *pieceJob, numPieces)
	for i := 0; i < numPieces; i++ {
		jobs <- &pieceJob{
			index:  i,
			length: int(Torrent.PieceSize(i)),
			hash:   Torrent.Info.PieceHashes[i],
		}
	}

	results := make(chan PieceResult)
	fatal := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	workers := len(peers)
	if workers > numPieces {
		workers = numPieces
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go Torrent.downloadWorker(peers[i], jobs, results, fatal, done, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	log.Infof("downloading %s: %d pieces across %d peers", Torrent.Info.Name, numPieces, workers)

	bar := progressbar.DefaultBytes(Torrent.Info.Length, "downloading")

	completed := 0
	for completed < numPieces {
		select {
		case err := <-fatal:
			return err

		case result, ok := <-results:
			if !ok {
				return errors.Wrapf(ErrDownloadFailed, "all peers failed with %d/%d pieces downloaded",
					completed, numPieces)
			}

			if err := WritePiece(outPath, result.Index, result.Data); err != nil {
				return err
			}

			completed++
			bar.Add(len(result.Data))
		}
	}

	return AssembleFile(outPath, numPieces)
}

// --------------------------------------------------------------------------------------------- //

/*
DownloadSinglePiece fetches one piece, verifies it, and writes it to outPath.
The piece is staged at the per-piece temp path before the final rename, so
the single-piece and whole-file flows share the same on-disk layout.

Parameters:
  - Torrent: Pointer to the TorrentFile containing metadata.
  - index: Index of the piece to download.
  - outPath: Destination path for the piece bytes.

Returns:
  - error: Non-nil if the index is out of range, no peer can serve the piece
    within the retry budget, or writing fails.
*/
func (Torrent *TorrentFile) DownloadSinglePiece(index int, outPath string) error {
	if index < 0 || index >= Torrent.Info.NumPieces {
		return errors.Wrapf(ErrMetainfo, "piece index %d out of range [0, %d)", index, Torrent.Info.NumPieces)
	}

	peers, err := Torrent.RequestPeers()
	if err != nil {
		return err
	}

	if len(peers) == 0 {
		return errors.Wrap(ErrTracker, "tracker returned no peers")
	}

	length := int(Torrent.PieceSize(index))
	hash := Torrent.Info.PieceHashes[index]

	for attempt := 0; attempt < MaxPieceAttempts; attempt++ {
		peer := peers[attempt%len(peers)]

		session, err := DialPeer(peer, Torrent.Info.InfoHash, false)
		if err != nil {
			log.Warnf("peer %s: %v", peer.Addr(), err)
			continue
		}

		if err := session.AwaitBitfield(); err != nil {
			log.Warnf("session %s: awaiting bitfield: %v", session.ID, err)
			session.Close()
			continue
		}

		data, err := session.DownloadPiece(index, length, hash)
		session.Close()
		if err != nil {
			log.Warnf("session %s: piece %d attempt %d failed: %v", session.ID, index, attempt+1, err)
			continue
		}

		if err := WritePiece(outPath, index, data); err != nil {
			return err
		}

		if err := os.Rename(PartPath(outPath, index), outPath); err != nil {
			return errors.Wrapf(err, "moving piece %d into place", index)
		}

		return nil
	}

	return errors.Wrapf(ErrDownloadFailed, "piece %d failed after %d attempts", index, MaxPieceAttempts)
}
