package torrent

import (
	"fmt"
)

// TorrentFile represents a root dictionary of a single-file .torrent file
type TorrentFile struct {
	Announce     string      `bencode:"announce"`
	Comment      string      `bencode:"comment"`
	CreatedBy    string      `bencode:"created by"`
	CreationDate int64       `bencode:"creation date"`
	Encoding     string      `bencode:"encoding"`
	Info         TorrentInfo `bencode:"info"`
}

// TorrentInfo represents an `info` dictionary in .torrent file
type TorrentInfo struct {
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length"`
	Private     int    `bencode:"private"`

	// Derived during Parse, not part of the bencoded dictionary.
	InfoHash    [20]byte `bencode:"-"`
	PieceHashes [][20]byte
	NumPieces   int
}

// --------------------------------------------------------------------------------------------- //

/*
InitializePieces sets up the piece-related metadata for the torrent.
It splits the concatenated hash string into 20-byte digests and checks the
piece layout against the declared content length.

Parameters:
  - Torrent: Pointer to the TorrentFile to initialize.

Returns:
  - error: Non-nil if the pieces data is inconsistent with the declared lengths.
*/
func (Torrent *TorrentFile) InitializePieces() error {
	pieces := Torrent.Info.Pieces
	if len(pieces)%20 != 0 {
		return fmt.Errorf("%w: pieces length %d is not a multiple of 20", ErrMetainfo, len(pieces))
	}

	if Torrent.Info.PieceLength <= 0 {
		return fmt.Errorf("%w: non-positive piece length %d", ErrMetainfo, Torrent.Info.PieceLength)
	}

	if Torrent.Info.Length <= 0 {
		return fmt.Errorf("%w: non-positive length %d", ErrMetainfo, Torrent.Info.Length)
	}

	Torrent.Info.NumPieces = len(pieces) / 20
	Torrent.Info.PieceHashes = make([][20]byte, Torrent.Info.NumPieces)

	for i := 0; i < Torrent.Info.NumPieces; i++ {
		copy(Torrent.Info.PieceHashes[i][:], pieces[i*20:(i+1)*20])
	}

	expected := (Torrent.Info.Length + Torrent.Info.PieceLength - 1) / Torrent.Info.PieceLength
	if int64(Torrent.Info.NumPieces) != expected {
		return fmt.Errorf("%w: %d piece hashes for %d bytes at piece length %d (want %d)",
			ErrMetainfo, Torrent.Info.NumPieces, Torrent.Info.Length, Torrent.Info.PieceLength, expected)
	}

	return nil
}

// --------------------------------------------------------------------------------------------- //

/*
PieceSize returns the byte length of a specific piece.
All pieces are PieceLength bytes except the last, which holds the remainder.

Parameters:
  - Torrent: Pointer to the TorrentFile containing piece metadata.
  - index: Index of the piece.

Returns:
  - int64: Length of the piece in bytes.
*/
func (Torrent *TorrentFile) PieceSize(index int) int64 {
	if index == Torrent.Info.NumPieces-1 {
		size := Torrent.Info.Length - Torrent.Info.PieceLength*int64(Torrent.Info.NumPieces-1)
		return size
	}

	return Torrent.Info.PieceLength
}
