package torrent

import (
	"bytes"
	"crypto/sha1"
	"os"
	"strconv"

	"github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// --------------------------------------------------------------------------------------------- //

/*
extractInfoBytes extracts the info dictionary bytes from a bencoded torrent file.
It locates the "4:info" prefix and walks the bencoded data to find the end of
the corresponding dictionary, so the returned bytes are exactly what was hashed
by the torrent's creator.

Parameters:
  - data: Byte slice containing the bencoded torrent file data.

Returns:
  - []byte: Byte slice of the info dictionary if found and valid.
  - error: Non-nil if the info dictionary is not found, unterminated, or malformed.
*/
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, errors.Wrap(ErrMetainfo, "no \"4:info\" prefix found")
	}

	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		b := data[i]

		switch b {
		case 'd', 'l':
			depth++
		case 'e':
			depth--

			if depth == 0 {
				return data[start : i+1], nil
			}

		case 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}

			if j >= len(data) {
				return nil, errors.Wrapf(ErrBencode, "unterminated integer at %d", i)
			}

			i = j

		default:
			if b >= '0' && b <= '9' {
				j := i

				for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
				}

				if j < len(data) && data[j] == ':' {
					length, err := strconv.Atoi(string(data[i:j]))
					if err != nil {
						return nil, errors.Wrapf(ErrBencode, "invalid string length at %d-%d", i, j)
					}

					j++

					i = j + length - 1
				}
			}
		}
	}
	return nil, errors.Wrap(ErrBencode, "unterminated info dict")
}

// --------------------------------------------------------------------------------------------- //

/*
computeInfoHash computes the SHA-1 hash of the info dictionary from a bencoded
torrent file. The raw bytes are hashed as they appear on disk, without a
decode/re-encode round trip, so key order and binary values survive untouched.

Parameters:
  - data: Byte slice containing the bencoded torrent file data.

Returns:
  - [20]byte: SHA-1 hash of the info dictionary.
  - error: Non-nil if the info dictionary cannot be located.
*/
func computeInfoHash(data []byte) ([20]byte, error) {
	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return [20]byte{}, err
	}

	return sha1.Sum(infoBytes), nil
}

// --------------------------------------------------------------------------------------------- //

/*
Parse loads and parses a .torrent file, populating a TorrentFile struct.
It decodes the bencoded file, computes the info hash, and splits the piece
hash string into per-piece digests.

Parameters:
  - Torrent: Pointer to the TorrentFile struct to populate with metadata.
  - file: Path to the .torrent file on disk.

Returns:
  - error: Non-nil if file reading, bencode decoding, or consistency checks fail.
*/
func Parse(Torrent *TorrentFile, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrapf(err, "cannot read %q", file)
	}

	err = bencode.Unmarshal(bytes.NewReader(data), Torrent)
	if err != nil {
		return errors.Wrapf(ErrBencode, "decoding %q: %v", file, err)
	}

	if Torrent.Announce == "" {
		return errors.Wrap(ErrMetainfo, "missing announce URL")
	}

	hash, err := computeInfoHash(data)
	if err != nil {
		return err
	}

	Torrent.Info.InfoHash = hash

	if err := Torrent.InitializePieces(); err != nil {
		return err
	}

	log.Debugf("parsed torrent %s: info hash %x, %d pieces of %d bytes",
		Torrent.Info.Name, hash, Torrent.Info.NumPieces, Torrent.Info.PieceLength)

	return nil
}
