package torrent

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PartPath returns the staging path for one piece of an output file.
func PartPath(outPath string, index int) string {
	return fmt.Sprintf("%s.part%d", outPath, index)
}

// WritePiece stages a verified piece to its temp file in a single write pass.
func WritePiece(outPath string, index int, data []byte) error {
	path := PartPath(outPath, index)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "staging piece %d", index)
	}

	return nil
}

// --------------------------------------------------------------------------------------------- //

/*
AssembleFile concatenates the staged pieces into the final output file.
Pieces are appended in ascending index order and the temp files are removed
once the output is complete. No partial-piece bytes ever reach the output:
only whole, verified pieces are staged in the first place.

Parameters:
  - outPath: Destination path; its .part<N> siblings must all exist.
  - numPieces: Number of staged pieces to concatenate.

Returns:
  - error: Non-nil if any staged piece is missing or creating or appending to the
    output fails. A staged file that cannot be removed afterwards is only logged.
*/
func AssembleFile(outPath string, numPieces int) error {
	out, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", outPath)
	}
	defer out.Close()

	for index := 0; index < numPieces; index++ {
		path := PartPath(outPath, index)

		part, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "opening staged piece %d", index)
		}

		_, err = io.Copy(out, part)
		part.Close()
		if err != nil {
			return errors.Wrapf(err, "appending piece %d", index)
		}
	}

	for index := 0; index < numPieces; index++ {
		if err := os.Remove(PartPath(outPath, index)); err != nil {
			log.Warnf("removing staged piece %d: %v", index, err)
		}
	}

	log.Infof("assembled %s from %d pieces", outPath, numPieces)

	return nil
}
