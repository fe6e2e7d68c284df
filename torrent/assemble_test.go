package torrent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndAssemblePieces(t *testing.T) {
	out := filepath.Join(t.TempDir(), "output.bin")

	pieces := [][]byte{
		testContent(100),
		testContent(100)[50:],
		{0xDE, 0xAD, 0xBE, 0xEF},
	}

	// stage out of order; assembly must still be by ascending index
	require.NoError(t, WritePiece(out, 2, pieces[2]))
	require.NoError(t, WritePiece(out, 0, pieces[0]))
	require.NoError(t, WritePiece(out, 1, pieces[1]))

	staged, err := os.ReadFile(PartPath(out, 1))
	require.NoError(t, err)
	require.Equal(t, pieces[1], staged)

	require.NoError(t, AssembleFile(out, 3))

	assembled, err := os.ReadFile(out)
	require.NoError(t, err)

	var expected []byte
	for _, piece := range pieces {
		expected = append(expected, piece...)
	}
	require.Equal(t, expected, assembled)

	for index := 0; index < 3; index++ {
		_, err := os.Stat(PartPath(out, index))
		require.True(t, os.IsNotExist(err), "staged piece %d should be removed", index)
	}
}

func TestAssembleMissingPiece(t *testing.T) {
	out := filepath.Join(t.TempDir(), "output.bin")

	require.NoError(t, WritePiece(out, 0, []byte("first")))

	require.Error(t, AssembleFile(out, 2))
}
